package server

import (
	"github.com/chazu/mettajit/pkg/bytecode"
)

// ChunkSource carries a chunk either as CBOR (bytecode.MarshalChunk) or as
// assembly text. Chunk wins when both are set.
type ChunkSource struct {
	Chunk    []byte `cbor:"1,keyasint,omitempty"`
	Assembly string `cbor:"2,keyasint,omitempty"`
}

// Run modes.
const (
	ModeAuto = "auto"
	ModeVM   = "vm"
	ModeJit  = "jit"
	// ModeAll runs with backtracking and returns every result.
	ModeAll = "all"
)

type RunRequest struct {
	Source ChunkSource `cbor:"1,keyasint"`
	Mode   string      `cbor:"2,keyasint,omitempty"`
	// Repeat runs the chunk this many times and returns the last results.
	Repeat int `cbor:"3,keyasint,omitempty"`
}

type RunResponse struct {
	Results  []bytecode.WireAtom `cbor:"1,keyasint"`
	Rendered []string            `cbor:"2,keyasint"`
	ChunkID  string              `cbor:"3,keyasint"`
	Tier     string              `cbor:"4,keyasint"`
}

type CompileRequest struct {
	Source ChunkSource `cbor:"1,keyasint"`
}

type CompileResponse struct {
	ChunkID     string `cbor:"1,keyasint"`
	Compiled    bool   `cbor:"2,keyasint"`
	Reason      string `cbor:"3,keyasint,omitempty"`
	Blocks      int    `cbor:"4,keyasint,omitempty"`
	MaxStack    int    `cbor:"5,keyasint,omitempty"`
	EntryPoints []int  `cbor:"6,keyasint,omitempty"`
}

type StatsRequest struct {
	// Top limits the per-chunk listing; zero omits it.
	Top int `cbor:"1,keyasint,omitempty"`
}

type ChunkStats struct {
	ChunkID string `cbor:"1,keyasint"`
	Name    string `cbor:"2,keyasint"`
	Count   uint64 `cbor:"3,keyasint"`
	State   string `cbor:"4,keyasint"`
	Tier    string `cbor:"5,keyasint"`
}

type StatsResponse struct {
	TotalRuns       uint64       `cbor:"1,keyasint"`
	JitRuns         uint64       `cbor:"2,keyasint"`
	VMRuns          uint64       `cbor:"3,keyasint"`
	Bailouts        uint64       `cbor:"4,keyasint"`
	Compilations    uint64       `cbor:"5,keyasint"`
	CompileFailures uint64       `cbor:"6,keyasint"`
	CacheEntries    int          `cbor:"7,keyasint"`
	JitHitRate      float64      `cbor:"8,keyasint"`
	Chunks          []ChunkStats `cbor:"9,keyasint,omitempty"`
}

type DisassembleRequest struct {
	Source ChunkSource `cbor:"1,keyasint"`
}

type DisassembleResponse struct {
	Text string `cbor:"1,keyasint"`
}
