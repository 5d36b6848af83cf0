package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/mettajit/pkg/atom"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Atom kinds on the wire.
const (
	wireNil uint8 = iota
	wireUnit
	wireBool
	wireLong
	wireFloat
	wireStr
	wireSymbol
	wireVar
	wireExpr
	wireError
	wireSpace
	wireState
)

// WireAtom is the CBOR envelope of an atom.
type WireAtom struct {
	Kind     uint8      `cbor:"1,keyasint"`
	Int      int64      `cbor:"2,keyasint,omitempty"`
	Float    float64    `cbor:"3,keyasint,omitempty"`
	Text     string     `cbor:"4,keyasint,omitempty"`
	Children []WireAtom `cbor:"5,keyasint,omitempty"`
}

type wireJumpEntry struct {
	Hash   uint64 `cbor:"1,keyasint"`
	Target int    `cbor:"2,keyasint"`
}

type wireJumpTable struct {
	Entries []wireJumpEntry `cbor:"1,keyasint,omitempty"`
	Default int             `cbor:"2,keyasint"`
}

type wireChunk struct {
	Version    uint16          `cbor:"1,keyasint"`
	Name       string          `cbor:"2,keyasint,omitempty"`
	Code       []byte          `cbor:"3,keyasint"`
	Constants  []WireAtom      `cbor:"4,keyasint,omitempty"`
	JumpTables []wireJumpTable `cbor:"5,keyasint,omitempty"`
	LocalCount int             `cbor:"6,keyasint,omitempty"`
}

// EncodeAtom converts an atom to its wire envelope.
func EncodeAtom(a atom.Atom) WireAtom {
	switch v := a.(type) {
	case atom.Nil:
		return WireAtom{Kind: wireNil}
	case atom.Unit:
		return WireAtom{Kind: wireUnit}
	case atom.Bool:
		if v {
			return WireAtom{Kind: wireBool, Int: 1}
		}
		return WireAtom{Kind: wireBool}
	case atom.Long:
		return WireAtom{Kind: wireLong, Int: int64(v)}
	case atom.Float:
		return WireAtom{Kind: wireFloat, Float: float64(v)}
	case atom.Str:
		return WireAtom{Kind: wireStr, Text: string(v)}
	case atom.Symbol:
		return WireAtom{Kind: wireSymbol, Text: string(v)}
	case atom.Var:
		return WireAtom{Kind: wireVar, Text: string(v)}
	case atom.Expr:
		w := WireAtom{Kind: wireExpr, Children: make([]WireAtom, len(v.Children))}
		for i, c := range v.Children {
			w.Children[i] = EncodeAtom(c)
		}
		return w
	case atom.Error:
		return WireAtom{Kind: wireError, Children: []WireAtom{EncodeAtom(v.Source), EncodeAtom(v.Message)}}
	case atom.Space:
		return WireAtom{Kind: wireSpace, Text: v.Name}
	case atom.State:
		return WireAtom{Kind: wireState, Int: int64(v.ID)}
	}
	return WireAtom{Kind: wireNil}
}

// DecodeAtom converts a wire envelope back to an atom.
func DecodeAtom(w WireAtom) (atom.Atom, error) {
	switch w.Kind {
	case wireNil:
		return atom.NilAtom, nil
	case wireUnit:
		return atom.UnitAtom, nil
	case wireBool:
		return atom.Bool(w.Int != 0), nil
	case wireLong:
		return atom.Long(w.Int), nil
	case wireFloat:
		return atom.Float(w.Float), nil
	case wireStr:
		return atom.Str(w.Text), nil
	case wireSymbol:
		return atom.Symbol(w.Text), nil
	case wireVar:
		return atom.Var(w.Text), nil
	case wireExpr:
		children := make([]atom.Atom, len(w.Children))
		for i, c := range w.Children {
			a, err := DecodeAtom(c)
			if err != nil {
				return nil, err
			}
			children[i] = a
		}
		return atom.Expr{Children: children}, nil
	case wireError:
		if len(w.Children) != 2 {
			return nil, fmt.Errorf("error atom needs 2 children, got %d", len(w.Children))
		}
		src, err := DecodeAtom(w.Children[0])
		if err != nil {
			return nil, err
		}
		msg, err := DecodeAtom(w.Children[1])
		if err != nil {
			return nil, err
		}
		return atom.Error{Source: src, Message: msg}, nil
	case wireSpace:
		return atom.Space{Name: w.Text}, nil
	case wireState:
		return atom.State{ID: uint64(w.Int)}, nil
	}
	return nil, fmt.Errorf("unknown atom kind %d", w.Kind)
}

// EncodeAtoms converts a slice of atoms.
func EncodeAtoms(as []atom.Atom) []WireAtom {
	out := make([]WireAtom, len(as))
	for i, a := range as {
		out[i] = EncodeAtom(a)
	}
	return out
}

// DecodeAtoms converts a slice of wire envelopes.
func DecodeAtoms(ws []WireAtom) ([]atom.Atom, error) {
	out := make([]atom.Atom, len(ws))
	for i, w := range ws {
		a, err := DecodeAtom(w)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	w := wireChunk{
		Version:    BytecodeVersion,
		Name:       c.Name,
		Code:       c.Code,
		Constants:  EncodeAtoms(c.Constants),
		LocalCount: c.LocalCount,
	}
	for _, t := range c.JumpTables {
		wt := wireJumpTable{Default: t.Default}
		for _, e := range t.Entries {
			wt.Entries = append(wt.Entries, wireJumpEntry{Hash: e.Hash, Target: e.Target})
		}
		w.JumpTables = append(w.JumpTables, wt)
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var w wireChunk
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	if w.Version != BytecodeVersion {
		return nil, fmt.Errorf("bytecode: unsupported chunk version %d (expected %d)", w.Version, BytecodeVersion)
	}
	constants, err := DecodeAtoms(w.Constants)
	if err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk constants: %w", err)
	}
	var tables []JumpTable
	for _, wt := range w.JumpTables {
		t := JumpTable{Default: wt.Default}
		for _, e := range wt.Entries {
			t.Entries = append(t.Entries, JumpEntry{Hash: e.Hash, Target: e.Target})
		}
		tables = append(tables, t)
	}
	return NewChunk(w.Name, w.Code, constants, tables, w.LocalCount), nil
}

// MarshalAtoms serializes a list of atoms to CBOR bytes.
func MarshalAtoms(as []atom.Atom) ([]byte, error) {
	return cborEncMode.Marshal(EncodeAtoms(as))
}

// UnmarshalAtoms deserializes a list of atoms from CBOR bytes.
func UnmarshalAtoms(data []byte) ([]atom.Atom, error) {
	var ws []WireAtom
	if err := cbor.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal atoms: %w", err)
	}
	return DecodeAtoms(ws)
}
