package bytecode

import (
	"sync/atomic"
)

// JitState is the compilation state of a chunk.
type JitState uint32

const (
	JitCold      JitState = iota // not yet considered for compilation
	JitCompiling                 // a compiler owns the chunk
	JitCompiled                  // native code is available
	JitFailed                    // compilation failed; never retried
)

func (s JitState) String() string {
	switch s {
	case JitCold:
		return "cold"
	case JitCompiling:
		return "compiling"
	case JitCompiled:
		return "compiled"
	case JitFailed:
		return "failed"
	}
	return "unknown"
}

// JitProfile tracks execution counts and compilation state for one chunk.
// All methods are safe for concurrent use.
type JitProfile struct {
	count atomic.Uint64
	state atomic.Uint32
	code  atomic.Pointer[compiledCode]
}

type compiledCode struct {
	code any
}

// NewJitProfile returns a cold profile.
func NewJitProfile() *JitProfile {
	return &JitProfile{}
}

// RecordExecution increments the execution counter and returns the new count.
func (p *JitProfile) RecordExecution() uint64 {
	return p.count.Add(1)
}

// Count returns the number of recorded executions.
func (p *JitProfile) Count() uint64 { return p.count.Load() }

// State returns the current compilation state.
func (p *JitProfile) State() JitState { return JitState(p.state.Load()) }

// TryStartCompiling moves the profile from Cold to Compiling. Exactly one
// caller wins; everyone else gets false.
func (p *JitProfile) TryStartCompiling() bool {
	return p.state.CompareAndSwap(uint32(JitCold), uint32(JitCompiling))
}

// SetCompiled publishes native code and moves to Compiled.
func (p *JitProfile) SetCompiled(code any) {
	p.code.Store(&compiledCode{code: code})
	p.state.Store(uint32(JitCompiled))
}

// SetFailed marks the chunk as permanently not compilable.
func (p *JitProfile) SetFailed() {
	p.state.Store(uint32(JitFailed))
}

// Code returns the published native code, or nil.
func (p *JitProfile) Code() any {
	if c := p.code.Load(); c != nil {
		return c.code
	}
	return nil
}

// Reset returns the profile to Cold with a zero count.
func (p *JitProfile) Reset() {
	p.count.Store(0)
	p.code.Store(nil)
	p.state.Store(uint32(JitCold))
}
