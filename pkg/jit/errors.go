package jit

import (
	"errors"
	"fmt"

	"github.com/chazu/mettajit/pkg/bytecode"
)

// ErrNotCompilable is wrapped by every CompileError.
var ErrNotCompilable = errors.New("jit: not compilable")

// CompileError explains why a chunk was rejected. IP is -1 for
// whole-chunk rejections.
type CompileError struct {
	Op     bytecode.Opcode
	IP     int
	Reason string
}

func (e *CompileError) Error() string {
	if e.IP < 0 {
		return fmt.Sprintf("jit: cannot compile chunk: %s", e.Reason)
	}
	return fmt.Sprintf("jit: cannot compile %s at %04x: %s", e.Op, e.IP, e.Reason)
}

func (e *CompileError) Unwrap() error { return ErrNotCompilable }

func reject(in bytecode.Instruction, format string, args ...any) *CompileError {
	return &CompileError{Op: in.Op, IP: in.IP, Reason: fmt.Sprintf(format, args...)}
}

// Signal tells the dispatcher why compiled code returned.
type Signal int

const (
	// SignalOK: Return executed; the value is the last result.
	SignalOK Signal = iota
	// SignalYield: a result was appended; backtrack for more.
	SignalYield
	// SignalFail: the current branch failed; backtrack.
	SignalFail
	// SignalError: Context.Err holds a host error.
	SignalError
	// SignalHalt: Halt executed.
	SignalHalt
	// SignalBailout: continue in the VM at Context.BailoutIP.
	SignalBailout
	// SignalEnd: control ran off the end of the code or hit ReturnMulti;
	// the stack above the locals is the result.
	SignalEnd
)

var signalNames = [...]string{"OK", "Yield", "Fail", "Error", "Halt", "Bailout", "End"}

func (s Signal) String() string {
	if s >= 0 && int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}
