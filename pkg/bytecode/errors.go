package bytecode

import (
	"errors"
	"fmt"
)

// Error classes returned by the VM. Use errors.Is to test for them; the
// concrete error is usually a *VMError carrying the failing position.
var (
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrInvalidOpcode       = errors.New("invalid opcode")
	ErrInvalidConstant     = errors.New("invalid constant index")
	ErrInvalidLocal        = errors.New("invalid local slot")
	ErrInvalidJumpTable    = errors.New("invalid jump table")
	ErrTypeError           = errors.New("type error")
	ErrIPOutOfBounds       = errors.New("instruction pointer out of bounds")
	ErrValueStackOverflow  = errors.New("value stack overflow")
	ErrChoicePointOverflow = errors.New("choice point overflow")
	ErrIndexOutOfBounds    = errors.New("index out of bounds")
	ErrHalted              = errors.New("halted")
	ErrUnsupported         = errors.New("unsupported operation")
	ErrRuntime             = errors.New("runtime error")
)

// VMError describes a failure at a specific instruction.
type VMError struct {
	Kind   error
	IP     int
	Op     Opcode
	Detail string
}

func (e *VMError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("vm: %v at %04x (%s)", e.Kind, e.IP, e.Op)
	}
	return fmt.Sprintf("vm: %v at %04x (%s): %s", e.Kind, e.IP, e.Op, e.Detail)
}

func (e *VMError) Unwrap() error { return e.Kind }

// NewVMError builds a VMError. Detail is formatted with fmt.Sprintf.
func NewVMError(kind error, ip int, op Opcode, format string, args ...any) *VMError {
	return &VMError{Kind: kind, IP: ip, Op: op, Detail: fmt.Sprintf(format, args...)}
}
