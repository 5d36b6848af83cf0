package bytecode

import (
	"math"

	"github.com/chazu/mettajit/pkg/atom"
)

// Builder accumulates code and constants for a chunk.
type Builder struct {
	name       string
	code       []byte
	constants  []atom.Atom
	tables     []JumpTable
	localCount int
}

// NewBuilder creates an empty builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		code:      make([]byte, 0, 64),
		constants: make([]atom.Atom, 0, 8),
	}
}

// AddConstant adds a constant to the pool and returns its index.
// If an equal constant of the same type already exists, returns its index.
func (b *Builder) AddConstant(value atom.Atom) uint16 {
	for i, c := range b.constants {
		if atom.TypeName(c) == atom.TypeName(value) && atom.Equal(c, value) {
			return uint16(i)
		}
	}
	idx := uint16(len(b.constants))
	b.constants = append(b.constants, value)
	return idx
}

// Emit appends a single-byte opcode to the code section.
func (b *Builder) Emit(op Opcode) int {
	offset := len(b.code)
	b.code = append(b.code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with raw operand bytes.
func (b *Builder) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := b.Emit(op)
	b.code = append(b.code, operands...)
	return offset
}

// EmitU8 appends an opcode with a one-byte immediate.
func (b *Builder) EmitU8(op Opcode, v uint8) int {
	return b.EmitWithOperand(op, v)
}

// EmitI8 appends an opcode with a signed one-byte immediate.
func (b *Builder) EmitI8(op Opcode, v int8) int {
	return b.EmitWithOperand(op, byte(v))
}

// EmitU16 appends an opcode with a big-endian two-byte immediate.
func (b *Builder) EmitU16(op Opcode, v uint16) int {
	return b.EmitWithOperand(op, byte(v>>8), byte(v))
}

// EmitCall appends a call-family opcode: u16 head or name, u8 arity.
func (b *Builder) EmitCall(op Opcode, head atom.Atom, arity uint8) int {
	idx := b.AddConstant(head)
	return b.EmitWithOperand(op, byte(idx>>8), byte(idx), arity)
}

// EmitConstant appends op with the pool index of value as its immediate.
func (b *Builder) EmitConstant(op Opcode, value atom.Atom) int {
	return b.EmitU16(op, b.AddConstant(value))
}

// EmitInt pushes an integer, using the short form when it fits.
func (b *Builder) EmitInt(n int64) int {
	if n >= math.MinInt8 && n <= math.MaxInt8 {
		return b.EmitI8(OpPushLongSmall, int8(n))
	}
	return b.EmitConstant(OpPushLong, atom.Int(n))
}

// EmitFork appends OpFork with one constant per alternative.
func (b *Builder) EmitFork(values ...atom.Atom) int {
	offset := b.EmitU16(OpFork, uint16(len(values)))
	for _, v := range values {
		idx := b.AddConstant(v)
		b.code = append(b.code, byte(idx>>8), byte(idx))
	}
	return offset
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching. Short jumps get
// a one-byte placeholder.
func (b *Builder) EmitJump(op Opcode) int {
	b.Emit(op)
	placeholder := len(b.code)
	for i := 0; i < op.OperandLen(); i++ {
		b.code = append(b.code, 0xFF)
	}
	return placeholder
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (b *Builder) PatchJump(placeholder int) {
	b.PatchJumpTo(placeholder, len(b.code))
}

// PatchJumpTo patches a jump to go to a specific offset.
func (b *Builder) PatchJumpTo(placeholder int, target int) {
	width := Opcode(b.code[placeholder-1]).OperandLen()
	delta := target - (placeholder + width)
	if width == 1 {
		b.code[placeholder] = byte(int8(delta))
		return
	}
	b.code[placeholder] = byte(delta >> 8)
	b.code[placeholder+1] = byte(delta)
}

// EmitLoop emits a backward jump to the given loop start.
func (b *Builder) EmitLoop(loopStart int) {
	jumpFrom := len(b.code) + 3
	delta := loopStart - jumpFrom
	b.EmitWithOperand(OpJump, byte(delta>>8), byte(delta))
}

// AddJumpTable registers a jump table and returns its index.
func (b *Builder) AddJumpTable(t JumpTable) uint16 {
	b.tables = append(b.tables, t)
	return uint16(len(b.tables) - 1)
}

// SetJumpTable replaces a registered table, for patching targets that were
// not known when the table was added.
func (b *Builder) SetJumpTable(index uint16, t JumpTable) {
	b.tables[index] = t
}

// SetLocalCount sets the number of local slots reserved below the stack.
func (b *Builder) SetLocalCount(n int) {
	b.localCount = n
}

// CurrentOffset returns the current offset in the code section.
func (b *Builder) CurrentOffset() int {
	return len(b.code)
}

// Build finishes the chunk. The builder must not be used afterwards.
func (b *Builder) Build() *Chunk {
	return NewChunk(b.name, b.code, b.constants, b.tables, b.localCount)
}
