package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/chazu/mettajit/pkg/atom"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// JumpEntry maps an atom hash to an absolute code offset.
type JumpEntry struct {
	Hash   uint64
	Target int
}

// JumpTable is a multi-way branch keyed by atom.Hash of the popped value.
type JumpTable struct {
	Entries []JumpEntry
	Default int
}

// Lookup returns the target for hash, or the default target.
func (t *JumpTable) Lookup(hash uint64) int {
	for _, e := range t.Entries {
		if e.Hash == hash {
			return e.Target
		}
	}
	return t.Default
}

// Targets returns every offset the table can branch to, default last.
func (t *JumpTable) Targets() []int {
	out := make([]int, 0, len(t.Entries)+1)
	for _, e := range t.Entries {
		out = append(out, e.Target)
	}
	return append(out, t.Default)
}

// ChunkID identifies a chunk by the content of its code, constants and jump
// tables. Two chunks with equal IDs execute identically.
type ChunkID uint64

func (id ChunkID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// Chunk is the unit of compiled bytecode. A chunk is immutable once built;
// only its JIT profile changes afterwards.
type Chunk struct {
	Name       string
	Code       []byte
	Constants  []atom.Atom
	JumpTables []JumpTable
	LocalCount int

	nondet  bool
	id      ChunkID
	profile *JitProfile
}

// NewChunk assembles a chunk from its parts and computes the derived fields.
// The slices are owned by the chunk afterwards.
func NewChunk(name string, code []byte, constants []atom.Atom, tables []JumpTable, localCount int) *Chunk {
	c := &Chunk{
		Name:       name,
		Code:       code,
		Constants:  constants,
		JumpTables: tables,
		LocalCount: localCount,
		profile:    NewJitProfile(),
	}
	c.nondet = c.scanNondeterminism()
	c.id = c.computeID()
	return c
}

// HasNondeterminism reports whether the chunk contains any opcode that
// creates, consumes or prunes choice points.
func (c *Chunk) HasNondeterminism() bool { return c.nondet }

// ID returns the content hash of the chunk.
func (c *Chunk) ID() ChunkID { return c.id }

// Profile returns the chunk's mutable JIT profile.
func (c *Chunk) Profile() *JitProfile { return c.profile }

// Len returns the length of the code section.
func (c *Chunk) Len() int { return len(c.Code) }

// Constant returns the constant at index.
func (c *Chunk) Constant(index int) (atom.Atom, error) {
	if index < 0 || index >= len(c.Constants) {
		return nil, fmt.Errorf("%w: %d (pool size %d)", ErrInvalidConstant, index, len(c.Constants))
	}
	return c.Constants[index], nil
}

// ReadU8 reads an unsigned byte at offset.
func (c *Chunk) ReadU8(offset int) uint8 { return c.Code[offset] }

// ReadI8 reads a signed byte at offset.
func (c *Chunk) ReadI8(offset int) int8 { return int8(c.Code[offset]) }

// ReadU16 reads a big-endian uint16 at offset.
func (c *Chunk) ReadU16(offset int) uint16 {
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// ReadI16 reads a big-endian int16 at offset.
func (c *Chunk) ReadI16(offset int) int16 { return int16(c.ReadU16(offset)) }

// InstructionLen returns the full length of the instruction at ip, including
// the variable index list that follows OpFork.
func (c *Chunk) InstructionLen(ip int) int {
	op := Opcode(c.Code[ip])
	if op == OpFork && ip+3 <= len(c.Code) {
		return 3 + 2*int(c.ReadU16(ip+1))
	}
	return op.InstructionLen()
}

// Instruction is a decoded instruction.
type Instruction struct {
	IP  int
	Op  Opcode
	Len int

	// A is the first immediate. Signed immediates are sign-extended.
	A int
	// B is the second immediate: the arity of the call family, the slot
	// of OpLoadUpvalue.
	B int
	// Target is the absolute destination of a relative jump.
	Target int
	// Fork holds the constant indices of an OpFork.
	Fork []uint16
}

// Next returns the offset of the following instruction.
func (in Instruction) Next() int { return in.IP + in.Len }

// Decode decodes the instruction at ip.
func (c *Chunk) Decode(ip int) (Instruction, error) {
	if ip < 0 || ip >= len(c.Code) {
		return Instruction{}, fmt.Errorf("%w: %d", ErrIPOutOfBounds, ip)
	}
	op := Opcode(c.Code[ip])
	if !op.Valid() {
		return Instruction{}, NewVMError(ErrInvalidOpcode, ip, op, "byte 0x%02X", byte(op))
	}
	in := Instruction{IP: ip, Op: op, Len: c.InstructionLen(ip)}
	if ip+in.Len > len(c.Code) {
		return Instruction{}, NewVMError(ErrIPOutOfBounds, ip, op, "truncated operands")
	}
	p := ip + 1
	switch operandShape(op) {
	case shapeU8:
		in.A = int(c.ReadU8(p))
	case shapeI8:
		in.A = int(c.ReadI8(p))
	case shapeU16:
		in.A = int(c.ReadU16(p))
	case shapeI16:
		in.A = int(c.ReadI16(p))
	case shapeU8U8:
		in.A = int(c.ReadU8(p))
		in.B = int(c.ReadU8(p + 1))
	case shapeU16U8:
		in.A = int(c.ReadU16(p))
		in.B = int(c.ReadU8(p + 2))
	case shapeFork:
		n := int(c.ReadU16(p))
		in.A = n
		in.Fork = make([]uint16, n)
		for i := 0; i < n; i++ {
			in.Fork[i] = c.ReadU16(p + 2 + 2*i)
		}
	}
	if op.IsJump() {
		in.Target = in.Next() + in.A
	}
	return in, nil
}

// Instructions decodes the whole code section in order.
func (c *Chunk) Instructions() ([]Instruction, error) {
	var out []Instruction
	for ip := 0; ip < len(c.Code); {
		in, err := c.Decode(ip)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		ip = in.Next()
	}
	return out, nil
}

func (c *Chunk) scanNondeterminism() bool {
	for ip := 0; ip < len(c.Code); {
		if Opcode(c.Code[ip]).IsNondeterministic() {
			return true
		}
		ip += c.InstructionLen(ip)
	}
	return false
}

func (c *Chunk) computeID() ChunkID {
	h := xxh3.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	put(uint64(len(c.Code)))
	h.Write(c.Code)
	for _, k := range c.Constants {
		h.WriteString(atom.TypeName(k))
		h.WriteString(k.String())
		h.Write([]byte{0})
	}
	for _, t := range c.JumpTables {
		for _, e := range t.Entries {
			put(e.Hash)
			put(uint64(e.Target))
		}
		put(uint64(t.Default))
	}
	put(uint64(c.LocalCount))
	return ChunkID(h.Sum64())
}

type shape uint8

const (
	shapeNone shape = iota
	shapeU8
	shapeI8
	shapeU16
	shapeI16
	shapeU8U8
	shapeU16U8
	shapeFork
)

func operandShape(op Opcode) shape {
	switch op {
	case OpDupN, OpPopN, OpMakeSExpr, OpMakeList, OpLoadLocal, OpStoreLocal,
		OpCallN, OpTailCallN, OpAmb, OpCommit, OpMatchHead, OpMatchArity,
		OpGetElement, OpCollectN:
		return shapeU8
	case OpPushLongSmall, OpJumpShort, OpJumpIfFalseShort, OpJumpIfTrueShort:
		return shapeI8
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpJumpIfNil, OpJumpIfError:
		return shapeI16
	case OpLoadUpvalue:
		return shapeU8U8
	case OpCall, OpTailCall, OpCallNative, OpCallExternal, OpCallCached:
		return shapeU16U8
	case OpFork:
		return shapeFork
	}
	if op.OperandLen() == 2 {
		return shapeU16
	}
	return shapeNone
}

// UsesConstant reports whether the first immediate of op indexes the
// constant pool.
func UsesConstant(op Opcode) bool {
	switch op {
	case OpPushLong, OpPushAtom, OpPushString, OpPushUri, OpPushConstant,
		OpPushVariable, OpLoadBinding, OpStoreBinding, OpHasBinding,
		OpLoadGlobal, OpStoreGlobal, OpDefineRule, OpLoadSpace, OpMatchGuard,
		OpMatchHead, OpMapAtom, OpFilterAtom, OpFoldlAtom, OpTryRule,
		OpLookupRules, OpCall, OpTailCall, OpCallNative, OpCallExternal,
		OpCallCached:
		return true
	}
	return false
}
