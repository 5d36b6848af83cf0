package jit

import "fmt"

// Word is a NaN-boxed tagged value. The high 16 bits hold the quiet-NaN
// prefix plus a kind tag, the low 48 bits hold the payload.
type Word uint64

// Kind is the closed set of word tags.
type Kind uint8

const (
	KindInt Kind = iota
	KindBool
	KindNil
	KindUnit
	KindHeap
	KindError
	KindAtom
	KindVar
)

var kindNames = [...]string{"Int", "Bool", "Nil", "Unit", "Heap", "Error", "Atom", "Var"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

const (
	qnan        uint64 = 0x7FF8_0000_0000_0000
	tagShift           = 48
	payloadMask uint64 = 1<<tagShift - 1

	// MaxInt and MinInt bound the integers that fit in a payload.
	MaxInt int64 = 1<<47 - 1
	MinInt int64 = -1 << 47
)

func makeWord(k Kind, payload uint64) Word {
	return Word(qnan | uint64(k)<<tagShift | payload&payloadMask)
}

// Immediate constants.
var (
	Nil   = makeWord(KindNil, 0)
	Unit  = makeWord(KindUnit, 0)
	True  = makeWord(KindBool, 1)
	False = makeWord(KindBool, 0)
)

// MakeInt boxes n. ok is false when n does not fit in 48 bits.
func MakeInt(n int64) (w Word, ok bool) {
	if n < MinInt || n > MaxInt {
		return 0, false
	}
	return makeWord(KindInt, uint64(n)), true
}

// MakeBool boxes b.
func MakeBool(b bool) Word {
	if b {
		return True
	}
	return False
}

// MakeAtom returns a symbol word for an interned id.
func MakeAtom(id uint32) Word { return makeWord(KindAtom, uint64(id)) }

// MakeVar returns a variable word for an interned id.
func MakeVar(id uint32) Word { return makeWord(KindVar, uint64(id)) }

// MakeHeap returns a reference to a heap object.
func MakeHeap(h Handle) Word { return makeWord(KindHeap, uint64(h)) }

// MakeError returns an error word whose payload references an Error atom on
// the heap.
func MakeError(h Handle) Word { return makeWord(KindError, uint64(h)) }

// Kind returns the tag.
func (w Word) Kind() Kind {
	return Kind(uint64(w) >> tagShift & 0x7)
}

// Payload returns the low 48 bits.
func (w Word) Payload() uint64 {
	return uint64(w) & payloadMask
}

// Int returns the sign-extended integer payload.
func (w Word) Int() int64 {
	return int64(w.Payload()<<16) >> 16
}

// Bool returns the boolean payload.
func (w Word) Bool() bool { return w.Payload() != 0 }

// Handle returns the heap handle of a Heap or Error word.
func (w Word) Handle() Handle { return Handle(w.Payload()) }

// IsRef reports whether w refers to the heap.
func (w Word) IsRef() bool {
	switch w.Kind() {
	case KindHeap, KindError:
		return true
	}
	return false
}

// Truthy reports whether w counts as true. Only False and Nil are falsy.
func (w Word) Truthy() bool {
	return w != False && w != Nil
}

func (w Word) String() string {
	switch k := w.Kind(); k {
	case KindInt:
		return fmt.Sprintf("Int(%d)", w.Int())
	case KindBool:
		return fmt.Sprintf("Bool(%t)", w.Bool())
	case KindNil, KindUnit:
		return k.String()
	default:
		return fmt.Sprintf("%s(%d)", k, w.Payload())
	}
}
