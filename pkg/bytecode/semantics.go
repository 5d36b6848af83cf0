package bytecode

import (
	"math"
	"math/bits"

	"github.com/chazu/mettajit/pkg/atom"
)

// The functions in this file define the value-level meaning of the
// arithmetic, comparison, logic, type and structural opcodes. The VM calls
// them directly; the JIT calls them from its runtime helpers whenever a fast
// path does not apply, so both tiers agree on every result.
//
// Type mismatches and division by zero produce Error atoms, never Go errors.

// Error messages carried by Error atoms.
const (
	MsgExpectedNumber = "expected Number"
	MsgExpectedBool   = "expected Bool"
	MsgExpectedExpr   = "expected Expression"
	MsgDivByZero      = "division by zero"
	MsgOverflow       = "arithmetic overflow"
	MsgIndex          = "index out of bounds"
	MsgEmptyExpr      = "empty expression"
	MsgConsTail       = "cons tail must be an expression"
	MsgTypeMismatch   = "type mismatch"
	MsgUnbound        = "unbound variable"
)

func opError(op Opcode, msg string, args ...atom.Atom) atom.Atom {
	children := make([]atom.Atom, 0, len(args)+1)
	children = append(children, atom.Symbol(op.String()))
	children = append(children, args...)
	return atom.NewError(atom.Expr{Children: children}, msg)
}

func firstError(args ...atom.Atom) (atom.Atom, bool) {
	for _, a := range args {
		if atom.IsError(a) {
			return a, true
		}
	}
	return nil, false
}

// ToFloat converts a numeric atom to float64.
func ToFloat(a atom.Atom) (float64, bool) {
	switch v := a.(type) {
	case atom.Long:
		return float64(v), true
	case atom.Float:
		return float64(v), true
	}
	return 0, false
}

// Arith applies a binary arithmetic opcode (Add, Sub, Mul, Div, Mod,
// FloorDiv, Pow). a is the deeper operand.
func Arith(op Opcode, a, b atom.Atom) atom.Atom {
	if e, ok := firstError(a, b); ok {
		return e
	}
	x, xInt := a.(atom.Long)
	y, yInt := b.(atom.Long)
	if xInt && yInt {
		return intArith(op, int64(x), int64(y), a, b)
	}
	fx, okx := ToFloat(a)
	fy, oky := ToFloat(b)
	if !okx || !oky {
		return opError(op, MsgExpectedNumber, a, b)
	}
	switch op {
	case OpAdd:
		return atom.Float(fx + fy)
	case OpSub:
		return atom.Float(fx - fy)
	case OpMul:
		return atom.Float(fx * fy)
	case OpDiv:
		if fy == 0 {
			return opError(op, MsgDivByZero, a, b)
		}
		return atom.Float(fx / fy)
	case OpMod:
		if fy == 0 {
			return opError(op, MsgDivByZero, a, b)
		}
		return atom.Float(math.Mod(fx, fy))
	case OpFloorDiv:
		if fy == 0 {
			return opError(op, MsgDivByZero, a, b)
		}
		return atom.Float(math.Floor(fx / fy))
	case OpPow:
		return atom.Float(math.Pow(fx, fy))
	}
	return opError(op, MsgExpectedNumber, a, b)
}

func intArith(op Opcode, x, y int64, a, b atom.Atom) atom.Atom {
	switch op {
	case OpAdd:
		r := x + y
		if (r > x) != (y > 0) {
			return opError(op, MsgOverflow, a, b)
		}
		return atom.Long(r)
	case OpSub:
		r := x - y
		if (r < x) != (y > 0) {
			return opError(op, MsgOverflow, a, b)
		}
		return atom.Long(r)
	case OpMul:
		if r, ok := MulInt(x, y); ok {
			return atom.Long(r)
		}
		return opError(op, MsgOverflow, a, b)
	case OpDiv:
		if y == 0 {
			return opError(op, MsgDivByZero, a, b)
		}
		if x == math.MinInt64 && y == -1 {
			return opError(op, MsgOverflow, a, b)
		}
		return atom.Long(x / y)
	case OpMod:
		if y == 0 {
			return opError(op, MsgDivByZero, a, b)
		}
		if y == -1 {
			return atom.Long(0)
		}
		return atom.Long(x % y)
	case OpFloorDiv:
		if y == 0 {
			return opError(op, MsgDivByZero, a, b)
		}
		if x == math.MinInt64 && y == -1 {
			return opError(op, MsgOverflow, a, b)
		}
		return atom.Long(FloorDivInt(x, y))
	case OpPow:
		if y < 0 {
			return atom.Float(math.Pow(float64(x), float64(y)))
		}
		if r, ok := powInt(x, y); ok {
			return atom.Long(r)
		}
		return atom.Float(math.Pow(float64(x), float64(y)))
	}
	return opError(op, MsgExpectedNumber, a, b)
}

// MulInt multiplies with overflow detection.
func MulInt(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	neg := (x < 0) != (y < 0)
	ux, uy := absU(x), absU(y)
	hi, lo := bits.Mul64(ux, uy)
	if hi != 0 {
		return 0, false
	}
	if neg {
		if lo > 1<<63 {
			return 0, false
		}
		return -int64(lo - 1) - 1, true
	}
	if lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func absU(x int64) uint64 {
	if x < 0 {
		return uint64(-(x + 1)) + 1
	}
	return uint64(x)
}

// FloorDivInt divides rounding toward negative infinity. y must be non-zero.
func FloorDivInt(x, y int64) int64 {
	q := x / y
	if (x%y != 0) && ((x < 0) != (y < 0)) {
		q--
	}
	return q
}

func powInt(base, exp int64) (int64, bool) {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			r, ok := MulInt(result, base)
			if !ok {
				return 0, false
			}
			result = r
		}
		exp >>= 1
		if exp > 0 {
			b, ok := MulInt(base, base)
			if !ok {
				return 0, false
			}
			base = b
		}
	}
	return result, true
}

// Unary applies a one-operand numeric opcode: Neg, Abs and the
// floating-point math family.
func Unary(op Opcode, a atom.Atom) atom.Atom {
	if atom.IsError(a) {
		return a
	}
	if n, ok := a.(atom.Long); ok {
		switch op {
		case OpNeg:
			if n == math.MinInt64 {
				return opError(op, MsgOverflow, a)
			}
			return -n
		case OpAbs:
			if n == math.MinInt64 {
				return opError(op, MsgOverflow, a)
			}
			if n < 0 {
				return -n
			}
			return n
		case OpTrunc, OpCeil, OpFloorMath, OpRound:
			return n
		case OpIsNan, OpIsInf:
			return atom.False
		}
	}
	f, ok := ToFloat(a)
	if !ok {
		return opError(op, MsgExpectedNumber, a)
	}
	switch op {
	case OpNeg:
		return atom.Float(-f)
	case OpAbs:
		return atom.Float(math.Abs(f))
	case OpSqrt:
		return atom.Float(math.Sqrt(f))
	case OpTrunc:
		return atom.Float(math.Trunc(f))
	case OpCeil:
		return atom.Float(math.Ceil(f))
	case OpFloorMath:
		return atom.Float(math.Floor(f))
	case OpRound:
		return atom.Float(math.Round(f))
	case OpSin:
		return atom.Float(math.Sin(f))
	case OpCos:
		return atom.Float(math.Cos(f))
	case OpTan:
		return atom.Float(math.Tan(f))
	case OpAsin:
		return atom.Float(math.Asin(f))
	case OpAcos:
		return atom.Float(math.Acos(f))
	case OpAtan:
		return atom.Float(math.Atan(f))
	case OpIsNan:
		return atom.Bool(math.IsNaN(f))
	case OpIsInf:
		return atom.Bool(math.IsInf(f, 0))
	}
	return opError(op, MsgExpectedNumber, a)
}

// LogBase computes log_base(x) for OpLog.
func LogBase(base, x atom.Atom) atom.Atom {
	if e, ok := firstError(base, x); ok {
		return e
	}
	fb, okb := ToFloat(base)
	fx, okx := ToFloat(x)
	if !okb || !okx {
		return opError(OpLog, MsgExpectedNumber, base, x)
	}
	return atom.Float(math.Log(fx) / math.Log(fb))
}

// Compare applies a comparison opcode.
func Compare(op Opcode, a, b atom.Atom) atom.Atom {
	switch op {
	case OpEq, OpStructEq:
		return atom.Bool(atom.Equal(a, b))
	case OpNe:
		return atom.Bool(!atom.Equal(a, b))
	}
	if e, ok := firstError(a, b); ok {
		return e
	}
	x, xInt := a.(atom.Long)
	y, yInt := b.(atom.Long)
	if xInt && yInt {
		return atom.Bool(orderInt(op, int64(x), int64(y)))
	}
	fx, okx := ToFloat(a)
	fy, oky := ToFloat(b)
	if !okx || !oky {
		return opError(op, MsgExpectedNumber, a, b)
	}
	switch op {
	case OpLt:
		return atom.Bool(fx < fy)
	case OpLe:
		return atom.Bool(fx <= fy)
	case OpGt:
		return atom.Bool(fx > fy)
	case OpGe:
		return atom.Bool(fx >= fy)
	}
	return opError(op, MsgExpectedNumber, a, b)
}

func orderInt(op Opcode, x, y int64) bool {
	switch op {
	case OpLt:
		return x < y
	case OpLe:
		return x <= y
	case OpGt:
		return x > y
	case OpGe:
		return x >= y
	}
	return false
}

// Logic applies And, Or or Xor. Both operands must be Bool.
func Logic(op Opcode, a, b atom.Atom) atom.Atom {
	if e, ok := firstError(a, b); ok {
		return e
	}
	x, okx := a.(atom.Bool)
	y, oky := b.(atom.Bool)
	if !okx || !oky {
		return opError(op, MsgExpectedBool, a, b)
	}
	switch op {
	case OpAnd:
		return x && y
	case OpOr:
		return x || y
	case OpXor:
		return atom.Bool(x != y)
	}
	return opError(op, MsgExpectedBool, a, b)
}

// Not negates a Bool.
func Not(a atom.Atom) atom.Atom {
	if atom.IsError(a) {
		return a
	}
	x, ok := a.(atom.Bool)
	if !ok {
		return opError(OpNot, MsgExpectedBool, a)
	}
	return !x
}

// Select implements OpEvalIf: then when cond is truthy, otherwise els.
func Select(cond, then, els atom.Atom) atom.Atom {
	if atom.Truthy(cond) {
		return then
	}
	return els
}

// MakeList builds (Cons a1 (Cons a2 ... Nil)).
func MakeList(items []atom.Atom) atom.Atom {
	var out atom.Atom = atom.NilAtom
	for i := len(items) - 1; i >= 0; i-- {
		out = atom.Expr{Children: []atom.Atom{atom.Symbol("Cons"), items[i], out}}
	}
	return out
}

// MakeQuote builds (quote v).
func MakeQuote(v atom.Atom) atom.Atom {
	return atom.Expr{Children: []atom.Atom{atom.Symbol("quote"), v}}
}

// ConsAtom prepends head to tail. tail must be an expression or Nil.
func ConsAtom(head, tail atom.Atom) atom.Atom {
	switch t := tail.(type) {
	case atom.Expr:
		children := make([]atom.Atom, 0, len(t.Children)+1)
		children = append(children, head)
		children = append(children, t.Children...)
		return atom.Expr{Children: children}
	case atom.Nil:
		return atom.Expr{Children: []atom.Atom{head}}
	}
	return opError(OpConsAtom, MsgConsTail, head, tail)
}

// Inspect applies a one-operand structural or type opcode: GetHead,
// GetTail, GetArity, DeconAtom, Repr, MinAtom, MaxAtom, IsVariable, IsSExpr,
// IsSymbol, GetType, GetMetaType.
func Inspect(op Opcode, a atom.Atom) atom.Atom {
	switch op {
	case OpIsVariable:
		_, ok := a.(atom.Var)
		return atom.Bool(ok)
	case OpIsSExpr:
		_, ok := a.(atom.Expr)
		return atom.Bool(ok)
	case OpIsSymbol:
		_, ok := a.(atom.Symbol)
		return atom.Bool(ok)
	case OpGetType:
		return atom.Symbol(atom.TypeName(a))
	case OpGetMetaType:
		return atom.Symbol(atom.MetaType(a))
	case OpRepr:
		return atom.Str(a.String())
	case OpGetArity:
		if e, ok := a.(atom.Expr); ok {
			return atom.Long(len(e.Children))
		}
		return atom.Long(0)
	}

	e, ok := a.(atom.Expr)
	if !ok {
		if atom.IsError(a) {
			return a
		}
		return opError(op, MsgExpectedExpr, a)
	}
	switch op {
	case OpGetHead:
		if len(e.Children) == 0 {
			return opError(op, MsgEmptyExpr, a)
		}
		return e.Children[0]
	case OpGetTail:
		if len(e.Children) == 0 {
			return opError(op, MsgEmptyExpr, a)
		}
		t, _ := atom.Tail(a)
		return t
	case OpDeconAtom:
		if len(e.Children) == 0 {
			return opError(op, MsgEmptyExpr, a)
		}
		t, _ := atom.Tail(a)
		return atom.Expr{Children: []atom.Atom{e.Children[0], t}}
	case OpMinAtom, OpMaxAtom:
		return extremum(op, e)
	}
	return opError(op, MsgExpectedExpr, a)
}

func extremum(op Opcode, e atom.Expr) atom.Atom {
	if len(e.Children) == 0 {
		return opError(op, MsgEmptyExpr, e)
	}
	best := e.Children[0]
	if _, ok := ToFloat(best); !ok {
		return opError(op, MsgExpectedNumber, e)
	}
	for _, c := range e.Children[1:] {
		if _, ok := ToFloat(c); !ok {
			return opError(op, MsgExpectedNumber, e)
		}
		cmp := OpLt
		if op == OpMaxAtom {
			cmp = OpGt
		}
		if Compare(cmp, c, best) == atom.True {
			best = c
		}
	}
	return best
}

// Element returns child i of an expression (OpGetElement, OpIndexAtom).
func Element(op Opcode, a atom.Atom, i int64) atom.Atom {
	e, ok := a.(atom.Expr)
	if !ok {
		if atom.IsError(a) {
			return a
		}
		return opError(op, MsgExpectedExpr, a)
	}
	if i < 0 || i >= int64(len(e.Children)) {
		return opError(op, MsgIndex, a, atom.Long(i))
	}
	return e.Children[i]
}

// IndexAtom implements OpIndexAtom.
func IndexAtom(a, index atom.Atom) atom.Atom {
	i, ok := index.(atom.Long)
	if !ok {
		return opError(OpIndexAtom, MsgExpectedNumber, a, index)
	}
	return Element(OpIndexAtom, a, int64(i))
}

// MatchArity reports whether a is an expression with n children.
func MatchArity(a atom.Atom, n int) atom.Atom {
	e, ok := a.(atom.Expr)
	return atom.Bool(ok && len(e.Children) == n)
}

// MatchHead reports whether a is an expression whose head equals head.
func MatchHead(a, head atom.Atom) atom.Atom {
	h, ok := atom.Head(a)
	return atom.Bool(ok && atom.Equal(h, head))
}

// TypeCheck implements CheckType, IsType and AssertType. typ is a type
// symbol; %Undefined% and Atom match everything.
func TypeCheck(op Opcode, v, typ atom.Atom) atom.Atom {
	ok := typeMatches(v, typ)
	if op == OpAssertType {
		if ok {
			return v
		}
		return opError(op, MsgTypeMismatch, v, typ)
	}
	return atom.Bool(ok)
}

func typeMatches(v, typ atom.Atom) bool {
	name := ""
	switch t := typ.(type) {
	case atom.Symbol:
		name = string(t)
	case atom.Str:
		name = string(t)
	default:
		return false
	}
	switch name {
	case "%Undefined%", "Atom":
		return true
	}
	return atom.TypeName(v) == name || atom.MetaType(v) == name
}
