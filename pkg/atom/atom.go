// Package atom defines the interpreter-side value model that bytecode
// constants, VM stacks and JIT results are expressed in.
//
// Atoms are immutable. Compound atoms (Expr, Error) hold their children by
// value, so sharing an atom between stacks never aliases mutable state.
package atom

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Atom is a value of the expression language. The set of implementations is
// closed; callers switch over the concrete types.
type Atom interface {
	String() string
	isAtom()
}

// Nil is the empty value.
type Nil struct{}

// Unit is the value of expressions evaluated for effect.
type Unit struct{}

// Bool is a boolean value.
type Bool bool

// Long is a 64-bit integer.
type Long int64

// Float is a 64-bit float.
type Float float64

// Str is a string literal.
type Str string

// Symbol is a named atom.
type Symbol string

// Var is a pattern variable. The name excludes the leading '$'.
type Var string

// Expr is an S-expression.
type Expr struct {
	Children []Atom
}

// Error is an error value that flows through normal result channels.
type Error struct {
	Source  Atom
	Message Atom
}

// Space is a reference to a named atom space.
type Space struct {
	Name string
}

// State is a reference to a mutable state cell owned by the space engine.
type State struct {
	ID uint64
}

func (Nil) isAtom()    {}
func (Unit) isAtom()   {}
func (Bool) isAtom()   {}
func (Long) isAtom()   {}
func (Float) isAtom()  {}
func (Str) isAtom()    {}
func (Symbol) isAtom() {}
func (Var) isAtom()    {}
func (Expr) isAtom()   {}
func (Error) isAtom()  {}
func (Space) isAtom()  {}
func (State) isAtom()  {}

// Common values.
var (
	NilAtom  Atom = Nil{}
	UnitAtom Atom = Unit{}
	True     Atom = Bool(true)
	False    Atom = Bool(false)
	Empty    Atom = Symbol("Empty")
)

// Sym returns a symbol atom.
func Sym(name string) Atom { return Symbol(name) }

// Int returns an integer atom.
func Int(n int64) Atom { return Long(n) }

// Flt returns a float atom.
func Flt(f float64) Atom { return Float(f) }

// Text returns a string atom.
func Text(s string) Atom { return Str(s) }

// Variable returns a variable atom. A leading '$' is stripped.
func Variable(name string) Atom { return Var(strings.TrimPrefix(name, "$")) }

// NewExpr returns an S-expression of the given children.
func NewExpr(children ...Atom) Atom {
	c := make([]Atom, len(children))
	copy(c, children)
	return Expr{Children: c}
}

// NewError returns an error atom.
func NewError(source Atom, message string) Atom {
	if source == nil {
		source = NilAtom
	}
	return Error{Source: source, Message: Str(message)}
}

func (Nil) String() string  { return "Nil" }
func (Unit) String() string { return "()" }

func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}

func (n Long) String() string { return strconv.FormatInt(int64(n), 10) }

func (f Float) String() string {
	v := float64(f)
	if math.IsNaN(v) {
		return "nan"
	}
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func (s Str) String() string    { return strconv.Quote(string(s)) }
func (s Symbol) String() string { return string(s) }
func (v Var) String() string    { return "$" + string(v) }

func (e Expr) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, c := range e.Children {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(c.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (e Error) String() string {
	return fmt.Sprintf("(Error %s %s)", e.Source, e.Message)
}

func (s Space) String() string { return "&" + s.Name }
func (s State) String() string { return fmt.Sprintf("(State %d)", s.ID) }

// Equal reports deep structural equality. Floats compare by value, so NaN is
// never equal to itself.
func Equal(a, b Atom) bool {
	switch x := a.(type) {
	case Expr:
		y, ok := b.(Expr)
		if !ok || len(x.Children) != len(y.Children) {
			return false
		}
		for i := range x.Children {
			if !Equal(x.Children[i], y.Children[i]) {
				return false
			}
		}
		return true
	case Error:
		y, ok := b.(Error)
		return ok && Equal(x.Source, y.Source) && Equal(x.Message, y.Message)
	case nil:
		return b == nil
	default:
		return a == b
	}
}

// Truthy reports whether a is treated as true by conditionals. Only False
// and Nil are falsy.
func Truthy(a Atom) bool {
	switch x := a.(type) {
	case Bool:
		return bool(x)
	case Nil:
		return false
	default:
		return true
	}
}

// IsError reports whether a is an error atom.
func IsError(a Atom) bool {
	_, ok := a.(Error)
	return ok
}

// TypeName returns the language-level type of an atom.
func TypeName(a Atom) string {
	switch a.(type) {
	case Nil:
		return "Nil"
	case Unit:
		return "Unit"
	case Bool:
		return "Bool"
	case Long, Float:
		return "Number"
	case Str:
		return "String"
	case Symbol:
		return "Symbol"
	case Var:
		return "Variable"
	case Expr:
		return "Expression"
	case Error:
		return "Error"
	case Space:
		return "Space"
	case State:
		return "State"
	}
	return "%Undefined%"
}

// MetaType returns the meta-level type of an atom.
func MetaType(a Atom) string {
	switch a.(type) {
	case Symbol:
		return "Symbol"
	case Var:
		return "Variable"
	case Expr, Error:
		return "Expression"
	default:
		return "Grounded"
	}
}

// Head returns the first child of an expression.
func Head(a Atom) (Atom, bool) {
	e, ok := a.(Expr)
	if !ok || len(e.Children) == 0 {
		return nil, false
	}
	return e.Children[0], true
}

// Tail returns an expression without its first child.
func Tail(a Atom) (Atom, bool) {
	e, ok := a.(Expr)
	if !ok || len(e.Children) == 0 {
		return nil, false
	}
	return Expr{Children: append([]Atom(nil), e.Children[1:]...)}, true
}

// Hash returns a stable 64-bit hash of the atom's printed form. Jump tables
// key their entries by this value.
func Hash(a Atom) uint64 {
	return xxh3.HashString(a.String())
}
