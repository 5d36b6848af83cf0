package jit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
)

// EntryFunc is a runtime entry point called from compiled code. args are the
// popped operands, deepest first; in carries the immediates and the
// instruction offset used for error attribution.
type EntryFunc func(ctx *Context, in bytecode.Instruction, args []Word) (Word, error)

// Entry is a runtime entry point with its stable keys.
type Entry struct {
	Op   bytecode.Opcode
	Name string
	Fn   EntryFunc
}

var (
	entriesByOp   [256]*Entry
	entriesByName = map[string]*Entry{}
)

// EntryName returns the string key of op's entry point.
func EntryName(op bytecode.Opcode) string {
	return "jit_runtime_" + strings.ToLower(op.String())
}

func register(op bytecode.Opcode, fn EntryFunc) {
	e := &Entry{Op: op, Name: EntryName(op), Fn: fn}
	entriesByOp[op] = e
	entriesByName[e.Name] = e
}

// EntryFor returns the entry point for op.
func EntryFor(op bytecode.Opcode) (*Entry, bool) {
	e := entriesByOp[op]
	return e, e != nil
}

// LookupEntry returns the entry point with the given name, for example
// "jit_runtime_space_add".
func LookupEntry(name string) (*Entry, bool) {
	e, ok := entriesByName[name]
	return e, ok
}

// Entries returns every entry point ordered by opcode.
func Entries() []*Entry {
	out := make([]*Entry, 0, len(entriesByName))
	for _, e := range entriesByName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

func init() {
	for _, op := range bytecode.AllOpcodes() {
		if bytecode.IsBridgeOp(op) && op != bytecode.OpLoadUpvalue {
			register(op, bridgeEntry)
		}
	}
	register(bytecode.OpMatchBind, bindEntry)
	register(bytecode.OpUnifyBind, bindEntry)

	binary := func(f func(op bytecode.Opcode, a, b atom.Atom) atom.Atom) EntryFunc {
		return valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
			return f(in.Op, a[0], a[1])
		})
	}
	unary := valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.Unary(in.Op, a[0])
	})
	inspect := valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.Inspect(in.Op, a[0])
	})
	typeCheck := valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.TypeCheck(in.Op, a[0], a[1])
	})

	for _, op := range []bytecode.Opcode{
		bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
		bytecode.OpMod, bytecode.OpFloorDiv, bytecode.OpPow,
	} {
		register(op, binary(bytecode.Arith))
	}
	for _, op := range []bytecode.Opcode{
		bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe,
		bytecode.OpEq, bytecode.OpNe, bytecode.OpStructEq,
	} {
		register(op, binary(bytecode.Compare))
	}
	for _, op := range []bytecode.Opcode{bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor} {
		register(op, binary(bytecode.Logic))
	}
	register(bytecode.OpNot, valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.Not(a[0])
	}))
	for _, op := range []bytecode.Opcode{
		bytecode.OpNeg, bytecode.OpAbs, bytecode.OpSqrt, bytecode.OpTrunc,
		bytecode.OpCeil, bytecode.OpFloorMath, bytecode.OpRound,
		bytecode.OpSin, bytecode.OpCos, bytecode.OpTan, bytecode.OpAsin,
		bytecode.OpAcos, bytecode.OpAtan, bytecode.OpIsNan, bytecode.OpIsInf,
	} {
		register(op, unary)
	}
	register(bytecode.OpLog, valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.LogBase(a[0], a[1])
	}))
	for _, op := range []bytecode.Opcode{
		bytecode.OpIsVariable, bytecode.OpIsSExpr, bytecode.OpIsSymbol,
		bytecode.OpGetHead, bytecode.OpGetTail, bytecode.OpGetArity,
		bytecode.OpDeconAtom, bytecode.OpRepr, bytecode.OpMinAtom,
		bytecode.OpMaxAtom, bytecode.OpGetType, bytecode.OpGetMetaType,
	} {
		register(op, inspect)
	}
	for _, op := range []bytecode.Opcode{bytecode.OpCheckType, bytecode.OpIsType, bytecode.OpAssertType} {
		register(op, typeCheck)
	}
	register(bytecode.OpGetElement, valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.Element(in.Op, a[0], int64(in.A))
	}))
	register(bytecode.OpIndexAtom, valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.IndexAtom(a[0], a[1])
	}))
	register(bytecode.OpConsAtom, valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.ConsAtom(a[0], a[1])
	}))
	register(bytecode.OpMatchArity, valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.MatchArity(a[0], in.A)
	}))
	register(bytecode.OpMatchHead, valueEntry(func(ctx *Context, in bytecode.Instruction, a []atom.Atom) atom.Atom {
		return bytecode.MatchHead(a[0], ctx.chunk.Constants[in.A])
	}))
}

// valueEntry lifts a pure function over native values into an entry
// point.
func valueEntry(f func(ctx *Context, in bytecode.Instruction, args []atom.Atom) atom.Atom) EntryFunc {
	return func(ctx *Context, in bytecode.Instruction, args []Word) (Word, error) {
		return ctx.Box(f(ctx, in, ctx.UnboxAll(args))), nil
	}
}

func bridgeEntry(ctx *Context, in bytecode.Instruction, args []Word) (Word, error) {
	if ctx.Bridge == nil {
		return Nil, bytecode.NewVMError(bytecode.ErrUnsupported, in.IP, in.Op, "no bridge")
	}
	operand, err := bytecode.BridgeOperand(ctx.chunk, in)
	if err != nil {
		return Nil, bytecode.NewVMError(bytecode.ErrInvalidConstant, in.IP, in.Op, "%v", err)
	}
	r, err := ctx.Bridge.Call(in.Op, operand, ctx.UnboxAll(args))
	if err != nil {
		return Nil, fmt.Errorf("jit: %s at %04x: %w", in.Op, in.IP, err)
	}
	return ctx.Box(r), nil
}

func bindEntry(ctx *Context, in bytecode.Instruction, args []Word) (Word, error) {
	if ctx.Bridge == nil {
		return Nil, bytecode.NewVMError(bytecode.ErrUnsupported, in.IP, in.Op, "no bridge")
	}
	bound, ok := ctx.Bridge.Unify(ctx.Unbox(args[0]), ctx.Unbox(args[1]))
	if ok {
		frame := ctx.frame()
		for k, v := range bound {
			frame[k] = ctx.Box(v)
		}
	}
	return MakeBool(ok), nil
}
