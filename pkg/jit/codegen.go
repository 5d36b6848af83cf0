package jit

import (
	"fmt"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
)

type generator struct {
	a    *analysis
	code *Code
}

func (g *generator) target(ip int) int32 {
	return int32(g.code.blockAt[ip])
}

// step generates the closure for in. A nil step with a nil error means the
// instruction has no effect.
func (g *generator) step(in bytecode.Instruction) (step, error) {
	if _, reached := g.a.depth[in.IP]; !reached {
		return bailStep(in, "unreachable"), nil
	}
	if reason, ok := bailoutOps[in.Op]; ok {
		return bailStep(in, reason), nil
	}
	if s := g.nativeStep(in); s != nil {
		return s, nil
	}
	if in.Op == bytecode.OpNop {
		return nil, nil
	}
	e, ok := EntryFor(in.Op)
	if !ok {
		return nil, reject(in, "no code generator")
	}
	return entryStep(in, e), nil
}

func bailStep(in bytecode.Instruction, reason string) step {
	return func(ctx *Context) int32 {
		ctx.bail(in.IP, reason)
		return exit(SignalBailout)
	}
}

// entryStep pops the operands of in, calls e and pushes the result when
// the opcode produces one.
func entryStep(in bytecode.Instruction, e *Entry) step {
	n, _ := stackEffect(in)
	produces := bytecode.GetOpcodeInfo(in.Op).StackPush > 0
	fn := e.Fn
	return func(ctx *Context) int32 {
		w, err := fn(ctx, in, ctx.popN(n))
		if err != nil {
			ctx.fail(err)
			return cont
		}
		if produces {
			ctx.push(w)
		}
		return cont
	}
}

// slow runs the entry point of in on already popped operands.
func slow(ctx *Context, in bytecode.Instruction, e *Entry, args ...Word) int32 {
	w, err := e.Fn(ctx, in, args)
	if err != nil {
		ctx.fail(err)
		return cont
	}
	ctx.push(w)
	return cont
}

func pushWord(w Word) step {
	return func(ctx *Context) int32 {
		ctx.push(w)
		return cont
	}
}

func (g *generator) nativeStep(in bytecode.Instruction) step {
	chunk := g.a.chunk
	switch in.Op {
	// ============ Stack ============
	case bytecode.OpPop:
		return func(ctx *Context) int32 {
			ctx.SP--
			return cont
		}
	case bytecode.OpDup:
		return func(ctx *Context) int32 {
			ctx.push(ctx.peek())
			return cont
		}
	case bytecode.OpSwap:
		return func(ctx *Context) int32 {
			s, sp := ctx.Stack, ctx.SP
			s[sp-1], s[sp-2] = s[sp-2], s[sp-1]
			return cont
		}
	case bytecode.OpRot3:
		return func(ctx *Context) int32 {
			s, sp := ctx.Stack, ctx.SP
			s[sp-3], s[sp-2], s[sp-1] = s[sp-2], s[sp-1], s[sp-3]
			return cont
		}
	case bytecode.OpOver:
		return func(ctx *Context) int32 {
			ctx.push(ctx.Stack[ctx.SP-2])
			return cont
		}
	case bytecode.OpDupN:
		n := in.A
		return func(ctx *Context) int32 {
			for i := 0; i < n; i++ {
				ctx.push(ctx.Stack[ctx.SP-n])
			}
			return cont
		}
	case bytecode.OpPopN:
		n := in.A
		return func(ctx *Context) int32 {
			ctx.SP -= n
			return cont
		}

	// ============ Values ============
	case bytecode.OpPushNil:
		return pushWord(Nil)
	case bytecode.OpPushTrue:
		return pushWord(True)
	case bytecode.OpPushFalse:
		return pushWord(False)
	case bytecode.OpPushUnit:
		return pushWord(Unit)
	case bytecode.OpPushLongSmall:
		w, _ := MakeInt(int64(in.A))
		return pushWord(w)
	case bytecode.OpPushLong, bytecode.OpPushAtom, bytecode.OpPushString,
		bytecode.OpPushUri, bytecode.OpPushConstant, bytecode.OpPushVariable:
		k := in.A
		return func(ctx *Context) int32 {
			ctx.push(ctx.Constants[k])
			return cont
		}
	case bytecode.OpPushEmpty:
		return func(ctx *Context) int32 {
			ctx.push(ctx.allocExpr())
			return cont
		}
	case bytecode.OpMakeSExpr, bytecode.OpMakeSExprLarge:
		n := in.A
		return func(ctx *Context) int32 {
			ctx.push(ctx.allocExpr(ctx.popN(n)...))
			return cont
		}
	case bytecode.OpMakeList:
		n := in.A
		return func(ctx *Context) int32 {
			items := ctx.popN(n)
			cons := ctx.symbol("Cons")
			out := Nil
			for i := n - 1; i >= 0; i-- {
				out = ctx.allocExpr(cons, items[i], out)
			}
			ctx.push(out)
			return cont
		}
	case bytecode.OpMakeQuote:
		return func(ctx *Context) int32 {
			v := ctx.pop()
			ctx.push(ctx.allocExpr(ctx.symbol("quote"), v))
			return cont
		}

	// ============ Locals and bindings ============
	case bytecode.OpLoadLocal, bytecode.OpLoadLocalWide:
		slot := in.A
		return func(ctx *Context) int32 {
			ctx.push(ctx.Stack[slot])
			return cont
		}
	case bytecode.OpStoreLocal, bytecode.OpStoreLocalWide:
		slot := in.A
		return func(ctx *Context) int32 {
			ctx.Stack[slot] = ctx.pop()
			return cont
		}
	case bytecode.OpLoadBinding:
		name := bytecode.BindingName(chunk.Constants[in.A])
		return func(ctx *Context) int32 {
			if v, ok := ctx.lookupBinding(name); ok {
				ctx.push(v)
			} else {
				ctx.push(ctx.Box(atom.NewError(atom.Var(name), bytecode.MsgUnbound)))
			}
			return cont
		}
	case bytecode.OpStoreBinding:
		name := bytecode.BindingName(chunk.Constants[in.A])
		return func(ctx *Context) int32 {
			ctx.frame()[name] = ctx.pop()
			return cont
		}
	case bytecode.OpHasBinding:
		name := bytecode.BindingName(chunk.Constants[in.A])
		return func(ctx *Context) int32 {
			_, ok := ctx.lookupBinding(name)
			ctx.push(MakeBool(ok))
			return cont
		}
	case bytecode.OpClearBindings:
		return func(ctx *Context) int32 {
			ctx.Bindings[len(ctx.Bindings)-1] = map[string]Word{}
			return cont
		}
	case bytecode.OpPushBindingFrame:
		return func(ctx *Context) int32 {
			ctx.Bindings = append(ctx.Bindings, map[string]Word{})
			return cont
		}
	case bytecode.OpPopBindingFrame:
		return func(ctx *Context) int32 {
			if len(ctx.Bindings) == 1 {
				ctx.fail(bytecode.NewVMError(bytecode.ErrRuntime, in.IP, in.Op, "binding frame underflow"))
				return cont
			}
			ctx.Bindings = ctx.Bindings[:len(ctx.Bindings)-1]
			return cont
		}

	// ============ Control flow ============
	case bytecode.OpJump, bytecode.OpJumpShort:
		t := g.target(in.Target)
		return func(ctx *Context) int32 { return t }
	case bytecode.OpJumpIfFalse, bytecode.OpJumpIfFalseShort:
		t := g.target(in.Target)
		return func(ctx *Context) int32 {
			if !ctx.pop().Truthy() {
				return t
			}
			return cont
		}
	case bytecode.OpJumpIfTrue, bytecode.OpJumpIfTrueShort:
		t := g.target(in.Target)
		return func(ctx *Context) int32 {
			if ctx.pop().Truthy() {
				return t
			}
			return cont
		}
	case bytecode.OpJumpIfNil:
		t := g.target(in.Target)
		return func(ctx *Context) int32 {
			if ctx.pop() == Nil {
				return t
			}
			return cont
		}
	case bytecode.OpJumpIfError:
		t := g.target(in.Target)
		return func(ctx *Context) int32 {
			if ctx.peek().Kind() == KindError {
				return t
			}
			return cont
		}
	case bytecode.OpJumpTable:
		table := &chunk.JumpTables[in.A]
		blocks := make(map[int]int32, len(table.Entries)+1)
		for _, ip := range table.Targets() {
			blocks[ip] = g.target(ip)
		}
		return func(ctx *Context) int32 {
			v := ctx.Unbox(ctx.pop())
			return blocks[table.Lookup(atom.Hash(v))]
		}
	case bytecode.OpEvalIf:
		return func(ctx *Context) int32 {
			els := ctx.pop()
			then := ctx.pop()
			if ctx.pop().Truthy() {
				ctx.push(then)
			} else {
				ctx.push(els)
			}
			return cont
		}
	case bytecode.OpReturn:
		return func(ctx *Context) int32 {
			v := ctx.pop()
			ctx.Results = append(ctx.Results, v)
			ctx.value = v
			return exit(SignalOK)
		}
	case bytecode.OpReturnMulti:
		return func(ctx *Context) int32 { return exit(SignalEnd) }

	// ============ Arithmetic ============
	case bytecode.OpAdd:
		return intBinary(in, func(x, y int64) (int64, bool) { return x + y, true })
	case bytecode.OpSub:
		return intBinary(in, func(x, y int64) (int64, bool) { return x - y, true })
	case bytecode.OpMul:
		return intBinary(in, bytecode.MulInt)
	case bytecode.OpDiv:
		return intBinary(in, func(x, y int64) (int64, bool) {
			if y == 0 {
				return 0, false
			}
			return x / y, true
		})
	case bytecode.OpMod:
		return intBinary(in, func(x, y int64) (int64, bool) {
			switch y {
			case 0:
				return 0, false
			case -1:
				return 0, true
			}
			return x % y, true
		})
	case bytecode.OpFloorDiv:
		return intBinary(in, func(x, y int64) (int64, bool) {
			if y == 0 {
				return 0, false
			}
			return bytecode.FloorDivInt(x, y), true
		})
	case bytecode.OpNeg:
		return intUnary(in, func(x int64) int64 { return -x })
	case bytecode.OpAbs:
		return intUnary(in, func(x int64) int64 {
			if x < 0 {
				return -x
			}
			return x
		})

	// ============ Comparison and logic ============
	case bytecode.OpLt:
		return intCompare(in, func(x, y int64) bool { return x < y })
	case bytecode.OpLe:
		return intCompare(in, func(x, y int64) bool { return x <= y })
	case bytecode.OpGt:
		return intCompare(in, func(x, y int64) bool { return x > y })
	case bytecode.OpGe:
		return intCompare(in, func(x, y int64) bool { return x >= y })
	case bytecode.OpEq, bytecode.OpStructEq:
		return equality(in, false)
	case bytecode.OpNe:
		return equality(in, true)
	case bytecode.OpAnd:
		return boolBinary(in, func(x, y bool) bool { return x && y })
	case bytecode.OpOr:
		return boolBinary(in, func(x, y bool) bool { return x || y })
	case bytecode.OpXor:
		return boolBinary(in, func(x, y bool) bool { return x != y })
	case bytecode.OpNot:
		e, _ := EntryFor(in.Op)
		return func(ctx *Context) int32 {
			v := ctx.pop()
			if v.Kind() == KindBool {
				ctx.push(MakeBool(!v.Bool()))
				return cont
			}
			return slow(ctx, in, e, v)
		}

	// ============ Nondeterminism ============
	case bytecode.OpFork:
		if in.A == 0 {
			return func(ctx *Context) int32 { return exit(SignalFail) }
		}
		idx := in.Fork
		resume := in.Next()
		return func(ctx *Context) int32 {
			alts := make([]Word, len(idx))
			for i, k := range idx {
				alts[i] = ctx.Constants[k]
			}
			ctx.Choose(resume, alts)
			return cont
		}
	case bytecode.OpAmb:
		n := in.A
		if n == 0 {
			return pushWord(Nil)
		}
		resume := in.Next()
		return func(ctx *Context) int32 {
			ctx.Choose(resume, ctx.popN(n))
			return cont
		}
	case bytecode.OpYield:
		return func(ctx *Context) int32 {
			v := ctx.pop()
			ctx.Results = append(ctx.Results, v)
			ctx.value = v
			return exit(SignalYield)
		}
	case bytecode.OpFail, bytecode.OpBacktrack:
		return func(ctx *Context) int32 { return exit(SignalFail) }
	case bytecode.OpGuard:
		return func(ctx *Context) int32 {
			v := ctx.pop()
			if v.Kind() != KindBool {
				ctx.fail(bytecode.NewVMError(bytecode.ErrTypeError, in.IP, in.Op,
					"guard expects Bool, got %s", atom.TypeName(ctx.Unbox(v))))
				return cont
			}
			if !v.Bool() {
				return exit(SignalFail)
			}
			return cont
		}
	case bytecode.OpCut:
		return func(ctx *Context) int32 {
			ctx.Cut()
			return cont
		}
	case bytecode.OpCommit:
		n := in.A
		return func(ctx *Context) int32 {
			ctx.Commit(n)
			return cont
		}
	case bytecode.OpBeginNondet:
		return func(ctx *Context) int32 {
			ctx.EnterCutScope()
			return cont
		}
	case bytecode.OpEndNondet:
		return func(ctx *Context) int32 {
			ctx.ExitCutScope()
			return cont
		}
	case bytecode.OpCollect:
		return func(ctx *Context) int32 {
			ctx.push(ctx.Collect(-1))
			return cont
		}
	case bytecode.OpCollectN:
		n := in.A
		return func(ctx *Context) int32 {
			ctx.push(ctx.Collect(n))
			return cont
		}

	// ============ Debug ============
	case bytecode.OpBreakpoint:
		return func(ctx *Context) int32 {
			if ctx.Tracing {
				fmt.Fprintf(ctx.traceWriter(), "[%04x] breakpoint sp=%d\n", in.IP, ctx.SP)
			}
			return cont
		}
	case bytecode.OpTrace:
		return func(ctx *Context) int32 {
			fmt.Fprintf(ctx.traceWriter(), "[trace %04x] %s\n", in.IP, ctx.Unbox(ctx.peek()))
			return cont
		}
	case bytecode.OpHalt:
		ip := in.IP
		return func(ctx *Context) int32 {
			ctx.HaltIP = ip
			return exit(SignalHalt)
		}
	}
	return nil
}

// intBinary inlines f for two small integers and defers everything else,
// including results f declines, to the entry point.
func intBinary(in bytecode.Instruction, f func(x, y int64) (int64, bool)) step {
	e, _ := EntryFor(in.Op)
	return func(ctx *Context) int32 {
		b := ctx.pop()
		a := ctx.pop()
		if a.Kind() == KindInt && b.Kind() == KindInt {
			if r, ok := f(a.Int(), b.Int()); ok {
				ctx.push(ctx.boxInt(r))
				return cont
			}
		}
		return slow(ctx, in, e, a, b)
	}
}

func intUnary(in bytecode.Instruction, f func(x int64) int64) step {
	e, _ := EntryFor(in.Op)
	return func(ctx *Context) int32 {
		a := ctx.pop()
		if a.Kind() == KindInt {
			ctx.push(ctx.boxInt(f(a.Int())))
			return cont
		}
		return slow(ctx, in, e, a)
	}
}

func intCompare(in bytecode.Instruction, f func(x, y int64) bool) step {
	e, _ := EntryFor(in.Op)
	return func(ctx *Context) int32 {
		b := ctx.pop()
		a := ctx.pop()
		if a.Kind() == KindInt && b.Kind() == KindInt {
			ctx.push(MakeBool(f(a.Int(), b.Int())))
			return cont
		}
		return slow(ctx, in, e, a, b)
	}
}

// equality compares immediates by word and heap values structurally.
func equality(in bytecode.Instruction, negate bool) step {
	e, _ := EntryFor(in.Op)
	return func(ctx *Context) int32 {
		b := ctx.pop()
		a := ctx.pop()
		if !a.IsRef() && !b.IsRef() {
			ctx.push(MakeBool((a == b) != negate))
			return cont
		}
		return slow(ctx, in, e, a, b)
	}
}

func boolBinary(in bytecode.Instruction, f func(x, y bool) bool) step {
	e, _ := EntryFor(in.Op)
	return func(ctx *Context) int32 {
		b := ctx.pop()
		a := ctx.pop()
		if a.Kind() == KindBool && b.Kind() == KindBool {
			ctx.push(MakeBool(f(a.Bool(), b.Bool())))
			return cont
		}
		return slow(ctx, in, e, a, b)
	}
}
