package bytecode

import (
	"fmt"
	"io"
	"os"

	"github.com/chazu/mettajit/pkg/atom"
)

// Config holds VM limits and debugging switches.
type Config struct {
	MaxValueStack   int
	MaxChoicePoints int
	Trace           bool
	TraceWriter     io.Writer
}

// DefaultConfig returns the standard VM limits.
func DefaultConfig() Config {
	return Config{
		MaxValueStack:   65536,
		MaxChoicePoints: 4096,
	}
}

// ResumeState carries the interpreter state that does not live on the value
// stack into a resumed run.
type ResumeState struct {
	Bindings []map[string]atom.Atom
	// CutMarkers are the enclosing cut scopes, in choice-point counts.
	CutMarkers []int
	// OuterChoicePoints is the number of choice points owned by the caller.
	// Cut and Commit may prune them; see VM.OuterChoicePoints.
	OuterChoicePoints int
	ForkDepth         int
}

// VM executes bytecode chunks.
//
// Locals occupy the bottom LocalCount slots of the value stack. Calls do not
// push frames: the call family asks the Bridge to rewrite the call expression
// and continues with the result.
type VM struct {
	chunk  *Chunk
	ip     int
	stack  []atom.Atom
	bridge Bridge
	config Config

	bindings     []map[string]atom.Atom
	choicePoints []choicePoint
	cutMarkers   []int
	base         int
	forkDepth    int
	results      []atom.Atom

	cur        Instruction
	err        error
	stopAt     int
	stopped    bool
	terminated bool

	// Debug/trace mode
	Trace bool
}

// NewVM creates a VM for chunk with the default configuration. bridge may be
// nil; delegated opcodes then fail with ErrUnsupported.
func NewVM(chunk *Chunk, bridge Bridge) *VM {
	return NewVMWithConfig(chunk, bridge, DefaultConfig())
}

// NewVMWithConfig creates a VM with explicit limits.
func NewVMWithConfig(chunk *Chunk, bridge Bridge, config Config) *VM {
	if config.MaxValueStack <= 0 {
		config.MaxValueStack = DefaultConfig().MaxValueStack
	}
	if config.MaxChoicePoints <= 0 {
		config.MaxChoicePoints = DefaultConfig().MaxChoicePoints
	}
	return &VM{
		chunk:  chunk,
		bridge: bridge,
		config: config,
		stack:  make([]atom.Atom, 0, 256),
		stopAt: -1,
		Trace:  config.Trace,
	}
}

// Chunk returns the chunk the VM executes.
func (vm *VM) Chunk() *Chunk { return vm.chunk }

// StopAt makes the next run return, without error, as soon as the
// instruction pointer reaches ip. Pass -1 to clear.
func (vm *VM) StopAt(ip int) { vm.stopAt = ip }

// Stopped reports whether the last run ended at the StopAt offset.
func (vm *VM) Stopped() bool { return vm.stopped }

// IP returns the current instruction pointer.
func (vm *VM) IP() int { return vm.ip }

// Stack returns a copy of the value stack, locals included.
func (vm *VM) Stack() []atom.Atom {
	return append([]atom.Atom(nil), vm.stack...)
}

// Bindings returns a copy of the binding frames, outermost first.
func (vm *VM) Bindings() []map[string]atom.Atom {
	return cloneFrames(vm.bindings)
}

// Terminated reports whether the last run ended through Return, ReturnMulti
// or by running off the end of the code, as opposed to exhausting its
// choice points.
func (vm *VM) Terminated() bool { return vm.terminated }

// OuterChoicePoints returns how many of the caller's choice points survived
// the last resumed run.
func (vm *VM) OuterChoicePoints() int { return vm.base }

// Run executes the chunk from the start and returns every result.
func (vm *VM) Run() ([]atom.Atom, error) {
	vm.reset(ResumeState{})
	for i := 0; i < vm.chunk.LocalCount; i++ {
		vm.stack = append(vm.stack, atom.NilAtom)
	}
	vm.ip = 0
	return vm.run()
}

// Resume continues execution at ip with the given stack, as if the VM had
// executed up to that point itself. The stack includes the local slots.
func (vm *VM) Resume(ip int, stack []atom.Atom) ([]atom.Atom, error) {
	return vm.ResumeWith(ip, stack, ResumeState{})
}

// ResumeWith is Resume with bindings and nondeterminism state carried over.
func (vm *VM) ResumeWith(ip int, stack []atom.Atom, state ResumeState) ([]atom.Atom, error) {
	if ip < 0 || ip > len(vm.chunk.Code) {
		return nil, fmt.Errorf("vm: resume: %w: %d", ErrIPOutOfBounds, ip)
	}
	if len(stack) > vm.config.MaxValueStack {
		return nil, fmt.Errorf("vm: resume: %w: %d values", ErrValueStackOverflow, len(stack))
	}
	vm.reset(state)
	vm.stack = append(vm.stack, stack...)
	vm.ip = ip
	return vm.run()
}

func (vm *VM) reset(state ResumeState) {
	vm.stack = vm.stack[:0]
	vm.choicePoints = vm.choicePoints[:0]
	vm.results = nil
	vm.err = nil
	vm.stopped = false
	vm.terminated = false
	vm.base = state.OuterChoicePoints
	vm.forkDepth = state.ForkDepth
	vm.cutMarkers = append(vm.cutMarkers[:0], state.CutMarkers...)
	if len(state.Bindings) > 0 {
		vm.bindings = cloneFrames(state.Bindings)
	} else {
		vm.bindings = []map[string]atom.Atom{{}}
	}
}

// run is the main execution loop.
func (vm *VM) run() ([]atom.Atom, error) {
	code := vm.chunk.Code
	for {
		if vm.ip == vm.stopAt {
			vm.stopped = true
			return vm.results, nil
		}
		if vm.ip >= len(code) {
			vm.results = append(vm.results, vm.stack[vm.localBase():]...)
			vm.terminated = true
			return vm.results, nil
		}

		in, err := vm.chunk.Decode(vm.ip)
		if err != nil {
			return nil, err
		}
		if vm.Trace {
			fmt.Fprintf(vm.traceWriter(), "[%04x] %-16s sp=%d\n", in.IP, in.Op, len(vm.stack))
		}
		vm.cur = in
		vm.ip = in.Next()

		done, err := vm.exec(in)
		if err == nil {
			err = vm.err
		}
		if err != nil {
			return nil, err
		}
		if done {
			return vm.results, nil
		}
	}
}

// exec executes one instruction. done reports that the run is over.
func (vm *VM) exec(in Instruction) (done bool, err error) {
	switch in.Op {
	// ============ Stack Operations ============
	case OpNop:
		// Do nothing

	case OpPop:
		vm.pop()

	case OpDup:
		vm.push(vm.peek())

	case OpSwap:
		b := vm.pop()
		a := vm.pop()
		vm.push(b)
		vm.push(a)

	case OpRot3:
		// [a b c] -> [b c a]
		c := vm.pop()
		b := vm.pop()
		a := vm.pop()
		vm.push(b)
		vm.push(c)
		vm.push(a)

	case OpOver:
		b := vm.pop()
		a := vm.pop()
		vm.push(a)
		vm.push(b)
		vm.push(a)

	case OpDupN:
		top := vm.popN(in.A)
		for _, v := range top {
			vm.push(v)
		}
		for _, v := range top {
			vm.push(v)
		}

	case OpPopN:
		vm.popN(in.A)

	// ============ Values ============
	case OpPushNil:
		vm.push(atom.NilAtom)

	case OpPushTrue:
		vm.push(atom.True)

	case OpPushFalse:
		vm.push(atom.False)

	case OpPushUnit:
		vm.push(atom.UnitAtom)

	case OpPushEmpty:
		vm.push(atom.Expr{Children: []atom.Atom{}})

	case OpPushLongSmall:
		vm.push(atom.Long(in.A))

	case OpPushLong, OpPushAtom, OpPushString, OpPushUri, OpPushConstant, OpPushVariable:
		vm.push(vm.constant(in.A))

	case OpMakeSExpr, OpMakeSExprLarge:
		vm.push(atom.Expr{Children: vm.popN(in.A)})

	case OpMakeList:
		vm.push(MakeList(vm.popN(in.A)))

	case OpMakeQuote:
		vm.push(MakeQuote(vm.pop()))

	case OpConsAtom:
		tail := vm.pop()
		head := vm.pop()
		vm.push(ConsAtom(head, tail))

	case OpIndexAtom:
		index := vm.pop()
		e := vm.pop()
		vm.push(IndexAtom(e, index))

	// ============ Locals and Bindings ============
	case OpLoadLocal, OpLoadLocalWide:
		if vm.checkLocal(in.A) {
			vm.push(vm.stack[in.A])
		}

	case OpStoreLocal, OpStoreLocalWide:
		v := vm.pop()
		if vm.checkLocal(in.A) {
			vm.stack[in.A] = v
		}

	case OpLoadBinding:
		name := BindingName(vm.constant(in.A))
		if v, ok := vm.lookupBinding(name); ok {
			vm.push(v)
		} else {
			vm.push(atom.NewError(atom.Var(name), MsgUnbound))
		}

	case OpStoreBinding:
		v := vm.pop()
		vm.bindings[len(vm.bindings)-1][BindingName(vm.constant(in.A))] = v

	case OpHasBinding:
		_, ok := vm.lookupBinding(BindingName(vm.constant(in.A)))
		vm.push(atom.Bool(ok))

	case OpClearBindings:
		vm.bindings[len(vm.bindings)-1] = map[string]atom.Atom{}

	case OpPushBindingFrame:
		vm.bindings = append(vm.bindings, map[string]atom.Atom{})

	case OpPopBindingFrame:
		if len(vm.bindings) == 1 {
			vm.fault(ErrRuntime, "binding frame underflow")
			break
		}
		vm.bindings = vm.bindings[:len(vm.bindings)-1]

	case OpMatchBind, OpUnifyBind:
		b := vm.pop()
		a := vm.pop()
		if vm.bridge == nil {
			vm.fault(ErrUnsupported, "no bridge")
			break
		}
		bound, ok := vm.bridge.Unify(a, b)
		if ok {
			frame := vm.bindings[len(vm.bindings)-1]
			for k, v := range bound {
				frame[k] = v
			}
		}
		vm.push(atom.Bool(ok))

	// ============ Control Flow ============
	case OpJump, OpJumpShort:
		vm.jump(in.Target)

	case OpJumpIfFalse, OpJumpIfFalseShort:
		if !atom.Truthy(vm.pop()) {
			vm.jump(in.Target)
		}

	case OpJumpIfTrue, OpJumpIfTrueShort:
		if atom.Truthy(vm.pop()) {
			vm.jump(in.Target)
		}

	case OpJumpIfNil:
		if _, ok := vm.pop().(atom.Nil); ok {
			vm.jump(in.Target)
		}

	case OpJumpIfError:
		if atom.IsError(vm.peek()) {
			vm.jump(in.Target)
		}

	case OpJumpTable:
		v := vm.pop()
		if in.A >= len(vm.chunk.JumpTables) {
			vm.fault(ErrInvalidJumpTable, "table %d", in.A)
			break
		}
		vm.jump(vm.chunk.JumpTables[in.A].Lookup(atom.Hash(v)))

	case OpEvalIf:
		els := vm.pop()
		then := vm.pop()
		cond := vm.pop()
		vm.push(Select(cond, then, els))

	// ============ Calls ============
	case OpCall, OpTailCall:
		args := vm.popN(in.B)
		head := vm.constant(in.A)
		return false, vm.dispatch(callExpr(head, args))

	case OpCallN, OpTailCallN:
		args := vm.popN(in.A)
		head := vm.pop()
		return false, vm.dispatch(callExpr(head, args))

	case OpReturn:
		v := vm.pop()
		if vm.err != nil {
			return true, nil
		}
		vm.results = append(vm.results, v)
		vm.terminated = true
		return true, nil

	case OpReturnMulti:
		vm.results = append(vm.results, vm.stack[vm.localBase():]...)
		vm.terminated = true
		return true, nil

	case OpMapAtom, OpFilterAtom:
		list := vm.pop()
		return false, vm.mapAtom(in.Op, vm.constant(in.A), list)

	case OpFoldlAtom:
		init := vm.pop()
		list := vm.pop()
		return false, vm.foldlAtom(vm.constant(in.A), list, init)

	// ============ Matching and Inspection ============
	case OpMatchHead:
		e := vm.pop()
		vm.push(MatchHead(e, vm.constant(in.A)))

	case OpMatchArity:
		vm.push(MatchArity(vm.pop(), in.A))

	case OpIsVariable, OpIsSExpr, OpIsSymbol, OpGetHead, OpGetTail, OpGetArity,
		OpDeconAtom, OpRepr, OpMinAtom, OpMaxAtom, OpGetType, OpGetMetaType:
		vm.push(Inspect(in.Op, vm.pop()))

	case OpGetElement:
		vm.push(Element(in.Op, vm.pop(), int64(in.A)))

	case OpCheckType, OpIsType, OpAssertType:
		typ := vm.pop()
		v := vm.pop()
		vm.push(TypeCheck(in.Op, v, typ))

	// ============ Arithmetic and Logic ============
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpFloorDiv, OpPow:
		b := vm.pop()
		a := vm.pop()
		vm.push(Arith(in.Op, a, b))

	case OpNeg, OpAbs, OpSqrt, OpTrunc, OpCeil, OpFloorMath, OpRound,
		OpSin, OpCos, OpTan, OpAsin, OpAcos, OpAtan, OpIsNan, OpIsInf:
		vm.push(Unary(in.Op, vm.pop()))

	case OpLog:
		x := vm.pop()
		base := vm.pop()
		vm.push(LogBase(base, x))

	case OpLt, OpLe, OpGt, OpGe, OpEq, OpNe, OpStructEq:
		b := vm.pop()
		a := vm.pop()
		vm.push(Compare(in.Op, a, b))

	case OpAnd, OpOr, OpXor:
		b := vm.pop()
		a := vm.pop()
		vm.push(Logic(in.Op, a, b))

	case OpNot:
		vm.push(Not(vm.pop()))

	// ============ Nondeterminism ============
	case OpFork:
		if in.A == 0 {
			return vm.backtrack(), nil
		}
		alts := make([]atom.Atom, len(in.Fork))
		for i, idx := range in.Fork {
			alts[i] = vm.constant(int(idx))
		}
		vm.choose(alts)

	case OpAmb:
		if in.A == 0 {
			vm.push(atom.NilAtom)
			break
		}
		vm.choose(vm.popN(in.A))

	case OpEvalSuperpose:
		v := vm.pop()
		e, ok := v.(atom.Expr)
		if !ok {
			vm.push(v)
			break
		}
		if len(e.Children) == 0 {
			return vm.backtrack(), nil
		}
		vm.choose(append([]atom.Atom(nil), e.Children...))

	case OpYield:
		v := vm.pop()
		if vm.err != nil {
			return true, nil
		}
		vm.results = append(vm.results, v)
		return vm.backtrack(), nil

	case OpFail, OpBacktrack:
		return vm.backtrack(), nil

	case OpGuard:
		v := vm.pop()
		b, ok := v.(atom.Bool)
		if !ok {
			vm.fault(ErrTypeError, "guard expects Bool, got %s", atom.TypeName(v))
			break
		}
		if !b {
			return vm.backtrack(), nil
		}

	case OpCut:
		vm.cut()

	case OpCommit:
		vm.commit(in.A)

	case OpBeginNondet:
		vm.cutMarkers = append(vm.cutMarkers, vm.choicePointCount())
		vm.forkDepth++

	case OpEndNondet:
		if n := len(vm.cutMarkers); n > 0 {
			vm.cutMarkers = vm.cutMarkers[:n-1]
		}
		if vm.forkDepth > 0 {
			vm.forkDepth--
		}

	case OpCollect:
		vm.push(collect(&vm.results, -1))

	case OpCollectN:
		vm.push(collect(&vm.results, in.A))

	// ============ Debug ============
	case OpBreakpoint:
		if vm.Trace {
			fmt.Fprintf(vm.traceWriter(), "[%04x] breakpoint sp=%d\n", in.IP, len(vm.stack))
		}

	case OpTrace:
		fmt.Fprintf(vm.traceWriter(), "[trace %04x] %s\n", in.IP, vm.peek())

	case OpHalt:
		vm.fault(ErrHalted, "")

	default:
		if IsBridgeOp(in.Op) {
			return false, vm.callBridge(in)
		}
		vm.fault(ErrInvalidOpcode, "no handler")
	}
	return false, nil
}

// ============ Stack helpers ============

func (vm *VM) push(v atom.Atom) {
	if len(vm.stack) >= vm.config.MaxValueStack {
		vm.fault(ErrValueStackOverflow, "limit %d", vm.config.MaxValueStack)
		return
	}
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() atom.Atom {
	n := len(vm.stack)
	if n == 0 {
		vm.fault(ErrStackUnderflow, "")
		return atom.NilAtom
	}
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) peek() atom.Atom {
	n := len(vm.stack)
	if n == 0 {
		vm.fault(ErrStackUnderflow, "")
		return atom.NilAtom
	}
	return vm.stack[n-1]
}

// popN pops n values and returns them deepest first.
func (vm *VM) popN(n int) []atom.Atom {
	if n > len(vm.stack) {
		vm.fault(ErrStackUnderflow, "need %d values, have %d", n, len(vm.stack))
		vm.stack = vm.stack[:0]
		return make([]atom.Atom, n)
	}
	out := make([]atom.Atom, n)
	copy(out, vm.stack[len(vm.stack)-n:])
	vm.stack = vm.stack[:len(vm.stack)-n]
	return out
}

func (vm *VM) localBase() int {
	return min(vm.chunk.LocalCount, len(vm.stack))
}

func (vm *VM) checkLocal(slot int) bool {
	if slot >= vm.chunk.LocalCount || slot >= len(vm.stack) {
		vm.fault(ErrInvalidLocal, "slot %d (locals %d)", slot, vm.chunk.LocalCount)
		return false
	}
	return true
}

func (vm *VM) constant(index int) atom.Atom {
	if index < 0 || index >= len(vm.chunk.Constants) {
		vm.fault(ErrInvalidConstant, "index %d", index)
		return atom.NilAtom
	}
	return vm.chunk.Constants[index]
}

func (vm *VM) jump(target int) {
	if target < 0 || target > len(vm.chunk.Code) {
		vm.fault(ErrIPOutOfBounds, "jump target %d", target)
		return
	}
	vm.ip = target
}

func (vm *VM) fault(kind error, format string, args ...any) {
	if vm.err == nil {
		vm.err = NewVMError(kind, vm.cur.IP, vm.cur.Op, format, args...)
	}
}

func (vm *VM) traceWriter() io.Writer {
	if vm.config.TraceWriter != nil {
		return vm.config.TraceWriter
	}
	return os.Stdout
}

// ============ Bindings ============

func (vm *VM) lookupBinding(name string) (atom.Atom, bool) {
	for i := len(vm.bindings) - 1; i >= 0; i-- {
		if v, ok := vm.bindings[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// BindingName returns the binding key for a name constant.
func BindingName(a atom.Atom) string {
	switch v := a.(type) {
	case atom.Var:
		return string(v)
	case atom.Symbol:
		return string(v)
	case atom.Str:
		return string(v)
	}
	return a.String()
}

func cloneFrames(frames []map[string]atom.Atom) []map[string]atom.Atom {
	out := make([]map[string]atom.Atom, len(frames))
	for i, f := range frames {
		m := make(map[string]atom.Atom, len(f))
		for k, v := range f {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

// ============ Bridge ============

func (vm *VM) callBridge(in Instruction) error {
	args := vm.popN(BridgeArgCount(in))
	if vm.err != nil {
		return nil
	}
	operand, err := BridgeOperand(vm.chunk, in)
	if err != nil {
		vm.fault(ErrInvalidConstant, "%v", err)
		return nil
	}
	if vm.bridge == nil {
		vm.fault(ErrUnsupported, "no bridge")
		return nil
	}
	r, err := vm.bridge.Call(in.Op, operand, args)
	if err != nil {
		return fmt.Errorf("vm: %s at %04x: %w", in.Op, in.IP, err)
	}
	if GetOpcodeInfo(in.Op).StackPush > 0 {
		vm.push(r)
	}
	return nil
}

func callExpr(head atom.Atom, args []atom.Atom) atom.Atom {
	children := make([]atom.Atom, 0, len(args)+1)
	children = append(children, head)
	children = append(children, args...)
	return atom.Expr{Children: children}
}

// dispatch rewrites expr and pushes the first result. Further results become
// alternatives of a new choice point; an irreducible expr is pushed as is.
func (vm *VM) dispatch(expr atom.Atom) error {
	if vm.err != nil {
		return nil
	}
	if vm.bridge == nil {
		vm.push(expr)
		return nil
	}
	results, err := vm.bridge.Rewrite(expr)
	if err != nil {
		return fmt.Errorf("vm: %s at %04x: %w", vm.cur.Op, vm.cur.IP, err)
	}
	if len(results) == 0 {
		vm.push(expr)
		return nil
	}
	vm.choose(results)
	return nil
}

// reduce rewrites expr once and returns the first result, or expr itself.
func (vm *VM) reduce(expr atom.Atom) (atom.Atom, error) {
	if vm.bridge == nil {
		return expr, nil
	}
	results, err := vm.bridge.Rewrite(expr)
	if err != nil {
		return nil, fmt.Errorf("vm: %s at %04x: %w", vm.cur.Op, vm.cur.IP, err)
	}
	if len(results) == 0 {
		return expr, nil
	}
	return results[0], nil
}

func (vm *VM) mapAtom(op Opcode, fn, list atom.Atom) error {
	e, ok := list.(atom.Expr)
	if !ok {
		vm.push(opError(op, MsgExpectedExpr, list))
		return nil
	}
	out := make([]atom.Atom, 0, len(e.Children))
	for _, c := range e.Children {
		r, err := vm.reduce(callExpr(fn, []atom.Atom{c}))
		if err != nil {
			return err
		}
		switch op {
		case OpMapAtom:
			out = append(out, r)
		case OpFilterAtom:
			if atom.Truthy(r) {
				out = append(out, c)
			}
		}
	}
	vm.push(atom.Expr{Children: out})
	return nil
}

func (vm *VM) foldlAtom(fn, list, init atom.Atom) error {
	e, ok := list.(atom.Expr)
	if !ok {
		vm.push(opError(OpFoldlAtom, MsgExpectedExpr, list))
		return nil
	}
	acc := init
	for _, c := range e.Children {
		r, err := vm.reduce(callExpr(fn, []atom.Atom{acc, c}))
		if err != nil {
			return err
		}
		acc = r
	}
	vm.push(acc)
	return nil
}
