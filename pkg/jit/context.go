package jit

import (
	"io"
	"os"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
)

// Buffers sizes the reusable buffers behind a Context.
type Buffers struct {
	Stack        int
	ChoicePoints int
	Results      int
	Bindings     int
	CutMarkers   int
}

// DefaultBuffers returns the standard buffer sizes.
func DefaultBuffers() Buffers {
	return Buffers{Stack: 1024, ChoicePoints: 64, Results: 256, Bindings: 32, CutMarkers: 16}
}

// ChoicePoint is one pending Fork or Amb.
type ChoicePoint struct {
	// ResumeIP is the offset execution continues at with the next
	// alternative pushed.
	ResumeIP     int
	Alternatives []Word
	// BindingDepth is the number of binding frames when the choice point
	// was taken.
	BindingDepth int

	snap       snapshot
	bindings   []map[string]Word
	cutMarkers []int
	forkDepth  int
}

// Context is the mutable state compiled code runs against. The executor
// owns it and resets it before every top-level run; it must not be shared
// between goroutines.
type Context struct {
	Stack      []Word
	SP         int
	Constants  []Word
	LocalCount int

	ChoicePoints    []ChoicePoint
	MaxChoicePoints int
	Results         []Word
	Bindings        []map[string]Word
	CutMarkers      []int
	ForkDepth       int
	Snapshots       *SnapshotPool

	Heap     *Heap
	Interner *Interner
	Bridge   bytecode.Bridge

	Tracing     bool
	TraceWriter io.Writer

	// Bailout fields are written at most once per call to Code.Run and read
	// by the dispatcher right after it returns.
	Bailout       bool
	BailoutIP     int
	BailoutReason string
	// HaltIP is the offset of the Halt behind SignalHalt.
	HaltIP int

	// ResumeIP is where the next Code.Run starts.
	ResumeIP int
	// Err holds the host error behind SignalError.
	Err error

	chunk *bytecode.Chunk
	value Word
}

// NewContext allocates a context. interner and bridge may be shared with
// other contexts; bridge may be nil.
func NewContext(buf Buffers, interner *Interner, bridge bytecode.Bridge) *Context {
	if interner == nil {
		interner = NewInterner()
	}
	return &Context{
		Stack:           make([]Word, buf.Stack),
		ChoicePoints:    make([]ChoicePoint, 0, buf.ChoicePoints),
		MaxChoicePoints: bytecode.DefaultConfig().MaxChoicePoints,
		Results:         make([]Word, 0, buf.Results),
		Bindings:        make([]map[string]Word, 0, buf.Bindings),
		CutMarkers:      make([]int, 0, buf.CutMarkers),
		Snapshots:       &SnapshotPool{},
		Heap:            NewHeap(),
		Interner:        interner,
		Bridge:          bridge,
	}
}

// Reset clears every buffer, releases the heap, boxes the constant pool of
// code's chunk and pushes its locals.
func (ctx *Context) Reset(code *Code) {
	if need := code.LocalCount + code.MaxStack + 1; len(ctx.Stack) < need {
		ctx.Stack = make([]Word, need)
	}
	clear(ctx.Stack[:ctx.SP])
	ctx.SP = 0
	ctx.ChoicePoints = ctx.ChoicePoints[:0]
	ctx.Results = ctx.Results[:0]
	ctx.Bindings = append(ctx.Bindings[:0], map[string]Word{})
	ctx.CutMarkers = ctx.CutMarkers[:0]
	ctx.ForkDepth = 0
	ctx.Snapshots.Reset()
	ctx.Heap.Reset()
	ctx.Bailout, ctx.BailoutIP, ctx.BailoutReason = false, 0, ""
	ctx.HaltIP = 0
	ctx.ResumeIP = 0
	ctx.Err = nil
	ctx.value = Nil

	ctx.chunk = code.chunk
	ctx.LocalCount = code.LocalCount
	ctx.Constants = ctx.Constants[:0]
	for _, c := range code.chunk.Constants {
		ctx.Constants = append(ctx.Constants, ctx.Box(c))
	}
	for i := 0; i < code.LocalCount; i++ {
		ctx.push(Nil)
	}
}

// Chunk returns the chunk of the last Reset.
func (ctx *Context) Chunk() *bytecode.Chunk { return ctx.chunk }

// ============ Conversion ============

// Box converts a native value to a word. Values without an immediate form
// are allocated on the heap.
func (ctx *Context) Box(a atom.Atom) Word {
	switch v := a.(type) {
	case atom.Nil:
		return Nil
	case atom.Unit:
		return Unit
	case atom.Bool:
		return MakeBool(bool(v))
	case atom.Long:
		if w, ok := MakeInt(int64(v)); ok {
			return w
		}
	case atom.Symbol:
		return MakeAtom(ctx.Interner.Intern(string(v)))
	case atom.Var:
		return MakeVar(ctx.Interner.Intern(string(v)))
	case atom.Error:
		return MakeError(ctx.Heap.Alloc(v))
	case nil:
		return Nil
	}
	return MakeHeap(ctx.Heap.Alloc(a))
}

// Unbox converts a word to a native value. It is total: a dangling heap
// reference becomes an Error atom.
func (ctx *Context) Unbox(w Word) atom.Atom {
	switch w.Kind() {
	case KindInt:
		return atom.Long(w.Int())
	case KindBool:
		return atom.Bool(w.Bool())
	case KindNil:
		return atom.NilAtom
	case KindUnit:
		return atom.UnitAtom
	case KindAtom:
		name, _ := ctx.Interner.Name(uint32(w.Payload()))
		return atom.Symbol(name)
	case KindVar:
		name, _ := ctx.Interner.Name(uint32(w.Payload()))
		return atom.Var(name)
	case KindHeap, KindError:
		if a, ok := ctx.Heap.Atom(w.Handle()); ok {
			return a
		}
		if ws, ok := ctx.Heap.Children(w.Handle()); ok {
			children := make([]atom.Atom, len(ws))
			for i, c := range ws {
				children[i] = ctx.Unbox(c)
			}
			return atom.Expr{Children: children}
		}
		return atom.NewError(atom.NilAtom, "dangling heap reference")
	}
	panic("jit: unknown word kind " + w.Kind().String())
}

// UnboxAll converts a slice of words.
func (ctx *Context) UnboxAll(ws []Word) []atom.Atom {
	out := make([]atom.Atom, len(ws))
	for i, w := range ws {
		out[i] = ctx.Unbox(w)
	}
	return out
}

// UnboxStack returns the live stack, locals included, as native values.
func (ctx *Context) UnboxStack() []atom.Atom {
	return ctx.UnboxAll(ctx.Stack[:ctx.SP])
}

// ResumeState captures the non-stack state a VM needs to continue where
// compiled code stopped.
func (ctx *Context) ResumeState() bytecode.ResumeState {
	frames := make([]map[string]atom.Atom, len(ctx.Bindings))
	for i, f := range ctx.Bindings {
		m := make(map[string]atom.Atom, len(f))
		for k, v := range f {
			m[k] = ctx.Unbox(v)
		}
		frames[i] = m
	}
	return bytecode.ResumeState{
		Bindings:          frames,
		CutMarkers:        append([]int(nil), ctx.CutMarkers...),
		OuterChoicePoints: len(ctx.ChoicePoints),
		ForkDepth:         ctx.ForkDepth,
	}
}

func (ctx *Context) symbol(name string) Word {
	return MakeAtom(ctx.Interner.Intern(name))
}

func (ctx *Context) boxInt(n int64) Word {
	if w, ok := MakeInt(n); ok {
		return w
	}
	return MakeHeap(ctx.Heap.Alloc(atom.Long(n)))
}

func (ctx *Context) allocExpr(children ...Word) Word {
	return MakeHeap(ctx.Heap.AllocExpr(children))
}

// ============ Stack ============

func (ctx *Context) push(w Word) {
	if ctx.SP >= len(ctx.Stack) {
		ctx.fail(bytecode.NewVMError(bytecode.ErrValueStackOverflow, ctx.ResumeIP, bytecode.OpNop, "limit %d", len(ctx.Stack)))
		return
	}
	ctx.Stack[ctx.SP] = w
	ctx.SP++
}

func (ctx *Context) pop() Word {
	ctx.SP--
	return ctx.Stack[ctx.SP]
}

func (ctx *Context) peek() Word {
	return ctx.Stack[ctx.SP-1]
}

// popN pops n words, deepest first.
func (ctx *Context) popN(n int) []Word {
	out := make([]Word, n)
	copy(out, ctx.Stack[ctx.SP-n:ctx.SP])
	ctx.SP -= n
	return out
}

func (ctx *Context) fail(err error) {
	if ctx.Err == nil {
		ctx.Err = err
	}
}

// bail records a bailout at ip. The stack is left as it was before the
// instruction so the VM can execute it.
func (ctx *Context) bail(ip int, reason string) {
	if ctx.Bailout {
		return
	}
	ctx.Bailout = true
	ctx.BailoutIP = ip
	ctx.BailoutReason = reason
}

func (ctx *Context) traceWriter() io.Writer {
	if ctx.TraceWriter != nil {
		return ctx.TraceWriter
	}
	return os.Stdout
}

// ============ Bindings ============

func (ctx *Context) lookupBinding(name string) (Word, bool) {
	for i := len(ctx.Bindings) - 1; i >= 0; i-- {
		if v, ok := ctx.Bindings[i][name]; ok {
			return v, true
		}
	}
	return Nil, false
}

func (ctx *Context) frame() map[string]Word {
	return ctx.Bindings[len(ctx.Bindings)-1]
}

func cloneFrames(frames []map[string]Word) []map[string]Word {
	out := make([]map[string]Word, len(frames))
	for i, f := range frames {
		m := make(map[string]Word, len(f))
		for k, v := range f {
			m[k] = v
		}
		out[i] = m
	}
	return out
}
