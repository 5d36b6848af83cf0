package jit

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/mettajit/pkg/bytecode"
)

var log = commonlog.GetLogger("mettajit.jit")

// Options configures a Compiler.
type Options struct {
	// AllowNondet admits chunks that fork, yield or cut. The dispatcher
	// drives their choice points.
	AllowNondet bool
}

// Compiler translates bytecode chunks into native closures. A Compiler is
// stateless and safe for concurrent use.
type Compiler struct {
	opts Options
}

// NewCompiler creates a compiler.
func NewCompiler(opts Options) *Compiler {
	return &Compiler{opts: opts}
}

// CanCompile runs the eligibility analysis without generating code. It
// returns nil or a *CompileError.
func (c *Compiler) CanCompile(chunk *bytecode.Chunk) error {
	_, err := c.analyze(chunk)
	return err
}

// Compile analyzes chunk and generates its native form.
func (c *Compiler) Compile(chunk *bytecode.Chunk) (*Code, error) {
	a, err := c.analyze(chunk)
	if err != nil {
		log.Debugf("reject %s: %v", chunk.Name, err)
		return nil, err
	}
	code := &Code{
		chunk:      chunk,
		blockAt:    make(map[int]int, len(a.leaders)),
		MaxStack:   a.maxDepth,
		LocalCount: chunk.LocalCount,
	}
	for i, ip := range a.leaders {
		code.blockAt[ip] = i
	}
	code.blocks = make([]block, len(a.leaders))

	g := &generator{a: a, code: code}
	for i, start := range a.leaders {
		b := &code.blocks[i]
		b.start = start
		b.next = -1
		if start == chunk.Len() {
			continue
		}
		end := chunk.Len()
		if i+1 < len(a.leaders) {
			end = a.leaders[i+1]
		}
		for ip := start; ip < end; {
			in := a.instrs[a.index[ip]]
			s, err := g.step(in)
			if err != nil {
				return nil, err
			}
			if s != nil {
				b.steps = append(b.steps, s)
			}
			ip = in.Next()
		}
		b.next = code.blockAt[end]
	}
	log.Infof("compiled %s (%s): %d blocks, max stack %d", chunk.Name, chunk.ID(), len(code.blocks), code.MaxStack)
	return code, nil
}

// step is one compiled instruction. It returns cont to go on, a block
// index to jump to, or exit(signal) to return.
type step func(ctx *Context) int32

const cont int32 = -1

func exit(s Signal) int32 { return -2 - int32(s) }

type block struct {
	start int
	steps []step
	next  int
}

// Code is a compiled chunk.
type Code struct {
	chunk   *bytecode.Chunk
	blocks  []block
	blockAt map[int]int

	// MaxStack is the deepest operand stack above the locals.
	MaxStack   int
	LocalCount int
}

// Chunk returns the source chunk.
func (c *Code) Chunk() *bytecode.Chunk { return c.chunk }

// Blocks returns the number of basic blocks.
func (c *Code) Blocks() int { return len(c.blocks) }

// EntryPoints returns the offsets execution may start or resume at.
func (c *Code) EntryPoints() []int {
	out := make([]int, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = b.start
	}
	return out
}

// Run executes from ctx.ResumeIP until a signal. ctx must have been Reset
// for this code.
func (c *Code) Run(ctx *Context) (Word, Signal) {
	b, ok := c.blockAt[ctx.ResumeIP]
	if !ok {
		ctx.fail(bytecode.NewVMError(bytecode.ErrIPOutOfBounds, ctx.ResumeIP, bytecode.OpNop, "no block at resume offset"))
		return Nil, SignalError
	}
	ctx.value = Nil
	for {
		blk := &c.blocks[b]
		next := blk.next
		for _, s := range blk.steps {
			r := s(ctx)
			if ctx.Err != nil {
				return Nil, SignalError
			}
			if r == cont {
				continue
			}
			if r >= 0 {
				next = int(r)
				break
			}
			return ctx.value, Signal(-2 - r)
		}
		if next < 0 {
			return Nil, SignalEnd
		}
		b = next
	}
}

func (c *Code) String() string {
	return fmt.Sprintf("jit.Code(%s, %d blocks)", c.chunk.Name, len(c.blocks))
}
