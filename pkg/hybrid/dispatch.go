package hybrid

import (
	"fmt"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/jit"
)

// runNative drives code through the backtracking loop. Every exit path
// releases the heap objects the results do not reach.
func (e *Executor) runNative(chunk *bytecode.Chunk, code *jit.Code) (results []atom.Atom, err error) {
	e.stats.JitRuns++
	ctx := e.ctx
	ctx.Bridge = e.bridge
	ctx.Tracing = e.cfg.Trace
	ctx.TraceWriter = e.cfg.TraceWriter
	ctx.Reset(code)

	defer func() {
		if err != nil {
			ctx.Results = ctx.Results[:0]
		}
		ctx.Heap.ReleaseUnreachable(ctx.Results)
		if err == nil {
			results = ctx.UnboxAll(ctx.Results)
		}
		e.lastHeap = ctx.Heap.Stats()
	}()

	bailed := false
	for i := 0; ; i++ {
		if i >= e.cfg.MaxIterations {
			log.Errorf("%s: gave up after %d iterations", chunk.Name, i)
			return nil, fmt.Errorf("%w: %s after %d iterations", ErrIterationLimit, chunk.Name, i)
		}
		e.stats.Iterations++

		_, sig := code.Run(ctx)
		switch sig {
		case jit.SignalOK:
			return nil, nil

		case jit.SignalEnd:
			ctx.Results = append(ctx.Results, ctx.Stack[ctx.LocalCount:ctx.SP]...)
			return nil, nil

		case jit.SignalYield, jit.SignalFail:
			if !ctx.Backtrack() {
				return nil, nil
			}

		case jit.SignalError:
			return nil, ctx.Err

		case jit.SignalHalt:
			return nil, bytecode.NewVMError(bytecode.ErrHalted, ctx.HaltIP, bytecode.OpHalt, "")

		case jit.SignalBailout:
			if !bailed {
				bailed = true
				e.stats.Bailouts++
			}
			more, err := e.resume(chunk, ctx)
			if err != nil {
				return nil, err
			}
			if !more || !ctx.Backtrack() {
				return nil, nil
			}

		default:
			return nil, fmt.Errorf("hybrid: unexpected signal %s", sig)
		}
	}
}

// resume finishes the current branch on the VM from the bailout offset with
// the native stack and state. It reports whether outer choice points may
// still be explored.
func (e *Executor) resume(chunk *bytecode.Chunk, ctx *jit.Context) (bool, error) {
	ip, reason := ctx.BailoutIP, ctx.BailoutReason
	ctx.Bailout, ctx.BailoutIP, ctx.BailoutReason = false, 0, ""
	if e.cfg.Trace {
		log.Debugf("%s: bailout at %04x (%s), sp=%d", chunk.Name, ip, reason, ctx.SP)
	}

	vm := e.newVM(chunk)
	rs, err := vm.ResumeWith(ip, ctx.UnboxStack(), ctx.ResumeState())
	if err != nil {
		return false, fmt.Errorf("hybrid: resume %s at %04x: %w", chunk.Name, ip, err)
	}
	for _, r := range rs {
		ctx.Results = append(ctx.Results, ctx.Box(r))
	}
	ctx.TruncateChoicePoints(vm.OuterChoicePoints())
	ctx.ReleaseDead()
	return !vm.Terminated(), nil
}
