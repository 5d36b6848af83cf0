package jit

import (
	"github.com/chazu/mettajit/pkg/bytecode"
)

// Choose pushes alts[0]. When more alternatives remain it first records a
// choice point that resumes at resumeIP with each of them in turn.
func (ctx *Context) Choose(resumeIP int, alts []Word) {
	if len(alts) == 0 {
		return
	}
	if len(alts) > 1 {
		if len(ctx.ChoicePoints) >= ctx.MaxChoicePoints {
			ctx.fail(bytecode.NewVMError(bytecode.ErrChoicePointOverflow, resumeIP, bytecode.OpFork, "limit %d", ctx.MaxChoicePoints))
			return
		}
		ctx.ChoicePoints = append(ctx.ChoicePoints, ChoicePoint{
			ResumeIP:     resumeIP,
			Alternatives: alts[1:],
			BindingDepth: len(ctx.Bindings),
			snap:         ctx.Snapshots.Save(ctx.Stack[:ctx.SP]),
			bindings:     cloneFrames(ctx.Bindings),
			cutMarkers:   append([]int(nil), ctx.CutMarkers...),
			forkDepth:    ctx.ForkDepth,
		})
	}
	ctx.push(alts[0])
}

// Backtrack restores the most recent choice point, pushes its next
// alternative and points ResumeIP at its resume offset. It reports false
// when no choice point is left.
func (ctx *Context) Backtrack() bool {
	n := len(ctx.ChoicePoints)
	if n == 0 {
		return false
	}
	cp := &ctx.ChoicePoints[n-1]
	alt := cp.Alternatives[0]
	cp.Alternatives = cp.Alternatives[1:]

	ctx.SP = ctx.Snapshots.Restore(cp.snap, ctx.Stack)
	ctx.Bindings = append(ctx.Bindings[:0], cloneFrames(cp.bindings)...)
	ctx.CutMarkers = append(ctx.CutMarkers[:0], cp.cutMarkers...)
	ctx.ForkDepth = cp.forkDepth
	ctx.ResumeIP = cp.ResumeIP
	if len(cp.Alternatives) == 0 {
		ctx.Snapshots.Free(cp.snap)
		ctx.ChoicePoints = ctx.ChoicePoints[:n-1]
	}
	ctx.push(alt)
	return true
}

// TruncateChoicePoints drops every choice point above n.
func (ctx *Context) TruncateChoicePoints(n int) {
	if n < 0 {
		n = 0
	}
	for i := len(ctx.ChoicePoints) - 1; i >= n; i-- {
		ctx.Snapshots.Free(ctx.ChoicePoints[i].snap)
	}
	if n < len(ctx.ChoicePoints) {
		ctx.ChoicePoints = ctx.ChoicePoints[:n]
	}
}

// Cut drops every choice point created since the innermost cut marker.
func (ctx *Context) Cut() {
	target := 0
	if n := len(ctx.CutMarkers); n > 0 {
		target = ctx.CutMarkers[n-1]
	}
	ctx.TruncateChoicePoints(target)
}

// Commit drops the n most recent choice points, or all of them when n is 0.
func (ctx *Context) Commit(n int) {
	if n == 0 {
		ctx.TruncateChoicePoints(0)
		return
	}
	ctx.TruncateChoicePoints(len(ctx.ChoicePoints) - n)
}

// EnterCutScope opens a nondeterministic section.
func (ctx *Context) EnterCutScope() {
	ctx.CutMarkers = append(ctx.CutMarkers, len(ctx.ChoicePoints))
	ctx.ForkDepth++
}

// ExitCutScope closes the innermost nondeterministic section.
func (ctx *Context) ExitCutScope() {
	if n := len(ctx.CutMarkers); n > 0 {
		ctx.CutMarkers = ctx.CutMarkers[:n-1]
	}
	if ctx.ForkDepth > 0 {
		ctx.ForkDepth--
	}
}

// Collect drains up to limit results (all when limit < 0), drops Nil and
// returns them as an expression.
func (ctx *Context) Collect(limit int) Word {
	rs := ctx.Results
	take := len(rs)
	if limit >= 0 && limit < take {
		take = limit
	}
	out := make([]Word, 0, take)
	for _, r := range rs[:take] {
		if r != Nil {
			out = append(out, r)
		}
	}
	ctx.Results = append(rs[:0], rs[take:]...)
	return ctx.allocExpr(out...)
}

// Roots returns every word the context can still reach: results, the live
// stack, constants, binding values, and each choice point's saved stack and
// pending alternatives.
func (ctx *Context) Roots() []Word {
	roots := make([]Word, 0, len(ctx.Results)+ctx.SP+len(ctx.Constants))
	roots = append(roots, ctx.Results...)
	roots = append(roots, ctx.Stack[:ctx.SP]...)
	roots = append(roots, ctx.Constants...)
	for _, f := range ctx.Bindings {
		for _, w := range f {
			roots = append(roots, w)
		}
	}
	for i := range ctx.ChoicePoints {
		cp := &ctx.ChoicePoints[i]
		roots = append(roots, cp.Alternatives...)
		roots = append(roots, ctx.Snapshots.words(cp.snap)...)
		for _, f := range cp.bindings {
			for _, w := range f {
				roots = append(roots, w)
			}
		}
	}
	return roots
}

// ReleaseDead frees every heap object unreachable from Roots and returns
// how many were freed.
func (ctx *Context) ReleaseDead() int {
	return ctx.Heap.ReleaseUnreachable(ctx.Roots())
}
