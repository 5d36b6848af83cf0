package bytecode

import "github.com/chazu/mettajit/pkg/atom"

// choicePoint records where to resume when the current branch fails.
type choicePoint struct {
	ip           int
	stack        []atom.Atom
	bindings     []map[string]atom.Atom
	cutMarkers   []int
	forkDepth    int
	alternatives []atom.Atom
}

func (vm *VM) choicePointCount() int {
	return vm.base + len(vm.choicePoints)
}

// choose pushes alts[0] and, when more remain, a choice point that resumes
// at the current ip with each later alternative in turn.
func (vm *VM) choose(alts []atom.Atom) {
	if vm.err != nil {
		return
	}
	if len(alts) > 1 {
		if len(vm.choicePoints) >= vm.config.MaxChoicePoints {
			vm.fault(ErrChoicePointOverflow, "limit %d", vm.config.MaxChoicePoints)
			return
		}
		vm.choicePoints = append(vm.choicePoints, choicePoint{
			ip:           vm.ip,
			stack:        append([]atom.Atom(nil), vm.stack...),
			bindings:     cloneFrames(vm.bindings),
			cutMarkers:   append([]int(nil), vm.cutMarkers...),
			forkDepth:    vm.forkDepth,
			alternatives: alts[1:],
		})
	}
	vm.push(alts[0])
}

// backtrack resumes the most recent choice point with its next alternative.
// It reports true when no choice point is left.
func (vm *VM) backtrack() bool {
	n := len(vm.choicePoints)
	if n == 0 {
		return true
	}
	cp := &vm.choicePoints[n-1]
	alt := cp.alternatives[0]
	cp.alternatives = cp.alternatives[1:]

	vm.stack = append(vm.stack[:0], cp.stack...)
	vm.bindings = cloneFrames(cp.bindings)
	vm.cutMarkers = append(vm.cutMarkers[:0], cp.cutMarkers...)
	vm.forkDepth = cp.forkDepth
	vm.ip = cp.ip
	if len(cp.alternatives) == 0 {
		vm.choicePoints = vm.choicePoints[:n-1]
	}
	vm.push(alt)
	return false
}

// cut drops every choice point created since the innermost cut marker.
func (vm *VM) cut() {
	target := 0
	if n := len(vm.cutMarkers); n > 0 {
		target = vm.cutMarkers[n-1]
	}
	if target >= vm.base {
		if keep := target - vm.base; keep < len(vm.choicePoints) {
			vm.choicePoints = vm.choicePoints[:keep]
		}
		return
	}
	vm.choicePoints = vm.choicePoints[:0]
	vm.base = target
}

// commit drops the n most recent choice points, or all of them when n is 0.
func (vm *VM) commit(n int) {
	if n == 0 {
		vm.choicePoints = vm.choicePoints[:0]
		vm.base = 0
		return
	}
	for ; n > 0; n-- {
		switch {
		case len(vm.choicePoints) > 0:
			vm.choicePoints = vm.choicePoints[:len(vm.choicePoints)-1]
		case vm.base > 0:
			vm.base--
		default:
			return
		}
	}
}

// collect drains up to limit results (all when limit < 0), drops Nil and
// returns them as an expression.
func collect(results *[]atom.Atom, limit int) atom.Atom {
	rs := *results
	take := len(rs)
	if limit >= 0 && limit < take {
		take = limit
	}
	out := make([]atom.Atom, 0, take)
	for _, r := range rs[:take] {
		if _, isNil := r.(atom.Nil); isNil {
			continue
		}
		out = append(out, r)
	}
	*results = append(rs[:0], rs[take:]...)
	return atom.Expr{Children: out}
}
