package space

import (
	"sync"

	"github.com/chazu/mettajit/pkg/atom"
)

// Rule is a rewrite rule (= Pattern Body).
type Rule struct {
	Pattern atom.Atom
	Body    atom.Atom
}

// Rules is an ordered rule set indexed by head symbol.
type Rules struct {
	mu      sync.RWMutex
	rules   []Rule
	byHead  map[string][]int
	generic []int
	fresh   uint64
}

// NewRules returns an empty rule set.
func NewRules() *Rules {
	return &Rules{byHead: map[string][]int{}}
}

// Define adds a rule. Rules are tried in definition order.
func (r *Rules) Define(pattern, body atom.Atom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.rules)
	r.rules = append(r.rules, Rule{Pattern: pattern, Body: body})
	if h, ok := headSymbol(pattern); ok {
		r.byHead[h] = append(r.byHead[h], idx)
	} else {
		r.generic = append(r.generic, idx)
	}
}

// Lookup returns the rules whose pattern has the given head symbol.
func (r *Rules) Lookup(head string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.byHead[head]))
	for _, i := range r.byHead[head] {
		out = append(out, r.rules[i])
	}
	return out
}

// Len returns the number of rules.
func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Rewrite applies every matching rule to expr once and returns the
// instantiated bodies in definition order.
func (r *Rules) Rewrite(expr atom.Atom) []atom.Atom {
	r.mu.Lock()
	var candidates []Rule
	if h, ok := headSymbol(expr); ok {
		for _, i := range mergeIndices(r.byHead[h], r.generic) {
			candidates = append(candidates, r.rules[i])
		}
	} else {
		candidates = append(candidates, r.rules...)
	}
	r.mu.Unlock()
	return r.Apply(candidates, expr)
}

// Apply tries each rule against expr and returns the instantiated bodies of
// those that unify.
func (r *Rules) Apply(rules []Rule, expr atom.Atom) []atom.Atom {
	r.mu.Lock()
	r.fresh++
	fresh := r.fresh
	r.mu.Unlock()

	var out []atom.Atom
	for _, rule := range rules {
		bs, ok := Unify(rename(rule.Pattern, fresh), expr, nil)
		if !ok {
			continue
		}
		out = append(out, Subst(rename(rule.Body, fresh), bs))
	}
	return out
}

func headSymbol(a atom.Atom) (string, bool) {
	h, ok := atom.Head(a)
	if !ok {
		if s, ok := a.(atom.Symbol); ok {
			return string(s), true
		}
		return "", false
	}
	s, ok := h.(atom.Symbol)
	return string(s), ok
}

// mergeIndices merges two ascending index lists.
func mergeIndices(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		if j >= len(b) || (i < len(a) && a[i] < b[j]) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	return out
}
