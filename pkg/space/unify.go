package space

import (
	"strconv"

	"github.com/chazu/mettajit/pkg/atom"
)

// Bindings maps variable names to values.
type Bindings map[string]atom.Atom

// Clone returns a copy of bs.
func (bs Bindings) Clone() Bindings {
	out := make(Bindings, len(bs))
	for k, v := range bs {
		out[k] = v
	}
	return out
}

func (bs Bindings) walk(a atom.Atom) atom.Atom {
	for {
		v, ok := a.(atom.Var)
		if !ok {
			return a
		}
		next, bound := bs[string(v)]
		if !bound {
			return a
		}
		a = next
	}
}

// Unify unifies a and b under bs, returning the extended bindings. bs is not
// modified.
func Unify(a, b atom.Atom, bs Bindings) (Bindings, bool) {
	out := bs.Clone()
	if unify(a, b, out) {
		return out, true
	}
	return nil, false
}

func unify(a, b atom.Atom, bs Bindings) bool {
	a, b = bs.walk(a), bs.walk(b)
	if va, ok := a.(atom.Var); ok {
		if vb, ok := b.(atom.Var); ok && va == vb {
			return true
		}
		bs[string(va)] = b
		return true
	}
	if vb, ok := b.(atom.Var); ok {
		bs[string(vb)] = a
		return true
	}
	ea, okA := a.(atom.Expr)
	eb, okB := b.(atom.Expr)
	if okA && okB {
		if len(ea.Children) != len(eb.Children) {
			return false
		}
		for i := range ea.Children {
			if !unify(ea.Children[i], eb.Children[i], bs) {
				return false
			}
		}
		return true
	}
	return atom.Equal(a, b)
}

// Match matches pattern against value. Only variables in pattern bind;
// variables in value are treated as constants.
func Match(pattern, value atom.Atom) (Bindings, bool) {
	bs := Bindings{}
	if match(pattern, value, bs) {
		return bs, true
	}
	return nil, false
}

func match(p, v atom.Atom, bs Bindings) bool {
	if pv, ok := p.(atom.Var); ok {
		if prev, bound := bs[string(pv)]; bound {
			return atom.Equal(prev, v)
		}
		bs[string(pv)] = v
		return true
	}
	ep, okP := p.(atom.Expr)
	ev, okV := v.(atom.Expr)
	if okP && okV {
		if len(ep.Children) != len(ev.Children) {
			return false
		}
		for i := range ep.Children {
			if !match(ep.Children[i], ev.Children[i], bs) {
				return false
			}
		}
		return true
	}
	return atom.Equal(p, v)
}

// Subst replaces bound variables in a, following chains of bindings.
func Subst(a atom.Atom, bs Bindings) atom.Atom {
	return subst(a, bs, 0)
}

func subst(a atom.Atom, bs Bindings, depth int) atom.Atom {
	if depth > 256 {
		return a
	}
	switch v := a.(type) {
	case atom.Var:
		if b, ok := bs[string(v)]; ok {
			return subst(b, bs, depth+1)
		}
		return v
	case atom.Expr:
		children := make([]atom.Atom, len(v.Children))
		for i, c := range v.Children {
			children[i] = subst(c, bs, depth)
		}
		return atom.Expr{Children: children}
	case atom.Error:
		return atom.Error{Source: subst(v.Source, bs, depth), Message: subst(v.Message, bs, depth)}
	}
	return a
}

// rename gives every variable in a a fresh suffix.
func rename(a atom.Atom, suffix uint64) atom.Atom {
	switch v := a.(type) {
	case atom.Var:
		return atom.Var(string(v) + "#" + strconv.FormatUint(suffix, 10))
	case atom.Expr:
		children := make([]atom.Atom, len(v.Children))
		for i, c := range v.Children {
			children[i] = rename(c, suffix)
		}
		return atom.Expr{Children: children}
	}
	return a
}
