package space

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
)

// ErrEvalDepth is returned when evaluation nests deeper than MaxDepth.
var ErrEvalDepth = errors.New("space: evaluation depth exceeded")

// Bridge is the in-memory rule and space engine. It implements
// bytecode.Bridge and is shared by the VM and compiled code.
type Bridge struct {
	Spaces    *Spaces
	Rules     *Rules
	States    *States
	Memo      *Memo
	Natives   *Registry
	Externals *Registry
	Mork      *PathMap
	Bloom     *Bloom

	// MaxDepth bounds nested evaluation.
	MaxDepth int

	mu      sync.RWMutex
	globals map[string]atom.Atom
	last    Bindings
	pragmas []atom.Atom
}

var _ bytecode.Bridge = (*Bridge)(nil)

// NewBridge returns an engine with the grounded spaces and the standard
// natives installed.
func NewBridge() *Bridge {
	bloom := NewBloom(1<<14, 4)
	b := &Bridge{
		Spaces:    NewSpaces(),
		Rules:     NewRules(),
		States:    NewStates(),
		Memo:      NewMemo(),
		Natives:   NewRegistry(),
		Externals: NewRegistry(),
		Mork:      NewPathMap(bloom),
		Bloom:     bloom,
		MaxDepth:  256,
		globals:   map[string]atom.Atom{},
	}
	RegisterStandard(b.Natives)
	return b
}

// Define adds the rule (= pattern body).
func (b *Bridge) Define(pattern, body atom.Atom) {
	b.Rules.Define(pattern, body)
}

// SetGlobal binds a global name.
func (b *Bridge) SetGlobal(name string, v atom.Atom) {
	b.mu.Lock()
	b.globals[name] = v
	b.mu.Unlock()
}

// Global returns a global binding.
func (b *Bridge) Global(name string) (atom.Atom, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.globals[name]
	return v, ok
}

// Pragmas returns the pragmas recorded by EVAL_PRAGMA.
func (b *Bridge) Pragmas() []atom.Atom {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]atom.Atom(nil), b.pragmas...)
}

// CallNative invokes a registered native function.
func (b *Bridge) CallNative(name string, args []atom.Atom) (atom.Atom, error) {
	return b.Natives.Call(name, args)
}

// CallExternal invokes a registered external function.
func (b *Bridge) CallExternal(name string, args []atom.Atom) (atom.Atom, error) {
	return b.Externals.Call(name, args)
}

// Rewrite applies one step of rule dispatch. When no rule matches and the
// head names a native function, the arguments are evaluated and the native
// is applied.
func (b *Bridge) Rewrite(expr atom.Atom) ([]atom.Atom, error) {
	if out := b.Rules.Rewrite(expr); len(out) > 0 {
		return out, nil
	}
	e, ok := expr.(atom.Expr)
	if !ok || len(e.Children) == 0 {
		return nil, nil
	}
	head, ok := e.Children[0].(atom.Symbol)
	if !ok {
		return nil, nil
	}
	fn, ok := b.Natives.Lookup(string(head))
	if !ok {
		return nil, nil
	}
	args := make([]atom.Atom, len(e.Children)-1)
	for i, c := range e.Children[1:] {
		v, err := b.evalFirst(c, 1)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	r, err := fn(args)
	if err != nil {
		return nil, err
	}
	return []atom.Atom{r}, nil
}

// Unify unifies a and b and returns fully substituted bindings.
func (b *Bridge) Unify(x, y atom.Atom) (map[string]atom.Atom, bool) {
	bs, ok := Unify(x, y, nil)
	if !ok {
		return nil, false
	}
	out := make(map[string]atom.Atom, len(bs))
	for k := range bs {
		out[k] = Subst(atom.Var(k), bs)
	}
	return out, true
}

// Evaluate rewrites expr to every reachable normal form in depth-first
// order.
func (b *Bridge) Evaluate(expr atom.Atom) ([]atom.Atom, error) {
	return b.eval(expr, 0)
}

func (b *Bridge) eval(expr atom.Atom, depth int) ([]atom.Atom, error) {
	if depth > b.MaxDepth {
		return nil, fmt.Errorf("%w: %s", ErrEvalDepth, expr)
	}
	next, err := b.Rewrite(expr)
	if err != nil {
		return nil, err
	}
	if len(next) == 0 {
		return []atom.Atom{expr}, nil
	}
	var out []atom.Atom
	for _, n := range next {
		if atom.Equal(n, expr) {
			out = append(out, n)
			continue
		}
		rs, err := b.eval(n, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

func (b *Bridge) evalFirst(expr atom.Atom, depth int) (atom.Atom, error) {
	rs, err := b.eval(expr, depth)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return atom.Empty, nil
	}
	return rs[0], nil
}

func (b *Bridge) setLast(bs Bindings) {
	b.mu.Lock()
	b.last = bs
	b.mu.Unlock()
}

func (b *Bridge) space(a atom.Atom) (*Space, bool) {
	if s, ok := a.(atom.Space); ok {
		return b.Spaces.Get(s.Name)
	}
	return b.Spaces.Get(strings.TrimPrefix(bytecode.BindingName(a), "&"))
}

func exprOf(items []atom.Atom) atom.Atom {
	if items == nil {
		items = []atom.Atom{}
	}
	return atom.Expr{Children: items}
}

func pair(a atom.Atom) (atom.Atom, atom.Atom, bool) {
	e, ok := a.(atom.Expr)
	if !ok || len(e.Children) != 2 {
		return nil, nil, false
	}
	return e.Children[0], e.Children[1], true
}

func children(a atom.Atom) []atom.Atom {
	if e, ok := a.(atom.Expr); ok {
		return e.Children
	}
	return nil
}

// Call executes a delegated opcode. args are deepest first.
func (b *Bridge) Call(op bytecode.Opcode, operand atom.Atom, args []atom.Atom) (atom.Atom, error) {
	arg := func(i int) atom.Atom {
		if i < len(args) {
			return args[i]
		}
		return atom.NilAtom
	}
	switch op {
	case bytecode.OpLoadUpvalue:
		return atom.NewError(operand, "no enclosing closure"), nil

	case bytecode.OpLoadGlobal:
		name := bytecode.BindingName(operand)
		if v, ok := b.Global(name); ok {
			return v, nil
		}
		return atom.NewError(atom.Sym(name), bytecode.MsgUnbound), nil

	case bytecode.OpStoreGlobal:
		b.SetGlobal(bytecode.BindingName(operand), arg(0))
		return arg(0), nil

	case bytecode.OpDefineRule:
		b.Rules.Define(arg(0), arg(1))
		return atom.UnitAtom, nil

	case bytecode.OpLoadSpace:
		if s, ok := b.space(operand); ok {
			return atom.Space{Name: s.Name}, nil
		}
		return atom.NewError(operand, "unknown space"), nil

	case bytecode.OpSpaceAdd, bytecode.OpSpaceRemove, bytecode.OpSpaceMatch, bytecode.OpSpaceGetAtoms:
		s, ok := b.space(arg(0))
		if !ok {
			return atom.NewError(arg(0), "unknown space"), nil
		}
		switch op {
		case bytecode.OpSpaceAdd:
			s.Add(arg(1))
			b.Bloom.Add(PathKey(arg(1)))
			return atom.True, nil
		case bytecode.OpSpaceRemove:
			return atom.Bool(s.Remove(arg(1))), nil
		case bytecode.OpSpaceMatch:
			return exprOf(s.Query(arg(1), arg(2))), nil
		default:
			return exprOf(s.Atoms()), nil
		}

	case bytecode.OpNewState:
		return b.States.New(arg(0)), nil

	case bytecode.OpGetState:
		st, ok := arg(0).(atom.State)
		if !ok {
			return atom.NewError(arg(0), "expected state"), nil
		}
		if v, ok := b.States.Get(st); ok {
			return v, nil
		}
		return atom.NewError(st, "unknown state"), nil

	case bytecode.OpChangeState:
		st, ok := arg(0).(atom.State)
		if !ok || !b.States.Change(st, arg(1)) {
			return atom.NewError(arg(0), "unknown state"), nil
		}
		return st, nil

	case bytecode.OpCallNative, bytecode.OpCallExternal:
		reg := b.Natives
		if op == bytecode.OpCallExternal {
			reg = b.Externals
		}
		return b.callRegistry(reg, operand, args)

	case bytecode.OpCallCached:
		key := exprOf(append([]atom.Atom{operand}, args...))
		rs, err := b.Memo.GetOrCompute(key, func() ([]atom.Atom, error) {
			r, err := b.callRegistry(b.Natives, operand, args)
			if err != nil {
				return nil, err
			}
			return []atom.Atom{r}, nil
		})
		if err != nil {
			return nil, err
		}
		return rs[0], nil

	case bytecode.OpMatch:
		bs, ok := Match(arg(0), arg(1))
		b.setLast(bs)
		return atom.Bool(ok), nil

	case bytecode.OpUnify:
		bs, ok := Unify(arg(0), arg(1), nil)
		b.setLast(bs)
		return atom.Bool(ok), nil

	case bytecode.OpMatchGuard:
		r, err := b.evalFirst(atom.NewExpr(operand, arg(0)), 0)
		if err != nil {
			return nil, err
		}
		return atom.Bool(atom.Truthy(r) && !atom.IsError(r)), nil

	case bytecode.OpDispatchRules:
		rs, err := b.Rewrite(arg(0))
		if err != nil {
			return nil, err
		}
		if len(rs) == 0 {
			return arg(0), nil
		}
		return rs[0], nil

	case bytecode.OpTryRule:
		rs := b.Rules.Apply(b.Rules.Lookup(bytecode.BindingName(operand)), arg(0))
		if len(rs) == 0 {
			return atom.Empty, nil
		}
		return rs[0], nil

	case bytecode.OpNextRule, bytecode.OpCommitRule, bytecode.OpFailRule:
		return atom.NilAtom, nil

	case bytecode.OpLookupRules:
		return atom.Long(len(b.Rules.Lookup(bytecode.BindingName(operand)))), nil

	case bytecode.OpApplySubst:
		b.mu.RLock()
		bs := b.last
		b.mu.RUnlock()
		return Subst(arg(0), bs), nil
	}
	return b.callSpecial(op, args, arg)
}

func (b *Bridge) callRegistry(reg *Registry, operand atom.Atom, args []atom.Atom) (atom.Atom, error) {
	name := bytecode.BindingName(operand)
	fn, ok := reg.Lookup(name)
	if !ok {
		return atom.NewError(atom.Sym(name), "unknown function"), nil
	}
	return fn(args)
}

// callSpecial handles the special forms and the MORK path map.
func (b *Bridge) callSpecial(op bytecode.Opcode, args []atom.Atom, arg func(int) atom.Atom) (atom.Atom, error) {
	switch op {
	case bytecode.OpEvalLet:
		pattern, value, ok := pair(arg(0))
		if !ok {
			return atom.NewError(arg(0), "let expects (pattern value)"), nil
		}
		return b.letIn([][2]atom.Atom{{pattern, value}}, arg(1))

	case bytecode.OpEvalLetStar:
		bindings, body, ok := pair(arg(0))
		if !ok {
			return atom.NewError(arg(0), "let* expects (bindings body)"), nil
		}
		var steps [][2]atom.Atom
		for _, c := range children(bindings) {
			p, v, ok := pair(c)
			if !ok {
				return atom.NewError(c, "let* binding expects (pattern value)"), nil
			}
			steps = append(steps, [2]atom.Atom{p, v})
		}
		return b.letIn(steps, body)

	case bytecode.OpEvalMatch:
		s, ok := b.space(arg(0))
		if !ok {
			return atom.NewError(arg(0), "unknown space"), nil
		}
		pattern, template, ok := pair(arg(1))
		if !ok {
			return atom.NewError(arg(1), "match expects (pattern template)"), nil
		}
		var out []atom.Atom
		for _, r := range s.Query(pattern, template) {
			rs, err := b.Evaluate(r)
			if err != nil {
				return nil, err
			}
			out = append(out, rs...)
		}
		return exprOf(out), nil

	case bytecode.OpEvalCase:
		v, err := b.evalFirst(arg(0), 0)
		if err != nil {
			return nil, err
		}
		for _, c := range children(arg(1)) {
			p, body, ok := pair(c)
			if !ok {
				continue
			}
			if bs, ok := Match(p, v); ok {
				return b.evalFirst(Subst(body, bs), 0)
			}
		}
		return atom.Empty, nil

	case bytecode.OpEvalChain:
		v, err := b.evalFirst(arg(0), 0)
		if err != nil {
			return nil, err
		}
		name, body, ok := pair(arg(1))
		if !ok {
			return atom.NewError(arg(1), "chain expects ($var body)"), nil
		}
		return b.evalFirst(Subst(body, Bindings{bytecode.BindingName(name): v}), 0)

	case bytecode.OpEvalQuote:
		return bytecode.MakeQuote(arg(0)), nil

	case bytecode.OpEvalUnquote:
		if e, ok := arg(0).(atom.Expr); ok && len(e.Children) == 2 && atom.Equal(e.Children[0], atom.Sym("quote")) {
			return e.Children[1], nil
		}
		return arg(0), nil

	case bytecode.OpEvalEval:
		return b.evalFirst(arg(0), 0)

	case bytecode.OpEvalBind:
		b.SetGlobal(bytecode.BindingName(arg(0)), arg(1))
		return atom.UnitAtom, nil

	case bytecode.OpEvalNew:
		return atom.Space{Name: b.Spaces.New().Name}, nil

	case bytecode.OpEvalCollapse:
		rs, err := b.Evaluate(arg(0))
		if err != nil {
			return nil, err
		}
		return exprOf(rs), nil

	case bytecode.OpEvalMemo, bytecode.OpEvalMemoFirst:
		key := arg(0)
		if op == bytecode.OpEvalMemoFirst {
			key = atom.NewExpr(atom.Sym("memo-first"), key)
		}
		rs, err := b.Memo.GetOrCompute(key, func() ([]atom.Atom, error) {
			rs, err := b.Evaluate(arg(0))
			if op == bytecode.OpEvalMemoFirst && len(rs) > 1 {
				rs = rs[:1]
			}
			return rs, err
		})
		if err != nil {
			return nil, err
		}
		if len(rs) == 0 {
			return atom.Empty, nil
		}
		return rs[0], nil

	case bytecode.OpEvalPragma:
		b.mu.Lock()
		b.pragmas = append(b.pragmas, arg(0))
		b.mu.Unlock()
		return atom.UnitAtom, nil

	case bytecode.OpEvalFunction:
		pattern := exprOf(append([]atom.Atom{arg(0)}, children(arg(1))...))
		b.Rules.Define(pattern, arg(2))
		return atom.UnitAtom, nil

	case bytecode.OpEvalLambda:
		return atom.NewExpr(atom.Sym("lambda"), arg(0), arg(1)), nil

	case bytecode.OpEvalApply:
		return b.apply(arg(0), children(arg(1)))

	case bytecode.OpMorkLookup:
		if v, ok := b.Mork.Lookup(arg(0)); ok {
			return v, nil
		}
		return atom.Empty, nil

	case bytecode.OpMorkMatch:
		return exprOf(b.Mork.Match(arg(0), arg(1))), nil

	case bytecode.OpMorkInsert:
		return atom.Bool(b.Mork.Insert(arg(0), arg(1))), nil

	case bytecode.OpMorkDelete:
		return atom.Bool(b.Mork.Delete(arg(0))), nil

	case bytecode.OpBloomCheck:
		return atom.Bool(b.Bloom.MayContain(PathKey(arg(0)))), nil
	}
	return nil, fmt.Errorf("space: %s: %w", op, bytecode.ErrUnsupported)
}

func (b *Bridge) letIn(steps [][2]atom.Atom, body atom.Atom) (atom.Atom, error) {
	bs := Bindings{}
	for _, st := range steps {
		v, err := b.evalFirst(Subst(st[1], bs), 0)
		if err != nil {
			return nil, err
		}
		next, ok := Unify(st[0], v, bs)
		if !ok {
			return atom.Empty, nil
		}
		bs = next
	}
	return b.evalFirst(Subst(body, bs), 0)
}

func (b *Bridge) apply(fn atom.Atom, args []atom.Atom) (atom.Atom, error) {
	if e, ok := fn.(atom.Expr); ok && len(e.Children) == 3 && atom.Equal(e.Children[0], atom.Sym("lambda")) {
		params := children(e.Children[1])
		if len(params) != len(args) {
			return atom.NewError(fn, "arity mismatch"), nil
		}
		bs := Bindings{}
		for i, p := range params {
			bs[bytecode.BindingName(p)] = args[i]
		}
		return b.evalFirst(Subst(e.Children[2], bs), 0)
	}
	return b.evalFirst(exprOf(append([]atom.Atom{fn}, args...)), 0)
}
