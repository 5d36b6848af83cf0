package space

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
)

// Func is a host function callable from bytecode.
type Func func(args []atom.Atom) (atom.Atom, error)

// ErrUnknownFunction is returned when a registry has no entry for a name.
var ErrUnknownFunction = errors.New("space: unknown function")

// Registry maps names to host functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

// Register binds name to fn, replacing any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

// Lookup returns the function bound to name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Call invokes name with args.
func (r *Registry) Call(name string, args []atom.Atom) (atom.Atom, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(args)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisterStandard installs the grounded arithmetic, comparison and string
// functions.
func RegisterStandard(r *Registry) {
	binary := func(op bytecode.Opcode, f func(op bytecode.Opcode, a, b atom.Atom) atom.Atom) Func {
		return func(args []atom.Atom) (atom.Atom, error) {
			if len(args) != 2 {
				return atom.NewError(atom.Sym(op.String()), "expected 2 arguments"), nil
			}
			return f(op, args[0], args[1]), nil
		}
	}
	for name, op := range map[string]bytecode.Opcode{
		"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul,
		"/": bytecode.OpDiv, "%": bytecode.OpMod, "pow": bytecode.OpPow,
	} {
		r.Register(name, binary(op, bytecode.Arith))
	}
	for name, op := range map[string]bytecode.Opcode{
		"<": bytecode.OpLt, "<=": bytecode.OpLe, ">": bytecode.OpGt,
		">=": bytecode.OpGe, "==": bytecode.OpEq,
	} {
		r.Register(name, binary(op, bytecode.Compare))
	}
	r.Register("concat", func(args []atom.Atom) (atom.Atom, error) {
		var sb strings.Builder
		for _, a := range args {
			if s, ok := a.(atom.Str); ok {
				sb.WriteString(string(s))
			} else {
				sb.WriteString(a.String())
			}
		}
		return atom.Str(sb.String()), nil
	})
	r.Register("size-atom", func(args []atom.Atom) (atom.Atom, error) {
		if len(args) != 1 {
			return atom.NewError(atom.Sym("size-atom"), "expected 1 argument"), nil
		}
		if e, ok := args[0].(atom.Expr); ok {
			return atom.Long(len(e.Children)), nil
		}
		return atom.Long(0), nil
	})
}
