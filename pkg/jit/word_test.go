package jit

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/mettajit/pkg/atom"
)

func TestIntWords(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -42, MaxInt, MinInt} {
		w, ok := MakeInt(n)
		if !ok {
			t.Errorf("MakeInt(%d) rejected", n)
			continue
		}
		if w.Kind() != KindInt || w.Int() != n {
			t.Errorf("MakeInt(%d) = %s", n, w)
		}
	}
	for _, n := range []int64{MaxInt + 1, MinInt - 1, 1 << 62} {
		if _, ok := MakeInt(n); ok {
			t.Errorf("MakeInt(%d) should not fit", n)
		}
	}
}

func TestImmediatesAreDistinct(t *testing.T) {
	zero, _ := MakeInt(0)
	words := []Word{Nil, Unit, True, False, zero, MakeAtom(0), MakeVar(0)}
	seen := map[Word]int{}
	for i, w := range words {
		if j, dup := seen[w]; dup {
			t.Errorf("words %d and %d collide: %s", i, j, w)
		}
		seen[w] = i
		if w.IsRef() {
			t.Errorf("%s reported as a heap reference", w)
		}
	}
}

func TestTruthyMatchesAtoms(t *testing.T) {
	ctx := NewContext(DefaultBuffers(), nil, nil)
	for _, a := range []atom.Atom{
		atom.True, atom.False, atom.NilAtom, atom.UnitAtom, atom.Int(0),
		atom.Sym("x"), atom.NewExpr(), atom.Text(""),
	} {
		if got, want := ctx.Box(a).Truthy(), atom.Truthy(a); got != want {
			t.Errorf("Truthy(%v) = %v, want %v", a, got, want)
		}
	}
}

func TestBoxUnbox(t *testing.T) {
	ctx := NewContext(DefaultBuffers(), nil, nil)
	for _, a := range []atom.Atom{
		atom.Int(7), atom.Int(1 << 50), atom.Int(-1 << 60), atom.Flt(2.5),
		atom.True, atom.NilAtom, atom.UnitAtom, atom.Sym("foo"),
		atom.Variable("x"), atom.Text("hi"), atom.Space{Name: "self"},
		atom.NewExpr(atom.Sym("f"), atom.Int(1)),
		atom.NewError(atom.Sym("f"), "boom"),
	} {
		w := ctx.Box(a)
		if diff := cmp.Diff(a, ctx.Unbox(w)); diff != "" {
			t.Errorf("round trip of %v (-want +got):\n%s", a, diff)
		}
	}
	if k := ctx.Box(atom.NewError(atom.Sym("f"), "boom")).Kind(); k != KindError {
		t.Errorf("error boxes as %s", k)
	}
}

func TestInterner(t *testing.T) {
	in := NewInterner()
	a := in.Intern("a")
	b := in.Intern("b")
	if a == b || in.Intern("a") != a {
		t.Fatalf("ids a=%d b=%d are not stable", a, b)
	}
	if name, ok := in.Name(b); !ok || name != "b" {
		t.Errorf("Name(%d) = %q, %v", b, name, ok)
	}
	if _, ok := in.Name(99); ok {
		t.Error("Name of an unknown id succeeded")
	}
	if in.Len() != 2 {
		t.Errorf("Len = %d, want 2", in.Len())
	}
}
