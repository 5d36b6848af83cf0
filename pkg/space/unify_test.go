package space

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
)

func parse(t *testing.T, src string) atom.Atom {
	t.Helper()
	a, err := bytecode.ParseAtom(src)
	if err != nil {
		t.Fatalf("ParseAtom(%q): %v", src, err)
	}
	return a
}

func TestUnify(t *testing.T) {
	tests := []struct {
		a, b string
		ok   bool
		want map[string]string
	}{
		{"(f $x 2)", "(f 1 $y)", true, map[string]string{"x": "1", "y": "2"}},
		{"(f $x $x)", "(f 1 2)", false, nil},
		{"(f $x $x)", "(f $y 3)", true, map[string]string{"x": "3", "y": "3"}},
		{"(g (h $z))", "(g (h foo))", true, map[string]string{"z": "foo"}},
		{"(f 1)", "(f 1 2)", false, nil},
		{"foo", "foo", true, map[string]string{}},
	}
	b := NewBridge()
	for _, tt := range tests {
		bs, ok := b.Unify(parse(t, tt.a), parse(t, tt.b))
		if ok != tt.ok {
			t.Errorf("Unify(%s, %s) ok = %v, want %v", tt.a, tt.b, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		got := map[string]string{}
		for k, v := range bs {
			got[k] = v.String()
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Unify(%s, %s) (-want +got):\n%s", tt.a, tt.b, diff)
		}
	}
}

func TestMatchIsOneSided(t *testing.T) {
	if _, ok := Match(parse(t, "(f $x)"), parse(t, "(f $y)")); !ok {
		t.Error("pattern variable should bind to a value variable")
	}
	if _, ok := Match(parse(t, "(f 1)"), parse(t, "(f $y)")); ok {
		t.Error("value variables must not bind")
	}
	bs, ok := Match(parse(t, "(pair $a $a)"), parse(t, "(pair 1 1)"))
	if !ok || !atom.Equal(bs["a"], atom.Int(1)) {
		t.Errorf("Match = %v, %v", bs, ok)
	}
}

func TestSubst(t *testing.T) {
	bs := Bindings{"x": atom.Variable("y"), "y": atom.Int(7)}
	got := Subst(parse(t, "(add $x $z)"), bs)
	if want := parse(t, "(add 7 $z)"); !atom.Equal(got, want) {
		t.Errorf("Subst = %s, want %s", got, want)
	}
}
