package bytecode

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/mettajit/pkg/atom"
)

func TestParseAtom(t *testing.T) {
	tests := []struct {
		src  string
		want atom.Atom
	}{
		{"42", atom.Int(42)},
		{"-3", atom.Int(-3)},
		{"2.5", atom.Flt(2.5)},
		{`"hi there"`, atom.Text("hi there")},
		{"$x", atom.Variable("x")},
		{"True", atom.True},
		{"Nil", atom.NilAtom},
		{"()", atom.UnitAtom},
		{"&self", atom.Space{Name: "self"}},
		{`(f $x (g 1) "s")`, atom.NewExpr(atom.Sym("f"), atom.Variable("x"),
			atom.NewExpr(atom.Sym("g"), atom.Int(1)), atom.Text("s"))},
	}
	for _, tt := range tests {
		got, err := ParseAtom(tt.src)
		if err != nil {
			t.Errorf("ParseAtom(%q): %v", tt.src, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseAtom(%q) (-want +got):\n%s", tt.src, diff)
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"frob", "unknown mnemonic"},
		{"jump nowhere", "undefined label"},
		{"a:\na:", "duplicate label"},
		{"pushlongsmall 300", "out of range"},
		{"add 1", "takes no operands"},
		{"jumptable a=x", "needs a default"},
		{`pushstring "open`, "unterminated string"},
	}
	for _, tt := range tests {
		_, err := Assemble(tt.src)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Assemble(%q) error = %v, want %q", tt.src, err, tt.want)
		}
	}
}

func TestAssembleCommentsAndLabels(t *testing.T) {
	c := mustAssemble(t, `
; leading comment
start: push 1 ; trailing comment
  pushstring "a;b"
  jumpshort start
`)
	in, err := c.Decode(2)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Constants[in.A]; !atom.Equal(got, atom.Text("a;b")) {
		t.Errorf("string constant = %v", got)
	}
	jmp, err := c.Decode(in.Next())
	if err != nil {
		t.Fatal(err)
	}
	if jmp.Op != OpJumpShort || jmp.Target != 0 {
		t.Errorf("jump = %+v", jmp)
	}
}
