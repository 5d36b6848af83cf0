package atom

import (
	"math"
	"testing"
)

func TestEqual(t *testing.T) {
	f := NewExpr(Sym("f"), Int(1), Text("x"))
	tests := []struct {
		name string
		a, b Atom
		want bool
	}{
		{"same int", Int(3), Int(3), true},
		{"int vs float", Int(3), Flt(3), false},
		{"nan", Flt(math.NaN()), Flt(math.NaN()), false},
		{"symbol vs string", Sym("x"), Text("x"), false},
		{"expr copies", f, NewExpr(Sym("f"), Int(1), Text("x")), true},
		{"expr child differs", f, NewExpr(Sym("f"), Int(2), Text("x")), false},
		{"expr length differs", f, NewExpr(Sym("f"), Int(1)), false},
		{"nested expr", NewExpr(f, NewExpr()), NewExpr(NewExpr(Sym("f"), Int(1), Text("x")), NewExpr()), true},
		{"expr vs symbol", NewExpr(), Sym("()"), false},
		{"errors", NewError(f, "boom"), NewError(NewExpr(Sym("f"), Int(1), Text("x")), "boom"), true},
		{"error message differs", NewError(f, "boom"), NewError(f, "bang"), false},
		{"error source differs", NewError(Sym("a"), "boom"), NewError(Sym("b"), "boom"), false},
		{"nil source", NewError(nil, "boom"), Error{Source: NilAtom, Message: Str("boom")}, true},
		{"go nil", nil, nil, true},
		{"go nil vs Nil", nil, NilAtom, false},
		{"spaces", Space{Name: "self"}, Space{Name: "self"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		a    Atom
		want bool
	}{
		{True, true},
		{False, false},
		{NilAtom, false},
		{UnitAtom, true},
		{Int(0), true},
		{Flt(0), true},
		{Text(""), true},
		{Sym("False"), true},
		{NewExpr(), true},
		{NewError(nil, "x"), true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.a); got != tt.want {
			t.Errorf("Truthy(%v) = %v, want %v", tt.a, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		a    Atom
		want string
	}{
		{Flt(2.5), "2.5"},
		{Flt(3), "3.0"},
		{Flt(-0.125), "-0.125"},
		{Flt(1e21), "1e+21"},
		{Flt(math.Inf(1)), "inf"},
		{Flt(math.Inf(-1)), "-inf"},
		{Flt(math.NaN()), "nan"},
		{Int(-7), "-7"},
		{Text("a\"b"), `"a\"b"`},
		{Variable("$x"), "$x"},
		{NewExpr(Sym("f"), NewExpr(), UnitAtom), "(f () ())"},
		{NewError(Sym("f"), "boom"), `(Error f "boom")`},
		{Space{Name: "kb"}, "&kb"},
		{NilAtom, "Nil"},
		{False, "False"},
	}
	for _, tt := range tests {
		if got := tt.a.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
