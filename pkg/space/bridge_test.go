package space

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
)

func strs(as []atom.Atom) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.String()
	}
	return out
}

func TestRewriteRules(t *testing.T) {
	b := NewBridge()
	b.Define(parse(t, "(color)"), parse(t, "red"))
	b.Define(parse(t, "(color)"), parse(t, "green"))
	b.Define(parse(t, "(double $x)"), parse(t, "(* $x 2)"))

	got, err := b.Rewrite(parse(t, "(color)"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"red", "green"}, strs(got)); diff != "" {
		t.Errorf("(color) (-want +got):\n%s", diff)
	}

	got, err = b.Evaluate(parse(t, "(double (double 3))"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"12"}, strs(got)); diff != "" {
		t.Errorf("(double (double 3)) (-want +got):\n%s", diff)
	}

	got, err = b.Rewrite(parse(t, "(unknown 1)"))
	if err != nil || len(got) != 0 {
		t.Errorf("irreducible expression rewrote to %v, %v", got, err)
	}
}

func TestRewriteRenamesRuleVariables(t *testing.T) {
	b := NewBridge()
	b.Define(parse(t, "(id $x)"), parse(t, "$x"))
	got, err := b.Rewrite(parse(t, "(id $x)"))
	if err != nil || len(got) != 1 {
		t.Fatalf("Rewrite = %v, %v", got, err)
	}
	if _, ok := got[0].(atom.Var); !ok {
		t.Errorf("got %s, want a variable", got[0])
	}
}

func call(t *testing.T, b *Bridge, op bytecode.Opcode, operand atom.Atom, args ...atom.Atom) atom.Atom {
	t.Helper()
	if operand == nil {
		operand = atom.NilAtom
	}
	r, err := b.Call(op, operand, args)
	if err != nil {
		t.Fatalf("%s: %v", op, err)
	}
	return r
}

func TestSpaceOps(t *testing.T) {
	b := NewBridge()
	self := call(t, b, bytecode.OpLoadSpace, atom.Sym("&self"))
	if !atom.Equal(self, atom.Space{Name: "self"}) {
		t.Fatalf("LOAD_SPACE = %s", self)
	}
	for _, src := range []string{"(parent Tom Bob)", "(parent Bob Ann)", "(parent Tom Liz)"} {
		call(t, b, bytecode.OpSpaceAdd, nil, self, parse(t, src))
	}
	got := call(t, b, bytecode.OpSpaceMatch, nil, self, parse(t, "(parent Tom $c)"), parse(t, "$c"))
	if want := parse(t, "(Bob Liz)"); !atom.Equal(got, want) {
		t.Errorf("SPACE_MATCH = %s, want %s", got, want)
	}
	if r := call(t, b, bytecode.OpSpaceRemove, nil, self, parse(t, "(parent Bob Ann)")); r != atom.True {
		t.Errorf("SPACE_REMOVE = %s", r)
	}
	all := call(t, b, bytecode.OpSpaceGetAtoms, nil, self)
	if n := len(all.(atom.Expr).Children); n != 2 {
		t.Errorf("space holds %d atoms, want 2", n)
	}
	if r := call(t, b, bytecode.OpLoadSpace, atom.Sym("&nowhere")); !atom.IsError(r) {
		t.Errorf("unknown space = %s", r)
	}
	if r := call(t, b, bytecode.OpBloomCheck, nil, parse(t, "(parent Tom Bob)")); r != atom.True {
		t.Error("added atom missing from bloom filter")
	}
}

func TestStateOps(t *testing.T) {
	b := NewBridge()
	st := call(t, b, bytecode.OpNewState, nil, atom.Int(1))
	call(t, b, bytecode.OpChangeState, nil, st, atom.Int(2))
	if v := call(t, b, bytecode.OpGetState, nil, st); !atom.Equal(v, atom.Int(2)) {
		t.Errorf("GET_STATE = %s", v)
	}
	if v := call(t, b, bytecode.OpGetState, nil, atom.Int(3)); !atom.IsError(v) {
		t.Errorf("GET_STATE on non-state = %s", v)
	}
}

func TestGlobals(t *testing.T) {
	b := NewBridge()
	if v := call(t, b, bytecode.OpLoadGlobal, atom.Sym("g")); !atom.IsError(v) {
		t.Errorf("unbound global = %s", v)
	}
	call(t, b, bytecode.OpStoreGlobal, atom.Sym("g"), atom.Int(5))
	if v := call(t, b, bytecode.OpLoadGlobal, atom.Sym("g")); !atom.Equal(v, atom.Int(5)) {
		t.Errorf("LOAD_GLOBAL = %s", v)
	}
}

func TestNativeCalls(t *testing.T) {
	b := NewBridge()
	if v := call(t, b, bytecode.OpCallNative, atom.Sym("+"), atom.Int(2), atom.Int(3)); !atom.Equal(v, atom.Int(5)) {
		t.Errorf("(+ 2 3) = %s", v)
	}
	calls := 0
	b.Natives.Register("slow", func(args []atom.Atom) (atom.Atom, error) {
		calls++
		return atom.Int(int64(len(args))), nil
	})
	for i := 0; i < 3; i++ {
		call(t, b, bytecode.OpCallCached, atom.Sym("slow"), atom.Int(1))
	}
	if calls != 1 {
		t.Errorf("cached native ran %d times", calls)
	}
	if v := call(t, b, bytecode.OpCallExternal, atom.Sym("missing")); !atom.IsError(v) {
		t.Errorf("unknown external = %s", v)
	}
	boom := errors.New("boom")
	b.Externals.Register("fail", func([]atom.Atom) (atom.Atom, error) { return nil, boom })
	if _, err := b.Call(bytecode.OpCallExternal, atom.Sym("fail"), nil); !errors.Is(err, boom) {
		t.Errorf("host error = %v", err)
	}
}

func TestNativeRewriteEvaluatesArguments(t *testing.T) {
	b := NewBridge()
	b.Define(parse(t, "(five)"), atom.Int(5))
	got, err := b.Evaluate(parse(t, "(+ (five) 1)"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"6"}, strs(got)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSpecialForms(t *testing.T) {
	b := NewBridge()
	b.Define(parse(t, "(inc $x)"), parse(t, "(+ $x 1)"))
	b.Define(parse(t, "(pick)"), atom.Int(1))
	b.Define(parse(t, "(pick)"), atom.Int(2))

	tests := []struct {
		name string
		op   bytecode.Opcode
		args []string
		want string
	}{
		{"let", bytecode.OpEvalLet, []string{"($x (inc 1))", "(inc $x)"}, "3"},
		{"let-star", bytecode.OpEvalLetStar, []string{"((($a 1) ($b (inc $a))) (+ $a $b))"}, "3"},
		{"let-mismatch", bytecode.OpEvalLet, []string{"((p $x) 1)", "$x"}, "Empty"},
		{"case", bytecode.OpEvalCase, []string{"(inc 4)", "((1 one) (5 five) ($_ other))"}, "five"},
		{"case-none", bytecode.OpEvalCase, []string{"7", "((1 one))"}, "Empty"},
		{"chain", bytecode.OpEvalChain, []string{"(inc 1)", "($v (inc $v))"}, "3"},
		{"quote", bytecode.OpEvalQuote, []string{"(inc 1)"}, "(quote (inc 1))"},
		{"unquote", bytecode.OpEvalUnquote, []string{"(quote (inc 1))"}, "(inc 1)"},
		{"eval", bytecode.OpEvalEval, []string{"(inc (inc 1))"}, "3"},
		{"collapse", bytecode.OpEvalCollapse, []string{"(pick)"}, "(1 2)"},
		{"lambda", bytecode.OpEvalLambda, []string{"($x)", "(inc $x)"}, "(lambda ($x) (inc $x))"},
		{"apply-lambda", bytecode.OpEvalApply, []string{"(lambda ($x) (inc $x))", "(9)"}, "10"},
		{"apply-rule", bytecode.OpEvalApply, []string{"inc", "(1)"}, "2"},
		{"memo", bytecode.OpEvalMemo, []string{"(pick)"}, "1"},
		{"memo-first", bytecode.OpEvalMemoFirst, []string{"(inc 0)"}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := make([]atom.Atom, len(tt.args))
			for i, s := range tt.args {
				args[i] = parse(t, s)
			}
			if got := call(t, b, tt.op, nil, args...); got.String() != tt.want {
				t.Errorf("%s = %s, want %s", tt.op, got, tt.want)
			}
		})
	}
}

func TestEvalFunctionDefinesRule(t *testing.T) {
	b := NewBridge()
	call(t, b, bytecode.OpEvalFunction, nil, atom.Sym("sq"), parse(t, "($n)"), parse(t, "(* $n $n)"))
	if n := call(t, b, bytecode.OpLookupRules, atom.Sym("sq")); !atom.Equal(n, atom.Int(1)) {
		t.Errorf("LOOKUP_RULES = %s", n)
	}
	if v := call(t, b, bytecode.OpEvalEval, nil, parse(t, "(sq 4)")); !atom.Equal(v, atom.Int(16)) {
		t.Errorf("(sq 4) = %s", v)
	}
	if v := call(t, b, bytecode.OpTryRule, atom.Sym("sq"), parse(t, "(sq 3)")); v.String() != "(* 3 3)" {
		t.Errorf("TRY_RULE = %s", v)
	}
}

func TestEvalMatch(t *testing.T) {
	b := NewBridge()
	self := atom.Space{Name: "self"}
	call(t, b, bytecode.OpSpaceAdd, nil, self, parse(t, "(age Ann 30)"))
	call(t, b, bytecode.OpSpaceAdd, nil, self, parse(t, "(age Bob 41)"))
	got := call(t, b, bytecode.OpEvalMatch, nil, self, parse(t, "((age $who $n) (+ $n 1))"))
	if want := parse(t, "(31 42)"); !atom.Equal(got, want) {
		t.Errorf("EVAL_MATCH = %s, want %s", got, want)
	}
}

func TestApplySubstUsesLastMatch(t *testing.T) {
	b := NewBridge()
	if r := call(t, b, bytecode.OpMatch, nil, parse(t, "(f $x)"), parse(t, "(f 3)")); r != atom.True {
		t.Fatalf("MATCH = %s", r)
	}
	if r := call(t, b, bytecode.OpApplySubst, nil, parse(t, "(g $x)")); r.String() != "(g 3)" {
		t.Errorf("APPLY_SUBST = %s", r)
	}
}

func TestMatchGuard(t *testing.T) {
	b := NewBridge()
	b.Define(parse(t, "(positive $x)"), parse(t, "(> $x 0)"))
	if r := call(t, b, bytecode.OpMatchGuard, atom.Sym("positive"), atom.Int(3)); r != atom.True {
		t.Errorf("guard(3) = %s", r)
	}
	if r := call(t, b, bytecode.OpMatchGuard, atom.Sym("positive"), atom.Int(-3)); r != atom.False {
		t.Errorf("guard(-3) = %s", r)
	}
}

func TestMorkOps(t *testing.T) {
	b := NewBridge()
	path := parse(t, "(users ann age)")
	if r := call(t, b, bytecode.OpMorkInsert, nil, path, atom.Int(30)); r != atom.True {
		t.Errorf("first insert = %s", r)
	}
	call(t, b, bytecode.OpMorkInsert, nil, parse(t, "(users bob age)"), atom.Int(41))
	call(t, b, bytecode.OpMorkInsert, nil, parse(t, "(groups admin)"), atom.Int(1))
	if r := call(t, b, bytecode.OpMorkLookup, nil, path); !atom.Equal(r, atom.Int(30)) {
		t.Errorf("MORK_LOOKUP = %s", r)
	}
	if r := call(t, b, bytecode.OpMorkMatch, nil, atom.Sym("users"), atom.Variable("v")); r.String() != "(30 41)" {
		t.Errorf("MORK_MATCH = %s", r)
	}
	if r := call(t, b, bytecode.OpBloomCheck, nil, path); r != atom.True {
		t.Errorf("BLOOM_CHECK = %s", r)
	}
	if r := call(t, b, bytecode.OpMorkDelete, nil, path); r != atom.True {
		t.Errorf("MORK_DELETE = %s", r)
	}
	if r := call(t, b, bytecode.OpMorkLookup, nil, path); r != atom.Empty {
		t.Errorf("lookup after delete = %s", r)
	}
}

func TestBridgeRejectsNonBridgeOps(t *testing.T) {
	b := NewBridge()
	if _, err := b.Call(bytecode.OpAdd, atom.NilAtom, nil); !errors.Is(err, bytecode.ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

func TestEveryBridgeOpHandled(t *testing.T) {
	b := NewBridge()
	for _, op := range bytecode.AllOpcodes() {
		if !bytecode.IsBridgeOp(op) {
			continue
		}
		if _, err := b.Call(op, atom.NilAtom, nil); errors.Is(err, bytecode.ErrUnsupported) {
			t.Errorf("%s not handled", op)
		}
	}
}

func TestVMWithBridge(t *testing.T) {
	b := NewBridge()
	c, err := bytecode.Assemble(`
loadspace &self
pushconstant (fact 0)
spaceadd
pop
push 2
push 3
callnative + 2
storeglobal total
return
`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := bytecode.NewVM(c, b).Run()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"5"}, strs(got)); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
	if v, ok := b.Global("total"); !ok || !atom.Equal(v, atom.Int(5)) {
		t.Errorf("global total = %v", v)
	}
	if n := b.Spaces.Create(SelfSpace).Len(); n != 1 {
		t.Errorf("&self holds %d atoms", n)
	}
}
