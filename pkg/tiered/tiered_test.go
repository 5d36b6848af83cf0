package tiered

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/jit"
)

const addProgram = "push 2\npush 3\nadd\nreturn"

func assemble(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	c, err := bytecode.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return c
}

func TestTierLadder(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		count uint64
		want  Tier
	}{
		{0, Interpreter},
		{9, Interpreter},
		{10, Bytecode},
		{99, Bytecode},
		{100, JitStage1},
		{499, JitStage1},
		{500, JitStage2},
		{1 << 40, JitStage2},
	}
	for _, tt := range tests {
		if got := th.TierAt(tt.count); got != tt.want {
			t.Errorf("TierAt(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}
	if Bytecode.IsJit() || !JitStage2.IsJit() {
		t.Error("IsJit misclassifies tiers")
	}
}

func TestThresholdsNormalize(t *testing.T) {
	got := Thresholds{Warm: 50, Hot: 20}.Normalize()
	want := Thresholds{Warm: 50, Hot: 50, Stage2: 500}
	if got != want {
		t.Errorf("Normalize = %+v, want %+v", got, want)
	}
	if (Thresholds{}).Normalize() != DefaultThresholds() {
		t.Error("zero thresholds do not normalize to the defaults")
	}
}

func TestRecordExecutionPromotes(t *testing.T) {
	tc := NewTieredCompiler(Thresholds{Warm: 2, Hot: 4, Stage2: 6}, nil, nil)
	var promoted []Tier
	tc.OnPromote = func(_ *bytecode.Chunk, tier Tier) { promoted = append(promoted, tier) }

	chunk := assemble(t, addProgram)
	var tiers []Tier
	for i := 0; i < 7; i++ {
		tiers = append(tiers, tc.RecordExecution(chunk))
	}
	want := []Tier{Interpreter, Bytecode, Bytecode, JitStage1, JitStage1, JitStage2, JitStage2}
	if diff := cmp.Diff(want, tiers); diff != "" {
		t.Errorf("tiers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Tier{Bytecode, JitStage1, JitStage2}, promoted); diff != "" {
		t.Errorf("promotions (-want +got):\n%s", diff)
	}
	s := tc.Stats()
	if s.InterpreterRuns != 1 || s.BytecodeRuns != 2 || s.JitStage1Runs != 2 || s.JitStage2Runs != 2 {
		t.Errorf("stats = %+v", s)
	}
	if s.TotalExecutions() != 7 || chunk.Profile().Count() != 7 {
		t.Errorf("total = %d, chunk count = %d", s.TotalExecutions(), chunk.Profile().Count())
	}
}

func TestProfilesAreSharedByIdentity(t *testing.T) {
	tc := NewTieredCompiler(DefaultThresholds(), nil, nil)
	a, b := assemble(t, addProgram), assemble(t, addProgram)
	if a == b || a.ID() != b.ID() {
		t.Fatal("expected two chunk values with one identity")
	}
	tc.RecordExecution(a)
	tc.RecordExecution(b)
	if tc.Profile(a) != tc.Profile(b) || tc.Profile(a).Count() != 2 {
		t.Errorf("profiles not shared, count = %d", tc.Profile(a).Count())
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	tc := NewTieredCompiler(DefaultThresholds(), nil, nil)
	a, b := assemble(t, addProgram), assemble(t, addProgram)

	first, err := tc.Compile(a)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := tc.Compile(b)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if first != second {
		t.Error("same identity compiled to different code")
	}
	s := tc.Stats()
	if s.Compilations != 1 || s.CacheHits != 1 || s.CacheMisses != 1 || s.CacheEntries != 1 {
		t.Errorf("stats = %+v", s)
	}
	for _, c := range []*bytecode.Chunk{a, b} {
		if st := c.Profile().State(); st != bytecode.JitCompiled {
			t.Errorf("chunk profile state = %s", st)
		}
		if c.Profile().Code() != first {
			t.Error("chunk profile does not hold the cached code")
		}
	}
	if tc.TierFor(a) != JitStage1 {
		t.Errorf("compiled chunk tier = %s", tc.TierFor(a))
	}
}

func TestConcurrentCompileRunsOnce(t *testing.T) {
	tc := NewTieredCompiler(DefaultThresholds(), nil, nil)
	chunks := make([]*bytecode.Chunk, 32)
	for i := range chunks {
		chunks[i] = assemble(t, addProgram)
	}
	codes := make([]*jit.Code, len(chunks))

	var g errgroup.Group
	for i, c := range chunks {
		g.Go(func() error {
			code, err := tc.Compile(c)
			codes[i] = code
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for i, code := range codes {
		if code != codes[0] {
			t.Fatalf("goroutine %d got different code", i)
		}
	}
	if n := tc.Cache().Compiles(); n != 1 {
		t.Errorf("compiled %d times, want 1", n)
	}
	if n := tc.Stats().Compilations; n != 1 {
		t.Errorf("Compilations = %d, want 1", n)
	}
}

func TestCompileFailureIsPermanent(t *testing.T) {
	tc := NewTieredCompiler(DefaultThresholds(), nil, nil)
	chunk := assemble(t, "fork 1 2\nyield")

	_, err := tc.Compile(chunk)
	var ce *jit.CompileError
	if !errors.As(err, &ce) || !errors.Is(err, jit.ErrNotCompilable) {
		t.Fatalf("first Compile = %v, want a CompileError", err)
	}
	_, err = tc.Compile(assemble(t, "fork 1 2\nyield"))
	if !errors.Is(err, ErrCompileFailed) || !errors.Is(err, jit.ErrNotCompilable) {
		t.Fatalf("second Compile = %v, want ErrCompileFailed", err)
	}
	if s := tc.Stats(); s.Failures != 1 || s.Compilations != 0 || s.CacheEntries != 0 {
		t.Errorf("stats = %+v", s)
	}
	if st := chunk.Profile().State(); st != bytecode.JitFailed {
		t.Errorf("state = %s, want failed", st)
	}
	if tc.Cache().Compiles() != 1 {
		t.Errorf("compile ran %d times", tc.Cache().Compiles())
	}
}

func TestNondeterministicChunksCompileWhenAllowed(t *testing.T) {
	tc := NewTieredCompiler(DefaultThresholds(), jit.NewCompiler(jit.Options{AllowNondet: true}), nil)
	if _, err := tc.Compile(assemble(t, "fork 1 2\nyield")); err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func TestTopChunks(t *testing.T) {
	tc := NewTieredCompiler(DefaultThresholds(), nil, nil)
	srcs := []string{"push 1\nreturn", "push 2\nreturn", "push 3\nreturn"}
	for i, src := range srcs {
		c := assemble(t, src)
		c.Name = src[:6]
		for j := 0; j <= i*3; j++ {
			tc.RecordExecution(c)
		}
	}
	top := tc.TopChunks(2)
	if len(top) != 2 {
		t.Fatalf("TopChunks(2) returned %d", len(top))
	}
	if top[0].Name != "push 3" || top[0].Count != 7 || top[1].Name != "push 2" || top[1].Count != 4 {
		t.Errorf("TopChunks = %+v", top)
	}
	if len(tc.TopChunks(10)) != 3 {
		t.Error("TopChunks(10) should return every chunk")
	}
}

func TestReset(t *testing.T) {
	tc := NewTieredCompiler(DefaultThresholds(), nil, nil)
	chunk := assemble(t, addProgram)
	tc.RecordExecution(chunk)
	if _, err := tc.Compile(chunk); err != nil {
		t.Fatal(err)
	}
	tc.Reset()
	if s := tc.Stats(); s != (Stats{}) {
		t.Errorf("stats after Reset = %+v", s)
	}
	if tc.Profile(chunk).Count() != 0 {
		t.Error("profile survived Reset")
	}
}

func TestJitCache(t *testing.T) {
	c := NewJitCache()
	chunk := assemble(t, addProgram)
	code, err := jit.NewCompiler(jit.Options{}).Compile(chunk)
	if err != nil {
		t.Fatal(err)
	}
	other, _ := jit.NewCompiler(jit.Options{}).Compile(chunk)

	if got := c.Insert(chunk.ID(), code); got != code {
		t.Error("first Insert did not store")
	}
	if got := c.Insert(chunk.ID(), other); got != code {
		t.Error("second Insert replaced the entry")
	}
	if got, ok := c.Get(chunk.ID()); !ok || got != code || c.Len() != 1 {
		t.Errorf("Get = %v %v, Len = %d", got, ok, c.Len())
	}
	if _, ok := c.Remove(chunk.ID()); !ok || c.Len() != 0 || c.Contains(chunk.ID()) {
		t.Error("Remove left the entry")
	}
	if _, ok := c.Remove(chunk.ID()); ok {
		t.Error("second Remove succeeded")
	}

	c.Insert(chunk.ID(), code)
	c.Insert(assemble(t, "push 1\nreturn").ID(), code)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}

	boom := errors.New("boom")
	if _, err := c.GetOrCompile(chunk.ID(), func() (*jit.Code, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrCompile error = %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed compile was cached")
	}
	got, err := c.GetOrCompile(chunk.ID(), func() (*jit.Code, error) { return code, nil })
	if err != nil || got != code {
		t.Errorf("GetOrCompile = %v, %v", got, err)
	}
	got, _ = c.GetOrCompile(chunk.ID(), func() (*jit.Code, error) {
		t.Error("compile ran for a cached id")
		return other, nil
	})
	if got != code || c.Compiles() != 2 {
		t.Errorf("cached GetOrCompile = %v, compiles = %d", got, c.Compiles())
	}
}
