package server

import (
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/google/go-cmp/cmp"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/hybrid"
)

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_Assembly(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())

	resp, err := env.Service.Run(bg(), connectReq(&RunRequest{
		Source: ChunkSource{Assembly: "push 3\npush 4\nadd\nreturn"},
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"7"}, resp.Msg.Rendered); diff != "" {
		t.Errorf("rendered (-want +got):\n%s", diff)
	}
	results, err := bytecode.DecodeAtoms(resp.Msg.Results)
	if err != nil {
		t.Fatalf("DecodeAtoms: %v", err)
	}
	if len(results) != 1 || results[0].String() != "7" {
		t.Errorf("results = %v", results)
	}
	if resp.Msg.Tier != "interpreter" {
		t.Errorf("tier = %q, want interpreter", resp.Msg.Tier)
	}
}

func TestRun_EncodedChunk(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	chunk, err := bytecode.Assemble("push 6\npush 7\nmul\nreturn")
	if err != nil {
		t.Fatal(err)
	}
	data, err := bytecode.MarshalChunk(chunk)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := env.Service.Run(bg(), connectReq(&RunRequest{Source: ChunkSource{Chunk: data}}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"42"}, resp.Msg.Rendered); diff != "" {
		t.Errorf("rendered (-want +got):\n%s", diff)
	}
	if resp.Msg.ChunkID != chunk.ID().String() {
		t.Errorf("chunk id = %s, want %s", resp.Msg.ChunkID, chunk.ID())
	}
}

func TestRun_ModesAgree(t *testing.T) {
	src := "beginnondet\nfork 1 2 3\npush 10\nadd\nyield\nreturn"
	for _, mode := range []string{ModeAuto, ModeVM, ModeJit, ModeAll} {
		t.Run(mode, func(t *testing.T) {
			env := newTestEnv(t, hybrid.DefaultConfig())
			resp, err := env.Service.Run(bg(), connectReq(&RunRequest{
				Source: ChunkSource{Assembly: src},
				Mode:   mode,
			}))
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			got := append([]string(nil), resp.Msg.Rendered...)
			sort.Strings(got)
			if diff := cmp.Diff([]string{"11", "12", "13"}, got); diff != "" {
				t.Errorf("results (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_RepeatPromotes(t *testing.T) {
	env := newTestEnv(t, hotConfig())

	resp, err := env.Service.Run(bg(), connectReq(&RunRequest{
		Source: ChunkSource{Assembly: "push 1\npush 2\nadd\nreturn"},
		Repeat: 5,
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Msg.Tier != "jit-stage2" {
		t.Errorf("tier = %q, want jit-stage2", resp.Msg.Tier)
	}

	stats, err := env.Service.Stats(bg(), connectReq(&StatsRequest{Top: 5}))
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Msg.TotalRuns != 5 || stats.Msg.VMRuns != 1 || stats.Msg.JitRuns != 4 {
		t.Errorf("runs = %d total, %d vm, %d jit", stats.Msg.TotalRuns, stats.Msg.VMRuns, stats.Msg.JitRuns)
	}
	if stats.Msg.Compilations != 1 || stats.Msg.CacheEntries != 1 {
		t.Errorf("compilations = %d, cache entries = %d", stats.Msg.Compilations, stats.Msg.CacheEntries)
	}
	if len(stats.Msg.Chunks) != 1 || stats.Msg.Chunks[0].Count != 5 {
		t.Errorf("chunks = %+v", stats.Msg.Chunks)
	}
}

func TestRun_ProfilesSurviveRequests(t *testing.T) {
	env := newTestEnv(t, hotConfig())
	req := &RunRequest{Source: ChunkSource{Assembly: "push 2\npush 2\nmul\nreturn"}}
	var tier string
	for i := 0; i < 3; i++ {
		resp, err := env.Service.Run(bg(), connectReq(req))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		tier = resp.Msg.Tier
	}
	// Each request assembles a new chunk; the profile follows its identity.
	if tier != "jit-stage2" {
		t.Errorf("tier after three requests = %q", tier)
	}
}

// ---------------------------------------------------------------------------
// Run errors
// ---------------------------------------------------------------------------

func TestRun_MissingSource(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Run(bg(), connectReq(&RunRequest{}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestRun_BadAssembly(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Run(bg(), connectReq(&RunRequest{Source: ChunkSource{Assembly: "frobnicate"}}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestRun_BadChunkBytes(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Run(bg(), connectReq(&RunRequest{Source: ChunkSource{Chunk: []byte{0xff, 0x00}}}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestRun_UnknownMode(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Run(bg(), connectReq(&RunRequest{
		Source: ChunkSource{Assembly: "pushtrue\nreturn"},
		Mode:   "turbo",
	}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestRun_RepeatTooLarge(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Run(bg(), connectReq(&RunRequest{
		Source: ChunkSource{Assembly: "pushtrue\nreturn"},
		Repeat: maxRepeat + 1,
	}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestRun_HaltIsAborted(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Run(bg(), connectReq(&RunRequest{Source: ChunkSource{Assembly: "halt"}}))
	wantCode(t, err, connect.CodeAborted)
}

func TestRun_ForcedNativeOnUncompilable(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Run(bg(), connectReq(&RunRequest{
		Source: ChunkSource{Assembly: "loadupvalue 0 0\nreturn"},
		Mode:   ModeJit,
	}))
	wantCode(t, err, connect.CodeUnimplemented)
}

// ---------------------------------------------------------------------------
// Compile, Stats, Disassemble
// ---------------------------------------------------------------------------

func TestCompile_Success(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	resp, err := env.Service.Compile(bg(), connectReq(&CompileRequest{
		Source: ChunkSource{Assembly: "pushtrue\njumpiffalse other\npush 1\nreturn\nother:\npush 2\nreturn"},
	}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if !resp.Msg.Compiled {
		t.Fatalf("not compiled: %s", resp.Msg.Reason)
	}
	if resp.Msg.Blocks < 2 || len(resp.Msg.EntryPoints) != resp.Msg.Blocks {
		t.Errorf("blocks = %d, entry points = %v", resp.Msg.Blocks, resp.Msg.EntryPoints)
	}
	if s := env.Exec.Stats(); s.Compilations != 1 {
		t.Errorf("compilations = %d", s.Compilations)
	}
}

func TestCompile_Uncompilable(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	req := &CompileRequest{Source: ChunkSource{Assembly: "loadupvalue 0 0\nreturn"}}
	for i := 0; i < 2; i++ {
		resp, err := env.Service.Compile(bg(), connectReq(req))
		if err != nil {
			t.Fatalf("Compile returned error: %v", err)
		}
		if resp.Msg.Compiled || resp.Msg.Reason == "" {
			t.Errorf("attempt %d: compiled = %v, reason = %q", i, resp.Msg.Compiled, resp.Msg.Reason)
		}
	}
	if s := env.Exec.Stats(); s.CompileFailures != 1 {
		t.Errorf("compile failures = %d, want 1", s.CompileFailures)
	}
}

func TestStats_NegativeTop(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	_, err := env.Service.Stats(bg(), connectReq(&StatsRequest{Top: -1}))
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestDisassemble(t *testing.T) {
	env := newTestEnv(t, hybrid.DefaultConfig())
	resp, err := env.Service.Disassemble(bg(), connectReq(&DisassembleRequest{
		Source: ChunkSource{Assembly: ".name sum\npush 1\npush 2\nadd\nreturn"},
	}))
	if err != nil {
		t.Fatalf("Disassemble returned error: %v", err)
	}
	for _, want := range []string{"=== sum ===", "ADD", "RETURN"} {
		if !strings.Contains(resp.Msg.Text, want) {
			t.Errorf("listing lacks %q:\n%s", want, resp.Msg.Text)
		}
	}
}

// ---------------------------------------------------------------------------
// Over HTTP
// ---------------------------------------------------------------------------

func TestClient_RoundTrip(t *testing.T) {
	srv := New(hybrid.New(hybrid.DefaultConfig(), nil))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Shutdown(bg())

	c := NewClient(ts.Client(), ts.URL+"/")
	run, err := c.Run(bg(), &RunRequest{Source: ChunkSource{Assembly: "push 20\npush 22\nadd\nreturn"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"42"}, run.Rendered); diff != "" {
		t.Errorf("rendered (-want +got):\n%s", diff)
	}

	comp, err := c.Compile(bg(), &CompileRequest{Source: ChunkSource{Assembly: "pushtrue\nreturn"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !comp.Compiled {
		t.Errorf("compile reason: %s", comp.Reason)
	}

	stats, err := c.Stats(bg(), &StatsRequest{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalRuns != 1 {
		t.Errorf("total runs = %d", stats.TotalRuns)
	}

	dis, err := c.Disassemble(bg(), &DisassembleRequest{Source: ChunkSource{Assembly: "pushnil\nreturn"}})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if !strings.Contains(dis.Text, "PUSH_NIL") {
		t.Errorf("listing:\n%s", dis.Text)
	}

	_, err = c.Run(bg(), &RunRequest{})
	wantCode(t, err, connect.CodeInvalidArgument)
}
