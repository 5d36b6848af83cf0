package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/mettajit/lib/journal"
	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/hybrid"
	"github.com/chazu/mettajit/server"
)

// testDir creates a directory holding a mettajit.toml and the given files.
func testDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files["mettajit.toml"] = `
[tiers]
warm = 1
hot = 2
stage2 = 3

[journal]
path = "journal.db"
`
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := realMain(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

const mulSource = ".name mul\npush 2\npush 3\nmul\nreturn\n"

func TestRunCommand(t *testing.T) {
	dir := testDir(t, map[string]string{"mul.masm": mulSource})
	file := filepath.Join(dir, "mul.masm")

	for _, mode := range [][]string{nil, {"-vm"}, {"-jit"}, {"-all"}, {"-n", "5"}} {
		args := append([]string{"-config", dir, "run"}, mode...)
		out, errOut, code := runCLI(t, append(args, file)...)
		if code != 0 {
			t.Fatalf("run %v exited %d: %s", mode, code, errOut)
		}
		if out != "6\n" {
			t.Errorf("run %v printed %q, want %q", mode, out, "6\n")
		}
	}
}

func TestRunPrintsEveryResult(t *testing.T) {
	dir := testDir(t, map[string]string{
		"fork.masm": "beginnondet\nfork 1 2 3\npush 10\nadd\nyield\nreturn\n",
	})
	out, errOut, code := runCLI(t, "-config", dir, "run", "-all", filepath.Join(dir, "fork.masm"))
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	lines := strings.Fields(out)
	if len(lines) != 3 {
		t.Errorf("printed %q, want three results", out)
	}
}

func TestAsmThenRun(t *testing.T) {
	dir := testDir(t, map[string]string{"mul.masm": mulSource})
	out := filepath.Join(dir, "mul.cbor")

	if _, errOut, code := runCLI(t, "-config", dir, "asm", filepath.Join(dir, "mul.masm"), out); code != 0 {
		t.Fatalf("asm exited %d: %s", code, errOut)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := bytecode.UnmarshalChunk(data)
	if err != nil {
		t.Fatalf("UnmarshalChunk: %v", err)
	}
	if chunk.Name != "mul" {
		t.Errorf("chunk name = %q", chunk.Name)
	}

	stdout, errOut, code := runCLI(t, "-config", dir, "run", out)
	if code != 0 {
		t.Fatalf("run exited %d: %s", code, errOut)
	}
	if stdout != "6\n" {
		t.Errorf("run printed %q", stdout)
	}
}

func TestDisasmCommand(t *testing.T) {
	dir := testDir(t, map[string]string{"mul.masm": mulSource})
	out, errOut, code := runCLI(t, "-config", dir, "disasm", filepath.Join(dir, "mul.masm"))
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"=== mul ===", "MUL", "RETURN"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}

func TestStatsCommandJournals(t *testing.T) {
	dir := testDir(t, map[string]string{"mul.masm": mulSource})
	file := filepath.Join(dir, "mul.masm")

	out, errOut, code := runCLI(t, "-config", dir, "stats", "-n", "20", file)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"Runs:           20 (19 native, 1 vm)", "Tier:           jit-stage2", "Journal:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	j, err := journal.Open(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	chunk, err := loadChunk(file)
	if err != nil {
		t.Fatal(err)
	}
	history, err := j.History(chunk.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Runs != 20 || history[0].JitRuns != 19 {
		t.Errorf("history = %+v", history)
	}
}

func TestStatsWithoutJournal(t *testing.T) {
	dir := testDir(t, map[string]string{"mul.masm": mulSource})
	out, errOut, code := runCLI(t, "-config", dir, "stats", "-n", "3", "-no-journal", filepath.Join(dir, "mul.masm"))
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if strings.Contains(out, "Journal:") {
		t.Errorf("journaled despite -no-journal:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "journal.db")); !os.IsNotExist(err) {
		t.Errorf("journal database created: %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	dir := testDir(t, map[string]string{"mul.masm": mulSource})
	file := filepath.Join(dir, "mul.masm")
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"no command", []string{"-config", dir}, 2},
		{"unknown command", []string{"-config", dir, "frob"}, 2},
		{"run without file", []string{"-config", dir, "run"}, 2},
		{"zero runs", []string{"-config", dir, "run", "-n", "0", file}, 2},
		{"conflicting tiers", []string{"-config", dir, "run", "-vm", "-jit", file}, 1},
		{"missing file", []string{"-config", dir, "run", filepath.Join(dir, "nope.masm")}, 1},
		{"asm arity", []string{"-config", dir, "asm", file}, 2},
		{"schema arity", []string{"-config", dir, "schema", file}, 2},
		{"call without file", []string{"-config", dir, "call"}, 2},
		{"missing config", []string{"-config", filepath.Join(dir, "absent"), "run", file}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, code := runCLI(t, tc.args...); code != tc.code {
				t.Errorf("exit code = %d, want %d", code, tc.code)
			}
		})
	}
}

func TestSchemaCommand(t *testing.T) {
	dir := testDir(t, map[string]string{})
	out, errOut, code := runCLI(t, "-config", dir, "schema")
	if code != 0 {
		t.Fatalf("schema exited %d: %s", code, errOut)
	}
	for _, want := range []string{"service ExecService", "message RunRequest"} {
		if !strings.Contains(out, want) {
			t.Errorf("schema lacks %q:\n%s", want, out)
		}
	}
}

func TestCallCommand(t *testing.T) {
	dir := testDir(t, map[string]string{"mul.masm": mulSource})
	file := filepath.Join(dir, "mul.masm")

	srv := server.New(hybrid.New(hybrid.DefaultConfig(), nil))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	for _, transport := range [][]string{nil, {"-grpc"}} {
		args := append([]string{"-config", dir, "call", "-addr", ln.Addr().String()}, transport...)
		out, errOut, code := runCLI(t, append(args, file)...)
		if code != 0 {
			t.Fatalf("call %v exited %d: %s", transport, code, errOut)
		}
		if out != "6\n" {
			t.Errorf("call %v printed %q, want %q", transport, out, "6\n")
		}
	}
}
