package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/mettajit/pkg/tiered"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[tiers]
warm = 2
hot = 20
stage2 = 200

[executor]
jit-enabled = false
native-nondet = true
max-iterations = 50
stack-capacity = 512

[vm]
max-value-stack = 1000
max-choice-points = 10

[log]
verbosity = 2
path = "mettajit.log"

[server]
address = ":9000"

[journal]
path = "/tmp/j.db"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := tiered.Thresholds{Warm: 2, Hot: 20, Stage2: 200}
	if diff := cmp.Diff(want, c.Thresholds()); diff != "" {
		t.Errorf("thresholds (-want +got):\n%s", diff)
	}

	h := c.Hybrid()
	if h.JitEnabled {
		t.Error("jit-enabled = false was ignored")
	}
	if !h.NativeNondet {
		t.Error("native-nondet = true was ignored")
	}
	if h.MaxIterations != 50 || h.StackCapacity != 512 {
		t.Errorf("executor limits = %d, %d", h.MaxIterations, h.StackCapacity)
	}
	if h.ResultsCapacity <= 0 {
		t.Errorf("results capacity default missing: %d", h.ResultsCapacity)
	}
	if h.VM.MaxValueStack != 1000 || h.VM.MaxChoicePoints != 10 {
		t.Errorf("vm config = %+v", h.VM)
	}
	if h.Thresholds != want {
		t.Errorf("hybrid thresholds = %+v", h.Thresholds)
	}
	if c.Server.Address != ":9000" {
		t.Errorf("server address = %q", c.Server.Address)
	}
	if c.JournalPath() != "/tmp/j.db" {
		t.Errorf("journal path = %q", c.JournalPath())
	}
	if p := c.LogPath(); p == nil || *p != filepath.Join(c.Dir, "mettajit.log") {
		t.Errorf("log path = %v", p)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d", c.Log.Verbosity)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[tiers]\nhot = 5\n")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// A hot threshold below warm is raised to warm.
	if th := c.Thresholds(); th.Warm != 10 || th.Hot != 10 || th.Stage2 != 500 {
		t.Errorf("thresholds = %+v", th)
	}
	h := c.Hybrid()
	if !h.JitEnabled {
		t.Error("jit should be enabled by default")
	}
	if h.Trace {
		t.Error("trace should be off by default")
	}
	if c.LogPath() != nil {
		t.Errorf("log path = %v, want nil", *c.LogPath())
	}
	if c.Server.Address == "" {
		t.Error("server address default missing")
	}
	if got, want := c.JournalPath(), filepath.Join(c.Dir, ".mettajit", "journal.db"); got != want {
		t.Errorf("journal path = %q, want %q", got, want)
	}
}

func TestDefaultMatchesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	d := Default()
	d.Dir = c.Dir
	if diff := cmp.Diff(d, c); diff != "" {
		t.Errorf("empty file differs from Default (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[tiers]\nwarmth = 3\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected an error for an unknown key")
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[tiers\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[server]\naddress = \"found\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("config not found")
	}
	if c.Server.Address != "found" {
		t.Errorf("address = %q", c.Server.Address)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}
