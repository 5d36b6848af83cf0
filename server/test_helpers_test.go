package server

import (
	"context"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/mettajit/pkg/hybrid"
	"github.com/chazu/mettajit/pkg/space"
	"github.com/chazu/mettajit/pkg/tiered"
)

// testEnv bundles a fresh executor with its worker and service. Executor
// statistics are per test, so nothing is shared.
type testEnv struct {
	Exec    *hybrid.Executor
	Worker  *Worker
	Service *ExecService
}

func newTestEnv(t *testing.T, cfg hybrid.Config) *testEnv {
	t.Helper()
	e := hybrid.New(cfg, space.NewBridge())
	w := NewWorker(e)
	t.Cleanup(w.Stop)
	return &testEnv{Exec: e, Worker: w, Service: NewExecService(w)}
}

// hotConfig promotes chunks one tier per run.
func hotConfig() hybrid.Config {
	cfg := hybrid.DefaultConfig()
	cfg.Thresholds = tiered.Thresholds{Warm: 1, Hot: 2, Stage2: 3}
	return cfg
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

func wantCode(t *testing.T, err error, code connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := connect.CodeOf(err); got != code {
		t.Errorf("code = %s, want %s (%v)", got, code, err)
	}
}
