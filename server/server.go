// Package server exposes a hybrid executor over Connect RPC. The handlers
// speak the Connect, gRPC and gRPC-Web protocols with CBOR, protobuf or
// JSON bodies.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/mettajit/pkg/hybrid"
)

var log = commonlog.GetLogger("mettajit.server")

// Server wraps an executor behind the exec service.
type Server struct {
	worker *Worker
	mux    *http.ServeMux
	http   *http.Server
}

// New creates a Server that owns exec. The executor must not be used
// elsewhere while the server runs.
func New(exec *hybrid.Executor) *Server {
	worker := NewWorker(exec)
	s := &Server{
		worker: worker,
		mux:    http.NewServeMux(),
	}
	path, handler := NewExecService(worker).Handler()
	s.mux.Handle(path, handler)
	// Unencrypted HTTP/2 lets plain gRPC clients reach the Connect handlers.
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.http = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second, Protocols: protocols}
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server on addr ("host:port" or ":port")
// and blocks until Shutdown or a listener error.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	log.Noticef("exec service listening on %s", ln.Addr())
	log.Infof("  Connect (CBOR, proto, JSON): http://%s%s", ln.Addr(), RunProcedure)
	log.Infof("  gRPC: %s %s", ln.Addr(), RunProcedure)
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// the worker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.worker.Stop()
	log.Notice("exec service stopped")
	return err
}
