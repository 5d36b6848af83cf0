package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/mettajit/pkg/hybrid"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("server: worker stopped")

type request struct {
	fn   func(*hybrid.Executor) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Worker serializes all executor access through a single goroutine. An
// Executor owns its native context buffers, so every handler must go
// through the worker.
type Worker struct {
	exec     *hybrid.Executor
	requests chan request
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(exec *hybrid.Executor) *Worker {
	w := &Worker{
		exec:     exec,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the executor, recovering from panics.
func (w *Worker) execute(fn func(*hybrid.Executor) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("recovered panic in worker: %v", r)
			res = result{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := fn(w.exec)
	return result{value: v, err: err}
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes or ctx is done. A request abandoned on cancellation still runs.
func (w *Worker) Do(ctx context.Context, fn func(*hybrid.Executor) (any, error)) (any, error) {
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutine. Further calls do nothing.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
