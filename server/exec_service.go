package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/hybrid"
	"github.com/chazu/mettajit/pkg/jit"
)

// Procedure names of the exec service.
const (
	ServiceName = "mettajit.v1.ExecService"

	RunProcedure         = "/" + ServiceName + "/Run"
	CompileProcedure     = "/" + ServiceName + "/Compile"
	StatsProcedure       = "/" + ServiceName + "/Stats"
	DisassembleProcedure = "/" + ServiceName + "/Disassemble"
)

// maxRepeat bounds RunRequest.Repeat.
const maxRepeat = 100000

// ExecService implements the ExecService Connect handler.
type ExecService struct {
	worker *Worker
}

// NewExecService creates an ExecService.
func NewExecService(worker *Worker) *ExecService {
	return &ExecService{worker: worker}
}

// Handler returns the service's mount path and HTTP handler.
func (s *ExecService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append(handlerCodecs(), opts...)
	mux := http.NewServeMux()
	mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.Run, opts...))
	mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, s.Compile, opts...))
	mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, s.Stats, opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, s.Disassemble, opts...))
	return "/" + ServiceName + "/", mux
}

// Run executes a chunk on the hybrid executor.
func (s *ExecService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	chunk, err := decodeChunk(req.Msg.Source)
	if err != nil {
		return nil, err
	}
	repeat := req.Msg.Repeat
	if repeat <= 0 {
		repeat = 1
	}
	if repeat > maxRepeat {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("repeat %d exceeds %d", repeat, maxRepeat))
	}
	run, err := runner(req.Msg.Mode)
	if err != nil {
		return nil, err
	}

	v, err := s.worker.Do(ctx, func(e *hybrid.Executor) (any, error) {
		var results []atom.Atom
		for i := 0; i < repeat; i++ {
			var err error
			if results, err = run(e, chunk); err != nil {
				return nil, err
			}
		}
		return &RunResponse{
			Results:  bytecode.EncodeAtoms(results),
			Rendered: render(results),
			ChunkID:  chunk.ID().String(),
			Tier:     e.Tiers().TierFor(chunk).String(),
		}, nil
	})
	if err != nil {
		return nil, executionError(err)
	}
	return connect.NewResponse(v.(*RunResponse)), nil
}

// Compile compiles a chunk through the shared JIT cache without running it.
func (s *ExecService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	chunk, err := decodeChunk(req.Msg.Source)
	if err != nil {
		return nil, err
	}
	v, err := s.worker.Do(ctx, func(e *hybrid.Executor) (any, error) {
		resp := &CompileResponse{ChunkID: chunk.ID().String()}
		code, err := e.Compile(chunk)
		if err != nil {
			if !errors.Is(err, jit.ErrNotCompilable) {
				return nil, err
			}
			resp.Reason = err.Error()
			return resp, nil
		}
		resp.Compiled = true
		resp.Blocks = code.Blocks()
		resp.MaxStack = code.MaxStack
		resp.EntryPoints = code.EntryPoints()
		return resp, nil
	})
	if err != nil {
		return nil, executionError(err)
	}
	return connect.NewResponse(v.(*CompileResponse)), nil
}

// Stats reports executor and tiering statistics.
func (s *ExecService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	if req.Msg.Top < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("top must not be negative"))
	}
	v, err := s.worker.Do(ctx, func(e *hybrid.Executor) (any, error) {
		st := e.Stats()
		resp := &StatsResponse{
			TotalRuns:       st.TotalRuns,
			JitRuns:         st.JitRuns,
			VMRuns:          st.VMRuns,
			Bailouts:        st.Bailouts,
			Compilations:    st.Compilations,
			CompileFailures: st.CompileFailures,
			CacheEntries:    st.Tiered.CacheEntries,
			JitHitRate:      st.JitHitRate(),
		}
		if req.Msg.Top > 0 {
			for _, c := range e.Tiers().TopChunks(req.Msg.Top) {
				resp.Chunks = append(resp.Chunks, ChunkStats{
					ChunkID: c.ID.String(),
					Name:    c.Name,
					Count:   c.Count,
					State:   c.State.String(),
					Tier:    c.Tier.String(),
				})
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, executionError(err)
	}
	return connect.NewResponse(v.(*StatsResponse)), nil
}

// Disassemble renders a chunk as text. It does not touch the executor.
func (s *ExecService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	chunk, err := decodeChunk(req.Msg.Source)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&DisassembleResponse{Text: chunk.Disassemble()}), nil
}

func decodeChunk(src ChunkSource) (*bytecode.Chunk, error) {
	switch {
	case len(src.Chunk) > 0:
		chunk, err := bytecode.UnmarshalChunk(src.Chunk)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("decoding chunk: %w", err))
		}
		return chunk, nil
	case src.Assembly != "":
		chunk, err := bytecode.Assemble(src.Assembly)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("assembling chunk: %w", err))
		}
		return chunk, nil
	}
	return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("chunk or assembly is required"))
}

func runner(mode string) (func(*hybrid.Executor, *bytecode.Chunk) ([]atom.Atom, error), error) {
	switch mode {
	case "", ModeAuto:
		return (*hybrid.Executor).Run, nil
	case ModeVM:
		return (*hybrid.Executor).ForceVM, nil
	case ModeJit:
		return (*hybrid.Executor).ForceNative, nil
	case ModeAll:
		return (*hybrid.Executor).RunWithBacktracking, nil
	}
	return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown mode %q", mode))
}

func render(as []atom.Atom) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.String()
	}
	return out
}

// executionError maps executor failures to connect codes.
func executionError(err error) error {
	var vmErr *bytecode.VMError
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, hybrid.ErrIterationLimit),
		errors.Is(err, bytecode.ErrValueStackOverflow),
		errors.Is(err, bytecode.ErrChoicePointOverflow):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, hybrid.ErrReentrant):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, jit.ErrNotCompilable), errors.Is(err, bytecode.ErrUnsupported):
		return connect.NewError(connect.CodeUnimplemented, err)
	case errors.As(err, &vmErr):
		return connect.NewError(connect.CodeAborted, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
