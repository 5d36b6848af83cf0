// Package hybrid runs chunks on whichever tier their hotness warrants and
// moves execution from native code to the bytecode VM when compiled code
// bails out.
package hybrid

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/jit"
	"github.com/chazu/mettajit/pkg/tiered"
)

var log = commonlog.GetLogger("mettajit.hybrid")

var (
	// ErrIterationLimit is returned when the backtracking loop of one run
	// exceeds Config.MaxIterations.
	ErrIterationLimit = errors.New("hybrid: backtracking iteration limit exceeded")

	// ErrReentrant is returned when an executor is invoked while one of its
	// runs is in flight.
	ErrReentrant = errors.New("hybrid: executor is already running")
)

// Executor runs chunks across the bytecode and native tiers. It owns the
// buffers behind its native execution context, so an Executor must be used
// by one goroutine at a time. Several executors may share a TieredCompiler.
type Executor struct {
	cfg    Config
	tiers  *tiered.TieredCompiler
	bridge bytecode.Bridge
	ctx    *jit.Context

	stats    Stats
	lastHeap jit.HeapStats
	running  bool
}

// New creates an executor with a private tiered compiler and cache. bridge
// may be nil.
func New(cfg Config, bridge bytecode.Bridge) *Executor {
	cfg = cfg.normalize()
	return NewShared(cfg, bridge, tiered.NewTieredCompiler(cfg.Thresholds, newCompiler(), nil))
}

// NewShared creates an executor that profiles and caches through tiers.
func NewShared(cfg Config, bridge bytecode.Bridge, tiers *tiered.TieredCompiler) *Executor {
	cfg = cfg.normalize()
	ctx := jit.NewContext(cfg.Buffers(), nil, bridge)
	ctx.MaxChoicePoints = cfg.VM.MaxChoicePoints
	return &Executor{cfg: cfg, tiers: tiers, bridge: bridge, ctx: ctx}
}

// newCompiler admits nondeterministic chunks; whether they run natively is
// decided per run.
func newCompiler() *jit.Compiler {
	return jit.NewCompiler(jit.Options{AllowNondet: true})
}

// Config returns the effective configuration.
func (e *Executor) Config() Config { return e.cfg }

// Tiers returns the tiered compiler.
func (e *Executor) Tiers() *tiered.TieredCompiler { return e.tiers }

// SetBridge replaces the rule and space collaborator.
func (e *Executor) SetBridge(bridge bytecode.Bridge) {
	e.bridge = bridge
	e.ctx.Bridge = bridge
}

// Stats returns the executor counters with a fresh tiering snapshot.
func (e *Executor) Stats() Stats {
	s := e.stats
	s.Tiered = e.tiers.Stats()
	return s
}

// LastHeap returns the heap tracker statistics of the last native run,
// taken after unreachable objects were released.
func (e *Executor) LastHeap() jit.HeapStats { return e.lastHeap }

// Reset clears the tiered compiler and the executor statistics.
func (e *Executor) Reset() {
	e.tiers.Reset()
	e.stats = Stats{}
	e.lastHeap = jit.HeapStats{}
}

// Run executes chunk on the tier its profile selects. A run that produces
// no results returns [Unit].
func (e *Executor) Run(chunk *bytecode.Chunk) ([]atom.Atom, error) {
	return orUnit(e.RunRaw(chunk))
}

// RunRaw is Run without the Unit substitution.
func (e *Executor) RunRaw(chunk *bytecode.Chunk) ([]atom.Atom, error) {
	return e.run(chunk, e.cfg.NativeNondet)
}

// RunWithBacktracking is Run with nondeterministic chunks admitted to the
// native tier regardless of Config.NativeNondet.
func (e *Executor) RunWithBacktracking(chunk *bytecode.Chunk) ([]atom.Atom, error) {
	return orUnit(e.run(chunk, true))
}

func orUnit(results []atom.Atom, err error) ([]atom.Atom, error) {
	if err == nil && len(results) == 0 {
		results = []atom.Atom{atom.UnitAtom}
	}
	return results, err
}

func (e *Executor) run(chunk *bytecode.Chunk, nondet bool) ([]atom.Atom, error) {
	if e.running {
		return nil, ErrReentrant
	}
	e.running = true
	defer func() { e.running = false }()

	e.stats.TotalRuns++
	if !e.cfg.JitEnabled {
		return e.runVM(chunk)
	}
	tier := e.tiers.RecordExecution(chunk)
	if e.cfg.Trace {
		log.Debugf("run %s (%s) at tier %s", chunk.Name, chunk.ID(), tier)
	}
	if !tier.IsJit() || (chunk.HasNondeterminism() && !nondet) {
		return e.runVM(chunk)
	}
	code, err := e.compile(chunk)
	if err != nil {
		return e.runVM(chunk)
	}
	return e.runNative(chunk, code)
}

// ForceVM runs chunk on the bytecode VM without touching its profile.
func (e *Executor) ForceVM(chunk *bytecode.Chunk) ([]atom.Atom, error) {
	if e.running {
		return nil, ErrReentrant
	}
	e.running = true
	defer func() { e.running = false }()

	e.stats.TotalRuns++
	return e.runVM(chunk)
}

// ForceNative compiles chunk if needed and runs it natively, whatever its
// profile says. It fails when chunk cannot be compiled.
func (e *Executor) ForceNative(chunk *bytecode.Chunk) ([]atom.Atom, error) {
	if e.running {
		return nil, ErrReentrant
	}
	e.running = true
	defer func() { e.running = false }()

	code, err := e.compile(chunk)
	if err != nil {
		return nil, err
	}
	e.stats.TotalRuns++
	return e.runNative(chunk, code)
}

// Compile returns native code for chunk through the shared cache.
func (e *Executor) Compile(chunk *bytecode.Chunk) (*jit.Code, error) {
	return e.compile(chunk)
}

func (e *Executor) compile(chunk *bytecode.Chunk) (*jit.Code, error) {
	cached := e.tiers.Cache().Contains(chunk.ID())
	code, err := e.tiers.Compile(chunk)
	switch {
	case err == nil && !cached:
		e.stats.Compilations++
	case err != nil && !errors.Is(err, tiered.ErrCompileFailed) && !errors.Is(err, tiered.ErrCompileInProgress):
		e.stats.CompileFailures++
	}
	if err != nil && e.cfg.Trace {
		log.Debugf("%s not compiled: %v", chunk.Name, err)
	}
	return code, err
}

func (e *Executor) newVM(chunk *bytecode.Chunk) *bytecode.VM {
	return bytecode.NewVMWithConfig(chunk, e.bridge, e.cfg.VM)
}

func (e *Executor) runVM(chunk *bytecode.Chunk) ([]atom.Atom, error) {
	e.stats.VMRuns++
	return e.newVM(chunk).Run()
}

func (e *Executor) String() string {
	return fmt.Sprintf("hybrid.Executor(jit=%v, runs=%d)", e.cfg.JitEnabled, e.stats.TotalRuns)
}
