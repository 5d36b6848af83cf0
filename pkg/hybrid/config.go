package hybrid

import (
	"io"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/jit"
	"github.com/chazu/mettajit/pkg/tiered"
)

// Default buffer capacities of the native execution context.
const (
	DefaultStackCapacity         = 1024
	DefaultChoicePointCapacity   = 64
	DefaultResultsCapacity       = 256
	DefaultBindingFramesCapacity = 32
	DefaultCutMarkersCapacity    = 16

	// DefaultMaxIterations bounds the backtracking loop of one run.
	DefaultMaxIterations = 10000
)

// Config configures an Executor.
type Config struct {
	// VM configures every bytecode VM the executor creates, both for
	// bytecode-tier runs and for bailout resumption.
	VM bytecode.Config

	StackCapacity         int
	ChoicePointCapacity   int
	ResultsCapacity       int
	BindingFramesCapacity int
	CutMarkersCapacity    int

	// JitEnabled allows promotion to the native tiers.
	JitEnabled bool
	// NativeNondet lets Run execute nondeterministic chunks natively.
	// Without it they stay on the VM; RunWithBacktracking ignores it.
	NativeNondet bool

	Trace       bool
	TraceWriter io.Writer

	MaxIterations int
	Thresholds    tiered.Thresholds
}

// DefaultConfig returns a JIT-enabled configuration with the standard
// buffer sizes.
func DefaultConfig() Config {
	return Config{
		VM:                    bytecode.DefaultConfig(),
		StackCapacity:         DefaultStackCapacity,
		ChoicePointCapacity:   DefaultChoicePointCapacity,
		ResultsCapacity:       DefaultResultsCapacity,
		BindingFramesCapacity: DefaultBindingFramesCapacity,
		CutMarkersCapacity:    DefaultCutMarkersCapacity,
		JitEnabled:            true,
		MaxIterations:         DefaultMaxIterations,
		Thresholds:            tiered.DefaultThresholds(),
	}
}

// BytecodeOnly returns the default configuration with the JIT disabled.
func BytecodeOnly() Config {
	c := DefaultConfig()
	c.JitEnabled = false
	return c
}

// WithTrace returns c with tracing on in both tiers.
func (c Config) WithTrace() Config {
	c.Trace = true
	c.VM.Trace = true
	return c
}

// Buffers returns the context buffer sizes.
func (c Config) Buffers() jit.Buffers {
	return jit.Buffers{
		Stack:        c.StackCapacity,
		ChoicePoints: c.ChoicePointCapacity,
		Results:      c.ResultsCapacity,
		Bindings:     c.BindingFramesCapacity,
		CutMarkers:   c.CutMarkersCapacity,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.StackCapacity <= 0 {
		c.StackCapacity = def.StackCapacity
	}
	if c.ChoicePointCapacity <= 0 {
		c.ChoicePointCapacity = def.ChoicePointCapacity
	}
	if c.ResultsCapacity <= 0 {
		c.ResultsCapacity = def.ResultsCapacity
	}
	if c.BindingFramesCapacity <= 0 {
		c.BindingFramesCapacity = def.BindingFramesCapacity
	}
	if c.CutMarkersCapacity <= 0 {
		c.CutMarkersCapacity = def.CutMarkersCapacity
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.VM.MaxValueStack <= 0 {
		c.VM.MaxValueStack = def.VM.MaxValueStack
	}
	if c.VM.MaxChoicePoints <= 0 {
		c.VM.MaxChoicePoints = def.VM.MaxChoicePoints
	}
	if c.VM.TraceWriter == nil {
		c.VM.TraceWriter = c.TraceWriter
	}
	c.Thresholds = c.Thresholds.Normalize()
	return c
}

// Stats counts what an Executor did.
type Stats struct {
	TotalRuns       uint64
	JitRuns         uint64
	VMRuns          uint64
	// Bailouts counts native runs that handed over to the VM at least once.
	Bailouts        uint64
	Compilations    uint64
	CompileFailures uint64
	// Iterations is the number of native calls made by the dispatcher.
	Iterations uint64

	Tiered tiered.Stats
}

// JitHitRate is the share of runs that executed native code, 0 to 100.
func (s Stats) JitHitRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.JitRuns) / float64(s.TotalRuns) * 100
}

// BailoutRate is the share of native runs that bailed out at least once,
// 0 to 100.
func (s Stats) BailoutRate() float64 {
	if s.JitRuns == 0 {
		return 0
	}
	return float64(s.Bailouts) / float64(s.JitRuns) * 100
}
