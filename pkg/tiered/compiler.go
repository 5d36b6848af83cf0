package tiered

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/jit"
)

var log = commonlog.GetLogger("mettajit.tiered")

var (
	// ErrCompileFailed is returned for chunks whose compilation already
	// failed. Failure is permanent until Reset.
	ErrCompileFailed = fmt.Errorf("tiered: compilation failed earlier: %w", jit.ErrNotCompilable)

	// ErrCompileInProgress is returned to callers that lost the race to
	// compile a chunk. They should run the chunk on the VM.
	ErrCompileInProgress = errors.New("tiered: compilation in progress")
)

type profileEntry struct {
	name    string
	profile *bytecode.JitProfile
}

// ChunkInfo describes one profiled chunk.
type ChunkInfo struct {
	ID    bytecode.ChunkID
	Name  string
	Count uint64
	State bytecode.JitState
	Tier  Tier
}

// Stats holds aggregate tiering statistics.
type Stats struct {
	InterpreterRuns uint64
	BytecodeRuns    uint64
	JitStage1Runs   uint64
	JitStage2Runs   uint64

	Compilations uint64
	Failures     uint64
	CacheHits    uint64
	CacheMisses  uint64

	Chunks       int // profiled chunk identities
	CacheEntries int
}

// TotalExecutions sums the runs of every tier.
func (s Stats) TotalExecutions() uint64 {
	return s.InterpreterRuns + s.BytecodeRuns + s.JitStage1Runs + s.JitStage2Runs
}

// JitPercentage is the share of executions on a JIT tier, 0 to 100.
func (s Stats) JitPercentage() float64 {
	total := s.TotalExecutions()
	if total == 0 {
		return 0
	}
	return float64(s.JitStage1Runs+s.JitStage2Runs) / float64(total) * 100
}

// CacheHitRate is the share of compile requests served from the cache, 0
// to 100.
func (s Stats) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}

// TieredCompiler tracks per-chunk execution counts, decides tiers and
// compiles chunks into a shared JitCache. It is safe for concurrent use.
type TieredCompiler struct {
	thresholds Thresholds
	compiler   *jit.Compiler
	cache      *JitCache

	profiles sync.Map // bytecode.ChunkID -> *profileEntry

	// OnPromote, when set, is called once per chunk identity as it enters
	// each tier above Interpreter.
	OnPromote func(chunk *bytecode.Chunk, tier Tier)

	runs         [4]atomic.Uint64
	compilations atomic.Uint64
	failures     atomic.Uint64
	hits         atomic.Uint64
	misses       atomic.Uint64
}

// NewTieredCompiler creates a tiered compiler. A nil cache gets a private
// one; a nil compiler gets one with default options.
func NewTieredCompiler(thresholds Thresholds, compiler *jit.Compiler, cache *JitCache) *TieredCompiler {
	if compiler == nil {
		compiler = jit.NewCompiler(jit.Options{})
	}
	if cache == nil {
		cache = NewJitCache()
	}
	return &TieredCompiler{
		thresholds: thresholds.Normalize(),
		compiler:   compiler,
		cache:      cache,
	}
}

// Thresholds returns the promotion thresholds in effect.
func (tc *TieredCompiler) Thresholds() Thresholds { return tc.thresholds }

// Cache returns the code cache.
func (tc *TieredCompiler) Cache() *JitCache { return tc.cache }

func (tc *TieredCompiler) entry(chunk *bytecode.Chunk) *profileEntry {
	id := chunk.ID()
	if v, ok := tc.profiles.Load(id); ok {
		return v.(*profileEntry)
	}
	v, _ := tc.profiles.LoadOrStore(id, &profileEntry{name: chunk.Name, profile: bytecode.NewJitProfile()})
	return v.(*profileEntry)
}

// Profile returns the profile shared by every chunk with chunk's identity.
func (tc *TieredCompiler) Profile(chunk *bytecode.Chunk) *bytecode.JitProfile {
	return tc.entry(chunk).profile
}

// TierFor returns the tier chunk should run on without counting an
// execution. Compiled chunks never drop below JitStage1.
func (tc *TieredCompiler) TierFor(chunk *bytecode.Chunk) Tier {
	p := tc.Profile(chunk)
	return tc.tierOf(p.Count(), p.State())
}

func (tc *TieredCompiler) tierOf(count uint64, state bytecode.JitState) Tier {
	t := tc.thresholds.TierAt(count)
	if state == bytecode.JitCompiled && t < JitStage1 {
		t = JitStage1
	}
	return t
}

// RecordExecution counts one execution of chunk and returns the tier it
// should run on.
func (tc *TieredCompiler) RecordExecution(chunk *bytecode.Chunk) Tier {
	e := tc.entry(chunk)
	chunk.Profile().RecordExecution()
	count := e.profile.RecordExecution()
	t := tc.tierOf(count, e.profile.State())
	tc.runs[t].Add(1)

	if reached := tc.thresholds.TierAt(count); reached > Interpreter && count == tc.thresholds.Threshold(reached) {
		log.Debugf("%s (%s) promoted to %s after %d runs", chunk.Name, chunk.ID(), reached, count)
		if tc.OnPromote != nil {
			tc.OnPromote(chunk, reached)
		}
	}
	return t
}

// Compile returns native code for chunk, compiling it at most once per
// identity. A chunk that failed to compile keeps failing with
// ErrCompileFailed.
func (tc *TieredCompiler) Compile(chunk *bytecode.Chunk) (*jit.Code, error) {
	id := chunk.ID()
	if code, ok := tc.cache.Get(id); ok {
		tc.hits.Add(1)
		publish(chunk.Profile(), code, nil)
		return code, nil
	}
	tc.misses.Add(1)

	p := tc.Profile(chunk)
	if p.State() == bytecode.JitFailed {
		publish(chunk.Profile(), nil, ErrCompileFailed)
		return nil, ErrCompileFailed
	}
	code, err := tc.cache.GetOrCompile(id, func() (*jit.Code, error) {
		if !p.TryStartCompiling() {
			if c, ok := p.Code().(*jit.Code); ok {
				return c, nil
			}
			if p.State() == bytecode.JitFailed {
				return nil, ErrCompileFailed
			}
			return nil, ErrCompileInProgress
		}
		code, err := tc.compiler.Compile(chunk)
		if err != nil {
			p.SetFailed()
			tc.failures.Add(1)
			log.Infof("%s stays on the bytecode tier: %v", chunk.Name, err)
			return nil, err
		}
		p.SetCompiled(code)
		tc.compilations.Add(1)
		return code, nil
	})
	publish(chunk.Profile(), code, err)
	return code, err
}

// publish mirrors a compile outcome onto a chunk's own profile.
func publish(p *bytecode.JitProfile, code *jit.Code, err error) {
	if errors.Is(err, ErrCompileInProgress) || !p.TryStartCompiling() {
		return
	}
	if err != nil {
		p.SetFailed()
		return
	}
	p.SetCompiled(code)
}

// Stats returns aggregate statistics.
func (tc *TieredCompiler) Stats() Stats {
	s := Stats{
		InterpreterRuns: tc.runs[Interpreter].Load(),
		BytecodeRuns:    tc.runs[Bytecode].Load(),
		JitStage1Runs:   tc.runs[JitStage1].Load(),
		JitStage2Runs:   tc.runs[JitStage2].Load(),
		Compilations:    tc.compilations.Load(),
		Failures:        tc.failures.Load(),
		CacheHits:       tc.hits.Load(),
		CacheMisses:     tc.misses.Load(),
		CacheEntries:    tc.cache.Len(),
	}
	tc.profiles.Range(func(_, _ any) bool {
		s.Chunks++
		return true
	})
	return s
}

// Chunks returns every profiled chunk.
func (tc *TieredCompiler) Chunks() []ChunkInfo {
	var all []ChunkInfo
	tc.profiles.Range(func(key, value any) bool {
		e := value.(*profileEntry)
		count, state := e.profile.Count(), e.profile.State()
		all = append(all, ChunkInfo{
			ID:    key.(bytecode.ChunkID),
			Name:  e.name,
			Count: count,
			State: state,
			Tier:  tc.tierOf(count, state),
		})
		return true
	})
	return all
}

// TopChunks returns the n most executed chunks, most executed first.
func (tc *TieredCompiler) TopChunks(n int) []ChunkInfo {
	all := tc.Chunks()

	// Selection sort for the top n.
	for i := 0; i < n && i < len(all); i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].Count > all[maxIdx].Count {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// ResetStats zeroes the counters without touching profiles or the cache.
func (tc *TieredCompiler) ResetStats() {
	for i := range tc.runs {
		tc.runs[i].Store(0)
	}
	tc.compilations.Store(0)
	tc.failures.Store(0)
	tc.hits.Store(0)
	tc.misses.Store(0)
}

// Reset forgets every profile, clears the cache and zeroes the counters.
func (tc *TieredCompiler) Reset() {
	tc.profiles.Range(func(key, _ any) bool {
		tc.profiles.Delete(key)
		return true
	})
	tc.cache.Clear()
	tc.ResetStats()
}
