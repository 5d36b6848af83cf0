package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/chazu/mettajit/lib/journal"
	"github.com/chazu/mettajit/pkg/atom"
	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/hybrid"
	"github.com/chazu/mettajit/pkg/space"
)

// runCommand processes `mettajit run`.
func runCommand(env *cliEnv, args []string) error {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetOutput(env.stderr)
	forceVM := flags.Bool("vm", false, "Always run on the bytecode VM")
	forceJit := flags.Bool("jit", false, "Always run natively")
	all := flags.Bool("all", false, "Run natively with backtracking, printing every result")
	n := flags.Int("n", 1, "Run the chunk N times and print the last results")
	trace := flags.Bool("trace", false, "Trace every instruction to stderr")
	if err := flags.Parse(args); err != nil || flags.NArg() != 1 || *n < 1 {
		return errUsage
	}
	if *forceVM && *forceJit {
		return fmt.Errorf("-vm and -jit are mutually exclusive")
	}

	chunk, err := loadChunk(flags.Arg(0))
	if err != nil {
		return err
	}
	cfg := env.cfg.Hybrid()
	if *trace {
		cfg = cfg.WithTrace()
		cfg.TraceWriter = env.stderr
	}
	e := hybrid.New(cfg, space.NewBridge())

	run := e.Run
	switch {
	case *forceVM:
		run = e.ForceVM
	case *forceJit:
		run = e.ForceNative
	case *all:
		run = e.RunWithBacktracking
	}

	var results []atom.Atom
	for i := 0; i < *n; i++ {
		if results, err = run(chunk); err != nil {
			return err
		}
	}
	printResults(env.stdout, results)
	return nil
}

// statsCommand runs a chunk through the tier ladder and reports how it
// moved, journaling the batch.
func statsCommand(env *cliEnv, args []string) error {
	flags := flag.NewFlagSet("stats", flag.ContinueOnError)
	flags.SetOutput(env.stderr)
	n := flags.Int("n", 1000, "Number of runs")
	top := flags.Int("top", 5, "Hottest chunks to list")
	noJournal := flags.Bool("no-journal", false, "Do not record the batch")
	if err := flags.Parse(args); err != nil || flags.NArg() != 1 || *n < 1 {
		return errUsage
	}

	chunk, err := loadChunk(flags.Arg(0))
	if err != nil {
		return err
	}
	e := hybrid.New(env.cfg.Hybrid(), space.NewBridge())
	for i := 0; i < *n; i++ {
		if _, err := e.Run(chunk); err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
	}

	s := e.Stats()
	printStats(env.stdout, chunk, e, s, *top)

	if *noJournal {
		return nil
	}
	j, err := journal.Open(env.cfg.JournalPath())
	if err != nil {
		return err
	}
	defer j.Close()
	entry, err := j.Record(chunk, e.Tiers().TierFor(chunk), s)
	if err != nil {
		return err
	}
	runs, jitRuns, err := j.Totals(chunk.ID())
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Journal:        entry %d in %s (%d runs recorded, %d native)\n", entry.ID, j.Path(), runs, jitRuns)
	return nil
}

func printResults(w io.Writer, results []atom.Atom) {
	for _, r := range results {
		fmt.Fprintln(w, r.String())
	}
}

func printStats(w io.Writer, chunk *bytecode.Chunk, e *hybrid.Executor, s hybrid.Stats, top int) {
	fmt.Fprintf(w, "Chunk:          %s (%s)\n", chunk.Name, chunk.ID())
	fmt.Fprintf(w, "Tier:           %s\n", e.Tiers().TierFor(chunk))
	fmt.Fprintf(w, "Runs:           %d (%d native, %d vm)\n", s.TotalRuns, s.JitRuns, s.VMRuns)
	fmt.Fprintf(w, "JIT hit rate:   %.1f%%\n", s.JitHitRate())
	fmt.Fprintf(w, "Bailouts:       %d (%.1f%%)\n", s.Bailouts, s.BailoutRate())
	fmt.Fprintf(w, "Compilations:   %d (%d failed)\n", s.Compilations, s.CompileFailures)
	fmt.Fprintf(w, "Cache:          %d entries, %.1f%% hits\n", s.Tiered.CacheEntries, s.Tiered.CacheHitRate())
	if h := e.LastHeap(); h.Allocated > 0 {
		fmt.Fprintf(w, "Heap:           %d allocated, %d released, %d live\n", h.Allocated, h.Released, h.Live)
	}
	for _, c := range e.Tiers().TopChunks(top) {
		fmt.Fprintf(w, "  %s %-20s %8d runs  %-10s %s\n", c.ID, c.Name, c.Count, c.Tier, c.State)
	}
}
