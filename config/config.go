// Package config handles mettajit.toml configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/hybrid"
	"github.com/chazu/mettajit/pkg/tiered"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "mettajit.toml"

// Config represents a mettajit.toml file.
type Config struct {
	Tiers    Tiers    `toml:"tiers"`
	Executor Executor `toml:"executor"`
	VM       VM       `toml:"vm"`
	Log      Log      `toml:"log"`
	Server   Server   `toml:"server"`
	Journal  Journal  `toml:"journal"`

	// Dir is the directory containing the mettajit.toml file (set at load time).
	Dir string `toml:"-"`
}

// Tiers configures the execution counts that promote a chunk.
type Tiers struct {
	Warm   uint64 `toml:"warm"`
	Hot    uint64 `toml:"hot"`
	Stage2 uint64 `toml:"stage2"`
}

// Executor configures the hybrid executor.
type Executor struct {
	// JitEnabled is a pointer so an absent key keeps the default of true.
	JitEnabled    *bool `toml:"jit-enabled"`
	NativeNondet  bool  `toml:"native-nondet"`
	Trace         bool  `toml:"trace"`
	MaxIterations int   `toml:"max-iterations"`

	StackCapacity         int `toml:"stack-capacity"`
	ChoicePointCapacity   int `toml:"choice-point-capacity"`
	ResultsCapacity       int `toml:"results-capacity"`
	BindingFramesCapacity int `toml:"binding-frames-capacity"`
	CutMarkersCapacity    int `toml:"cut-markers-capacity"`
}

// VM configures the bytecode VM limits.
type VM struct {
	MaxValueStack   int `toml:"max-value-stack"`
	MaxChoicePoints int `toml:"max-choice-points"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Server configures the exec service.
type Server struct {
	Address string `toml:"address"`
}

// Journal configures the run statistics database.
type Journal struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load parses a mettajit.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a mettajit.toml file,
// then loads it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		_, err := os.Stat(filepath.Join(dir, FileName))
		if err == nil {
			return Load(dir)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	th := tiered.Thresholds{Warm: c.Tiers.Warm, Hot: c.Tiers.Hot, Stage2: c.Tiers.Stage2}.Normalize()
	c.Tiers = Tiers{Warm: th.Warm, Hot: th.Hot, Stage2: th.Stage2}

	e := &c.Executor
	if e.JitEnabled == nil {
		on := true
		e.JitEnabled = &on
	}
	setDefault(&e.MaxIterations, hybrid.DefaultMaxIterations)
	setDefault(&e.StackCapacity, hybrid.DefaultStackCapacity)
	setDefault(&e.ChoicePointCapacity, hybrid.DefaultChoicePointCapacity)
	setDefault(&e.ResultsCapacity, hybrid.DefaultResultsCapacity)
	setDefault(&e.BindingFramesCapacity, hybrid.DefaultBindingFramesCapacity)
	setDefault(&e.CutMarkersCapacity, hybrid.DefaultCutMarkersCapacity)

	vm := bytecode.DefaultConfig()
	setDefault(&c.VM.MaxValueStack, vm.MaxValueStack)
	setDefault(&c.VM.MaxChoicePoints, vm.MaxChoicePoints)

	if c.Server.Address == "" {
		c.Server.Address = "localhost:7341"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(".mettajit", "journal.db")
	}
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Thresholds returns the tier thresholds.
func (c *Config) Thresholds() tiered.Thresholds {
	return tiered.Thresholds{Warm: c.Tiers.Warm, Hot: c.Tiers.Hot, Stage2: c.Tiers.Stage2}.Normalize()
}

// Hybrid returns the executor configuration.
func (c *Config) Hybrid() hybrid.Config {
	h := hybrid.DefaultConfig()
	h.VM.MaxValueStack = c.VM.MaxValueStack
	h.VM.MaxChoicePoints = c.VM.MaxChoicePoints
	h.StackCapacity = c.Executor.StackCapacity
	h.ChoicePointCapacity = c.Executor.ChoicePointCapacity
	h.ResultsCapacity = c.Executor.ResultsCapacity
	h.BindingFramesCapacity = c.Executor.BindingFramesCapacity
	h.CutMarkersCapacity = c.Executor.CutMarkersCapacity
	h.JitEnabled = c.Executor.JitEnabled == nil || *c.Executor.JitEnabled
	h.NativeNondet = c.Executor.NativeNondet
	h.MaxIterations = c.Executor.MaxIterations
	h.Thresholds = c.Thresholds()
	if c.Executor.Trace {
		h = h.WithTrace()
	}
	return h
}

// JournalPath returns the journal database path, resolved against Dir when
// relative.
func (c *Config) JournalPath() string {
	if filepath.IsAbs(c.Journal.Path) || c.Dir == "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Dir, c.Journal.Path)
}

// LogPath returns the log file path, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	p := c.Log.Path
	if !filepath.IsAbs(p) && c.Dir != "" {
		p = filepath.Join(c.Dir, p)
	}
	return &p
}
