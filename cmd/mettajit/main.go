// mettajit runs bytecode chunks on the tiered bytecode/JIT engine.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/mettajit/config"
	"github.com/chazu/mettajit/pkg/bytecode"
)

var log = commonlog.GetLogger("mettajit.cli")

// errUsage is returned after usage text has been printed.
var errUsage = errors.New("usage")

type command struct {
	name  string
	usage string
	run   func(env *cliEnv, args []string) error
}

var commands = []command{
	{"run", "run [-vm|-jit|-all] [-n N] [-trace] file", runCommand},
	{"stats", "stats [-n N] [-top K] [-no-journal] file", statsCommand},
	{"asm", "asm in.masm out.cbor", asmCommand},
	{"disasm", "disasm file", disasmCommand},
	{"serve", "serve [-addr host:port]", serveCommand},
	{"call", "call [-addr host:port] [-grpc] [-mode M] file", callCommand},
	{"schema", "schema", schemaCommand},
}

// cliEnv is what every subcommand needs.
type cliEnv struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("mettajit", flag.ContinueOnError)
	flags.SetOutput(stderr)
	verbose := flags.Int("v", 0, "Log verbosity (0-4); adds to [log] verbosity")
	configDir := flags.String("config", "", "Directory containing mettajit.toml (default: search upwards from .)")
	flags.Usage = func() { usage(stderr, flags) }
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	commonlog.Configure(cfg.Log.Verbosity+*verbose, cfg.LogPath())

	env := &cliEnv{cfg: cfg, stdout: stdout, stderr: stderr}
	name, rest := flags.Arg(0), flags.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(env, rest); err != nil {
			if errors.Is(err, errUsage) {
				fmt.Fprintf(stderr, "Usage: mettajit %s\n", c.usage)
				return 2
			}
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stderr, "Unknown command %q\n\n", name)
	flags.Usage()
	return 2
}

func usage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: mettajit [options] <command> [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  mettajit %s\n", c.usage)
	}
	fmt.Fprintf(w, "\nOptions:\n")
	flags.PrintDefaults()
	fmt.Fprintf(w, "\nChunk files ending in .cbor are decoded; anything else is assembled.\n")
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// loadChunk reads a CBOR chunk or assembles a text one. Unnamed chunks are
// named after the file.
func loadChunk(path string) (*bytecode.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chunk *bytecode.Chunk
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		chunk, err = bytecode.UnmarshalChunk(data)
	} else {
		chunk, err = bytecode.Assemble(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if chunk.Name == "" {
		chunk.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	log.Debugf("loaded %s (%s, %d bytes of code)", chunk.Name, chunk.ID(), chunk.Len())
	return chunk, nil
}
