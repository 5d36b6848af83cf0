package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/mettajit/pkg/bytecode"
	"github.com/chazu/mettajit/pkg/hybrid"
	"github.com/chazu/mettajit/pkg/space"
	"github.com/chazu/mettajit/server"
)

// serveCommand starts the exec service and blocks until interrupted.
func serveCommand(env *cliEnv, args []string) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.SetOutput(env.stderr)
	addr := flags.String("addr", env.cfg.Server.Address, "Listen address")
	if err := flags.Parse(args); err != nil || flags.NArg() != 0 {
		return errUsage
	}

	srv := server.New(hybrid.New(env.cfg.Hybrid(), space.NewBridge()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()
	return srv.ListenAndServe(*addr)
}

// callCommand runs a chunk on a remote exec service.
func callCommand(env *cliEnv, args []string) error {
	flags := flag.NewFlagSet("call", flag.ContinueOnError)
	flags.SetOutput(env.stderr)
	addr := flags.String("addr", env.cfg.Server.Address, "Service address")
	useGRPC := flags.Bool("grpc", false, "Call over gRPC instead of Connect")
	mode := flags.String("mode", server.ModeAuto, "Run mode (auto, vm, jit, all)")
	if err := flags.Parse(args); err != nil || flags.NArg() != 1 {
		return errUsage
	}
	chunk, err := loadChunk(flags.Arg(0))
	if err != nil {
		return err
	}
	data, err := bytecode.MarshalChunk(chunk)
	if err != nil {
		return err
	}
	req := &server.RunRequest{Source: server.ChunkSource{Chunk: data}, Mode: *mode}

	var resp *server.RunResponse
	if *useGRPC {
		c, err := server.DialGRPC(*addr)
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err = c.Run(context.Background(), req)
		if err != nil {
			return err
		}
	} else {
		c := server.NewClient(http.DefaultClient, "http://"+*addr)
		resp, err = c.Run(context.Background(), req)
		if err != nil {
			return err
		}
	}
	log.Infof("%s ran at tier %s", resp.ChunkID, resp.Tier)
	for _, r := range resp.Rendered {
		fmt.Fprintln(env.stdout, r)
	}
	return nil
}

// schemaCommand prints the exec service as .proto source.
func schemaCommand(env *cliEnv, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	src, err := server.Schema()
	if err != nil {
		return err
	}
	_, err = io.WriteString(env.stdout, src)
	return err
}
