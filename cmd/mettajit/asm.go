package main

import (
	"fmt"
	"os"

	"github.com/chazu/mettajit/pkg/bytecode"
)

// asmCommand assembles a text chunk into its CBOR wire form.
func asmCommand(env *cliEnv, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	chunk, err := loadChunk(args[0])
	if err != nil {
		return err
	}
	data, err := bytecode.MarshalChunk(chunk)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Wrote %s (%s, %d bytes)\n", args[1], chunk.ID(), len(data))
	return nil
}

func disasmCommand(env *cliEnv, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	chunk, err := loadChunk(args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(env.stdout, chunk.Disassemble())
	return nil
}
