package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

type genkeyCmd struct{}

func (*genkeyCmd) Name() string     { return "genkey" }
func (*genkeyCmd) Synopsis() string { return "prints a new credential encryption key" }
func (*genkeyCmd) Usage() string {
	return `admin genkey

Prints a random key suitable for ENCRYPTION_KEY. To rotate, move the current
key to ENCRYPTION_KEY_PREVIOUS, set the new one and run 'admin rotate-keys'.
`
}

func (*genkeyCmd) SetFlags(*flag.FlagSet) {}

func (*genkeyCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	key, err := vault.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Println(key)
	return subcommands.ExitSuccess
}
