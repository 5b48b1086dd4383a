// Command admin runs maintenance tasks against the tracker database.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&genkeyCmd{}, "keys")
	subcommands.Register(&rotateKeysCmd{}, "keys")
	subcommands.Register(&migrateCmd{}, "database")
	subcommands.Register(&syncCmd{}, "accounts")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
