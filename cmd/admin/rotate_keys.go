package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
)

type rotateKeysCmd struct{}

func (*rotateKeysCmd) Name() string { return "rotate-keys" }
func (*rotateKeysCmd) Synopsis() string {
	return "re-encrypts stored credentials with the current key"
}
func (*rotateKeysCmd) Usage() string {
	return `admin rotate-keys

Re-encrypts every stored login and session with ENCRYPTION_KEY. Keys listed in
ENCRYPTION_KEY_PREVIOUS are used to read existing records. Stop the server
first; afterwards the previous keys can be removed.
`
}

func (*rotateKeysCmd) SetFlags(*flag.FlagSet) {}

func (*rotateKeysCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openApp(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	report, err := service.NewKeyRotationService(a.DB, a.Accounts, a.Vault).Rotate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("Rewrote %d accounts, dropped %d sessions.\n", report.Accounts, report.SessionsDropped)
	if len(report.Unreadable) > 0 {
		fmt.Fprintln(os.Stderr, "Credentials no configured key can read (these accounts must be re-linked):")
		for _, id := range report.Unreadable {
			fmt.Fprintf(os.Stderr, "  %s\n", id)
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
