package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

type syncCmd struct {
	accountID string
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "syncs linked accounts with the brokerage" }
func (*syncCmd) Usage() string {
	return `admin sync [-account <id>]

Syncs one linked account, or every active account when -account is omitted.
Accounts that need the user to re-link are skipped in the second form.
An account already syncing elsewhere, such as in a running server, is
reported as in_progress and left alone.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.accountID, "account", "", "ID of the linked account to sync")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := openApp(ctx)
	if a == nil {
		return status
	}
	defer a.Close()

	var outcomes []model.SyncOutcome
	if c.accountID != "" {
		outcomes = append(outcomes, a.Services.Sync.SyncAccount(ctx, c.accountID))
	} else {
		outcomes = a.Services.Sync.SyncAllActive(ctx)
	}

	failed := false
	for _, o := range outcomes {
		if o.Status != model.SyncResultSuccess {
			failed = true
			fmt.Printf("%s  %-11s %s: %s\n", o.AccountID, o.Status, o.Code, o.Message)
			continue
		}
		fmt.Printf("%s  %-11s +%d ~%d =%d -%d, %d transactions\n",
			o.AccountID, o.Status, o.Created, o.Updated, o.Unchanged, o.Closed, o.Transactions)
	}
	if len(outcomes) == 0 {
		fmt.Println("No active accounts to sync.")
	}
	if failed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
