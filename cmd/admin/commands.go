package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"tradstry/internal/infrastructure/postgres"
)

var commands = []subcommands.Command{
	&migrateCmd{},
	&syncCmd{},
	&reconcileCmd{},
	&unmatchedCmd{},
}

func (u *userSelection) setFlags(f *flag.FlagSet) {
	f.StringVar(&u.userIDs, "user-id", "", "User ID(s) to process (comma-separated for multiple)")
	f.BoolVar(&u.all, "all", false, "Process every user with a connected brokerage")
	f.IntVar(&u.workers, "workers", 4, "Number of users processed concurrently")
	f.DurationVar(&u.timeout, "timeout", 30*time.Minute, "Timeout for the whole operation")
}

type migrateCmd struct {
	down int
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply or roll back database migrations" }
func (*migrateCmd) Usage() string {
	return `admin migrate [-down <steps>]

  Applies all pending migrations, or rolls back the given number of steps.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.down, "down", 0, "Number of migrations to roll back instead of applying")
}

func (c *migrateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, db, err := openDB()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if c.down > 0 {
		err = postgres.MigrateDown(db, c.down)
	} else {
		err = postgres.Migrate(db)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type syncCmd struct {
	users userSelection
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "sync brokerage data and reconcile for users" }
func (*syncCmd) Usage() string {
	return `admin sync (-user-id <ids> | -all) [-workers <n>] [-timeout <d>]

  Pulls accounts, holdings and transactions for every connected brokerage of
  the selected users, then reconciles them.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) { c.users.setFlags(f) }

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return runForUsers(ctx, &c.users, "sync", func(ctx context.Context, e *env, userID int64) error {
		summary, err := e.lifecycle.SyncUser(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("User %d: %d accounts, %d holdings, %d transactions, %d trades, %d unmatched, %d errors\n",
			userID, summary.AccountsSynced, summary.HoldingsSynced, summary.TransactionsSynced,
			summary.TradesReconciled, summary.UnmatchedQueued, len(summary.Errors))
		printErrors(summary.Errors)
		return nil
	})
}

type reconcileCmd struct {
	users userSelection
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "reconcile untransformed transactions into trades" }
func (*reconcileCmd) Usage() string {
	return `admin reconcile (-user-id <ids> | -all) [-workers <n>] [-timeout <d>]

  Runs FIFO reconciliation over the raw transactions already stored.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) { c.users.setFlags(f) }

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return runForUsers(ctx, &c.users, "reconcile", func(ctx context.Context, e *env, userID int64) error {
		s, err := e.engine.Run(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("User %d: read %d, trades %d, open %d, reduced %d, closed %d, duplicates %d, unmatched %d, failed symbols %d\n",
			userID, s.TransactionsRead, s.TradesCreated, s.OpenPositionsCreated, s.PositionsReduced,
			s.PositionsClosed, s.DuplicatesSkipped, s.UnmatchedCreated, s.FailedSymbols)
		printErrors(s.Errors)
		return nil
	})
}

type unmatchedCmd struct {
	userID int64
}

func (*unmatchedCmd) Name() string     { return "unmatched" }
func (*unmatchedCmd) Synopsis() string { return "list pending unmatched transactions for a user" }
func (*unmatchedCmd) Usage() string {
	return `admin unmatched -user-id <id>
`
}

func (c *unmatchedCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.userID, "user-id", 0, "User ID")
}

func (c *unmatchedCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.userID <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	e, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	rows, err := e.resolver.List(ctx, c.userID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tQTY\tPRICE\tDATE\tBROKERAGE\tREASON\tCONFIDENCE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			r.ID, r.Symbol, r.Side, r.Quantity, r.Price, r.TradeDate.Format(time.DateOnly),
			r.BrokerageName, r.DifficultyReason, r.ConfidenceScore)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

func runForUsers(ctx context.Context, sel *userSelection, op string, fn func(ctx context.Context, e *env, userID int64) error) subcommands.ExitStatus {
	e, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(ctx, sel.timeout)
	defer cancel()

	userIDs, err := sel.resolve(ctx, e)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	log.Printf("Starting %s for %d user(s) with %d workers", op, len(userIDs), sel.workers)
	start := time.Now()

	failed := forEachUser(ctx, userIDs, sel.workers, func(ctx context.Context, userID int64) error {
		return fn(ctx, e, userID)
	})

	log.Printf("%s completed in %v, %d/%d users failed", op, time.Since(start), failed, len(userIDs))
	if failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printErrors(errs []string) {
	for i, e := range errs {
		if i >= 5 {
			fmt.Printf("    ... and %d more errors\n", len(errs)-5)
			return
		}
		fmt.Printf("    - %s\n", e)
	}
}
