package main

import (
	"context"
	"encoding/json"
	"fmt"

	"basin/internal/core"
	"basin/internal/notifier"
	"basin/internal/store"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job] [number]",
	Short: "Print a status snapshot as JSON",
	Long: `Assemble a status projection and print it as JSON: the home scope
with no arguments, the one-job scope with a job name, or the one-run
scope with a job name and build number.

Example:
  basind status
  basind status deploy-staging
  basind status deploy-staging 42`,
	Args: cobra.MaximumNArgs(2),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	home, err := resolveHome(cmd)
	if err != nil {
		return err
	}
	driver, _ := cmd.Flags().GetString("db-driver")
	dsn, _ := cmd.Flags().GetString("db-dsn")

	c, err := core.New(home, store.Config{Driver: driver, DSN: dsn}, logger)
	if err != nil {
		return fmt.Errorf("initialize core: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- c.Start(ctx) }()

	scope := scopeFromArgs(args)

	type result struct {
		snapshot any
		err      error
	}
	rch := make(chan result, 1)
	go func() {
		snap, err := c.Status(ctx, scope)
		rch <- result{snap, err}
	}()

	var snapshot any
	select {
	case r := <-rch:
		if r.err != nil {
			return fmt.Errorf("status: %w", r.err)
		}
		snapshot = r.snapshot
	case err := <-loopDone:
		return fmt.Errorf("core exited before status could be assembled: %w", err)
	}

	cancel()
	<-loopDone

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func scopeFromArgs(args []string) core.Scope {
	switch len(args) {
	case 0:
		return core.Scope{Kind: notifier.ScopeHome}
	case 1:
		return core.Scope{Kind: notifier.ScopeJob, Job: args[0]}
	default:
		var number int64
		fmt.Sscanf(args[1], "%d", &number)
		return core.Scope{Kind: notifier.ScopeRun, Job: args[0], Run: number}
	}
}
