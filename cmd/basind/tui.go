package main

import (
	"context"
	"fmt"

	"basin/internal/core"
	"basin/internal/notifier"
	"basin/internal/status"
	"basin/internal/store"
	"basin/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the live terminal dashboard",
	Long: `Bring up an embedded scheduling core against $BASIN_HOME (the same way
basind serve does) and drive a bubbletea dashboard over its status
snapshots: the queue, the active set, context capacity, and per-run
log tails on demand.

Example:
  basind tui --home /var/lib/basin`,
	RunE: runTUI,
}

// coreStatusSource adapts *core.Core to tui.StatusSource, narrowing
// Core.Status's any-typed return to the two snapshot types the
// dashboard actually renders.
type coreStatusSource struct {
	core *core.Core
}

func (s coreStatusSource) Home(ctx context.Context) (status.HomeSnapshot, error) {
	snap, err := s.core.Status(ctx, core.Scope{Kind: notifier.ScopeHome})
	if err != nil {
		return status.HomeSnapshot{}, err
	}
	home, ok := snap.(status.HomeSnapshot)
	if !ok {
		return status.HomeSnapshot{}, fmt.Errorf("tui: unexpected home snapshot type %T", snap)
	}
	return home, nil
}

func (s coreStatusSource) Run(ctx context.Context, jobName string, number int64) (status.RunSnapshot, error) {
	snap, err := s.core.Status(ctx, core.Scope{Kind: notifier.ScopeRun, Job: jobName, Run: number})
	if err != nil {
		return status.RunSnapshot{}, err
	}
	run, ok := snap.(status.RunSnapshot)
	if !ok {
		return status.RunSnapshot{}, fmt.Errorf("tui: unexpected run snapshot type %T", snap)
	}
	return run, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
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

	model := tui.New(coreStatusSource{core: c}, logger)
	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		cancel()
		<-loopDone
		return fmt.Errorf("tui: %w", err)
	}

	cancel()
	<-loopDone
	return nil
}
