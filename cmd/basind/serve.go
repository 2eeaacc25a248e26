package main

import (
	"context"
	"errors"
	"fmt"

	"basin/internal/core"
	"basin/internal/store"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling core",
	Long: `Start basind: load cfg/contexts, cfg/jobs and cfg/groups.conf under
$BASIN_HOME, watch them for changes, and run the queue/dispatch loop
until interrupted.

Example:
  basind serve --home /var/lib/basin --db-dsn /var/lib/basin/basin.db`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	home, err := resolveHome(cmd)
	if err != nil {
		return err
	}
	driver, _ := cmd.Flags().GetString("db-driver")
	dsn, _ := cmd.Flags().GetString("db-dsn")

	logger.Info("starting basind", "home", home, "db_driver", driver)

	c, err := core.New(home, store.Config{Driver: driver, DSN: dsn}, logger)
	if err != nil {
		return fmt.Errorf("initialize core: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	ctx := setupSignalHandler()
	if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("core stopped with error", "error", err)
		return err
	}

	logger.Info("basind stopped")
	return nil
}
