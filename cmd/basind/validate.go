package main

import (
	"fmt"
	"os"

	"basin/internal/config"
	"basin/internal/dispatcher"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate basin configuration under $BASIN_HOME/cfg",
	Long: `Load cfg/contexts, cfg/jobs and cfg/groups.conf the same way basind serve
does on startup and reload, without starting the scheduler or touching
the store. Reports the resulting contexts, job specs and groups, or the
fatal startup condition of a legacy cfg/nodes/ directory (the home
path is made absolute before it is checked).

Example:
  basind validate --home /var/lib/basin`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	home, err := resolveHome(cmd)
	if err != nil {
		return err
	}

	loader, err := config.NewLoader(home, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return err
	}

	// Reload only mutates SetContexts/SetJobSpecs, neither of which
	// touches the store/notifier/launcher/workspace collaborators, so
	// a dispatcher built with nil collaborators is safe for a
	// validate-only dry run.
	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)

	fmt.Printf("configuration is valid: %s\n", home)
	fmt.Printf("  contexts: %d\n", len(d.Contexts()))
	for _, c := range d.Contexts() {
		fmt.Printf("    %s (capacity=%d, patterns=%v)\n", c.Name, c.Capacity, c.JobPatterns)
	}
	fmt.Printf("  jobs: %d\n", len(loader.JobNames()))
	for _, name := range loader.JobNames() {
		recipe := "missing .run recipe"
		if loader.RecipeExists(name) {
			recipe = "ok"
		}
		fmt.Printf("    %s (%s)\n", name, recipe)
	}
	fmt.Printf("  groups: %d\n", len(loader.Groups()))
	for _, g := range loader.Groups() {
		fmt.Printf("    %s = %s\n", g.Name, g.Pattern)
	}

	return nil
}
