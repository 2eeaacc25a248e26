package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"basin/internal/core"
	"basin/internal/notifier"
	"basin/internal/run"
	"basin/internal/store"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue <job>",
	Short: "Queue a build and, optionally, wait for it to finish",
	Long: `Submit a run request the same way an external caller would, against
the configuration and store under $BASIN_HOME. Since RPC/HTTP
dispatch is outside this core's scope, this command brings up its own
short-lived scheduling loop, queues the run, and — with --wait — drains
its log and final result before shutting the loop back down. This is
meant for scripting and ops use against a store no other basind
instance is currently serving; it is not a client to a running daemon.

Example:
  basind queue deploy-staging --param branch=main --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runQueue,
}

func init() {
	queueCmd.Flags().StringArray("param", nil, "build parameter key=value (repeatable)")
	queueCmd.Flags().Bool("front", false, "insert at the front of the queue")
	queueCmd.Flags().Int("timeout", 0, "abort the build after N seconds (0 = none)")
	queueCmd.Flags().String("reason", "", "reason string recorded with the run")
	queueCmd.Flags().Bool("wait", false, "stream logs and wait for completion")
}

func runQueue(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	home, err := resolveHome(cmd)
	if err != nil {
		return err
	}
	driver, _ := cmd.Flags().GetString("db-driver")
	dsn, _ := cmd.Flags().GetString("db-dsn")
	rawParams, _ := cmd.Flags().GetStringArray("param")
	front, _ := cmd.Flags().GetBool("front")
	timeout, _ := cmd.Flags().GetInt("timeout")
	reason, _ := cmd.Flags().GetString("reason")
	wait, _ := cmd.Flags().GetBool("wait")

	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	c, err := core.New(home, store.Config{Driver: driver, DSN: dsn}, logger)
	if err != nil {
		return fmt.Errorf("initialize core: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- c.Start(ctx) }()

	type queued struct {
		r   *run.Run
		err error
	}
	qch := make(chan queued, 1)
	go func() {
		r, err := c.Queue(ctx, jobName, params, reason, front, timeout)
		qch <- queued{r, err}
	}()

	var queuedRun *run.Run
	select {
	case q := <-qch:
		if q.err != nil {
			return fmt.Errorf("queue %s: %w", jobName, q.err)
		}
		queuedRun = q.r
	case err := <-loopDone:
		return fmt.Errorf("core exited before the run could be queued: %w", err)
	}

	fmt.Printf("queued %s#%d\n", queuedRun.JobName, queuedRun.BuildNumber)

	if wait {
		if err := streamUntilComplete(c, queuedRun.Identity); err != nil {
			return err
		}
	}

	cancel()
	<-loopDone
	return nil
}

func streamUntilComplete(c *core.Core, id run.Identity) error {
	sub := c.Subscribe(notifier.Scope{Kind: notifier.ScopeRun, Job: id.JobName, Run: id.BuildNumber})
	defer c.Unsubscribe(sub)

	for msg := range sub.Messages() {
		switch msg.Event {
		case "log":
			var payload struct {
				Chunk    string `json:"chunk"`
				Complete bool   `json:"complete"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err == nil && !payload.Complete {
				fmt.Print(payload.Chunk)
			}
		case "job_completed":
			var payload struct {
				Result string `json:"result"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err == nil {
				fmt.Printf("\n%s#%d: %s\n", id.JobName, id.BuildNumber, payload.Result)
			}
			return nil
		}
	}
	return nil
}

func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", kv)
		}
		params[k] = v
	}
	return params, nil
}
