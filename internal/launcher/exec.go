// Package launcher implements the subprocess capability the core
// consumes to start a build: given a run descriptor, it returns a
// merged stdout/stderr stream and a completion future. No pids,
// signals or fork details are visible above this package.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"basin/internal/dispatcher"
	"basin/internal/run"
)

// ProcessLauncher starts build recipes found under jobsDir as
// `<job>.run` executables.
type ProcessLauncher struct {
	jobsDir string
}

// NewProcessLauncher constructs a launcher rooted at the directory
// holding `<job>.run` recipe files.
func NewProcessLauncher(jobsDir string) *ProcessLauncher {
	return &ProcessLauncher{jobsDir: jobsDir}
}

// processHandle adapts a running exec.Cmd to run.Handle.
type processHandle struct {
	cancel context.CancelFunc
}

func (h *processHandle) Abort() { h.cancel() }

// Start implements dispatcher.Launcher.
func (l *ProcessLauncher) Start(ctx context.Context, d dispatcher.LaunchDescriptor) (run.Handle, <-chan dispatcher.LaunchResult, io.Reader, error) {
	if err := os.MkdirAll(d.RunDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create rundir: %w", err)
	}
	if err := os.MkdirAll(d.ArchiveDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create archive dir: %w", err)
	}

	recipe := filepath.Join(l.jobsDir, d.JobName+".run")
	if _, err := os.Stat(recipe); err != nil {
		return nil, nil, nil, fmt.Errorf("recipe not found: %w", err)
	}

	execCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(execCtx, recipe)
	cmd.Dir = d.RunDir
	cmd.Env = buildEnv(d)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		cancel()
		pw.Close()
		return nil, nil, nil, fmt.Errorf("start recipe: %w", err)
	}

	done := make(chan dispatcher.LaunchResult, 1)
	go func() {
		waitErr := cmd.Wait()
		pw.Close()

		switch {
		case waitErr == nil:
			done <- dispatcher.LaunchResult{Result: run.ResultSuccess}
		case execCtx.Err() != nil:
			done <- dispatcher.LaunchResult{Result: run.ResultAborted}
		default:
			done <- dispatcher.LaunchResult{Result: run.ResultFailed, Err: waitErr}
		}
		cancel()
		close(done)
	}()

	return &processHandle{cancel: cancel}, done, pr, nil
}

func buildEnv(d dispatcher.LaunchDescriptor) []string {
	env := os.Environ()
	env = append(env,
		fmt.Sprintf("JOB_NAME=%s", d.JobName),
		fmt.Sprintf("RUN_NUMBER=%d", d.BuildNumber),
		fmt.Sprintf("RUN_NODE=%s", d.ContextName),
		fmt.Sprintf("LAST_RESULT=%s", d.LastResult.String()),
		fmt.Sprintf("ARCHIVE=%s", d.ArchiveDir),
	)
	for k, v := range d.Params {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
