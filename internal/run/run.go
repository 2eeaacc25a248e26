// Package run implements the Run value and its state machine: one
// build attempt, from the moment it is queued until its completion
// transaction has committed and the notifier has fanned out the final
// event.
package run

import (
	"bytes"
	"fmt"

	"basin/internal/ctxpool"
)

// Result is the outcome of a build attempt. SUCCESS is encoded as
// integer 5 in persisted rows, matching the historical schema this
// core inherited.
type Result int

const (
	ResultUnknown Result = 0
	ResultAborted Result = 2
	ResultFailed  Result = 4
	ResultSuccess Result = 5
)

func (r Result) String() string {
	switch r {
	case ResultAborted:
		return "aborted"
	case ResultFailed:
		return "failed"
	case ResultSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// State is the coarse lifecycle state of a Run.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateTerminal
)

// Identity uniquely names one build attempt.
type Identity struct {
	JobName     string
	BuildNumber int64
}

func (id Identity) String() string {
	return fmt.Sprintf("%s#%d", id.JobName, id.BuildNumber)
}

// Parent identifies the cascaded-from build, when one exists.
type Parent struct {
	JobName     string
	BuildNumber int64
	Valid       bool
}

// Handle is a subprocess capability handle, the external collaborator
// described by the core's subprocess interface. It only carries Abort;
// the merged stdout/stderr stream and the completion channel are
// returned beside it by dispatcher.Launcher.Start. The core never sees
// pids or signals directly.
type Handle interface {
	// Abort requests termination of the underlying subprocess. The
	// completion channel still resolves normally afterward.
	Abort()
}

// Run is one build attempt. Every field is mutated only by the
// Dispatcher's single goroutine (see internal/core), so no field
// carries its own lock; the zero value is not meaningful, use New.
type Run struct {
	Identity

	Params map[string]string
	Reason string
	Parent Parent

	QueuedAt    int64
	StartedAt   int64
	CompletedAt int64
	TimeoutSecs int

	// Context is a strong reference to the accepting context, set iff
	// StartedAt != 0. It must outlive a config reload that drops the
	// context from the name map: the map is the weak holder, live runs
	// keep the object alive so the busy counter can still decrement on
	// completion.
	Context     *ctxpool.Context
	ContextName string

	Result Result

	log bytes.Buffer

	handle Handle

	// logClosed and pendingResult order completion against the log
	// drain: the completion future and the output stream resolve on
	// separate goroutines, and the final record must include every log
	// byte, so whichever signal arrives second triggers completion.
	logClosed        bool
	pendingResult    Result
	hasPendingResult bool
}

// New constructs a freshly queued Run.
func New(job string, number int64, params map[string]string, reason string, queuedAt int64, timeoutSecs int) *Run {
	return &Run{
		Identity:    Identity{JobName: job, BuildNumber: number},
		Params:      params,
		Reason:      reason,
		QueuedAt:    queuedAt,
		TimeoutSecs: timeoutSecs,
	}
}

// State reports the coarse lifecycle state implied by the timestamps.
func (r *Run) State() State {
	switch {
	case r.CompletedAt != 0:
		return StateTerminal
	case r.StartedAt != 0:
		return StateRunning
	default:
		return StateQueued
	}
}

// Start transitions the Run into RUNNING. Called by the Dispatcher
// once a context has accepted it.
func (r *Run) Start(c *ctxpool.Context, startedAt int64, handle Handle) {
	r.Context = c
	r.ContextName = c.Name
	r.StartedAt = startedAt
	r.handle = handle
}

// AppendLog appends a chunk read from the subprocess output stream to
// the in-memory log buffer. Returns the chunk so callers can forward
// the same bytes to the Notifier without re-reading the buffer.
func (r *Run) AppendLog(chunk []byte) []byte {
	r.log.Write(chunk)
	return chunk
}

// Log returns the full accumulated log buffer. Valid at any state;
// complete only once the Run has reached StateTerminal.
func (r *Run) Log() []byte {
	return r.log.Bytes()
}

// Abort signals the bound subprocess to terminate. It does not itself
// transition Run state — the completion future still resolves
// normally, usually with ResultAborted.
func (r *Run) Abort() {
	if r.handle != nil {
		r.handle.Abort()
	}
}

// Complete transitions the Run into its terminal state. Called once
// both the completion future has resolved and the log stream has been
// fully drained.
func (r *Run) Complete(result Result, completedAt int64) {
	r.Result = result
	r.CompletedAt = completedAt
}

// MarkLogClosed records that the output stream has reached EOF.
func (r *Run) MarkLogClosed() {
	r.logClosed = true
}

// LogClosed reports whether the output stream has been fully drained.
func (r *Run) LogClosed() bool {
	return r.logClosed
}

// DeferResult stashes the completion result until the log stream has
// been fully drained, so the persisted record never misses trailing
// output.
func (r *Run) DeferResult(result Result) {
	r.pendingResult = result
	r.hasPendingResult = true
}

// DeferredResult returns the stashed completion result, if any.
func (r *Run) DeferredResult() (Result, bool) {
	return r.pendingResult, r.hasPendingResult
}

// Duration returns the wall-clock duration of a finished or
// in-progress run, or 0 if it hasn't started.
func (r *Run) Duration(nowIfRunning int64) int64 {
	if r.StartedAt == 0 {
		return 0
	}
	if r.CompletedAt != 0 {
		return r.CompletedAt - r.StartedAt
	}
	return nowIfRunning - r.StartedAt
}
