// Package dispatcher implements the queue/matching core: it tracks
// queued and active runs, matches queued runs to willing contexts, and
// drives each Run through its lifecycle via the Store, Notifier,
// Launcher and Workspace collaborators. All public methods are meant
// to be called from a single goroutine (see internal/core) — the
// package holds no locks of its own, by design.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"basin/internal/ctxpool"
	"basin/internal/globmatch"
	"basin/internal/metrics"
	"basin/internal/run"
)

// ErrUnknownJob is returned by Queue when no `<job>.run` recipe exists.
var ErrUnknownJob = fmt.Errorf("dispatcher: unknown job")

// JobSpec is the static, reload-rebuilt configuration for a job name.
type JobSpec struct {
	ContextPatterns []string
	Description     string
	// Schedule is an optional cron expression; when set, the core
	// queues the job on that cadence.
	Schedule string
}

// Store is the persistence capability the Dispatcher consumes. The
// concrete implementation lives in internal/store; this narrow
// interface is declared here so the Dispatcher can be tested with a
// fake.
type Store interface {
	QueueBuild(ctx context.Context, r *run.Run) error
	StartBuild(ctx context.Context, id run.Identity, contextName string, startedAt int64) error
	CompleteBuild(ctx context.Context, r *run.Run, artifacts []Artifact) error
	SeedBuildNumbers(ctx context.Context) (map[string]int64, error)
	LastResult(ctx context.Context, jobName string) (run.Result, bool)
	LastDuration(ctx context.Context, jobName string) (int64, bool)
}

// Notifier is the fan-out capability. See internal/notifier.
type Notifier interface {
	JobQueued(id run.Identity, queueIndex int, reason string)
	JobStarted(id run.Identity, queuedAt, startedAt int64, queueIndex int, reason string, etc int64)
	JobCompleted(id run.Identity, r *run.Run, artifacts []Artifact)
	LogChunk(id run.Identity, chunk []byte, complete bool)
}

// Artifact mirrors the persisted artifact row, passed through to the
// Notifier's job_completed payload.
type Artifact struct {
	URL      string
	Filename string
	Size     int64
}

// Launcher is the subprocess capability. See internal/launcher.
type Launcher interface {
	Start(ctx context.Context, d LaunchDescriptor) (run.Handle, <-chan LaunchResult, io.Reader, error)
}

// LaunchDescriptor carries everything the launcher needs to start a
// build's subprocess.
type LaunchDescriptor struct {
	JobName     string
	BuildNumber int64
	ContextName string
	Params      map[string]string
	LastResult  run.Result
	RunDir      string
	ArchiveDir  string
}

// LaunchResult is what the completion future resolves to.
type LaunchResult struct {
	Result run.Result
	Err    error
}

// Workspace is the rundir/archive capability. See internal/workspace.
type Workspace interface {
	RunDir(jobName string, number int64) string
	ArchiveDir(jobName string, number int64) string
	EnumerateArtifacts(jobName string, number int64) ([]Artifact, error)
	UpdateLatestSymlink(jobName string, number int64) error
	Prune(jobName string, oldestActive int64)
}

// Clock abstracts wall-clock time for testability.
type Clock func() int64

func unixNow() int64 { return time.Now().Unix() }

// Dispatcher owns the queue, the matching loop and the busy-counter
// accounting.
type Dispatcher struct {
	store     Store
	notifier  Notifier
	launcher  Launcher
	workspace Workspace
	clock     Clock
	logger    *slog.Logger

	queue  *Queue
	active *ActiveSet

	contexts   []*ctxpool.Context
	contextIdx map[string]*ctxpool.Context

	jobSpecs     map[string]JobSpec
	recipeExists func(jobName string) bool

	buildNumbers map[string]int64

	unschedulableHead bool

	events chan Event
}

// New constructs a Dispatcher. recipeExists reports whether a
// `<job>.run` file exists — injected so the dispatcher doesn't reach
// into the filesystem itself; internal/core wires it to
// internal/config. logger may be nil for dry runs that never start
// anything.
func New(store Store, notifier Notifier, launcher Launcher, workspace Workspace, recipeExists func(string) bool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		notifier:     notifier,
		launcher:     launcher,
		workspace:    workspace,
		clock:        unixNow,
		logger:       logger,
		queue:        NewQueue(),
		active:       NewActiveSet(),
		contextIdx:   make(map[string]*ctxpool.Context),
		jobSpecs:     make(map[string]JobSpec),
		buildNumbers: make(map[string]int64),
		recipeExists: recipeExists,
		events:       make(chan Event, 64),
	}
}

func (d *Dispatcher) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

// SeedBuildNumbers loads the in-memory build-number counter from the
// store at startup.
func (d *Dispatcher) SeedBuildNumbers(ctx context.Context) error {
	seeded, err := d.store.SeedBuildNumbers(ctx)
	if err != nil {
		return err
	}
	d.buildNumbers = seeded
	return nil
}

// SetContexts replaces the live context list, called by Config on
// startup and after every reload. Order is preserved as given —
// callers perform the reconciliation, this method just installs the
// result.
func (d *Dispatcher) SetContexts(contexts []*ctxpool.Context) {
	d.contexts = contexts
	d.contextIdx = make(map[string]*ctxpool.Context, len(contexts))
	for _, c := range contexts {
		d.contextIdx[c.Name] = c
	}
}

// QueueHeadUnschedulable reports whether the last matching pass
// scanned the whole queue without starting anything.
func (d *Dispatcher) QueueHeadUnschedulable() bool { return d.unschedulableHead }

// Queued returns a snapshot of the queue in FIFO order, for status
// projection.
func (d *Dispatcher) Queued() []*run.Run { return d.queue.Snapshot() }

// Active returns a snapshot of the active set, ordered by start time.
func (d *Dispatcher) Active() []*run.Run { return d.active.All() }

// ActiveByJob returns the active runs for one job name.
func (d *Dispatcher) ActiveByJob(jobName string) []*run.Run { return d.active.ByJob(jobName) }

// BuildNumber reports the highest assigned build number for a job.
func (d *Dispatcher) BuildNumber(jobName string) int64 { return d.buildNumbers[jobName] }

// Reconcile runs the matching loop without submitting anything — used
// after a config reload, since a reload may unstick previously
// unschedulable queued runs.
func (d *Dispatcher) Reconcile(ctx context.Context) { d.assignNewJobs(ctx) }

// Contexts returns the live, ordered context list for reconciliation
// by Config and for status projection.
func (d *Dispatcher) Contexts() []*ctxpool.Context { return d.contexts }

// Context looks up a live context by name.
func (d *Dispatcher) Context(name string) (*ctxpool.Context, bool) {
	c, ok := d.contextIdx[name]
	return c, ok
}

// SetJobSpecs replaces the live job-spec table, rebuilt fully on
// reload.
func (d *Dispatcher) SetJobSpecs(specs map[string]JobSpec) {
	d.jobSpecs = specs
}

func (d *Dispatcher) jobSpecFor(jobName string) JobSpec {
	if spec, ok := d.jobSpecs[jobName]; ok {
		return spec
	}
	return JobSpec{ContextPatterns: []string{ctxpool.DefaultName}}
}

// Queue submits a new run: it assigns the next build number, inserts
// the queued row, emits job_queued, and invokes the matching loop.
func (d *Dispatcher) Queue(ctx context.Context, jobName string, params map[string]string, reason string, front bool, timeoutSecs int) (*run.Run, error) {
	if !d.recipeExists(jobName) {
		return nil, ErrUnknownJob
	}

	next := d.buildNumbers[jobName] + 1

	r := run.New(jobName, next, params, reason, d.clock(), timeoutSecs)

	if err := d.store.QueueBuild(ctx, r); err != nil {
		// The counter only advances after a successful insert, so a
		// failed submission never leaks a build number.
		return nil, fmt.Errorf("queue build: %w", err)
	}
	d.buildNumbers[jobName] = next

	if front {
		d.queue.PushFront(r)
	} else {
		d.queue.PushBack(r)
	}

	d.notifier.JobQueued(r.Identity, d.queue.Index(r), reason)
	metrics.QueueDepth.Set(float64(d.queue.Len()))

	d.assignNewJobs(ctx)
	return r, nil
}

// Abort aborts the named active run if found. Returns whether it was
// active.
func (d *Dispatcher) Abort(jobName string, number int64) bool {
	r, ok := d.active.Get(run.Identity{JobName: jobName, BuildNumber: number})
	if !ok {
		return false
	}
	r.Abort()
	return true
}

// AbortAll aborts every active run (used on shutdown).
func (d *Dispatcher) AbortAll() {
	for _, r := range d.active.All() {
		r.Abort()
	}
}

// canQueue reports whether c is willing and able to run r: free
// capacity, and a pattern match from either side.
func (d *Dispatcher) canQueue(c *ctxpool.Context, r *run.Run) bool {
	if !c.HasFreeCapacity() {
		return false
	}
	if c.MatchesJob(r.JobName) {
		return true
	}
	spec := d.jobSpecFor(r.JobName)
	return globmatch.AnyMatch(spec.ContextPatterns, c.Name)
}

// assignNewJobs is the matching loop: walk the queue front-to-back;
// for each run, the first context that canQueue wins. Terminates when
// a full pass starts nothing.
func (d *Dispatcher) assignNewJobs(ctx context.Context) {
	for {
		started := false
		d.queue.Walk(func(elem *Elem, r *run.Run) bool {
			for _, c := range d.contexts {
				if d.canQueue(c, r) {
					d.queue.Remove(elem)
					d.startRun(ctx, r, c)
					started = true
					return false // re-scan from the new front
				}
			}
			return true
		})
		if !started {
			d.unschedulableHead = d.queue.Len() > 0
			return
		}
	}
}
