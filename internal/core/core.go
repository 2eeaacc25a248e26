// Package core wires the dispatcher, store, workspace, config
// loader/watcher, notifier and launcher into one runnable unit. It
// owns the single goroutine that mutates all scheduler state; every
// other goroutine — log readers, timers, the filesystem watcher,
// external callers — reaches that state only through channels drained
// by the loop. There is no lock on scheduler state.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"basin/internal/config"
	"basin/internal/ctxpool"
	"basin/internal/dispatcher"
	"basin/internal/launcher"
	"basin/internal/notifier"
	"basin/internal/run"
	"basin/internal/status"
	"basin/internal/store"
	"basin/internal/workspace"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Scope selects which status snapshot to assemble, reusing
// notifier.ScopeKind so callers never juggle two parallel enums for
// the same four-way split.
type Scope struct {
	Kind      notifier.ScopeKind
	Job       string
	Run       int64
	Page      int
	SortField string
	SortDesc  bool
}

// Core wires the dispatcher, store, workspace, config loader/watcher,
// notifier and launcher into one runnable unit.
type Core struct {
	home   string
	logger *slog.Logger

	store      *store.Store
	workspace  *workspace.Workspace
	loader     *config.Loader
	watcher    *config.Watcher
	notifier   *notifier.Notifier
	launcher   *launcher.ProcessLauncher
	dispatcher *dispatcher.Dispatcher
	projector  *status.Projector

	cron        *cron.Cron
	cronEntries []cron.EntryID

	commands chan func()
	draining bool
	drained  chan struct{}
	cancel   context.CancelFunc
}

// New wires every collaborator but performs no I/O beyond what
// config.NewLoader and store.Open themselves require.
func New(home string, storeCfg store.Config, logger *slog.Logger) (*Core, error) {
	loader, err := config.NewLoader(home, logger)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	st, err := store.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("core: open store: %w", err)
	}

	ws := workspace.New(home, keepRundirsFromEnv(), logger)
	n := notifier.New()
	lnc := launcher.NewProcessLauncher(loader.JobsDir())

	d := dispatcher.New(st, n, lnc, ws, loader.RecipeExists, logger)

	c := &Core{
		home:       home,
		logger:     logger,
		store:      st,
		workspace:  ws,
		loader:     loader,
		notifier:   n,
		launcher:   lnc,
		dispatcher: d,
		cron:       cron.New(),
		commands:   make(chan func()),
	}
	c.projector = status.New(d, st, unixNow, groupsAdapter(loader), loader.Description, os.Getenv("LAMINAR_TITLE"))
	return c, nil
}

func keepRundirsFromEnv() int {
	v := os.Getenv("LAMINAR_KEEP_RUNDIRS")
	n := 0
	fmt.Sscanf(v, "%d", &n)
	return n
}

func unixNow() int64 {
	return time.Now().Unix()
}

func groupsAdapter(l *config.Loader) func() []status.Group {
	return func() []status.Group {
		src := l.Groups()
		out := make([]status.Group, len(src))
		for i, g := range src {
			out[i] = status.Group{Name: g.Name, Pattern: g.Pattern}
		}
		return out
	}
}

// Start seeds build numbers, performs the first configuration load,
// starts the filesystem watcher, and runs the event loop until ctx is
// cancelled. It returns once the loop has drained the active set
// during shutdown.
func (c *Core) Start(ctx context.Context) error {
	if err := c.dispatcher.SeedBuildNumbers(ctx); err != nil {
		return fmt.Errorf("core: seed build numbers: %w", err)
	}
	c.loader.Reload(c.dispatcher)

	w, err := config.NewWatcher(c.home, c.logger)
	if err != nil {
		return fmt.Errorf("core: start watcher: %w", err)
	}
	c.watcher = w

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.drained = make(chan struct{})

	c.applySchedules()
	c.cron.Start()

	g, gCtx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return c.loop(gCtx) })
	return g.Wait()
}

// Shutdown requests the drain-and-stop sequence and waits for it to
// finish or for ctx to be cancelled first.
func (c *Core) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop is the single goroutine that owns all dispatcher/config/
// ctxpool state. Every other goroutine in this process only ever
// posts onto one of the channels selected on below.
func (c *Core) loop(ctx context.Context) error {
	defer func() {
		c.cron.Stop()
		if c.watcher != nil {
			c.watcher.Close()
		}
	}()

	done := ctx.Done()
	for {
		select {
		case <-done:
			// Only trigger the drain once; afterwards the loop keeps
			// running on the remaining cases until the active set
			// empties.
			done = nil
			if c.beginDrain() {
				return nil
			}
		case ev := <-c.dispatcher.Events():
			c.dispatcher.Dispatch(ctx, ev)
			if c.draining && len(c.dispatcher.Active()) == 0 {
				close(c.drained)
				return nil
			}
		case <-c.watcher.Events:
			c.loader.Reload(c.dispatcher)
			c.applySchedules()
			c.dispatcher.Reconcile(ctx)
		case cmd := <-c.commands:
			cmd()
		}
	}
}

// beginDrain starts the shutdown path: abort every active run, then
// let the loop keep draining events (log EOFs, completions) until the
// active set is empty. Queued runs are left in the store in QUEUED
// state, never promoted. Returns true once the active set is already
// empty, meaning the loop can stop immediately.
func (c *Core) beginDrain() bool {
	if c.draining {
		return len(c.dispatcher.Active()) == 0
	}
	c.draining = true
	c.dispatcher.AbortAll()
	if len(c.dispatcher.Active()) == 0 {
		close(c.drained)
		return true
	}
	return false
}

// exec runs fn on the loop goroutine and blocks until it returns,
// giving external callers the same single-threaded-state guarantee
// the loop gives itself.
func (c *Core) exec(fn func()) {
	done := make(chan struct{})
	c.commands <- func() { fn(); close(done) }
	<-done
}

// Queue submits a new run.
func (c *Core) Queue(ctx context.Context, jobName string, params map[string]string, reason string, front bool, timeoutSecs int) (*run.Run, error) {
	var r *run.Run
	var err error
	c.exec(func() { r, err = c.dispatcher.Queue(ctx, jobName, params, reason, front, timeoutSecs) })
	return r, err
}

// Abort aborts one active run.
func (c *Core) Abort(jobName string, number int64) bool {
	var ok bool
	c.exec(func() { ok = c.dispatcher.Abort(jobName, number) })
	return ok
}

// AbortAll aborts every active run without initiating shutdown drain.
func (c *Core) AbortAll() {
	c.exec(func() { c.dispatcher.AbortAll() })
}

// Status assembles one of the four JSON-shaped snapshots.
func (c *Core) Status(ctx context.Context, scope Scope) (any, error) {
	var result any
	var err error
	c.exec(func() {
		switch scope.Kind {
		case notifier.ScopeHome:
			result, err = c.projector.Home(ctx)
		case notifier.ScopeAll:
			result, err = c.projector.AllJobs(ctx, c.loader.JobNames())
		case notifier.ScopeJob:
			result, err = c.projector.Job(ctx, status.JobScope{
				Name: scope.Job, Page: scope.Page, SortField: scope.SortField, SortDesc: scope.SortDesc,
			})
		case notifier.ScopeRun:
			result, err = c.projector.Run(ctx, scope.Job, scope.Run)
		default:
			err = fmt.Errorf("core: unknown scope kind %v", scope.Kind)
		}
	})
	return result, err
}

// Subscribe exposes the notifier directly — subscriptions themselves
// don't touch dispatcher state, only the fan-out map guarded by the
// notifier's own mutex, so they need no loop round-trip.
func (c *Core) Subscribe(scope notifier.Scope) *notifier.Subscription {
	return c.notifier.Subscribe(scope)
}

// Unsubscribe removes a subscription.
func (c *Core) Unsubscribe(sub *notifier.Subscription) {
	c.notifier.Unsubscribe(sub)
}

// Contexts returns a snapshot of the live context pool, for CLI
// inspection commands.
func (c *Core) Contexts() []*ctxpool.Context {
	var out []*ctxpool.Context
	c.exec(func() { out = c.dispatcher.Contexts() })
	return out
}

// Close releases the store connection. The loop must already have
// exited (Start returned) before calling this.
func (c *Core) Close() error {
	return c.store.Close()
}
