package dispatcher

import (
	"context"
	"io"
	"time"

	"basin/internal/ctxpool"
	"basin/internal/metrics"
	"basin/internal/run"
)

// EventKind distinguishes the asynchronous events the single-threaded
// loop (internal/core) drains from Dispatcher.Events and replays back
// into the Dispatcher via Dispatch. Everything left of the channel
// runs on its own goroutine; everything right of it runs only on the
// loop's goroutine.
type EventKind int

const (
	EventLogChunk EventKind = iota
	EventLogEOF
	EventRunCompleted
	EventTimeout
)

// Event is one asynchronous notification destined for the loop.
type Event struct {
	Kind   EventKind
	ID     run.Identity
	Chunk  []byte
	Result run.Result
}

// Events returns the channel the owning loop must drain and feed back
// into Dispatch, one at a time, from its single goroutine.
func (d *Dispatcher) Events() <-chan Event {
	if d.events == nil {
		d.events = make(chan Event, 64)
	}
	return d.events
}

func (d *Dispatcher) emit(ev Event) {
	if d.events == nil {
		d.events = make(chan Event, 64)
	}
	d.events <- ev
}

// Dispatch processes one asynchronous event. Must be called only from
// the loop goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventLogChunk:
		if r, ok := d.active.Get(ev.ID); ok {
			r.AppendLog(ev.Chunk)
			d.notifier.LogChunk(ev.ID, ev.Chunk, false)
		}
	case EventLogEOF:
		d.notifier.LogChunk(ev.ID, nil, true)
		if r, ok := d.active.Get(ev.ID); ok {
			r.MarkLogClosed()
			if result, pending := r.DeferredResult(); pending {
				d.completeRun(ctx, ev.ID, result)
			}
		}
	case EventRunCompleted:
		// The completion future and the log drain resolve on separate
		// goroutines; the run only completes once both have, so the
		// persisted output never misses trailing bytes and per-run
		// subscribers never see a log chunk after job_completed.
		if r, ok := d.active.Get(ev.ID); ok && !r.LogClosed() {
			r.DeferResult(ev.Result)
			return
		}
		d.completeRun(ctx, ev.ID, ev.Result)
	case EventTimeout:
		if r, ok := d.active.Get(ev.ID); ok {
			r.Abort()
		}
	}
}

// startRun begins the subprocess for r against the accepted context c.
func (d *Dispatcher) startRun(ctx context.Context, r *run.Run, c *ctxpool.Context) {
	c.Acquire()

	lastResult, _ := d.store.LastResult(ctx, r.JobName)
	lastDuration, hasDuration := d.store.LastDuration(ctx, r.JobName)

	startedAt := d.clock()

	if err := d.store.StartBuild(ctx, r.Identity, c.Name, startedAt); err != nil {
		// The run cannot be proven RUNNING in the record. Treat it
		// like a spawn failure — fail the run immediately rather than
		// leave it silently stuck.
		d.warn("start write failed", "job", r.JobName, "number", r.BuildNumber, "error", err)
		d.finishFailedToStart(ctx, r, c)
		return
	}

	descriptor := LaunchDescriptor{
		JobName:     r.JobName,
		BuildNumber: r.BuildNumber,
		ContextName: c.Name,
		Params:      r.Params,
		LastResult:  lastResult,
		RunDir:      d.workspace.RunDir(r.JobName, r.BuildNumber),
		ArchiveDir:  d.workspace.ArchiveDir(r.JobName, r.BuildNumber),
	}

	handle, done, stdout, err := d.launcher.Start(ctx, descriptor)
	if err != nil {
		// A subprocess that failed to spawn is an immediate terminal
		// FAILED state.
		d.warn("spawn failed", "job", r.JobName, "number", r.BuildNumber, "error", err)
		d.finishFailedToStart(ctx, r, c)
		return
	}

	r.Start(c, startedAt, handle)
	d.active.Insert(r)
	metrics.BusyExecutors.WithLabelValues(c.Name).Set(float64(c.Busy))
	metrics.QueueDepth.Set(float64(d.queue.Len()))

	var etc int64
	if hasDuration {
		etc = startedAt + lastDuration
	}
	d.notifier.JobStarted(r.Identity, r.QueuedAt, startedAt, 0, r.Reason, etc)

	if r.TimeoutSecs > 0 {
		id := r.Identity
		time.AfterFunc(time.Duration(r.TimeoutSecs)*time.Second, func() {
			d.emit(Event{Kind: EventTimeout, ID: id})
		})
	}

	go drainOutput(stdout, r.Identity, d)
	go awaitCompletion(done, r.Identity, d)
}

// finishFailedToStart handles the ChildError path: no subprocess was
// ever started, so there is nothing to drain — complete immediately.
// The busy slot acquired for the attempt is released by completeRun.
func (d *Dispatcher) finishFailedToStart(ctx context.Context, r *run.Run, c *ctxpool.Context) {
	r.Start(c, d.clock(), nil)
	r.MarkLogClosed()
	d.active.Insert(r)
	d.completeRun(ctx, r.Identity, run.ResultFailed)
}

func drainOutput(stdout io.Reader, id run.Identity, d *Dispatcher) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.emit(Event{Kind: EventLogChunk, ID: id, Chunk: chunk})
		}
		if err != nil {
			d.emit(Event{Kind: EventLogEOF, ID: id})
			return
		}
	}
}

func awaitCompletion(done <-chan LaunchResult, id run.Identity, d *Dispatcher) {
	res := <-done
	result := res.Result
	if res.Err != nil {
		result = run.ResultFailed
	}
	d.emit(Event{Kind: EventRunCompleted, ID: id, Result: result})
}

// completeRun commits the final record, fans out job_completed,
// releases the busy slot, prunes old rundirs and re-enters the
// matching loop.
func (d *Dispatcher) completeRun(ctx context.Context, id run.Identity, result run.Result) {
	r, ok := d.active.Get(id)
	if !ok {
		return
	}

	r.Complete(result, d.clock())

	artifacts, err := d.workspace.EnumerateArtifacts(r.JobName, r.BuildNumber)
	if err != nil {
		d.warn("artifact enumeration failed", "job", r.JobName, "number", r.BuildNumber, "error", err)
	}
	if err := d.store.CompleteBuild(ctx, r, artifacts); err != nil {
		// A failed completion write still removes the run from the
		// active set; the record may be left inconsistent, which is an
		// acknowledged limitation recorded in the operator docs.
		d.warn("completion write failed, record may be inconsistent",
			"job", r.JobName, "number", r.BuildNumber, "error", err)
	}

	if err := d.workspace.UpdateLatestSymlink(r.JobName, r.BuildNumber); err != nil {
		d.warn("latest symlink update failed", "job", r.JobName, "number", r.BuildNumber, "error", err)
	}

	d.active.Remove(r)
	if c := r.Context; c != nil {
		// Released through the run's strong reference, not the name
		// map: a reload may have dropped the context from the map
		// while this run was still holding it.
		c.Release()
		metrics.BusyExecutors.WithLabelValues(c.Name).Set(float64(c.Busy))
	}

	d.notifier.JobCompleted(id, r, artifacts)
	metrics.RunsTotal.WithLabelValues(result.String()).Inc()

	oldestActive, hasActive := d.active.OldestActive(r.JobName)
	if !hasActive {
		oldestActive = d.buildNumbers[r.JobName]
	}
	d.workspace.Prune(r.JobName, oldestActive)

	d.assignNewJobs(ctx)
}
