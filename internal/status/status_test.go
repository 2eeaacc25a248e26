package status

import (
	"context"
	"testing"

	"basin/internal/ctxpool"
	"basin/internal/run"
	"basin/internal/store"
)

type fakeDispatcher struct {
	queued   []*run.Run
	active   []*run.Run
	contexts []*ctxpool.Context
}

func (f *fakeDispatcher) Queued() []*run.Run { return f.queued }
func (f *fakeDispatcher) Active() []*run.Run { return f.active }
func (f *fakeDispatcher) ActiveByJob(jobName string) []*run.Run {
	var out []*run.Run
	for _, r := range f.active {
		if r.JobName == jobName {
			out = append(out, r)
		}
	}
	return out
}
func (f *fakeDispatcher) BuildNumber(jobName string) int64 { return 0 }
func (f *fakeDispatcher) Contexts() []*ctxpool.Context      { return f.contexts }
func (f *fakeDispatcher) Context(name string) (*ctxpool.Context, bool) {
	for _, c := range f.contexts {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

type fakeStore struct {
	recent map[string][]store.BuildSummary
	counts map[string]int64
}

func (f *fakeStore) RecentBuilds(ctx context.Context, jobName string, limit int) ([]store.BuildSummary, error) {
	rows := f.recent[jobName]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeStore) GetBuild(ctx context.Context, jobName string, number int64) (*store.Build, error) {
	return &store.Build{Name: jobName, Number: number}, nil
}

func (f *fakeStore) GetArtifacts(ctx context.Context, jobName string, number int64) ([]store.Artifact, error) {
	return nil, nil
}

func (f *fakeStore) CompletedCounts(ctx context.Context) (map[string]int64, error) {
	return f.counts, nil
}

func (f *fakeStore) LoadViews(ctx context.Context) (store.Views, error) {
	return store.Views{}, nil
}

func (f *fakeStore) LastDuration(ctx context.Context, jobName string) (int64, bool) {
	return 0, false
}

func TestHomeReportsQueuedAndRunning(t *testing.T) {
	queuedRun := run.New("foo", 2, nil, "webhook", 100, 0)
	activeRun := run.New("foo", 1, nil, "poll", 50, 0)
	activeRun.Start(ctxpool.New("default", 1, nil), 60, nil)

	d := &fakeDispatcher{
		queued:   []*run.Run{queuedRun},
		active:   []*run.Run{activeRun},
		contexts: []*ctxpool.Context{ctxpool.New("default", 1, nil)},
	}
	s := &fakeStore{counts: map[string]int64{"foo": 3}}
	p := New(d, s, func() int64 { return 200 }, func() []Group { return nil }, func(string) string { return "" }, "")

	snap, err := p.Home(context.Background())
	if err != nil {
		t.Fatalf("Home: %v", err)
	}
	if len(snap.Queued) != 1 || snap.Queued[0].Number != 2 {
		t.Fatalf("expected one queued run #2, got %+v", snap.Queued)
	}
	if len(snap.Running) != 1 || snap.Running[0].Duration != 140 {
		t.Fatalf("expected running run with duration 140, got %+v", snap.Running)
	}
	if snap.CompletedCounts["foo"] != 3 {
		t.Fatalf("expected completed count 3, got %d", snap.CompletedCounts["foo"])
	}
}

func TestJobSortsBySelectedField(t *testing.T) {
	result5 := 5
	started1, completed1 := int64(10), int64(20)
	started2, completed2 := int64(5), int64(8)
	s := &fakeStore{recent: map[string][]store.BuildSummary{
		"foo": {
			{Name: "foo", Number: 2, StartedAt: &started2, CompletedAt: &completed2, Result: &result5},
			{Name: "foo", Number: 1, StartedAt: &started1, CompletedAt: &completed1, Result: &result5},
		},
	}}
	d := &fakeDispatcher{}
	p := New(d, s, func() int64 { return 0 }, func() []Group { return nil }, func(string) string { return "" }, "")

	snap, err := p.Job(context.Background(), JobScope{Name: "foo", SortField: "duration", SortDesc: true})
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if len(snap.Recent) != 2 || snap.Recent[0].Number != 1 {
		t.Fatalf("expected run #1 (duration 10) first, got %+v", snap.Recent)
	}
}

func TestJobFallsBackToNumberOnInvalidSortField(t *testing.T) {
	p := New(&fakeDispatcher{}, &fakeStore{}, func() int64 { return 0 }, func() []Group { return nil }, func(string) string { return "" }, "")
	snap, err := p.Job(context.Background(), JobScope{Name: "foo", SortField: "bogus"})
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if snap.SortField != "number" {
		t.Fatalf("expected fallback to number, got %q", snap.SortField)
	}
}
