package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"basin/internal/ctxpool"
	"basin/internal/dispatcher"
	"basin/internal/run"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "basin.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// finishRun drives a run through its full lifecycle against the store,
// the way the dispatcher does.
func finishRun(t *testing.T, s *Store, job string, number int64, result run.Result, queued, started, completed int64, artifacts []dispatcher.Artifact) *run.Run {
	t.Helper()
	ctx := context.Background()

	r := run.New(job, number, nil, "test", queued, 0)
	if err := s.QueueBuild(ctx, r); err != nil {
		t.Fatalf("QueueBuild: %v", err)
	}
	if err := s.StartBuild(ctx, r.Identity, "default", started); err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	r.Start(ctxpool.New("default", 1, nil), started, nil)
	r.AppendLog([]byte("build output\n"))
	r.Complete(result, completed)
	if err := s.CompleteBuild(ctx, r, artifacts); err != nil {
		t.Fatalf("CompleteBuild: %v", err)
	}
	return r
}

func TestBuildLifecycleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	finishRun(t, s, "foo", 1, run.ResultSuccess, 100, 110, 130,
		[]dispatcher.Artifact{{URL: "foo/1/report.xml", Filename: "report.xml", Size: 42}})

	b, err := s.GetBuild(ctx, "foo", 1)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if b.QueuedAt != 100 || b.StartedAt == nil || *b.StartedAt != 110 {
		t.Fatalf("timestamps wrong: %+v", b)
	}
	if b.CompletedAt == nil || *b.CompletedAt != 130 || b.Result == nil || *b.Result != 5 {
		t.Fatalf("completion wrong: %+v", b)
	}
	if string(b.Output) != "build output\n" || b.OutputLen == nil || *b.OutputLen != 13 {
		t.Fatalf("output wrong: %q len=%v", b.Output, b.OutputLen)
	}
	if b.Node == nil || *b.Node != "default" {
		t.Fatalf("node wrong: %+v", b.Node)
	}

	artifacts, err := s.GetArtifacts(ctx, "foo", 1)
	if err != nil {
		t.Fatalf("GetArtifacts: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Filename != "report.xml" || artifacts[0].Filesize != 42 {
		t.Fatalf("artifacts wrong: %+v", artifacts)
	}
}

func TestQueuedRowHasOnlyQueuedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := run.New("foo", 1, nil, "", 100, 0)
	if err := s.QueueBuild(ctx, r); err != nil {
		t.Fatalf("QueueBuild: %v", err)
	}

	b, err := s.GetBuild(ctx, "foo", 1)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if b.StartedAt != nil || b.CompletedAt != nil || b.Result != nil {
		t.Fatalf("queued row must leave started/completed/result null: %+v", b)
	}
}

func TestDuplicateBuildNumberRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.QueueBuild(ctx, run.New("foo", 1, nil, "", 100, 0)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.QueueBuild(ctx, run.New("foo", 1, nil, "", 101, 0)); err == nil {
		t.Fatal("expected unique (name, number) violation")
	}
}

func TestSeedBuildNumbers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, n := range []int64{1, 2, 3} {
		if err := s.QueueBuild(ctx, run.New("foo", n, nil, "", 100, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.QueueBuild(ctx, run.New("bar", 7, nil, "", 100, 0)); err != nil {
		t.Fatal(err)
	}

	seeded, err := s.SeedBuildNumbers(ctx)
	if err != nil {
		t.Fatalf("SeedBuildNumbers: %v", err)
	}
	want := map[string]int64{"foo": 3, "bar": 7}
	if !reflect.DeepEqual(seeded, want) {
		t.Fatalf("seeded = %v, want %v", seeded, want)
	}
}

func TestLastResultAndDuration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok := s.LastResult(ctx, "foo"); ok {
		t.Fatal("expected no last result for unknown job")
	}

	finishRun(t, s, "foo", 1, run.ResultFailed, 100, 110, 140, nil)
	finishRun(t, s, "foo", 2, run.ResultSuccess, 200, 210, 230, nil)

	result, ok := s.LastResult(ctx, "foo")
	if !ok || result != run.ResultSuccess {
		t.Fatalf("LastResult = %v/%v, want success", result, ok)
	}
	duration, ok := s.LastDuration(ctx, "foo")
	if !ok || duration != 20 {
		t.Fatalf("LastDuration = %d/%v, want 20", duration, ok)
	}
}

func TestCompletedCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	finishRun(t, s, "foo", 1, run.ResultSuccess, 100, 110, 120, nil)
	finishRun(t, s, "foo", 2, run.ResultFailed, 200, 210, 220, nil)
	if err := s.QueueBuild(ctx, run.New("foo", 3, nil, "", 300, 0)); err != nil {
		t.Fatal(err)
	}

	counts, err := s.CompletedCounts(ctx)
	if err != nil {
		t.Fatalf("CompletedCounts: %v", err)
	}
	if counts["foo"] != 2 {
		t.Fatalf("counts = %v, want foo:2", counts)
	}
}

func TestRecentBuildsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for n := int64(1); n <= 3; n++ {
		finishRun(t, s, "foo", n, run.ResultSuccess, n*100, n*100+10, n*100+20, nil)
	}

	rows, err := s.RecentBuilds(ctx, "foo", 2)
	if err != nil {
		t.Fatalf("RecentBuilds: %v", err)
	}
	if len(rows) != 2 || rows[0].Number != 3 || rows[1].Number != 2 {
		t.Fatalf("rows = %+v, want newest first", rows)
	}
}

func TestViewRefreshIsIdempotent(t *testing.T) {
	restore := nowFunc
	nowFunc = func() int64 { return 10000 }
	defer func() { nowFunc = restore }()

	s := openTestStore(t)
	ctx := context.Background()

	finishRun(t, s, "foo", 1, run.ResultSuccess, 9000, 9010, 9040, nil)
	finishRun(t, s, "foo", 2, run.ResultFailed, 9100, 9110, 9120, nil)
	finishRun(t, s, "bar", 1, run.ResultSuccess, 9200, 9210, 9290, nil)

	first, err := s.LoadViews(ctx)
	if err != nil {
		t.Fatalf("LoadViews: %v", err)
	}
	if err := refreshViews(s.db); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	second, err := s.LoadViews(ctx)
	if err != nil {
		t.Fatalf("LoadViews after second refresh: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("views changed on no-op refresh:\nfirst:  %+v\nsecond: %+v", first, second)
	}

	// result_changed pairs foo's latest success with its latest failure.
	if len(second.ResultChanged) != 1 {
		t.Fatalf("result_changed = %+v, want one row for foo", second.ResultChanged)
	}
	rc := second.ResultChanged[0]
	if rc.Name != "foo" || rc.LastSuccess != 1 || rc.LastFailure != 2 {
		t.Fatalf("result_changed row = %+v", rc)
	}

	// builds_per_day covers all three completions at days_ago 0.
	var total int64
	for _, row := range second.BuildsPerDay {
		total += row.Count
	}
	if total != 3 {
		t.Fatalf("builds_per_day total = %d, want 3", total)
	}

	// low_pass_rates sorts foo (0.5) below bar (1.0).
	if len(second.LowPassRates) != 2 || second.LowPassRates[0].Name != "foo" {
		t.Fatalf("low_pass_rates = %+v", second.LowPassRates)
	}
}
