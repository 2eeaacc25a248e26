package notifier

import (
	"encoding/json"
	"testing"

	"basin/internal/ctxpool"
	"basin/internal/dispatcher"
	"basin/internal/run"
)

func drain(sub *Subscription) []Message {
	var out []Message
	for {
		select {
		case msg := <-sub.Messages():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func id(job string, number int64) run.Identity {
	return run.Identity{JobName: job, BuildNumber: number}
}

func TestScopeFiltering(t *testing.T) {
	n := New()
	all := n.Subscribe(Scope{Kind: ScopeAll})
	fooOnly := n.Subscribe(Scope{Kind: ScopeJob, Job: "foo"})
	barOnly := n.Subscribe(Scope{Kind: ScopeJob, Job: "bar"})

	n.JobQueued(id("foo", 1), 0, "")

	if got := drain(all); len(got) != 1 || got[0].Event != "job_queued" {
		t.Fatalf("all scope: %+v", got)
	}
	if got := drain(fooOnly); len(got) != 1 {
		t.Fatalf("job scope for matching job: %+v", got)
	}
	if got := drain(barOnly); len(got) != 0 {
		t.Fatalf("job scope must filter other jobs: %+v", got)
	}
}

func TestLogChunksOnlyReachRunScope(t *testing.T) {
	n := New()
	all := n.Subscribe(Scope{Kind: ScopeAll})
	watcher := n.Subscribe(Scope{Kind: ScopeRun, Job: "foo", Run: 1})
	other := n.Subscribe(Scope{Kind: ScopeRun, Job: "foo", Run: 2})

	n.LogChunk(id("foo", 1), []byte("out"), false)
	n.LogChunk(id("foo", 1), nil, true)

	if got := drain(all); len(got) != 0 {
		t.Fatalf("log chunks must not reach non-run scopes: %+v", got)
	}
	if got := drain(other); len(got) != 0 {
		t.Fatalf("log chunks must not reach other runs: %+v", got)
	}

	got := drain(watcher)
	if len(got) != 2 {
		t.Fatalf("expected chunk + sentinel, got %+v", got)
	}
	var first, second struct {
		Chunk    string `json:"chunk"`
		Complete bool   `json:"complete"`
	}
	if err := json.Unmarshal(got[0].Data, &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(got[1].Data, &second); err != nil {
		t.Fatal(err)
	}
	if first.Chunk != "out" || first.Complete {
		t.Fatalf("first chunk payload: %+v", first)
	}
	if !second.Complete {
		t.Fatalf("sentinel must carry complete=true: %+v", second)
	}
}

func TestLifecycleSequencePerSubscriber(t *testing.T) {
	n := New()
	sub := n.Subscribe(Scope{Kind: ScopeRun, Job: "foo", Run: 1})

	r := run.New("foo", 1, nil, "push", 100, 0)
	n.JobQueued(r.Identity, 0, "push")
	r.Start(ctxpool.New("default", 1, nil), 110, nil)
	n.JobStarted(r.Identity, r.QueuedAt, r.StartedAt, 0, r.Reason, 0)
	n.LogChunk(r.Identity, []byte("building\n"), false)
	n.LogChunk(r.Identity, nil, true)
	r.Complete(run.ResultSuccess, 120)
	n.JobCompleted(r.Identity, r, []dispatcher.Artifact{{URL: "foo/1/a.out", Filename: "a.out", Size: 12}})

	got := drain(sub)
	want := []string{"job_queued", "job_started", "log", "log", "job_completed"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), got)
	}
	for i := range want {
		if got[i].Event != want[i] {
			t.Fatalf("message %d = %q, want %q", i, got[i].Event, want[i])
		}
	}

	var completed struct {
		Result    string `json:"result"`
		Completed int64  `json:"completed"`
		Artifacts []struct {
			Filename string `json:"filename"`
			Size     int64  `json:"size"`
		} `json:"artifacts"`
	}
	if err := json.Unmarshal(got[4].Data, &completed); err != nil {
		t.Fatal(err)
	}
	if completed.Result != "success" || completed.Completed != 120 {
		t.Fatalf("completed payload: %+v", completed)
	}
	if len(completed.Artifacts) != 1 || completed.Artifacts[0].Filename != "a.out" {
		t.Fatalf("artifact payload: %+v", completed.Artifacts)
	}
}

func TestQueuedPayloadShape(t *testing.T) {
	n := New()
	sub := n.Subscribe(Scope{Kind: ScopeHome})

	n.JobQueued(id("foo", 7), 2, "nightly")

	got := drain(sub)
	if len(got) != 1 {
		t.Fatalf("expected one message, got %+v", got)
	}
	var payload struct {
		Name       string `json:"name"`
		Number     int64  `json:"number"`
		Result     string `json:"result"`
		QueueIndex int    `json:"queueIndex"`
		Reason     string `json:"reason"`
	}
	if err := json.Unmarshal(got[0].Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Name != "foo" || payload.Number != 7 || payload.Result != "queued" ||
		payload.QueueIndex != 2 || payload.Reason != "nightly" {
		t.Fatalf("payload: %+v", payload)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := New()
	sub := n.Subscribe(Scope{Kind: ScopeAll})
	n.Unsubscribe(sub)

	if _, ok := <-sub.Messages(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	// Double unsubscribe must not panic.
	n.Unsubscribe(sub)

	// Events after unsubscribe are simply not delivered.
	n.JobQueued(id("foo", 1), 0, "")
}
