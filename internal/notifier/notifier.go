// Package notifier fans lifecycle events and log chunks out to
// subscribers filtered by scope. Delivery is in-process only — no
// network transport lives here, that belongs to whatever serving
// layer embeds the core.
package notifier

import (
	"encoding/json"
	"sync"

	"basin/internal/dispatcher"
	"basin/internal/run"
)

// ScopeKind selects which events a Subscription receives.
type ScopeKind int

const (
	ScopeHome ScopeKind = iota
	ScopeAll
	ScopeJob
	ScopeRun
)

// Scope filters events for one subscriber.
type Scope struct {
	Kind ScopeKind
	Job  string // for ScopeJob/ScopeRun
	Run  int64  // for ScopeRun
}

func (s Scope) admits(id run.Identity) bool {
	switch s.Kind {
	case ScopeHome, ScopeAll:
		return true
	case ScopeJob:
		return s.Job == id.JobName
	case ScopeRun:
		return s.Job == id.JobName && s.Run == id.BuildNumber
	default:
		return false
	}
}

func (s Scope) watchesRun(id run.Identity) bool {
	return s.Kind == ScopeRun && s.Job == id.JobName && s.Run == id.BuildNumber
}

// Message is one JSON-shaped envelope delivered to a subscriber.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Subscription is a live channel a caller drains.
type Subscription struct {
	Scope Scope
	ch    chan Message
}

// Messages returns the subscriber's delivery channel.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Notifier implements dispatcher.Notifier.
type Notifier struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New constructs an empty Notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber with the given scope. The
// returned Subscription's channel is closed when Unsubscribe is
// called; callers should treat a closed channel as "no more events".
func (n *Notifier) Subscribe(scope Scope) *Subscription {
	sub := &Subscription{Scope: scope, ch: make(chan Message, 256)}
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscription.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[sub]; ok {
		delete(n.subs, sub)
		close(sub.ch)
	}
}

func (n *Notifier) broadcast(id run.Identity, msg Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		if !sub.Scope.admits(id) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Slow subscriber: drop rather than block the event loop.
			// Ordering is still preserved for messages that do land.
		}
	}
}

func (n *Notifier) logTargets(id run.Identity, msg Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		if !sub.Scope.watchesRun(id) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

type jobQueuedPayload struct {
	Name       string `json:"name"`
	Number     int64  `json:"number"`
	Result     string `json:"result"`
	QueueIndex int    `json:"queueIndex"`
	Reason     string `json:"reason,omitempty"`
}

func (n *Notifier) JobQueued(id run.Identity, queueIndex int, reason string) {
	data, _ := json.Marshal(jobQueuedPayload{
		Name: id.JobName, Number: id.BuildNumber, Result: "queued",
		QueueIndex: queueIndex, Reason: reason,
	})
	n.broadcast(id, Message{Event: "job_queued", Data: data})
}

type jobStartedPayload struct {
	Name       string `json:"name"`
	Number     int64  `json:"number"`
	Queued     int64  `json:"queued"`
	Started    int64  `json:"started"`
	QueueIndex int    `json:"queueIndex"`
	Reason     string `json:"reason,omitempty"`
	Etc        int64  `json:"etc,omitempty"`
}

func (n *Notifier) JobStarted(id run.Identity, queuedAt, startedAt int64, queueIndex int, reason string, etc int64) {
	data, _ := json.Marshal(jobStartedPayload{
		Name: id.JobName, Number: id.BuildNumber,
		Queued: queuedAt, Started: startedAt, QueueIndex: queueIndex,
		Reason: reason, Etc: etc,
	})
	n.broadcast(id, Message{Event: "job_started", Data: data})
}

type artifactPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type jobCompletedPayload struct {
	Name      string            `json:"name"`
	Number    int64             `json:"number"`
	Queued    int64             `json:"queued"`
	Started   int64             `json:"started"`
	Completed int64             `json:"completed"`
	Result    string            `json:"result"`
	Reason    string            `json:"reason,omitempty"`
	Artifacts []artifactPayload `json:"artifacts"`
}

func (n *Notifier) JobCompleted(id run.Identity, r *run.Run, artifacts []dispatcher.Artifact) {
	apl := make([]artifactPayload, len(artifacts))
	for i, a := range artifacts {
		apl[i] = artifactPayload{URL: a.URL, Filename: a.Filename, Size: a.Size}
	}
	data, _ := json.Marshal(jobCompletedPayload{
		Name: id.JobName, Number: id.BuildNumber,
		Queued: r.QueuedAt, Started: r.StartedAt, Completed: r.CompletedAt,
		Result: r.Result.String(), Reason: r.Reason, Artifacts: apl,
	})
	n.broadcast(id, Message{Event: "job_completed", Data: data})

	// job_completed must be the last message any per-run subscriber
	// sees; a log chunk posted after this point for the same
	// (job, number) is a bug upstream. This package only guarantees it
	// never reorders the two itself, which holds because both go
	// through the same per-subscriber buffered channel.
}

type logChunkPayload struct {
	Name     string `json:"name"`
	Number   int64  `json:"number"`
	Complete bool   `json:"complete"`
	Chunk    string `json:"chunk,omitempty"`
}

func (n *Notifier) LogChunk(id run.Identity, chunk []byte, complete bool) {
	data, _ := json.Marshal(logChunkPayload{
		Name: id.JobName, Number: id.BuildNumber, Complete: complete, Chunk: string(chunk),
	})
	n.logTargets(id, Message{Event: "log", Data: data})
}
