package dispatcher

import (
	"container/list"

	"basin/internal/run"
)

// Elem is an opaque handle to a queued position, used by the matching
// loop to remove a run once it has been started.
type Elem = list.Element

// Queue is the FIFO of runs waiting to be matched to a context.
// Front-insert is supported for priority injection; insertion order
// is preserved among runs of equal priority.
type Queue struct {
	l *list.List
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	return &Queue{l: list.New()}
}

// PushBack appends a run to the tail of the queue (the common case).
func (q *Queue) PushBack(r *run.Run) {
	q.l.PushBack(r)
}

// PushFront inserts a run at position 0, ahead of any prior
// front-insert — the most recent front-insert always wins the front
// slot.
func (q *Queue) PushFront(r *run.Run) {
	q.l.PushFront(r)
}

// Len returns the number of queued runs.
func (q *Queue) Len() int {
	return q.l.Len()
}

// Walk visits the queue front-to-back without mutating it, invoking
// fn for each element until fn returns false or the queue is
// exhausted. fn may call Remove on the element it was just given.
func (q *Queue) Walk(fn func(elem *Elem, r *run.Run) (cont bool)) {
	for e := q.l.Front(); e != nil; {
		next := e.Next()
		if !fn(e, e.Value.(*run.Run)) {
			return
		}
		e = next
	}
}

// Remove detaches the given element from the queue.
func (q *Queue) Remove(e *Elem) {
	q.l.Remove(e)
}

// Index returns r's current position in the queue, or -1 if absent.
func (q *Queue) Index(r *run.Run) int {
	i := 0
	for e := q.l.Front(); e != nil; e = e.Next() {
		if e.Value.(*run.Run) == r {
			return i
		}
		i++
	}
	return -1
}

// Snapshot returns the queue contents in order, for status projection.
func (q *Queue) Snapshot() []*run.Run {
	out := make([]*run.Run, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*run.Run))
	}
	return out
}
