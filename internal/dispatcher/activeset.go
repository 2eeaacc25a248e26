package dispatcher

import "basin/internal/run"

// ActiveSet is the multi-index collection of running builds: a
// primary store by raw identity plus secondary indexes by job name
// and by start order. All mutation goes through Insert/Remove so the
// indexes never drift apart.
type ActiveSet struct {
	byIdentity map[run.Identity]*run.Run
	byJob      map[string][]*run.Run
	byStart    []*run.Run
}

// NewActiveSet constructs an empty ActiveSet.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{
		byIdentity: make(map[run.Identity]*run.Run),
		byJob:      make(map[string][]*run.Run),
	}
}

// Insert adds r to every index.
func (a *ActiveSet) Insert(r *run.Run) {
	a.byIdentity[r.Identity] = r
	a.byJob[r.JobName] = append(a.byJob[r.JobName], r)
	a.byStart = append(a.byStart, r)
}

// Remove detaches r from every index.
func (a *ActiveSet) Remove(r *run.Run) {
	delete(a.byIdentity, r.Identity)

	jobRuns := a.byJob[r.JobName]
	for i, cand := range jobRuns {
		if cand == r {
			a.byJob[r.JobName] = append(jobRuns[:i], jobRuns[i+1:]...)
			break
		}
	}
	if len(a.byJob[r.JobName]) == 0 {
		delete(a.byJob, r.JobName)
	}

	for i, cand := range a.byStart {
		if cand == r {
			a.byStart = append(a.byStart[:i], a.byStart[i+1:]...)
			break
		}
	}
}

// Get looks a run up by identity.
func (a *ActiveSet) Get(id run.Identity) (*run.Run, bool) {
	r, ok := a.byIdentity[id]
	return r, ok
}

// ByJob returns all active runs for a job name, oldest first.
func (a *ActiveSet) ByJob(jobName string) []*run.Run {
	return a.byJob[jobName]
}

// OldestActive returns the lowest build number currently active for a
// job, used by the Workspace pruning rule. The second return is false
// if the job has no active runs.
func (a *ActiveSet) OldestActive(jobName string) (int64, bool) {
	runs := a.byJob[jobName]
	if len(runs) == 0 {
		return 0, false
	}
	oldest := runs[0].BuildNumber
	for _, r := range runs[1:] {
		if r.BuildNumber < oldest {
			oldest = r.BuildNumber
		}
	}
	return oldest, true
}

// All returns every active run, ordered by start time.
func (a *ActiveSet) All() []*run.Run {
	out := make([]*run.Run, len(a.byStart))
	copy(out, a.byStart)
	return out
}

// Len reports the number of active runs.
func (a *ActiveSet) Len() int {
	return len(a.byIdentity)
}
