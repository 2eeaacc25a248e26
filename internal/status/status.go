// Package status assembles the four JSON-shaped snapshot scopes
// (home, all-jobs, one-job, one-run) from live dispatcher state plus
// store queries. Nothing is denormalized ahead of time: every
// snapshot is built on demand.
package status

import (
	"context"
	"sort"

	"basin/internal/ctxpool"
	"basin/internal/run"
	"basin/internal/store"
)

// Dispatcher is the narrow read surface status needs from
// *dispatcher.Dispatcher, declared here so status can be tested
// against a fake.
type Dispatcher interface {
	Queued() []*run.Run
	Active() []*run.Run
	ActiveByJob(jobName string) []*run.Run
	BuildNumber(jobName string) int64
	Contexts() []*ctxpool.Context
	Context(name string) (*ctxpool.Context, bool)
}

// Store is the narrow read surface status needs from *store.Store.
type Store interface {
	RecentBuilds(ctx context.Context, jobName string, limit int) ([]store.BuildSummary, error)
	GetBuild(ctx context.Context, jobName string, number int64) (*store.Build, error)
	GetArtifacts(ctx context.Context, jobName string, number int64) ([]store.Artifact, error)
	CompletedCounts(ctx context.Context) (map[string]int64, error)
	LoadViews(ctx context.Context) (store.Views, error)
	LastDuration(ctx context.Context, jobName string) (int64, bool)
}

// Projector assembles snapshots. It holds no state of its own beyond
// its two collaborators, the injected clock and config accessors, and
// the title.
type Projector struct {
	dispatcher Dispatcher
	store      Store
	clock      func() int64
	groups     func() []Group
	descriptor func(jobName string) string
	title      string
}

// Group mirrors internal/config.Group, restated here so status does
// not import internal/config.
type Group struct {
	Name    string
	Pattern string
}

// New constructs a Projector. groups and descriptor are injected
// accessors into the live config rather than a direct dependency, so
// status has no import-cycle risk with internal/config. title is the
// operator-configured display title (LAMINAR_TITLE), stamped on the
// home scope.
func New(d Dispatcher, s Store, clock func() int64, groups func() []Group, descriptor func(string) string, title string) *Projector {
	return &Projector{dispatcher: d, store: s, clock: clock, groups: groups, descriptor: descriptor, title: title}
}

// RunView is the JSON shape of one run, shared across scopes.
type RunView struct {
	Name      string            `json:"name"`
	Number    int64             `json:"number"`
	Result    string            `json:"result"`
	QueuedAt  int64             `json:"queued,omitempty"`
	StartedAt int64             `json:"started,omitempty"`
	Completed int64             `json:"completed,omitempty"`
	Duration  int64             `json:"duration,omitempty"`
	Etc       int64             `json:"etc,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Node      string            `json:"node,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// GroupView is one job group's display name and membership pattern.
type GroupView struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// HomeSnapshot is the top-level dashboard scope: queue, running set,
// context capacity, groups, the six aggregate views and per-job
// lifetime counts.
type HomeSnapshot struct {
	Title            string                         `json:"title,omitempty"`
	Queued           []RunView                      `json:"queued"`
	Running          []RunView                      `json:"running"`
	Contexts         []ContextView                  `json:"contexts"`
	Groups           []GroupView                    `json:"groups"`
	CompletedCounts  map[string]int64               `json:"completedCounts"`
	BuildTimeChanges []store.BuildTimeChangeRowView `json:"buildTimeChanges,omitempty"`
	BuildsPerDay     []store.BuildsPerDayRowView    `json:"buildsPerDay,omitempty"`
	LowPassRates     []store.LowPassRateRowView     `json:"lowPassRates,omitempty"`
	TimePerJob       []store.TimePerJobRowView      `json:"timePerJob,omitempty"`
	ResultChanged    []store.ResultChangedRowView   `json:"resultChanged,omitempty"`
	BuildsPerJob     []store.BuildsPerJobRowView    `json:"buildsPerJob,omitempty"`
}

// ContextView reports one context's live capacity.
type ContextView struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Busy     int    `json:"busy"`
}

// AllJobsSnapshot lists one summary row per known job name.
type AllJobsSnapshot struct {
	Jobs []JobSummary `json:"jobs"`
}

// JobSummary is one job's description plus its most recent build.
type JobSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	LastBuild   *RunView `json:"lastBuild,omitempty"`
}

// JobScope selects a single job's history page. SortField is
// allow-listed; anything unrecognized falls back to "number".
type JobScope struct {
	Name      string
	Page      int
	SortField string // one of "number", "started", "completed", "duration"
	SortDesc  bool
}

var allowedSortFields = map[string]bool{
	"number": true, "started": true, "completed": true, "duration": true,
}

const runsPerPage = 28

// JobSnapshot is the per-job history page.
type JobSnapshot struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      []RunView `json:"active"`
	Recent      []RunView `json:"recent"`
	Page        int       `json:"page"`
	SortField   string    `json:"sortField"`
	SortDesc    bool      `json:"sortDesc"`
}

// RunSnapshot is a single run's detail, including artifacts and, for
// completed runs, the full log.
type RunSnapshot struct {
	RunView
	Log       string         `json:"log,omitempty"`
	Artifacts []ArtifactView `json:"artifacts,omitempty"`
}

// ArtifactView is one persisted artifact.
type ArtifactView struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// resultLabel maps a persisted row to its display state: a null
// result with no start time is still queued, a null result with one
// is in flight.
func resultLabel(r *int, startedAt *int64) string {
	if r != nil {
		return run.Result(*r).String()
	}
	if startedAt == nil {
		return "queued"
	}
	return "running"
}

func fromActive(r *run.Run, now, etc int64) RunView {
	return RunView{
		Name:      r.JobName,
		Number:    r.BuildNumber,
		Result:    "running",
		QueuedAt:  r.QueuedAt,
		StartedAt: r.StartedAt,
		Duration:  r.Duration(now),
		Etc:       etc,
		Reason:    r.Reason,
		Node:      r.ContextName,
		Params:    r.Params,
	}
}

func fromSummary(b store.BuildSummary) RunView {
	v := RunView{
		Name:     b.Name,
		Number:   b.Number,
		QueuedAt: b.QueuedAt,
		Result:   resultLabel(b.Result, b.StartedAt),
	}
	if b.StartedAt != nil {
		v.StartedAt = *b.StartedAt
	}
	if b.CompletedAt != nil {
		v.Completed = *b.CompletedAt
		if v.StartedAt != 0 {
			v.Duration = v.Completed - v.StartedAt
		}
	}
	if b.Reason != nil {
		v.Reason = *b.Reason
	}
	if b.Node != nil {
		v.Node = *b.Node
	}
	return v
}

// Home assembles the home scope.
func (p *Projector) Home(ctx context.Context) (HomeSnapshot, error) {
	now := p.clock()

	queued := make([]RunView, 0)
	for _, r := range p.dispatcher.Queued() {
		queued = append(queued, RunView{
			Name: r.JobName, Number: r.BuildNumber,
			Result: "queued", QueuedAt: r.QueuedAt, Reason: r.Reason,
		})
	}

	running := make([]RunView, 0)
	for _, r := range p.dispatcher.Active() {
		var etc int64
		if d, ok := p.store.LastDuration(ctx, r.JobName); ok {
			etc = r.StartedAt + d
		}
		running = append(running, fromActive(r, now, etc))
	}

	contexts := make([]ContextView, 0)
	for _, c := range p.dispatcher.Contexts() {
		contexts = append(contexts, ContextView{Name: c.Name, Capacity: c.Capacity, Busy: c.Busy})
	}

	groups := make([]GroupView, 0)
	for _, g := range p.groups() {
		groups = append(groups, GroupView{Name: g.Name, Pattern: g.Pattern})
	}

	counts, err := p.store.CompletedCounts(ctx)
	if err != nil {
		return HomeSnapshot{}, err
	}

	views, err := p.store.LoadViews(ctx)
	if err != nil {
		return HomeSnapshot{}, err
	}

	return HomeSnapshot{
		Title:            p.title,
		Queued:           queued,
		Running:          running,
		Contexts:         contexts,
		Groups:           groups,
		CompletedCounts:  counts,
		BuildTimeChanges: store.ViewBuildTimeChanges(views),
		BuildsPerDay:     store.ViewBuildsPerDay(views),
		LowPassRates:     store.ViewLowPassRates(views),
		TimePerJob:       store.ViewTimePerJob(views),
		ResultChanged:    store.ViewResultChanged(views),
		BuildsPerJob:     store.ViewBuildsPerJob(views),
	}, nil
}

// AllJobs assembles the all-jobs scope: one row per job name the
// dispatcher currently knows of, joined against its most recent build.
func (p *Projector) AllJobs(ctx context.Context, jobNames []string) (AllJobsSnapshot, error) {
	out := AllJobsSnapshot{Jobs: make([]JobSummary, 0, len(jobNames))}
	for _, name := range jobNames {
		sum := JobSummary{Name: name, Description: p.descriptor(name)}
		recent, err := p.store.RecentBuilds(ctx, name, 1)
		if err != nil {
			return AllJobsSnapshot{}, err
		}
		if len(recent) > 0 {
			v := fromSummary(recent[0])
			sum.LastBuild = &v
		}
		out.Jobs = append(out.Jobs, sum)
	}
	return out, nil
}

// Job assembles the one-job scope: the job's active runs plus one
// sorted page of its history.
func (p *Projector) Job(ctx context.Context, scope JobScope) (JobSnapshot, error) {
	sortField := scope.SortField
	if !allowedSortFields[sortField] {
		sortField = "number"
	}
	page := scope.Page
	if page < 1 {
		page = 1
	}

	all, err := p.store.RecentBuilds(ctx, scope.Name, 0)
	if err != nil {
		return JobSnapshot{}, err
	}
	views := make([]RunView, len(all))
	for i, b := range all {
		views[i] = fromSummary(b)
	}
	sortRuns(views, sortField, scope.SortDesc)

	start := (page - 1) * runsPerPage
	end := start + runsPerPage
	if start > len(views) {
		start = len(views)
	}
	if end > len(views) {
		end = len(views)
	}

	now := p.clock()
	active := make([]RunView, 0)
	for _, r := range p.dispatcher.ActiveByJob(scope.Name) {
		var etc int64
		if d, ok := p.store.LastDuration(ctx, r.JobName); ok {
			etc = r.StartedAt + d
		}
		active = append(active, fromActive(r, now, etc))
	}

	return JobSnapshot{
		Name:        scope.Name,
		Description: p.descriptor(scope.Name),
		Active:      active,
		Recent:      views[start:end],
		Page:        page,
		SortField:   sortField,
		SortDesc:    scope.SortDesc,
	}, nil
}

func sortRuns(views []RunView, field string, desc bool) {
	less := func(i, j int) bool {
		switch field {
		case "started":
			return views[i].StartedAt < views[j].StartedAt
		case "completed":
			return views[i].Completed < views[j].Completed
		case "duration":
			return views[i].Duration < views[j].Duration
		default:
			return views[i].Number < views[j].Number
		}
	}
	if desc {
		sort.SliceStable(views, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(views, less)
	}
}

// Run assembles the one-run scope: full detail for a single build,
// including its log and artifacts once it has a persisted row. Active
// runs are served straight from the dispatcher's live state instead,
// since their log and result aren't committed yet.
func (p *Projector) Run(ctx context.Context, jobName string, number int64) (RunSnapshot, error) {
	for _, r := range p.dispatcher.ActiveByJob(jobName) {
		if r.BuildNumber == number {
			now := p.clock()
			var etc int64
			if d, ok := p.store.LastDuration(ctx, jobName); ok {
				etc = r.StartedAt + d
			}
			return RunSnapshot{RunView: fromActive(r, now, etc), Log: string(r.Log())}, nil
		}
	}

	b, err := p.store.GetBuild(ctx, jobName, number)
	if err != nil {
		return RunSnapshot{}, err
	}
	artifacts, err := p.store.GetArtifacts(ctx, jobName, number)
	if err != nil {
		return RunSnapshot{}, err
	}

	v := RunView{Name: b.Name, Number: b.Number, QueuedAt: b.QueuedAt, Result: resultLabel(b.Result, b.StartedAt)}
	if b.StartedAt != nil {
		v.StartedAt = *b.StartedAt
	}
	if b.CompletedAt != nil {
		v.Completed = *b.CompletedAt
		v.Duration = v.Completed - v.StartedAt
	}
	if b.Reason != nil {
		v.Reason = *b.Reason
	}
	if b.Node != nil {
		v.Node = *b.Node
	}

	out := RunSnapshot{RunView: v, Log: string(b.Output)}
	for _, a := range artifacts {
		out.Artifacts = append(out.Artifacts, ArtifactView{Filename: a.Filename, Size: a.Filesize})
	}
	return out, nil
}
