package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"basin/internal/ctxpool"
	"basin/internal/dispatcher"
)

// ErrLegacyNodes halts startup: the legacy cfg/nodes/ directory must
// be migrated to cfg/contexts/ before the scheduler will run.
var ErrLegacyNodes = fmt.Errorf("config: legacy cfg/nodes/ directory present, migrate to cfg/contexts/")

// ErrHomeNotAbsolute halts startup: the home directory must be an
// absolute path.
var ErrHomeNotAbsolute = fmt.Errorf("config: home directory must be an absolute path")

// Loader re-parses cfg/contexts, cfg/jobs and cfg/groups.conf and
// reconciles the result against the live Dispatcher state.
type Loader struct {
	Home   string
	Logger *slog.Logger

	groups   []Group
	jobSpecs map[string]dispatcher.JobSpec
}

// NewLoader validates Home and constructs a Loader. Returns
// ErrHomeNotAbsolute or ErrLegacyNodes on fatal misconfiguration.
func NewLoader(home string, logger *slog.Logger) (*Loader, error) {
	if !filepath.IsAbs(home) {
		return nil, ErrHomeNotAbsolute
	}
	if _, err := os.Stat(filepath.Join(home, "cfg", "nodes")); err == nil {
		return nil, ErrLegacyNodes
	}
	return &Loader{Home: home, Logger: logger}, nil
}

func (l *Loader) contextsDir() string { return filepath.Join(l.Home, "cfg", "contexts") }
func (l *Loader) jobsDir() string     { return filepath.Join(l.Home, "cfg", "jobs") }
func (l *Loader) groupsFile() string  { return filepath.Join(l.Home, "cfg", "groups.conf") }

// JobsDir exposes the recipe directory for the launcher.
func (l *Loader) JobsDir() string { return l.jobsDir() }

// RecipeExists reports whether `<job>.run` exists, the only check the
// Dispatcher's Queue operation performs against configuration.
func (l *Loader) RecipeExists(jobName string) bool {
	_, err := os.Stat(filepath.Join(l.jobsDir(), jobName+".run"))
	return err == nil
}

// Groups returns the last-parsed group list (display_name -> pattern,
// in file order), defaulting to {"All Jobs": ".*"} when groups.conf is
// absent or empty.
func (l *Loader) Groups() []Group {
	if len(l.groups) == 0 {
		return []Group{{Name: "All Jobs", Pattern: ".*"}}
	}
	return l.groups
}

// Reload re-parses contexts/jobs/groups and reconciles the result
// against d. Callers follow up with Dispatcher.Reconcile, since a
// reload may unstick previously unschedulable queued runs.
func (l *Loader) Reload(d *dispatcher.Dispatcher) {
	l.reloadContexts(d)
	l.reloadJobSpecs(d)
	l.reloadGroups()
}

func (l *Loader) reloadContexts(d *dispatcher.Dispatcher) {
	names, err := sortedConfFiles(l.contextsDir())
	if err != nil {
		l.logf("list cfg/contexts: %v", err)
		return
	}

	existing := d.Contexts()
	byName := make(map[string]*ctxpool.Context, len(existing))
	for _, c := range existing {
		byName[c.Name] = c
	}

	var next []*ctxpool.Context
	for _, fname := range names {
		name := strings.TrimSuffix(fname, ".conf")
		vals, err := parseConfFile(filepath.Join(l.contextsDir(), fname))
		if err != nil {
			l.logf("parse context %s: %v (prior definition kept)", fname, err)
			if c, ok := byName[name]; ok {
				next = append(next, c)
			}
			continue
		}

		capacity := parseInt(vals["EXECUTORS"], ctxpool.DefaultCapacity)
		patterns := splitList(vals["JOBS"])

		if c, ok := byName[name]; ok {
			c.Update(capacity, patterns)
			next = append(next, c)
		} else {
			next = append(next, ctxpool.New(name, capacity, patterns))
		}
	}

	// Contexts whose file disappeared are dropped, except `default`
	// is never dropped while it would be the only context left.
	if len(next) == 0 {
		if c, ok := byName[ctxpool.DefaultName]; ok {
			next = append(next, c)
		} else {
			next = append(next, ctxpool.New(ctxpool.DefaultName, ctxpool.DefaultCapacity, nil))
		}
	}

	d.SetContexts(next)
}

func (l *Loader) reloadJobSpecs(d *dispatcher.Dispatcher) {
	names, err := sortedConfFiles(l.jobsDir())
	if err != nil {
		l.logf("list cfg/jobs: %v", err)
		return
	}

	specs := make(map[string]dispatcher.JobSpec, len(names))
	for _, fname := range names {
		name := strings.TrimSuffix(fname, ".conf")
		vals, err := parseConfFile(filepath.Join(l.jobsDir(), fname))
		if err != nil {
			l.logf("parse job %s: %v (prior definition kept)", fname, err)
			if prior, ok := l.jobSpecs[name]; ok {
				specs[name] = prior
			}
			continue
		}

		patterns := splitList(vals["CONTEXTS"])
		if len(patterns) == 0 {
			patterns = []string{ctxpool.DefaultName}
		}
		specs[name] = dispatcher.JobSpec{
			ContextPatterns: patterns,
			Description:     vals["DESCRIPTION"],
			Schedule:        vals["SCHEDULE"],
		}
	}
	d.SetJobSpecs(specs)
	l.jobSpecs = specs
}

// Schedules returns the jobs with a SCHEDULE key and their cron
// expressions, for the core's scheduled-trigger wiring.
func (l *Loader) Schedules() map[string]string {
	out := make(map[string]string)
	for name, spec := range l.jobSpecs {
		if spec.Schedule != "" {
			out[name] = spec.Schedule
		}
	}
	return out
}

// JobNames returns the known job names sorted by name, for the
// all-jobs status scope.
func (l *Loader) JobNames() []string {
	names := make([]string, 0, len(l.jobSpecs))
	for name := range l.jobSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Description returns a job's configured DESCRIPTION, or "" if unset.
func (l *Loader) Description(jobName string) string {
	return l.jobSpecs[jobName].Description
}

func (l *Loader) reloadGroups() {
	groups, err := parseGroupsFile(l.groupsFile())
	if os.IsNotExist(err) {
		l.groups = nil
		return
	}
	if err != nil {
		l.logf("parse groups.conf: %v (prior definition kept)", err)
		return
	}
	l.groups = groups
}

func (l *Loader) logf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Warn(fmt.Sprintf(format, args...))
	}
}
