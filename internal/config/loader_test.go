package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"basin/internal/ctxpool"
	"basin/internal/dispatcher"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	home := t.TempDir()
	loader, err := NewLoader(home, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return loader, home
}

func TestNewLoaderRejectsRelativeHome(t *testing.T) {
	if _, err := NewLoader("relative/path", nil); err != ErrHomeNotAbsolute {
		t.Fatalf("expected ErrHomeNotAbsolute, got %v", err)
	}
}

func TestNewLoaderRejectsLegacyNodes(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "cfg", "nodes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(home, nil); err != ErrLegacyNodes {
		t.Fatalf("expected ErrLegacyNodes, got %v", err)
	}
}

func TestReloadParsesContexts(t *testing.T) {
	loader, home := newTestLoader(t)
	writeFile(t, filepath.Join(home, "cfg", "contexts", "build.conf"),
		"# build pool\nEXECUTORS=2\nJOBS=unit-*, integration-*\n")

	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)

	contexts := d.Contexts()
	if len(contexts) != 1 {
		t.Fatalf("expected 1 context, got %d", len(contexts))
	}
	c := contexts[0]
	if c.Name != "build" || c.Capacity != 2 {
		t.Fatalf("unexpected context: %+v", c)
	}
	if len(c.JobPatterns) != 2 || c.JobPatterns[0] != "unit-*" || c.JobPatterns[1] != "integration-*" {
		t.Fatalf("unexpected patterns: %v", c.JobPatterns)
	}
}

func TestReloadSynthesizesDefaultContext(t *testing.T) {
	loader, _ := newTestLoader(t)
	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)

	contexts := d.Contexts()
	if len(contexts) != 1 || contexts[0].Name != ctxpool.DefaultName {
		t.Fatalf("expected synthesized default context, got %+v", contexts)
	}
	if contexts[0].Capacity != ctxpool.DefaultCapacity {
		t.Fatalf("default capacity = %d, want %d", contexts[0].Capacity, ctxpool.DefaultCapacity)
	}
}

func TestReloadPreservesContextIdentityAndBusy(t *testing.T) {
	loader, home := newTestLoader(t)
	path := filepath.Join(home, "cfg", "contexts", "build.conf")
	writeFile(t, path, "EXECUTORS=2\n")

	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)

	before := d.Contexts()[0]
	before.Acquire()

	writeFile(t, path, "EXECUTORS=5\nJOBS=nightly\n")
	loader.Reload(d)

	after := d.Contexts()[0]
	if after != before {
		t.Fatal("reload must update the existing context in place")
	}
	if after.Capacity != 5 || after.Busy != 1 {
		t.Fatalf("capacity=%d busy=%d, want 5/1", after.Capacity, after.Busy)
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	loader, home := newTestLoader(t)
	writeFile(t, filepath.Join(home, "cfg", "contexts", "a.conf"), "EXECUTORS=1\n")
	writeFile(t, filepath.Join(home, "cfg", "contexts", "b.conf"), "EXECUTORS=2\n")

	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)
	first := d.Contexts()
	loader.Reload(d)
	second := d.Contexts()

	if len(first) != len(second) {
		t.Fatalf("context count changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("context %d recreated on no-op reload", i)
		}
	}
}

func TestReloadNeverDropsLastDefault(t *testing.T) {
	loader, home := newTestLoader(t)
	path := filepath.Join(home, "cfg", "contexts", "default.conf")
	writeFile(t, path, "EXECUTORS=3\n")

	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)
	def := d.Contexts()[0]

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	loader.Reload(d)

	contexts := d.Contexts()
	if len(contexts) != 1 || contexts[0] != def {
		t.Fatalf("default must survive as the only context, got %+v", contexts)
	}
}

func TestReloadJobSpecs(t *testing.T) {
	loader, home := newTestLoader(t)
	writeFile(t, filepath.Join(home, "cfg", "jobs", "deploy.conf"),
		"CONTEXTS=prod-*\nDESCRIPTION=Ship it\n")
	writeFile(t, filepath.Join(home, "cfg", "jobs", "nightly.conf"),
		"SCHEDULE=0 2 * * *\n")
	writeFile(t, filepath.Join(home, "cfg", "jobs", "test.conf"), "")

	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)

	if got := loader.Description("deploy"); got != "Ship it" {
		t.Fatalf("description = %q", got)
	}
	names := loader.JobNames()
	if len(names) != 3 || names[0] != "deploy" || names[1] != "nightly" || names[2] != "test" {
		t.Fatalf("job names = %v", names)
	}

	schedules := loader.Schedules()
	if len(schedules) != 1 || schedules["nightly"] != "0 2 * * *" {
		t.Fatalf("schedules = %v", schedules)
	}
}

func TestReloadJobSpecsKeepsPriorOnParseError(t *testing.T) {
	loader, home := newTestLoader(t)
	path := filepath.Join(home, "cfg", "jobs", "deploy.conf")
	writeFile(t, path, "CONTEXTS=prod-*\nDESCRIPTION=Ship it\n")

	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)

	// A line past the scanner's token limit makes the parse fail; the
	// prior definition must stay in effect.
	writeFile(t, path, "DESCRIPTION="+strings.Repeat("x", bufio.MaxScanTokenSize+1)+"\n")
	loader.Reload(d)

	if got := loader.Description("deploy"); got != "Ship it" {
		t.Fatalf("prior job spec not retained after parse error: %q", got)
	}
	names := loader.JobNames()
	if len(names) != 1 || names[0] != "deploy" {
		t.Fatalf("job names after parse error = %v", names)
	}
}

func TestGroupsDefault(t *testing.T) {
	loader, _ := newTestLoader(t)
	groups := loader.Groups()
	if len(groups) != 1 || groups[0].Name != "All Jobs" || groups[0].Pattern != ".*" {
		t.Fatalf("expected default group, got %+v", groups)
	}
}

func TestGroupsParsedInFileOrder(t *testing.T) {
	loader, home := newTestLoader(t)
	writeFile(t, filepath.Join(home, "cfg", "groups.conf"),
		"# dashboard groups\nDeploys = deploy-.*\nTests = test-.*\n")

	d := dispatcher.New(nil, nil, nil, nil, loader.RecipeExists, nil)
	loader.Reload(d)

	groups := loader.Groups()
	if len(groups) != 2 || groups[0].Name != "Deploys" || groups[1].Pattern != "test-.*" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestRecipeExists(t *testing.T) {
	loader, home := newTestLoader(t)
	writeFile(t, filepath.Join(home, "cfg", "jobs", "foo.run"), "#!/bin/sh\ntrue\n")

	if !loader.RecipeExists("foo") {
		t.Error("expected foo recipe to exist")
	}
	if loader.RecipeExists("bar") {
		t.Error("expected bar recipe to be missing")
	}
}

func TestParseConfFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.conf")
	writeFile(t, path, "KEY=value\nnot a pair\n# comment\n  SPACED = padded \n")

	vals, err := parseConfFile(path)
	if err != nil {
		t.Fatalf("parseConfFile: %v", err)
	}
	if vals["KEY"] != "value" || vals["SPACED"] != "padded" {
		t.Fatalf("parsed values = %v", vals)
	}
	if len(vals) != 2 {
		t.Fatalf("expected 2 entries, got %v", vals)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a, b ,c", 3},
		{"a,,b", 2},
	}
	for _, tt := range tests {
		if got := splitList(tt.raw); len(got) != tt.want {
			t.Errorf("splitList(%q) = %v, want %d entries", tt.raw, got, tt.want)
		}
	}
}
