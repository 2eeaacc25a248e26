package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func mkArtifact(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEnumerateArtifacts(t *testing.T) {
	root := t.TempDir()
	w := New(root, 0, nil)

	archive := w.ArchiveDir("foo", 3)
	mkArtifact(t, filepath.Join(archive, "report.xml"), "<ok/>")
	mkArtifact(t, filepath.Join(archive, "bin", "app"), "ELF")
	if err := os.Symlink("report.xml", filepath.Join(archive, "link")); err != nil {
		t.Fatal(err)
	}

	artifacts, err := w.EnumerateArtifacts("foo", 3)
	if err != nil {
		t.Fatalf("EnumerateArtifacts: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts (symlink ignored), got %+v", artifacts)
	}

	byName := make(map[string]int64)
	for _, a := range artifacts {
		byName[a.Filename] = a.Size
	}
	if byName["report.xml"] != 5 {
		t.Errorf("report.xml size = %d, want 5", byName["report.xml"])
	}
	if byName[filepath.Join("bin", "app")] != 3 {
		t.Errorf("bin/app size = %d, want 3", byName[filepath.Join("bin", "app")])
	}
}

func TestEnumerateArtifactsMissingDir(t *testing.T) {
	w := New(t.TempDir(), 0, nil)
	artifacts, err := w.EnumerateArtifacts("ghost", 1)
	if err != nil {
		t.Fatalf("missing archive dir must not error: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("expected no artifacts, got %+v", artifacts)
	}
}

func TestUpdateLatestSymlink(t *testing.T) {
	root := t.TempDir()
	w := New(root, 0, nil)

	if err := w.UpdateLatestSymlink("foo", 1); err != nil {
		t.Fatalf("UpdateLatestSymlink: %v", err)
	}
	if err := w.UpdateLatestSymlink("foo", 2); err != nil {
		t.Fatalf("repoint: %v", err)
	}

	target, err := os.Readlink(filepath.Join(root, "archive", "foo", "latest"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "2" {
		t.Fatalf("latest -> %q, want 2", target)
	}
}

func mkRundirs(t *testing.T, w *Workspace, job string, numbers ...int64) {
	t.Helper()
	for _, n := range numbers {
		if err := os.MkdirAll(w.RunDir(job, n), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func existing(t *testing.T, w *Workspace, job string, upTo int64) []int64 {
	t.Helper()
	var out []int64
	for i := int64(1); i <= upTo; i++ {
		if _, err := os.Stat(w.RunDir(job, i)); err == nil {
			out = append(out, i)
		}
	}
	return out
}

func TestPruneKeepZeroRetainsActive(t *testing.T) {
	w := New(t.TempDir(), 0, nil)
	mkRundirs(t, w, "foo", 1, 2, 3, 4, 5)

	w.Prune("foo", 5)

	got := existing(t, w, "foo", 5)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected only rundir 5 retained, got %v", got)
	}
}

func TestPruneRespectsKeepRundirs(t *testing.T) {
	w := New(t.TempDir(), 2, nil)
	mkRundirs(t, w, "foo", 1, 2, 3, 4, 5)

	w.Prune("foo", 5)

	got := existing(t, w, "foo", 5)
	if len(got) != 3 || got[0] != 3 {
		t.Fatalf("expected rundirs 3..5 retained, got %v", got)
	}
}

func TestPruneStopsAtFirstMissing(t *testing.T) {
	w := New(t.TempDir(), 0, nil)
	mkRundirs(t, w, "foo", 1, 2, 4) // 3 is missing

	w.Prune("foo", 5)

	got := existing(t, w, "foo", 5)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected pruning to stop at the gap, got %v", got)
	}
}

func TestPruneIsIdempotent(t *testing.T) {
	w := New(t.TempDir(), 0, nil)
	mkRundirs(t, w, "foo", 1, 2, 3)

	w.Prune("foo", 3)
	first := existing(t, w, "foo", 3)
	w.Prune("foo", 3)
	second := existing(t, w, "foo", 3)

	if len(first) != len(second) {
		t.Fatalf("second prune removed more: %v -> %v", first, second)
	}
}

func TestNegativeKeepClampedToZero(t *testing.T) {
	w := New(t.TempDir(), -3, nil)
	if w.keepRundirs != 0 {
		t.Fatalf("keepRundirs = %d, want 0", w.keepRundirs)
	}
}
