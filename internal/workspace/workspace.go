// Package workspace manages the two on-disk trees a build touches:
// the scratch `run/<job>/<number>` directory used while a recipe
// executes, and the `archive/<job>/<number>` tree where its artifacts
// land. It enumerates artifacts, maintains the `latest` symlink, and
// prunes old scratch directories.
package workspace

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"basin/internal/dispatcher"
)

// Workspace implements dispatcher.Workspace.
type Workspace struct {
	root        string // $HOME in spec terms
	keepRundirs int
	logger      *slog.Logger
}

// New constructs a Workspace rooted at root with keepRundirs as the
// pruning depth (the caller reads LAMINAR_KEEP_RUNDIRS); negative
// values are treated as 0.
func New(root string, keepRundirs int, logger *slog.Logger) *Workspace {
	if keepRundirs < 0 {
		keepRundirs = 0
	}
	return &Workspace{root: root, keepRundirs: keepRundirs, logger: logger}
}

// RunDir returns the scratch directory for a build.
func (w *Workspace) RunDir(jobName string, number int64) string {
	return filepath.Join(w.root, "run", jobName, strconv.FormatInt(number, 10))
}

// ArchiveDir returns the artifact directory for a build.
func (w *Workspace) ArchiveDir(jobName string, number int64) string {
	return filepath.Join(w.root, "archive", jobName, strconv.FormatInt(number, 10))
}

// EnumerateArtifacts walks the archive subtree for one build. Only
// regular files become artifact records; subdirectories recurse;
// symlinks and special files are ignored.
func (w *Workspace) EnumerateArtifacts(jobName string, number int64) ([]dispatcher.Artifact, error) {
	root := w.ArchiveDir(jobName, number)
	var artifacts []dispatcher.Artifact

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&(fs.ModeSymlink|fs.ModeDevice|fs.ModeNamedPipe|fs.ModeSocket) != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		artifacts = append(artifacts, dispatcher.Artifact{
			Filename: rel,
			Size:     info.Size(),
			URL:      filepath.ToSlash(filepath.Join(jobName, strconv.FormatInt(number, 10), rel)),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return artifacts, nil
}

// UpdateLatestSymlink repoints `archive/<job>/latest` at the given
// build number.
func (w *Workspace) UpdateLatestSymlink(jobName string, number int64) error {
	jobArchive := filepath.Join(w.root, "archive", jobName)
	if err := os.MkdirAll(jobArchive, 0o755); err != nil {
		return err
	}
	link := filepath.Join(jobArchive, "latest")
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(strconv.FormatInt(number, 10), tmp); err != nil {
		return err
	}
	return os.Rename(tmp, link)
}

// Prune deletes scratch rundirs older than oldestActive − keepRundirs,
// stopping at the first directory that does not exist. Removal errors
// are logged and swallowed; they are never fatal and never retried.
func (w *Workspace) Prune(jobName string, oldestActive int64) {
	for i := oldestActive - int64(w.keepRundirs) - 1; i >= 1; i-- {
		dir := w.RunDir(jobName, i)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			if w.logger != nil {
				w.logger.Warn("prune rundir failed", "job", jobName, "number", i, "error", err)
			}
		}
	}
}
