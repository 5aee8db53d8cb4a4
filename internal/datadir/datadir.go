// Package datadir validates and creates the on-disk layout tendwatch
// persists all of its state under.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout names every top-level entry created under a data directory.
type Layout struct {
	Root          string
	ConfigFile    string
	CoreMemory    string
	TrustFile     string
	UsersDir      string
	HistoryDir    string
	LogsDir       string
	UsageDir      string
	WorkersDir    string
	UpdateCheck   string
}

// New computes the layout for root without touching the filesystem.
func New(root string) Layout {
	return Layout{
		Root:        root,
		ConfigFile:  filepath.Join(root, "config.yml"),
		CoreMemory:  filepath.Join(root, "core-memory.md"),
		TrustFile:   filepath.Join(root, "trust-approvals.json"),
		UsersDir:    filepath.Join(root, "users"),
		HistoryDir:  filepath.Join(root, "history"),
		LogsDir:     filepath.Join(root, "logs"),
		UsageDir:    filepath.Join(root, "usage"),
		WorkersDir:  filepath.Join(root, "workers"),
		UpdateCheck: filepath.Join(root, ".update-check"),
	}
}

// UserDir returns the per-user subdirectory of UsersDir, e.g. for
// memory.db / projections.db.
func (l Layout) UserDir(userID string) string {
	return filepath.Join(l.UsersDir, userID)
}

// Bootstrap validates root (refusing if it's an existing non-directory) and
// creates every directory the layout names. It does not create the files
// themselves — those are created lazily by their owning stores on first
// write, so a read-only `memory` CLI invocation against an empty data dir
// doesn't spuriously create state.
func Bootstrap(root string) (Layout, error) {
	l := New(root)

	if info, err := os.Stat(root); err == nil {
		if !info.IsDir() {
			return Layout{}, fmt.Errorf("datadir: %s exists and is not a directory", root)
		}
	} else if !os.IsNotExist(err) {
		return Layout{}, fmt.Errorf("datadir: stat %s: %w", root, err)
	}

	dirs := []string{l.Root, l.UsersDir, l.HistoryDir, l.LogsDir, l.UsageDir, l.WorkersDir}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Layout{}, fmt.Errorf("datadir: create %s: %w", d, err)
		}
	}
	return l, nil
}

// EnsureUserDir creates (idempotently) the per-user subdirectory.
func (l Layout) EnsureUserDir(userID string) (string, error) {
	dir := l.UserDir(userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("datadir: create user dir %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureWorkerDir creates (idempotently) a worker's working directory.
func (l Layout) EnsureWorkerDir(workerID string) (string, error) {
	dir := filepath.Join(l.WorkersDir, workerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("datadir: create worker dir %s: %w", dir, err)
	}
	return dir, nil
}
