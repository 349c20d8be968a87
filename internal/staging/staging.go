// Package staging manages per-task scratch directories under the configured
// staging root. Every task gets an isolated workspace that is removed when
// the task reaches a terminal state, plus age-based cleanup for workspaces
// left behind by crashed runs.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const taskDirPrefix = "task-"

// Workspace is a task-scoped scratch directory tree.
type Workspace struct {
	Root      string
	Materials string
	Units     string
	Output    string
}

// Create builds the workspace directory tree for a task and returns it.
// Calling Create for an existing workspace is safe and returns the same
// paths, so retried tasks can reuse partially populated directories.
func Create(stagingRoot string, taskID int64) (*Workspace, error) {
	root := Dir(stagingRoot, taskID)
	ws := &Workspace{
		Root:      root,
		Materials: filepath.Join(root, "materials"),
		Units:     filepath.Join(root, "units"),
		Output:    filepath.Join(root, "output"),
	}
	for _, dir := range []string{ws.Materials, ws.Units, ws.Output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create staging directory %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Dir returns the workspace root for a task without creating it.
func Dir(stagingRoot string, taskID int64) string {
	return filepath.Join(stagingRoot, fmt.Sprintf("%s%d", taskDirPrefix, taskID))
}

// Remove deletes a task workspace. Missing workspaces are not an error.
func Remove(stagingRoot string, taskID int64) error {
	root := Dir(stagingRoot, taskID)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove staging directory %s: %w", root, err)
	}
	return nil
}

// ListTaskIDs returns the task IDs that currently have workspaces under
// the staging root.
func ListTaskIDs(stagingRoot string) ([]int64, error) {
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read staging root: %w", err)
	}
	var ids []int64
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), taskDirPrefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(entry.Name(), taskDirPrefix), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CleanStale removes workspaces whose contents have not been modified for
// longer than maxAge. Returns the task IDs that were removed.
func CleanStale(stagingRoot string, maxAge time.Duration, now time.Time) ([]int64, error) {
	ids, err := ListTaskIDs(stagingRoot)
	if err != nil {
		return nil, err
	}
	var removed []int64
	for _, id := range ids {
		root := Dir(stagingRoot, id)
		modified, err := newestModTime(root)
		if err != nil {
			continue
		}
		if now.Sub(modified) <= maxAge {
			continue
		}
		if err := os.RemoveAll(root); err != nil {
			return removed, fmt.Errorf("remove stale workspace %s: %w", root, err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}

// CleanOrphaned removes workspaces whose task IDs are not in the active set.
// Returns the task IDs that were removed.
func CleanOrphaned(stagingRoot string, active map[int64]bool) ([]int64, error) {
	ids, err := ListTaskIDs(stagingRoot)
	if err != nil {
		return nil, err
	}
	var removed []int64
	for _, id := range ids {
		if active[id] {
			continue
		}
		if err := Remove(stagingRoot, id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}

func newestModTime(root string) (time.Time, error) {
	info, err := os.Stat(root)
	if err != nil {
		return time.Time{}, err
	}
	newest := info.ModTime()
	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		fi, err := entry.Info()
		if err != nil {
			return nil
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return newest, nil
}
