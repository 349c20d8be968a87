package staging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"montage/internal/staging"
)

func TestCreateAndRemove(t *testing.T) {
	root := t.TempDir()
	ws, err := staging.Create(root, 42)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, dir := range []string{ws.Materials, ws.Units, ws.Output} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory at %s", dir)
		}
	}

	again, err := staging.Create(root, 42)
	if err != nil {
		t.Fatalf("Create twice: %v", err)
	}
	if again.Root != ws.Root {
		t.Fatalf("workspace root changed on second create: %s vs %s", again.Root, ws.Root)
	}

	if err := staging.Remove(root, 42); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Fatal("workspace should be gone")
	}

	if err := staging.Remove(root, 42); err != nil {
		t.Fatalf("Remove missing workspace: %v", err)
	}
}

func TestListTaskIDsIgnoresForeignEntries(t *testing.T) {
	root := t.TempDir()
	for _, id := range []int64{1, 7} {
		if _, err := staging.Create(root, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "not-a-task"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "task-junk"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := staging.ListTaskIDs(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want two entries", ids)
	}
}

func TestCleanStale(t *testing.T) {
	root := t.TempDir()
	ws, err := staging.Create(root, 9)
	if err != nil {
		t.Fatal(err)
	}

	old := time.Now().Add(-48 * time.Hour)
	for _, dir := range []string{ws.Root, ws.Materials, ws.Units, ws.Output} {
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := staging.CleanStale(root, 24*time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != 9 {
		t.Fatalf("removed = %v, want [9]", removed)
	}
}

func TestCleanStaleKeepsRecent(t *testing.T) {
	root := t.TempDir()
	if _, err := staging.Create(root, 3); err != nil {
		t.Fatal(err)
	}
	removed, err := staging.CleanStale(root, 24*time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none", removed)
	}
}

func TestCleanOrphaned(t *testing.T) {
	root := t.TempDir()
	for _, id := range []int64{1, 2, 3} {
		if _, err := staging.Create(root, id); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := staging.CleanOrphaned(root, map[int64]bool{2: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want two orphans", removed)
	}
	ids, err := staging.ListTaskIDs(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("surviving ids = %v, want [2]", ids)
	}
}
