package testsupport

import (
	"context"
	"strconv"
	"testing"

	"montage/internal/config"
	"montage/internal/task"
)

// MustOpenStore opens a task.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *task.Store {
	t.Helper()

	store, err := task.Open(cfg)
	if err != nil {
		t.Fatalf("task.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewStillTask creates a pending task with the given number of still units.
// Material keys follow the materials/unit-N.{png,mp3} convention.
func NewStillTask(t testing.TB, store *task.Store, subjectID string, unitCount int) *task.Task {
	t.Helper()

	units := make([]task.Unit, unitCount)
	for i := range units {
		units[i] = task.Unit{
			Position: i,
			Kind:     task.UnitStill,
			ImageKey: materialKey(subjectID, i, "png"),
			AudioKey: materialKey(subjectID, i, "mp3"),
		}
	}
	created, err := store.Create(context.Background(), &task.Task{SubjectID: subjectID, Dedupe: true}, units)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return created
}

func materialKey(subjectID string, position int, ext string) string {
	return "materials/" + subjectID + "/unit-" + strconv.Itoa(position) + "." + ext
}
