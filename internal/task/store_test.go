package task_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"montage/internal/task"
)

func newStore(t *testing.T) *task.Store {
	t.Helper()
	store, err := task.OpenPath(filepath.Join(t.TempDir(), "montage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleUnits() []task.Unit {
	return []task.Unit{
		{Kind: task.UnitStill, ImageKey: "materials/s1/img-0.png", AudioKey: "materials/s1/voice-0.mp3", Text: "opening line"},
		{Kind: task.UnitTransition, StartImageKey: "materials/s1/img-0.png", EndImageKey: "materials/s1/img-1.png", Prompt: "slow dissolve"},
		{Kind: task.UnitStill, ImageKey: "materials/s1/img-1.png", AudioKey: "materials/s1/voice-1.mp3", Text: "closing line"},
	}
}

func createTask(t *testing.T, store *task.Store, subject string) *task.Task {
	t.Helper()
	created, err := store.Create(context.Background(), &task.Task{
		SubjectID: subject,
		Title:     "episode one",
		BGMVolume: 0.3,
		BGMLoop:   true,
		Dedupe:    true,
	}, sampleUnits())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func TestCreateAndFetch(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := createTask(t, store, "subject-1")

	if created.ID == 0 {
		t.Fatal("expected assigned ID")
	}
	if created.Status != task.StatusPending {
		t.Fatalf("status = %s", created.Status)
	}

	fetched, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched == nil || fetched.SubjectID != "subject-1" {
		t.Fatalf("fetched = %+v", fetched)
	}

	units, err := store.UnitsByTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 3 {
		t.Fatalf("unit count = %d", len(units))
	}
	for i, unit := range units {
		if unit.Position != i {
			t.Fatalf("unit %d position = %d", i, unit.Position)
		}
	}
	if units[1].Kind != task.UnitTransition {
		t.Fatalf("unit 1 kind = %s", units[1].Kind)
	}
}

func TestCreateRejectsSecondLiveTask(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	createTask(t, store, "subject-1")

	_, err := store.Create(ctx, &task.Task{SubjectID: "subject-1"}, sampleUnits())
	if !errors.Is(err, task.ErrActiveConflict) {
		t.Fatalf("err = %v, want active conflict", err)
	}

	// A different subject is unaffected.
	if _, err := store.Create(ctx, &task.Task{SubjectID: "subject-2"}, sampleUnits()); err != nil {
		t.Fatalf("second subject: %v", err)
	}
}

func TestNextPendingClaimsOldest(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	first := createTask(t, store, "subject-1")
	createTask(t, store, "subject-2")

	claimed, err := store.NextPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("claimed = %+v, want task %d", claimed, first.ID)
	}
	if claimed.Status != task.StatusValidating {
		t.Fatalf("claimed status = %s", claimed.Status)
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("claim should set heartbeat")
	}

	second, err := store.NextPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("second claim = %+v", second)
	}

	empty, err := store.NextPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if empty != nil {
		t.Fatalf("empty queue returned %+v", empty)
	}
}

func TestTransitionEnforcesOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := createTask(t, store, "subject-1")

	if _, err := store.Transition(ctx, created.ID, task.StatusValidating); err != nil {
		t.Fatalf("pending -> validating: %v", err)
	}
	if _, err := store.Transition(ctx, created.ID, task.StatusDownloadingMaterials); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(ctx, created.ID, task.StatusSynthesizingVideos); err != nil {
		t.Fatal(err)
	}
	// Skipping the optional subtitle and BGM stages is a legal forward move.
	if _, err := store.Transition(ctx, created.ID, task.StatusConcatenating); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(ctx, created.ID, task.StatusUploading); err != nil {
		t.Fatalf("skip optional stages: %v", err)
	}

	// Backward moves are rejected.
	if _, err := store.Transition(ctx, created.ID, task.StatusValidating); err == nil {
		t.Fatal("backward transition should fail")
	}

	if _, err := store.Transition(ctx, created.ID, task.StatusFailed); err != nil {
		t.Fatalf("processing -> failed: %v", err)
	}
	if _, err := store.Transition(ctx, created.ID, task.StatusCompleted); err == nil {
		t.Fatal("failed -> completed should be rejected")
	}
}

func TestRetryPreservesUnitCaches(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := createTask(t, store, "subject-1")

	units, err := store.UnitsByTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.StoreCache(ctx, units[0].ID, "key-a", "units/1/unit-000.mp4", 5.0, 150); err != nil {
		t.Fatalf("StoreCache: %v", err)
	}

	if _, err := store.Transition(ctx, created.ID, task.StatusValidating); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(ctx, created.ID, task.StatusFailed); err != nil {
		t.Fatal(err)
	}

	retried, err := store.Retry(ctx, created.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != task.StatusPending || retried.RetryCount != 1 {
		t.Fatalf("retried = %+v", retried)
	}
	if retried.ErrorMessage != "" {
		t.Fatal("retry should clear error message")
	}

	unit, hit, err := store.LookupCache(ctx, units[0].ID, "key-a")
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Fatal("cache should survive retry")
	}
	if unit.CachedRemoteKey != "units/1/unit-000.mp4" || unit.CachedFrames != 150 {
		t.Fatalf("cached unit = %+v", unit)
	}
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	store := newStore(t)
	created := createTask(t, store, "subject-1")
	if _, err := store.Retry(context.Background(), created.ID); err == nil {
		t.Fatal("retry of pending task should fail")
	}
}

func TestLookupCacheMissOnChangedKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := createTask(t, store, "subject-1")
	units, err := store.UnitsByTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.StoreCache(ctx, units[0].ID, "key-a", "units/1/u0.mp4", 5, 150); err != nil {
		t.Fatal(err)
	}
	if _, hit, err := store.LookupCache(ctx, units[0].ID, "key-b"); err != nil || hit {
		t.Fatalf("changed key lookup: hit=%v err=%v", hit, err)
	}

	if err := store.InvalidateCache(ctx, units[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, hit, err := store.LookupCache(ctx, units[0].ID, "key-a"); err != nil || hit {
		t.Fatalf("invalidated lookup: hit=%v err=%v", hit, err)
	}
}

func TestDeleteRequiresTerminalState(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := createTask(t, store, "subject-1")

	if err := store.Delete(ctx, created.ID); !errors.Is(err, task.ErrNotDeletable) {
		t.Fatalf("delete pending task err = %v", err)
	}

	if _, err := store.Transition(ctx, created.ID, task.StatusValidating); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(ctx, created.ID, task.StatusFailed); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete failed task: %v", err)
	}

	units, err := store.UnitsByTask(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 0 {
		t.Fatalf("units should cascade, got %d", len(units))
	}
}

func TestReclaimStale(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	createTask(t, store, "subject-1")

	claimed, err := store.NextPending(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}

	// Cutoff in the future makes the fresh heartbeat look stale.
	ids, err := store.ReclaimStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != claimed.ID {
		t.Fatalf("reclaimed = %v", ids)
	}

	reclaimed, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed.Status != task.StatusFailed {
		t.Fatalf("status after reclaim = %s", reclaimed.Status)
	}
}

func TestHealthSummary(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	createTask(t, store, "subject-1")
	second := createTask(t, store, "subject-2")

	if _, err := store.Transition(ctx, second.ID, task.StatusValidating); err != nil {
		t.Fatal(err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Processing != 1 {
		t.Fatalf("health = %+v", health)
	}
}

func TestCacheKeyForIsStableAndSensitive(t *testing.T) {
	unit := &task.Unit{
		Kind:     task.UnitStill,
		ImageKey: "materials/s1/img.png",
		AudioKey: "materials/s1/voice.mp3",
	}
	fp := task.RenderFingerprint{Width: 720, Height: 1280, FPS: 30, VideoCodec: "libx264", AudioCodec: "aac", MaxZoom: 1.15}

	a := task.CacheKeyFor(unit, fp)
	b := task.CacheKeyFor(unit, fp)
	if a != b {
		t.Fatal("cache key should be deterministic")
	}

	fp.FPS = 24
	if task.CacheKeyFor(unit, fp) == a {
		t.Fatal("fps change should change the key")
	}

	fp.FPS = 30
	unit.AudioKey = "materials/s1/voice-v2.mp3"
	if task.CacheKeyFor(unit, fp) == a {
		t.Fatal("input change should change the key")
	}
}
