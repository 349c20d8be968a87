package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"montage/internal/concat"
	"montage/internal/config"
	"montage/internal/media/ffmpeg"
	"montage/internal/media/ffprobe"
	"montage/internal/mixer"
	"montage/internal/pipeline"
	"montage/internal/provider"
	"montage/internal/staging"
	"montage/internal/storage"
	"montage/internal/synthesis"
	"montage/internal/task"
)

// stubRunner stands in for ffmpeg: it records each invocation and creates
// the output file (the last argument) so downstream steps find it.
type stubRunner struct {
	mu       sync.Mutex
	runs     [][]string
	failWhen func(args []string) error
}

func (r *stubRunner) Run(_ context.Context, _ string, args []string) ([]byte, error) {
	r.mu.Lock()
	r.runs = append(r.runs, append([]string(nil), args...))
	failWhen := r.failWhen
	r.mu.Unlock()

	if failWhen != nil {
		if err := failWhen(args); err != nil {
			return []byte("simulated ffmpeg failure"), err
		}
	}
	out := args[len(args)-1]
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, err
	}
	return nil, os.WriteFile(out, []byte("media"), 0o644)
}

func (r *stubRunner) countContaining(marker string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, run := range r.runs {
		if strings.Contains(strings.Join(run, " "), marker) {
			count++
		}
	}
	return count
}

type fixture struct {
	cfg     *config.Config
	store   *task.Store
	objects *storage.FSGateway
	runner  *stubRunner
	handler *pipeline.Handler
}

func newFixture(t *testing.T, gen provider.Gateway) *fixture {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "montaged.sock")
	cfg.Storage.RootDir = filepath.Join(base, "store")
	cfg.Render.MinFreeGiB = 0
	if gen != nil {
		cfg.Provider.BaseURL = "https://api.example.com/v1"
	}

	store, err := task.Open(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	objects, err := storage.NewFSGateway(cfg.Storage.RootDir, false)
	if err != nil {
		t.Fatal(err)
	}

	runner := &stubRunner{}
	toolkit := ffmpeg.NewToolkit("ffmpeg", ffmpeg.RenderSettings{
		Width: 720, Height: 1280, FPS: 30,
		VideoCodec: "libx264", AudioCodec: "aac",
	}, ffmpeg.WithRunner(runner))

	probe := func(_ context.Context, path string) (ffprobe.Result, error) {
		if strings.HasSuffix(path, ".mp3") {
			return ffprobe.Decode([]byte(`{"streams":[{"codec_type":"audio","duration":"5.0"}],"format":{"duration":"5.0"}}`))
		}
		return ffprobe.Decode([]byte(`{"streams":[{"codec_type":"video","r_frame_rate":"30/1","nb_frames":"150","duration":"5.0"}],"format":{"duration":"5.0"}}`))
	}

	worker, err := synthesis.NewWorker(synthesis.WorkerOptions{
		Toolkit:   toolkit,
		Store:     store,
		Objects:   objects,
		Generator: gen,
		Probe:     probe,
		Poll:      provider.PollSettings{Interval: time.Millisecond, Timeout: time.Second},
		MaxZoom:   cfg.Render.KenBurnsMaxZoom,
	})
	if err != nil {
		t.Fatal(err)
	}

	handler, err := pipeline.NewHandler(pipeline.HandlerOptions{
		Config:       &cfg,
		Store:        store,
		Objects:      objects,
		Pool:         synthesis.NewPool(worker, 2, 1, nil),
		Concatenator: concat.New(toolkit, probe, nil),
		Mixer:        mixer.New(toolkit, nil),
		Toolkit:      toolkit,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{cfg: &cfg, store: store, objects: objects, runner: runner, handler: handler}
}

func (f *fixture) putObject(t *testing.T, key string) {
	t.Helper()
	local := filepath.Join(t.TempDir(), filepath.Base(key))
	if err := os.WriteFile(local, []byte("material "+key), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.objects.Upload(context.Background(), local, key); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) createAndClaim(t *testing.T, spec *task.Task, units []task.Unit) *task.Task {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.Create(ctx, spec, units); err != nil {
		t.Fatal(err)
	}
	claimed, err := f.store.NextPending(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v", err)
	}
	return claimed
}

func stillUnits(f *fixture, t *testing.T, count int) []task.Unit {
	units := make([]task.Unit, count)
	for i := range units {
		img := fmt.Sprintf("materials/s1/img-%d.png", i)
		voice := fmt.Sprintf("materials/s1/voice-%d.mp3", i)
		f.putObject(t, img)
		f.putObject(t, voice)
		units[i] = task.Unit{Kind: task.UnitStill, ImageKey: img, AudioKey: voice,
			Text: fmt.Sprintf("line %d", i)}
	}
	return units
}

func TestProcessStillOnlyTask(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	claimed := f.createAndClaim(t, &task.Task{SubjectID: "s1", Dedupe: true}, stillUnits(f, t, 3))
	if err := f.handler.Process(ctx, claimed); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s (%s)", final.Status, final.ErrorMessage)
	}
	if final.FinalRemoteKey == "" {
		t.Fatal("final remote key not recorded")
	}
	if _, err := f.objects.Stat(ctx, final.FinalRemoteKey); err != nil {
		t.Fatalf("final video missing from storage: %v", err)
	}
	if final.TotalUnits != 3 || final.CompletedUnits != 3 {
		t.Fatalf("unit counters = %d/%d, want 3/3", final.CompletedUnits, final.TotalUnits)
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("progress = %.1f, want 100", final.ProgressPercent)
	}

	// Three Ken Burns renders plus the dedupe splice.
	if got := f.runner.countContaining("zoompan="); got != 3 {
		t.Fatalf("zoompan runs = %d", got)
	}
	if got := f.runner.countContaining("concat=n=3"); got != 1 {
		t.Fatalf("splice runs = %d", got)
	}

	// Unit clips are cached for any future retry.
	units, err := f.store.UnitsByTask(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, unit := range units {
		if !unit.CacheValid {
			t.Fatalf("unit %d not cached", unit.Position)
		}
	}

	// Workspace is removed after completion.
	if _, err := os.Stat(staging.Dir(f.cfg.Paths.StagingDir, claimed.ID)); !os.IsNotExist(err) {
		t.Fatal("staging workspace should be removed")
	}
}

type fakeGen struct {
	mu      sync.Mutex
	submits int
}

func (g *fakeGen) Submit(context.Context, provider.GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits++
	return fmt.Sprintf("job-%d", g.submits), nil
}

func (g *fakeGen) Status(_ context.Context, jobID string) (provider.JobStatus, error) {
	return provider.JobStatus{JobID: jobID, State: provider.JobSucceeded,
		VideoURL: "https://cdn.example.com/" + jobID + ".mp4"}, nil
}

func (g *fakeGen) Fetch(_ context.Context, _ string, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, []byte("generated clip"), 0o644)
}

func TestProcessFullTaskWithTransitionsSubtitlesAndBGM(t *testing.T) {
	gen := &fakeGen{}
	f := newFixture(t, gen)
	ctx := context.Background()

	units := stillUnits(f, t, 2)
	transition := task.Unit{Kind: task.UnitTransition,
		StartImageKey: units[0].ImageKey, EndImageKey: units[1].ImageKey, Prompt: "pan right"}
	ordered := []task.Unit{units[0], transition, units[1]}
	f.putObject(t, "materials/s1/bgm.mp3")

	claimed := f.createAndClaim(t, &task.Task{
		SubjectID:        "s1",
		Dedupe:           true,
		SubtitlesEnabled: true,
		BGMRemoteKey:     "materials/s1/bgm.mp3",
		BGMVolume:        0.25,
		BGMLoop:          true,
	}, ordered)

	if err := f.handler.Process(ctx, claimed); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s (%s)", final.Status, final.ErrorMessage)
	}

	if gen.submits != 1 {
		t.Fatalf("generation submits = %d", gen.submits)
	}
	if got := f.runner.countContaining("force_original_aspect_ratio"); got != 1 {
		t.Fatalf("standardize runs = %d", got)
	}
	if got := f.runner.countContaining("subtitles="); got != 1 {
		t.Fatalf("subtitle burns = %d", got)
	}
	if got := f.runner.countContaining("amix=inputs=2"); got != 1 {
		t.Fatalf("bgm mixes = %d", got)
	}
}

func TestProcessMixFailureShipsUnmixedVideo(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.putObject(t, "materials/s1/bgm.mp3")
	claimed := f.createAndClaim(t, &task.Task{
		SubjectID:    "s1",
		Dedupe:       true,
		BGMRemoteKey: "materials/s1/bgm.mp3",
	}, stillUnits(f, t, 2))

	f.runner.failWhen = func(args []string) error {
		if strings.Contains(strings.Join(args, " "), "amix=") {
			return errors.New("exit status 1")
		}
		return nil
	}
	if err := f.handler.Process(ctx, claimed); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s (%s)", final.Status, final.ErrorMessage)
	}
	if _, err := f.objects.Stat(ctx, final.FinalRemoteKey); err != nil {
		t.Fatalf("final video missing from storage: %v", err)
	}
}

func TestProcessCompletesWithSurvivingUnits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	claimed := f.createAndClaim(t, &task.Task{SubjectID: "s1", Dedupe: true}, stillUnits(f, t, 3))

	// The second unit's render blows up; its siblings still carry the task.
	f.runner.failWhen = func(args []string) error {
		if strings.Contains(strings.Join(args, " "), "voice-1.mp3") {
			return errors.New("exit status 1")
		}
		return nil
	}
	if err := f.handler.Process(ctx, claimed); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s (%s)", final.Status, final.ErrorMessage)
	}
	if _, err := f.objects.Stat(ctx, final.FinalRemoteKey); err != nil {
		t.Fatalf("final video missing from storage: %v", err)
	}

	// The splice only sees the two surviving clips.
	if got := f.runner.countContaining("concat=n=2"); got != 1 {
		t.Fatalf("splice runs = %d", got)
	}

	units, err := f.store.UnitsByTask(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, unit := range units {
		if unit.Position == 1 {
			if unit.CacheValid {
				t.Fatal("failed unit must not be cached")
			}
			continue
		}
		if !unit.CacheValid {
			t.Fatalf("surviving unit %d not cached", unit.Position)
		}
	}
}

func TestProcessFailureThenRetryReusesCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	claimed := f.createAndClaim(t, &task.Task{SubjectID: "s1", Dedupe: true}, stillUnits(f, t, 3))

	// First run: the second unit's render blows up and the splice fails
	// too, so the task lands in failed with two units already cached.
	f.runner.failWhen = func(args []string) error {
		joined := strings.Join(args, " ")
		if strings.Contains(joined, "voice-1.mp3") || strings.Contains(joined, "concat") {
			return errors.New("exit status 1")
		}
		return nil
	}
	if err := f.handler.Process(ctx, claimed); err == nil {
		t.Fatal("expected failure")
	}

	failed, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != task.StatusFailed {
		t.Fatalf("status = %s", failed.Status)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("failure reason not recorded")
	}
	// Failure keeps the last reported progress so the retry shows where
	// the previous run stopped.
	if failed.ProgressPercent <= 0 {
		t.Fatalf("progress after failure = %.1f, want > 0", failed.ProgressPercent)
	}

	firstRunZoompans := f.runner.countContaining("zoompan=")

	// Retry with the fault cleared.
	f.runner.failWhen = nil
	if _, err := f.store.Retry(ctx, claimed.ID); err != nil {
		t.Fatal(err)
	}
	reclaimed, err := f.store.NextPending(ctx)
	if err != nil || reclaimed == nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := f.handler.Process(ctx, reclaimed); err != nil {
		t.Fatalf("retry run: %v", err)
	}

	final, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("status after retry = %s (%s)", final.Status, final.ErrorMessage)
	}

	// Only the previously failed unit renders again; siblings restore from cache.
	retryZoompans := f.runner.countContaining("zoompan=") - firstRunZoompans
	if retryZoompans != 1 {
		t.Fatalf("retry re-rendered %d units, want 1", retryZoompans)
	}
}

func TestProcessRejectsMissingMaterial(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	units := []task.Unit{{Kind: task.UnitStill,
		ImageKey: "materials/s1/absent.png", AudioKey: "materials/s1/absent.mp3"}}
	claimed := f.createAndClaim(t, &task.Task{SubjectID: "s1"}, units)

	if err := f.handler.Process(ctx, claimed); err == nil {
		t.Fatal("expected validation failure")
	}
	failed, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != task.StatusFailed {
		t.Fatalf("status = %s", failed.Status)
	}
	if !strings.Contains(failed.ErrorMessage, "not available") {
		t.Fatalf("error = %q", failed.ErrorMessage)
	}

	// No ffmpeg work should have happened.
	if len(f.runner.runs) != 0 {
		t.Fatalf("runs = %d, want none", len(f.runner.runs))
	}
}

func TestProcessTransitionTaskWithoutProviderFailsValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	units := stillUnits(f, t, 2)
	transition := task.Unit{Kind: task.UnitTransition,
		StartImageKey: units[0].ImageKey, EndImageKey: units[1].ImageKey}
	claimed := f.createAndClaim(t, &task.Task{SubjectID: "s1"},
		[]task.Unit{units[0], transition, units[1]})

	if err := f.handler.Process(ctx, claimed); err == nil {
		t.Fatal("expected configuration failure")
	}
	failed, err := f.store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(failed.ErrorMessage, "no provider") {
		t.Fatalf("error = %q", failed.ErrorMessage)
	}
}
