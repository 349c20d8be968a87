package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"montage/internal/concat"
	"montage/internal/config"
	"montage/internal/fileutil"
	"montage/internal/logging"
	"montage/internal/mixer"
	"montage/internal/services"
	"montage/internal/staging"
	"montage/internal/storage"
	"montage/internal/subtitles"
	"montage/internal/synthesis"
	"montage/internal/task"
)

// Toolkit is the slice of the ffmpeg toolkit the handler drives directly.
type Toolkit interface {
	BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string) error
}

// Handler processes one claimed task end to end.
type Handler struct {
	cfg     *config.Config
	store   *task.Store
	objects storage.Gateway
	pool    *synthesis.Pool
	concat  *concat.Concatenator
	mixer   *mixer.Mixer
	toolkit Toolkit
	logger  *slog.Logger
}

// HandlerOptions wires a Handler.
type HandlerOptions struct {
	Config       *config.Config
	Store        *task.Store
	Objects      storage.Gateway
	Pool         *synthesis.Pool
	Concatenator *concat.Concatenator
	Mixer        *mixer.Mixer
	Toolkit      Toolkit
	Logger       *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("pipeline: config is required")
	case opts.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case opts.Objects == nil:
		return nil, errors.New("pipeline: storage gateway is required")
	case opts.Pool == nil:
		return nil, errors.New("pipeline: synthesis pool is required")
	case opts.Concatenator == nil:
		return nil, errors.New("pipeline: concatenator is required")
	case opts.Mixer == nil:
		return nil, errors.New("pipeline: mixer is required")
	case opts.Toolkit == nil:
		return nil, errors.New("pipeline: toolkit is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Handler{
		cfg:     opts.Config,
		store:   opts.Store,
		objects: opts.Objects,
		pool:    opts.Pool,
		concat:  opts.Concatenator,
		mixer:   opts.Mixer,
		toolkit: opts.Toolkit,
		logger:  opts.Logger,
	}, nil
}

// Process runs a claimed task (already in validating) to a terminal state.
// The task's staging workspace is removed on every exit; rendered unit clips
// survive in object storage for retries.
func (h *Handler) Process(ctx context.Context, t *task.Task) (err error) {
	ctx = services.WithTaskID(ctx, t.ID)
	logger := logging.WithContext(ctx, h.logger).With(
		logging.String(logging.FieldSubjectID, t.SubjectID))

	ws, wsErr := staging.Create(h.cfg.Paths.StagingDir, t.ID)
	if wsErr != nil {
		return h.fail(ctx, logger, t, wsErr)
	}
	defer func() {
		if removeErr := staging.Remove(h.cfg.Paths.StagingDir, t.ID); removeErr != nil {
			logger.Warn("staging cleanup failed", logging.Error(removeErr))
		}
	}()

	units, unitsErr := h.store.UnitsByTask(ctx, t.ID)
	if unitsErr != nil {
		return h.fail(ctx, logger, t, unitsErr)
	}

	if err := h.validate(ctx, logger, t, units); err != nil {
		return h.fail(ctx, logger, t, err)
	}

	if err := h.advance(ctx, t, task.StatusDownloadingMaterials, "downloading materials"); err != nil {
		return h.fail(ctx, logger, t, err)
	}
	if err := h.downloadMaterials(ctx, logger, ws, units); err != nil {
		return h.fail(ctx, logger, t, err)
	}

	if err := h.advance(ctx, t, task.StatusSynthesizingVideos, "synthesizing unit clips"); err != nil {
		return h.fail(ctx, logger, t, err)
	}
	outcome, renderErr := h.pool.RenderAll(ctx, ws, units, func(attempts, total int) {
		t.CompletedUnits = attempts
		t.SetProgress(string(task.StatusSynthesizingVideos),
			fmt.Sprintf("rendered %d of %d units", attempts, total),
			synthesisPercent(attempts, total))
		if err := h.store.Update(ctx, t); err != nil {
			logger.Warn("progress update failed", logging.Error(err))
		}
	})
	if renderErr != nil {
		return h.fail(ctx, logger, t, renderErr)
	}
	if len(outcome.Failures) > 0 {
		// Failed units are dropped from the final video; their siblings'
		// clips are kept so the run can still finish.
		logger.Warn("continuing without failed units",
			logging.Int("failed", len(outcome.Failures)),
			logging.Int("survived", len(outcome.Clips)),
			logging.Error(outcome.Err()))
	}
	clips := outcome.Clips
	if len(clips) == 0 {
		return h.fail(ctx, logger, t, services.Wrap(services.ErrConcatenation,
			"pipeline", "synthesize", "no unit clips survived synthesis", outcome.Err()))
	}

	if err := h.advance(ctx, t, task.StatusConcatenating, "stitching clips"); err != nil {
		return h.fail(ctx, logger, t, err)
	}
	stitchedPath := filepath.Join(ws.Output, "stitched.mp4")
	trim := t.TrimFrames
	if trim == 0 && t.Dedupe {
		trim = h.cfg.Render.TrimFrames
	}
	stitched, stitchErr := h.concat.Stitch(ctx, clips, stitchedPath, trim, t.Dedupe)
	if stitchErr != nil {
		return h.fail(ctx, logger, t, stitchErr)
	}
	current := stitched.Path

	if t.SubtitlesEnabled {
		if err := h.advance(ctx, t, task.StatusGeneratingSubtitles, "burning subtitles"); err != nil {
			return h.fail(ctx, logger, t, err)
		}
		subtitled, subErr := h.burnSubtitles(ctx, logger, ws, clips, current, trim, stitched.Deduped)
		if subErr != nil {
			return h.fail(ctx, logger, t, subErr)
		}
		current = subtitled
	}

	if t.BGMRemoteKey != "" {
		if err := h.advance(ctx, t, task.StatusMixingBGM, "mixing background music"); err != nil {
			return h.fail(ctx, logger, t, err)
		}
		mixed, mixErr := h.mixBGM(ctx, logger, ws, t, current)
		if mixErr != nil {
			return h.fail(ctx, logger, t, mixErr)
		}
		current = mixed
	}

	if err := h.advance(ctx, t, task.StatusUploading, "uploading final video"); err != nil {
		return h.fail(ctx, logger, t, err)
	}
	remoteKey := fmt.Sprintf("%s/%d/final.mp4", h.cfg.Storage.FinalVideoScope, t.ID)
	if err := h.objects.Upload(ctx, current, remoteKey); err != nil {
		return h.fail(ctx, logger, t, err)
	}

	t.Status = task.StatusCompleted
	t.FinalRemoteKey = remoteKey
	t.FinalDuration = stitched.Duration
	t.ErrorMessage = ""
	t.LastHeartbeat = nil
	t.SetProgress("completed", "final video uploaded", 100)
	if err := h.store.Update(ctx, t); err != nil {
		return err
	}

	logger.Info("task completed",
		logging.String("remote_key", remoteKey),
		logging.Float64("duration_seconds", stitched.Duration),
		logging.Int("frames", stitched.Frames))
	return nil
}

// stagePercent anchors the coarse progress reported when a run enters each
// stage. Per-unit synthesis progress interpolates between the synthesis
// anchor and the concatenation anchor.
var stagePercent = map[task.Status]float64{
	task.StatusValidating:           2,
	task.StatusDownloadingMaterials: 5,
	task.StatusSynthesizingVideos:   10,
	task.StatusConcatenating:        75,
	task.StatusGeneratingSubtitles:  82,
	task.StatusMixingBGM:            88,
	task.StatusUploading:            94,
}

func synthesisPercent(attempts, total int) float64 {
	start := stagePercent[task.StatusSynthesizingVideos]
	end := stagePercent[task.StatusConcatenating]
	return start + (end-start)*float64(attempts)/float64(total)
}

// advance moves the task forward one stage. Progress never moves backward
// within a run; it is reset only by an explicit retry.
func (h *Handler) advance(ctx context.Context, t *task.Task, to task.Status, message string) error {
	updated, err := h.store.Transition(ctx, t.ID, to)
	if err != nil {
		return err
	}
	percent := stagePercent[to]
	if percent < t.ProgressPercent {
		percent = t.ProgressPercent
	}
	*t = *updated
	t.SetProgress(string(to), message, percent)
	return h.store.Update(ctx, t)
}

// fail records the failure and returns the original error. Cancellation is
// passed through untouched so shutdown does not mark tasks failed twice.
func (h *Handler) fail(ctx context.Context, logger *slog.Logger, t *task.Task, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	logger.Error("task failed",
		logging.String("stage", string(t.Status)),
		logging.Error(cause))

	t.SetFailed(services.Details(cause).Message)
	if updateErr := h.store.Update(context.WithoutCancel(ctx), t); updateErr != nil {
		logger.Error("failed to persist task failure", logging.Error(updateErr))
	}
	return cause
}

// validate checks that every referenced material exists and the run has the
// resources it needs before any expensive work starts.
func (h *Handler) validate(ctx context.Context, logger *slog.Logger, t *task.Task, units []*task.Unit) error {
	if len(units) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "validate",
			"task has no units", nil)
	}

	hasTransitions := false
	for _, unit := range units {
		switch unit.Kind {
		case task.UnitStill:
			if unit.ImageKey == "" || unit.AudioKey == "" {
				return services.Wrap(services.ErrValidation, "pipeline", "validate",
					fmt.Sprintf("still unit %d is missing image or narration", unit.Position), nil)
			}
		case task.UnitTransition:
			hasTransitions = true
			if unit.StartImageKey == "" || unit.EndImageKey == "" {
				return services.Wrap(services.ErrValidation, "pipeline", "validate",
					fmt.Sprintf("transition unit %d is missing a keyframe", unit.Position), nil)
			}
		default:
			return services.Wrap(services.ErrValidation, "pipeline", "validate",
				fmt.Sprintf("unit %d has unknown kind %q", unit.Position, unit.Kind), nil)
		}
	}
	if hasTransitions && h.cfg.Provider.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, "pipeline", "validate",
			"task has transition units but no provider is configured", nil)
	}

	for _, key := range materialKeys(units, t) {
		if _, err := h.objects.Stat(ctx, key); err != nil {
			return services.Wrap(services.ErrValidation, "pipeline", "validate",
				fmt.Sprintf("material %s is not available", key), err)
		}
	}

	if err := fileutil.EnsureFreeSpace(h.cfg.Paths.StagingDir, h.cfg.Render.MinFreeGiB); err != nil {
		return services.Wrap(services.ErrValidation, "pipeline", "validate", "disk preflight", err)
	}

	logger.Info("task validated",
		logging.Int("units", len(units)),
		logging.Bool("has_transitions", hasTransitions))
	return nil
}

// materialKeys collects the distinct storage keys a task needs locally.
func materialKeys(units []*task.Unit, t *task.Task) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(key string) {
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, unit := range units {
		add(unit.ImageKey)
		add(unit.AudioKey)
		add(unit.StartImageKey)
		add(unit.EndImageKey)
	}
	add(t.BGMRemoteKey)
	return keys
}

// downloadMaterials fetches every referenced object into the workspace,
// bounded by the configured download concurrency.
func (h *Handler) downloadMaterials(ctx context.Context, logger *slog.Logger, ws *staging.Workspace, units []*task.Unit) error {
	keys := materialKeys(units, &task.Task{})
	sem := semaphore.NewWeighted(int64(h.cfg.Render.DownloadConcurrency))

	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release(1)
			local := filepath.Join(ws.Materials, filepath.Base(key))
			if err := h.objects.Download(ctx, key, local); err != nil {
				errs[i] = fmt.Errorf("download %s: %w", key, err)
			}
		}(i, key)
	}
	wg.Wait()

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return services.Wrap(services.ErrDownload, "pipeline", "download materials",
			fmt.Sprintf("%d of %d materials failed", len(failures), len(keys)),
			errors.Join(failures...))
	}

	logger.Info("materials downloaded", logging.Int("count", len(keys)))
	return nil
}

// burnSubtitles writes the stitched-timeline SRT and renders it onto the
// video. Tasks whose units carry no text skip the burn.
func (h *Handler) burnSubtitles(ctx context.Context, logger *slog.Logger, ws *staging.Workspace, clips []synthesis.UnitClip, videoPath string, trimFrames int, deduped bool) (string, error) {
	trimSeconds := 0.0
	if deduped {
		trimSeconds = float64(trimFrames) / float64(h.cfg.Render.FPS)
	}
	srtPath := filepath.Join(ws.Output, "subtitles.srt")
	wrote, err := subtitles.WriteSRT(srtPath, clips, trimSeconds)
	if err != nil {
		return "", err
	}
	if !wrote {
		logger.Info("no unit text; skipping subtitle burn")
		return videoPath, nil
	}

	subtitledPath := filepath.Join(ws.Output, "subtitled.mp4")
	if err := h.toolkit.BurnSubtitles(ctx, videoPath, srtPath, subtitledPath); err != nil {
		return "", err
	}
	return subtitledPath, nil
}

// mixBGM layers the background track under the stitched video. Mixing is an
// enhancement: when it fails the narration-only video ships instead, and the
// error is only propagated when the run itself was cancelled.
func (h *Handler) mixBGM(ctx context.Context, logger *slog.Logger, ws *staging.Workspace, t *task.Task, videoPath string) (string, error) {
	musicPath := filepath.Join(ws.Materials, filepath.Base(t.BGMRemoteKey))
	if _, err := fileutil.FileSize(musicPath); err != nil {
		// BGM was not part of the unit materials; fetch it now.
		if err := h.objects.Download(ctx, t.BGMRemoteKey, musicPath); err != nil {
			return "", err
		}
	}
	mixedPath := filepath.Join(ws.Output, "final.mp4")
	volume := t.BGMVolume
	if volume <= 0 {
		volume = h.cfg.Render.BGMVolume
	}
	if err := h.mixer.Mix(ctx, videoPath, musicPath, mixedPath, volume, t.BGMLoop); err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		logger.Warn("background music mix failed, keeping narration-only audio",
			logging.Error(err))
		return videoPath, nil
	}
	return mixedPath, nil
}
