// Package synthesis renders content units into uniform video clips. Still
// units are animated locally with a zoom-and-pan over their narration;
// transition units are generated by the external provider and standardized
// to the pipeline format. Rendered clips are cached in object storage keyed
// by their inputs so a retried task never re-renders finished work.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/media/ffprobe"
	"montage/internal/provider"
	"montage/internal/services"
	"montage/internal/staging"
	"montage/internal/storage"
	"montage/internal/task"
)

// CacheStore is the slice of the task store the worker needs.
type CacheStore interface {
	LookupCache(ctx context.Context, unitID int64, cacheKey string) (*task.Unit, bool, error)
	StoreCache(ctx context.Context, unitID int64, cacheKey, remoteKey string, duration float64, frames int) error
}

// Prober measures a rendered or downloaded media file.
type Prober func(ctx context.Context, path string) (ffprobe.Result, error)

// UnitClip is the result of rendering one unit.
type UnitClip struct {
	Unit      *task.Unit
	Path      string
	Duration  float64
	Frames    int
	FromCache bool
}

// Worker renders individual units.
type Worker struct {
	toolkit    *ffmpeg.Toolkit
	store      CacheStore
	objects    storage.Gateway
	generator  provider.Gateway
	probe      Prober
	poll       provider.PollSettings
	cacheScope string
	presignTTL time.Duration
	maxZoom    float64
	logger     *slog.Logger
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Toolkit    *ffmpeg.Toolkit
	Store      CacheStore
	Objects    storage.Gateway
	Generator  provider.Gateway
	Probe      Prober
	Poll       provider.PollSettings
	CacheScope string
	PresignTTL time.Duration
	MaxZoom    float64
	Logger     *slog.Logger
}

// NewWorker builds a Worker. Generator may be nil when the task has no
// transition units.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Toolkit == nil {
		return nil, fmt.Errorf("synthesis: toolkit is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("synthesis: cache store is required")
	}
	if opts.Objects == nil {
		return nil, fmt.Errorf("synthesis: storage gateway is required")
	}
	if opts.Probe == nil {
		opts.Probe = func(ctx context.Context, path string) (ffprobe.Result, error) {
			return ffprobe.Inspect(ctx, "ffprobe", path)
		}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.CacheScope == "" {
		opts.CacheScope = "units"
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	if opts.MaxZoom < 1 {
		opts.MaxZoom = 1.15
	}
	return &Worker{
		toolkit:    opts.Toolkit,
		store:      opts.Store,
		objects:    opts.Objects,
		generator:  opts.Generator,
		probe:      opts.Probe,
		poll:       opts.Poll,
		cacheScope: opts.CacheScope,
		presignTTL: opts.PresignTTL,
		maxZoom:    opts.MaxZoom,
		logger:     opts.Logger,
	}, nil
}

func (w *Worker) fingerprint() task.RenderFingerprint {
	s := w.toolkit.Settings()
	return task.RenderFingerprint{
		Width:      s.Width,
		Height:     s.Height,
		FPS:        s.FPS,
		VideoCodec: s.VideoCodec,
		AudioCodec: s.AudioCodec,
		MaxZoom:    w.maxZoom,
	}
}

// Render produces the clip for one unit, consulting the cache first. The
// returned clip path lives under the task workspace.
func (w *Worker) Render(ctx context.Context, ws *staging.Workspace, unit *task.Unit) (UnitClip, error) {
	cacheKey := task.CacheKeyFor(unit, w.fingerprint())
	clipPath := filepath.Join(ws.Units, fmt.Sprintf("unit-%03d.mp4", unit.Position))
	logger := w.logger.With(
		logging.Int64(logging.FieldUnitID, unit.ID),
		logging.Int("position", unit.Position))

	cached, hit, err := w.store.LookupCache(ctx, unit.ID, cacheKey)
	if err != nil {
		return UnitClip{}, err
	}
	if hit {
		if err := w.objects.Download(ctx, cached.CachedRemoteKey, clipPath); err == nil {
			logger.Info("unit clip restored from cache",
				logging.String("remote_key", cached.CachedRemoteKey))
			return UnitClip{
				Unit:      cached,
				Path:      clipPath,
				Duration:  cached.CachedDuration,
				Frames:    cached.CachedFrames,
				FromCache: true,
			}, nil
		}
		// The cache row outlived the object. Render fresh.
		logger.Warn("cached clip missing from storage; re-rendering")
	}

	switch unit.Kind {
	case task.UnitStill:
		err = w.renderStill(ctx, ws, unit, clipPath)
	case task.UnitTransition:
		err = w.renderTransition(ctx, ws, unit, clipPath)
	default:
		err = services.Wrap(services.ErrValidation, "synthesis", "render",
			fmt.Sprintf("unknown unit kind %q", unit.Kind), nil)
	}
	if err != nil {
		return UnitClip{}, err
	}

	probed, err := w.probe(ctx, clipPath)
	if err != nil {
		return UnitClip{}, services.Wrap(services.ErrExternalTool, "synthesis", "probe clip",
			clipPath, err)
	}
	duration := probed.DurationSeconds()
	frames := probed.FrameCount()

	remoteKey := fmt.Sprintf("%s/%d/unit-%03d.mp4", w.cacheScope, unit.TaskID, unit.Position)
	if err := w.objects.Upload(ctx, clipPath, remoteKey); err != nil {
		return UnitClip{}, err
	}
	if err := w.store.StoreCache(ctx, unit.ID, cacheKey, remoteKey, duration, frames); err != nil {
		return UnitClip{}, err
	}

	logger.Info("unit clip rendered",
		logging.Float64("duration_seconds", duration),
		logging.Int("frames", frames))
	return UnitClip{Unit: unit, Path: clipPath, Duration: duration, Frames: frames}, nil
}

// renderStill animates a still image over its narration track. The clip
// length follows the audio.
func (w *Worker) renderStill(ctx context.Context, ws *staging.Workspace, unit *task.Unit, clipPath string) error {
	imagePath := filepath.Join(ws.Materials, filepath.Base(unit.ImageKey))
	audioPath := filepath.Join(ws.Materials, filepath.Base(unit.AudioKey))

	probed, err := w.probe(ctx, audioPath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "synthesis", "probe narration",
			audioPath, err)
	}
	audioSeconds := probed.DurationSeconds()
	if audioSeconds <= 0 {
		return services.Wrap(services.ErrValidation, "synthesis", "probe narration",
			fmt.Sprintf("narration %s has zero duration", filepath.Base(audioPath)), nil)
	}

	return w.toolkit.SynthesizeStill(ctx, imagePath, audioPath, clipPath, audioSeconds, w.maxZoom)
}

// renderTransition asks the provider for a clip between two keyframes, then
// standardizes it to the pipeline format.
func (w *Worker) renderTransition(ctx context.Context, ws *staging.Workspace, unit *task.Unit, clipPath string) error {
	if w.generator == nil {
		return services.Wrap(services.ErrConfiguration, "synthesis", "render transition",
			"no generation provider configured", nil)
	}

	startURL, err := w.objects.PresignedURL(ctx, unit.StartImageKey, w.presignTTL)
	if err != nil {
		return err
	}
	endURL, err := w.objects.PresignedURL(ctx, unit.EndImageKey, w.presignTTL)
	if err != nil {
		return err
	}

	jobID, err := w.generator.Submit(ctx, provider.GenerationRequest{
		StartImageURL: startURL,
		EndImageURL:   endURL,
		Prompt:        unit.Prompt,
	})
	if err != nil {
		return err
	}

	status, err := provider.WaitForJob(ctx, w.generator, jobID, w.poll, w.logger)
	if err != nil {
		return err
	}
	if status.State != provider.JobSucceeded {
		return services.Wrap(services.ErrProvider, "synthesis", "render transition",
			fmt.Sprintf("generation job %s failed: %s", jobID, status.Message), nil)
	}
	if status.VideoURL == "" {
		return services.Wrap(services.ErrProvider, "synthesis", "render transition",
			fmt.Sprintf("generation job %s succeeded without a clip URL", jobID), nil)
	}

	rawPath := filepath.Join(ws.Units, fmt.Sprintf("unit-%03d.raw.mp4", unit.Position))
	if err := w.generator.Fetch(ctx, status.VideoURL, rawPath); err != nil {
		return err
	}
	return w.toolkit.Standardize(ctx, rawPath, clipPath)
}
