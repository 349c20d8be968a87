// Package concat stitches rendered unit clips into one continuous video.
// The splice can trim a fixed number of frames from the head of every clip
// after the first, compensating for providers that repeat the previous
// clip's tail frame at each boundary.
package concat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/media/ffprobe"
	"montage/internal/services"
	"montage/internal/synthesis"
)

// Prober measures the stitched output.
type Prober func(ctx context.Context, path string) (ffprobe.Result, error)

// Result describes the stitched video.
type Result struct {
	Path     string
	Duration float64
	Frames   int
	Deduped  bool
}

// Concatenator joins unit clips in order.
type Concatenator struct {
	toolkit *ffmpeg.Toolkit
	probe   Prober
	logger  *slog.Logger
}

// New builds a Concatenator.
func New(toolkit *ffmpeg.Toolkit, probe Prober, logger *slog.Logger) *Concatenator {
	if probe == nil {
		probe = func(ctx context.Context, path string) (ffprobe.Result, error) {
			return ffprobe.Inspect(ctx, "ffprobe", path)
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Concatenator{toolkit: toolkit, probe: probe, logger: logger}
}

// ExpectedFrames computes the stitched frame count: the first clip whole,
// plus every later clip minus the trim. Clips too short to trim contribute
// all of their frames.
func ExpectedFrames(clips []synthesis.UnitClip, trimFrames int) int {
	total := 0
	for i, clip := range clips {
		if i == 0 || trimFrames <= 0 || clip.Frames <= trimFrames {
			total += clip.Frames
			continue
		}
		total += clip.Frames - trimFrames
	}
	return total
}

// trimPlan maps clips to their per-clip head trim. The first clip is never
// trimmed; later clips are only trimmed when they have frames to spare.
func trimPlan(clips []synthesis.UnitClip, trimFrames int) []ffmpeg.ClipInput {
	inputs := make([]ffmpeg.ClipInput, len(clips))
	for i, clip := range clips {
		trim := 0
		if i > 0 && trimFrames > 0 && clip.Frames > trimFrames {
			trim = trimFrames
		}
		inputs[i] = ffmpeg.ClipInput{Path: clip.Path, TrimFrames: trim}
	}
	return inputs
}

// Stitch joins the clips in order. When dedupe is set and trimFrames is
// positive the splice goes through the trimming filter graph; otherwise, or
// when the filter graph fails, it falls back to fast stream-copy
// concatenation of the untrimmed clips.
func (c *Concatenator) Stitch(ctx context.Context, clips []synthesis.UnitClip, outputPath string, trimFrames int, dedupe bool) (Result, error) {
	if len(clips) == 0 {
		return Result{}, errors.New("concat: no clips to stitch")
	}

	paths := make([]string, len(clips))
	for i, clip := range clips {
		if clip.Path == "" {
			return Result{}, fmt.Errorf("concat: clip %d has no local path", i)
		}
		paths[i] = clip.Path
	}

	deduped := false
	useDedupe := dedupe && trimFrames > 0 && len(clips) > 1
	if useDedupe {
		err := c.toolkit.DedupeConcat(ctx, trimPlan(clips, trimFrames), outputPath)
		if err == nil {
			deduped = true
		} else {
			if !errors.Is(err, services.ErrExternalTool) {
				return Result{}, err
			}
			c.logger.Warn("dedupe splice failed; falling back to stream copy",
				logging.Error(err))
		}
	}
	if !deduped {
		if err := c.toolkit.ConcatCopy(ctx, paths, outputPath); err != nil {
			return Result{}, services.Wrap(services.ErrConcatenation, "concat", "stitch",
				filepath.Base(outputPath), err)
		}
	}

	result := Result{Path: outputPath, Deduped: deduped}
	probed, err := c.probe(ctx, outputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConcatenation, "concat", "probe output",
			filepath.Base(outputPath), err)
	}
	result.Duration = probed.DurationSeconds()
	result.Frames = probed.FrameCount()

	if deduped {
		expected := ExpectedFrames(clips, trimFrames)
		// One frame of rounding slack per splice point.
		slack := len(clips) - 1
		if diff := result.Frames - expected; diff > slack || diff < -slack {
			c.logger.Warn("stitched frame count off plan",
				logging.Int("expected", expected),
				logging.Int("actual", result.Frames))
		}
	}
	return result, nil
}
