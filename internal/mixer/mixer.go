// Package mixer layers background music under a stitched video's narration.
package mixer

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/services"
)

// DefaultVolume is the attenuation applied when a task does not set one.
const DefaultVolume = 0.3

// Mixer mixes a music bed into a finished video.
type Mixer struct {
	toolkit *ffmpeg.Toolkit
	logger  *slog.Logger
}

// New builds a Mixer.
func New(toolkit *ffmpeg.Toolkit, logger *slog.Logger) *Mixer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Mixer{toolkit: toolkit, logger: logger}
}

// Mix writes a copy of videoPath with musicPath layered under the narration
// at the given volume. Narration stays at full level and output length
// follows the video. Volume outside (0, 1] falls back to the default.
func (m *Mixer) Mix(ctx context.Context, videoPath, musicPath, outputPath string, volume float64, loop bool) error {
	if videoPath == "" || musicPath == "" {
		return errors.New("mixer: video and music paths are required")
	}
	if volume <= 0 || volume > 1 {
		volume = DefaultVolume
	}

	m.logger.Info("mixing background music",
		logging.String("music", filepath.Base(musicPath)),
		logging.Float64("volume", volume),
		logging.Bool("loop", loop))

	if err := m.toolkit.MixBGM(ctx, videoPath, musicPath, outputPath, volume, loop); err != nil {
		return services.Wrap(services.ErrMixing, "mixer", "mix",
			filepath.Base(musicPath), err)
	}
	return nil
}
