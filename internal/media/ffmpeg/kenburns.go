package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// KenBurnsFrames returns the frame count for a still-image unit whose
// narration runs for audioSeconds at the toolkit frame rate.
func KenBurnsFrames(fps int, audioSeconds float64) int {
	if fps <= 0 || audioSeconds <= 0 {
		return 0
	}
	return int(math.Round(float64(fps) * audioSeconds))
}

// KenBurnsArgs builds the ffmpeg argument list that turns a still image and
// a narration track into a video clip with a slow zoom-and-pan. The zoom
// increases linearly from 1.0 to maxZoom over the clip while the crop window
// drifts from center toward a corner.
func (t *Toolkit) KenBurnsArgs(imagePath, audioPath, outputPath string, audioSeconds, maxZoom float64) []string {
	s := t.settings
	frames := KenBurnsFrames(s.FPS, audioSeconds)
	if frames < 1 {
		frames = 1
	}
	denom := frames - 1
	if denom < 1 {
		denom = 1
	}

	// Upscale before zoompan so subpixel crop positions do not jitter.
	filter := strings.Join([]string{
		fmt.Sprintf("[0:v]scale=%d:-2", s.Width*4),
		fmt.Sprintf("zoompan=z='1+%.6f*on/%d'", maxZoom-1, denom),
		fmt.Sprintf("x='(iw-iw/zoom)/2+(iw-iw/zoom)/2*on/%d'", denom),
		fmt.Sprintf("y='(ih-ih/zoom)/2+(ih-ih/zoom)/2*on/%d'", denom),
		fmt.Sprintf("d=%d:s=%dx%d:fps=%d[v]", frames, s.Width, s.Height, s.FPS),
	}, ",")

	return []string{
		"-y",
		"-loop", "1",
		"-i", imagePath,
		"-i", audioPath,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "1:a",
		"-c:v", s.VideoCodec,
		"-c:a", s.AudioCodec,
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", s.FPS),
		"-frames:v", fmt.Sprintf("%d", frames),
		"-shortest",
		outputPath,
	}
}

// SynthesizeStill renders a still-image unit into a video clip.
func (t *Toolkit) SynthesizeStill(ctx context.Context, imagePath, audioPath, outputPath string, audioSeconds, maxZoom float64) error {
	args := t.KenBurnsArgs(imagePath, audioPath, outputPath, audioSeconds, maxZoom)
	return t.run(ctx, "synthesize still", args)
}

// StandardizeArgs builds the argument list that re-encodes an arbitrary clip
// to the pipeline's resolution and frame rate, padding to preserve aspect
// ratio. Provider clips arrive in whatever format the service emits and must
// match the narration clips before concatenation.
func (t *Toolkit) StandardizeArgs(inputPath, outputPath string) []string {
	s := t.settings
	filter := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		s.Width, s.Height, s.Width, s.Height, s.FPS)
	return []string{
		"-y",
		"-i", inputPath,
		"-vf", filter,
		"-c:v", s.VideoCodec,
		"-c:a", s.AudioCodec,
		"-pix_fmt", "yuv420p",
		outputPath,
	}
}

// Standardize re-encodes a clip to the pipeline format.
func (t *Toolkit) Standardize(ctx context.Context, inputPath, outputPath string) error {
	return t.run(ctx, "standardize", t.StandardizeArgs(inputPath, outputPath))
}
