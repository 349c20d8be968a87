package ffmpeg

import (
	"context"
	"fmt"
)

// MixBGMArgs builds the argument list that layers background music under a
// video's narration. The music is attenuated to volume, the narration stays
// at full level, and output length follows the video. When loop is set the
// music repeats to cover the full duration.
func (t *Toolkit) MixBGMArgs(videoPath, musicPath, outputPath string, volume float64, loop bool) []string {
	args := []string{"-y", "-i", videoPath}
	if loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", musicPath)

	filter := fmt.Sprintf(
		"[1:a]volume=%.2f[bgm];[0:a][bgm]amix=inputs=2:duration=first:dropout_transition=0[a]",
		volume)

	args = append(args,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "[a]",
		"-c:v", "copy",
		"-c:a", t.settings.AudioCodec,
		"-shortest",
		outputPath,
	)
	return args
}

// MixBGM layers background music under the stitched video.
func (t *Toolkit) MixBGM(ctx context.Context, videoPath, musicPath, outputPath string, volume float64, loop bool) error {
	return t.run(ctx, "mix bgm", t.MixBGMArgs(videoPath, musicPath, outputPath, volume, loop))
}

// BurnSubtitlesArgs builds the argument list that renders an SRT file onto
// the video. Audio is stream copied.
func (t *Toolkit) BurnSubtitlesArgs(videoPath, subtitlePath, outputPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("subtitles=%s", subtitlePath),
		"-c:v", t.settings.VideoCodec,
		"-c:a", "copy",
		outputPath,
	}
}

// BurnSubtitles renders subtitles onto a clip.
func (t *Toolkit) BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string) error {
	return t.run(ctx, "burn subtitles", t.BurnSubtitlesArgs(videoPath, subtitlePath, outputPath))
}
