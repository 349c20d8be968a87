package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ClipInput is one clip entering concatenation. TrimFrames is the number of
// frames to drop from the clip head; zero means the clip is used whole.
type ClipInput struct {
	Path       string
	TrimFrames int
}

// ConcatManifestArgs builds the stream-copy concatenation argument list.
// All clips must already share codec, resolution, and frame rate.
func ConcatManifestArgs(manifestPath, outputPath string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	}
}

// WriteConcatManifest writes an ffmpeg concat demuxer manifest listing the
// clips in order. Single quotes in paths are escaped per the demuxer rules.
func WriteConcatManifest(manifestPath string, clipPaths []string) error {
	var b strings.Builder
	for _, path := range clipPaths {
		escaped := strings.ReplaceAll(path, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(manifestPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}
	return nil
}

// ConcatCopy joins clips by stream copy using a demuxer manifest. This is
// the fast path used when no head trimming is required.
func (t *Toolkit) ConcatCopy(ctx context.Context, clipPaths []string, outputPath string) error {
	manifest := filepath.Join(filepath.Dir(outputPath), "concat_manifest.txt")
	if err := WriteConcatManifest(manifest, clipPaths); err != nil {
		return err
	}
	return t.run(ctx, "concat copy", ConcatManifestArgs(manifest, outputPath))
}

// DedupeConcatArgs builds a filter-graph concatenation that trims the head
// of selected clips before joining. Trimming requires a re-encode, so the
// output uses the toolkit codecs rather than stream copy.
func (t *Toolkit) DedupeConcatArgs(clips []ClipInput, outputPath string) []string {
	s := t.settings
	args := []string{"-y"}
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}

	var filter strings.Builder
	for i, clip := range clips {
		start := float64(clip.TrimFrames) / float64(s.FPS)
		if clip.TrimFrames > 0 {
			fmt.Fprintf(&filter, "[%d:v]trim=start=%.6f,setpts=PTS-STARTPTS[v%d];", i, start, i)
			fmt.Fprintf(&filter, "[%d:a]atrim=start=%.6f,asetpts=PTS-STARTPTS[a%d];", i, start, i)
		} else {
			fmt.Fprintf(&filter, "[%d:v]setpts=PTS-STARTPTS[v%d];", i, i)
			fmt.Fprintf(&filter, "[%d:a]asetpts=PTS-STARTPTS[a%d];", i, i)
		}
	}
	for i := range clips {
		fmt.Fprintf(&filter, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[outv][outa]", len(clips))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[outv]",
		"-map", "[outa]",
		"-c:v", s.VideoCodec,
		"-c:a", s.AudioCodec,
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", s.FPS),
		outputPath,
	)
	return args
}

// DedupeConcat joins clips while dropping trimmed head frames.
func (t *Toolkit) DedupeConcat(ctx context.Context, clips []ClipInput, outputPath string) error {
	if len(clips) == 0 {
		return fmt.Errorf("dedupe concat: no clips")
	}
	return t.run(ctx, "dedupe concat", t.DedupeConcatArgs(clips, outputPath))
}
