// Package subtitles builds SRT files from unit narration text. Each still
// unit with text becomes one cue spanning its clip's slot in the stitched
// timeline; transition units are silent and produce no cue.
package subtitles

import (
	"fmt"
	"os"
	"strings"
	"time"

	"montage/internal/synthesis"
	"montage/internal/task"
)

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// BuildCues lays unit text onto the stitched timeline. Clip durations come
// from the rendered clips; trimSeconds is subtracted from every clip after
// the first, matching the splice.
func BuildCues(clips []synthesis.UnitClip, trimSeconds float64) []Cue {
	var cues []Cue
	cursor := time.Duration(0)
	index := 1
	for i, clip := range clips {
		length := clip.Duration
		if i > 0 && trimSeconds > 0 && length > trimSeconds {
			length -= trimSeconds
		}
		span := time.Duration(length * float64(time.Second))

		if clip.Unit != nil && clip.Unit.Kind == task.UnitStill {
			text := strings.TrimSpace(clip.Unit.Text)
			if text != "" {
				cues = append(cues, Cue{
					Index: index,
					Start: cursor,
					End:   cursor + span,
					Text:  text,
				})
				index++
			}
		}
		cursor += span
	}
	return cues
}

// FormatSRT renders cues in SubRip format.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for _, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			cue.Index, formatTimestamp(cue.Start), formatTimestamp(cue.End), cue.Text)
	}
	return b.String()
}

// WriteSRT writes an SRT file for the clips. Returns false when no unit has
// text, in which case no file is written.
func WriteSRT(path string, clips []synthesis.UnitClip, trimSeconds float64) (bool, error) {
	cues := BuildCues(clips, trimSeconds)
	if len(cues) == 0 {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(FormatSRT(cues)), 0o644); err != nil {
		return false, fmt.Errorf("write subtitles: %w", err)
	}
	return true, nil
}

func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	millis := d.Milliseconds()
	hours := millis / 3_600_000
	millis -= hours * 3_600_000
	minutes := millis / 60_000
	millis -= minutes * 60_000
	seconds := millis / 1000
	millis -= seconds * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
