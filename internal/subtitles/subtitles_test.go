package subtitles_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"montage/internal/subtitles"
	"montage/internal/synthesis"
	"montage/internal/task"
)

func clip(kind task.UnitKind, text string, duration float64) synthesis.UnitClip {
	return synthesis.UnitClip{
		Unit:     &task.Unit{Kind: kind, Text: text},
		Duration: duration,
	}
}

func TestBuildCuesLaysOutTimeline(t *testing.T) {
	clips := []synthesis.UnitClip{
		clip(task.UnitStill, "first line", 5),
		clip(task.UnitTransition, "", 2),
		clip(task.UnitStill, "second line", 4),
	}

	cues := subtitles.BuildCues(clips, 0)
	if len(cues) != 2 {
		t.Fatalf("cue count = %d", len(cues))
	}
	if cues[0].Start != 0 || cues[0].End.Seconds() != 5 {
		t.Fatalf("first cue = %+v", cues[0])
	}
	// Second still starts after the 5s still and 2s transition.
	if cues[1].Start.Seconds() != 7 || cues[1].End.Seconds() != 11 {
		t.Fatalf("second cue = %+v", cues[1])
	}
	if cues[1].Index != 2 {
		t.Fatalf("indexes should be sequential, got %d", cues[1].Index)
	}
}

func TestBuildCuesAccountsForTrim(t *testing.T) {
	clips := []synthesis.UnitClip{
		clip(task.UnitStill, "a", 5),
		clip(task.UnitStill, "b", 5),
	}
	cues := subtitles.BuildCues(clips, 1.0)
	if len(cues) != 2 {
		t.Fatalf("cue count = %d", len(cues))
	}
	if cues[1].Start.Seconds() != 5 {
		t.Fatalf("second cue start = %v", cues[1].Start)
	}
	if cues[1].End.Seconds() != 9 {
		t.Fatalf("trimmed clip should span 4s, end = %v", cues[1].End)
	}
}

func TestFormatSRT(t *testing.T) {
	cues := subtitles.BuildCues([]synthesis.UnitClip{
		clip(task.UnitStill, "hello there", 3.5),
	}, 0)
	srt := subtitles.FormatSRT(cues)
	if !strings.Contains(srt, "1\n00:00:00,000 --> 00:00:03,500\nhello there\n") {
		t.Fatalf("srt = %q", srt)
	}
}

func TestWriteSRTSkipsTextlessTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.srt")
	wrote, err := subtitles.WriteSRT(path, []synthesis.UnitClip{
		clip(task.UnitTransition, "", 2),
		clip(task.UnitStill, "   ", 3),
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Fatal("no cues should mean no file")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file should not exist")
	}
}

func TestWriteSRT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.srt")
	wrote, err := subtitles.WriteSRT(path, []synthesis.UnitClip{
		clip(task.UnitStill, "narration", 5),
	}, 0)
	if err != nil || !wrote {
		t.Fatalf("wrote=%v err=%v", wrote, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "narration") {
		t.Fatalf("content = %q", data)
	}
}
