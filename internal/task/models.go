// Package task defines the persistent model of a composition task and its
// content units, plus the SQLite store that tracks them through the
// pipeline's status lifecycle.
package task

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a composition task.
type Status string

const (
	StatusPending              Status = "pending"
	StatusValidating           Status = "validating"
	StatusDownloadingMaterials Status = "downloading_materials"
	StatusGeneratingSubtitles  Status = "generating_subtitles"
	StatusSynthesizingVideos   Status = "synthesizing_videos"
	StatusConcatenating        Status = "concatenating"
	StatusMixingBGM            Status = "mixing_bgm"
	StatusUploading            Status = "uploading"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

// UserStopReason is the error message set when a user explicitly terminates a task.
const UserStopReason = "Stop requested by user"

// DaemonStopReason is the error message set when tasks are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusValidating,
	StatusDownloadingMaterials,
	StatusSynthesizingVideos,
	StatusConcatenating,
	StatusGeneratingSubtitles,
	StatusMixingBGM,
	StatusUploading,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusValidating:           {},
	StatusDownloadingMaterials: {},
	StatusGeneratingSubtitles:  {},
	StatusSynthesizingVideos:   {},
	StatusConcatenating:        {},
	StatusMixingBGM:            {},
	StatusUploading:            {},
}

// statusOrder fixes the forward progression through the pipeline. Optional
// stages are skipped by advancing past them in a single transition.
var statusOrder = []Status{
	StatusPending,
	StatusValidating,
	StatusDownloadingMaterials,
	StatusSynthesizingVideos,
	StatusConcatenating,
	StatusGeneratingSubtitles,
	StatusMixingBGM,
	StatusUploading,
	StatusCompleted,
}

var statusRank = func() map[Status]int {
	ranks := make(map[Status]int, len(statusOrder))
	for i, status := range statusOrder {
		ranks[status] = i
	}
	return ranks
}()

// UnitKind distinguishes the two content unit shapes.
type UnitKind string

const (
	// UnitStill is a still image animated over its narration track.
	UnitStill UnitKind = "still"
	// UnitTransition is a clip generated between two keyframe images.
	UnitTransition UnitKind = "transition"
)

// Task represents a composition task persisted in SQLite.
type Task struct {
	ID               int64
	SubjectID        string
	Title            string
	Status           Status
	ErrorMessage     string
	BGMRemoteKey     string
	BGMVolume        float64
	BGMLoop          bool
	SubtitlesEnabled bool
	TrimFrames       int
	Dedupe           bool
	FinalRemoteKey   string
	FinalDuration    float64
	ProgressStage    string
	ProgressPercent  float64
	ProgressMessage  string
	TotalUnits       int
	CompletedUnits   int
	RetryCount       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastHeartbeat    *time.Time
}

// Unit represents one ordered content unit of a task.
//
// Cache fields survive task failure: a retried task reuses any unit whose
// CacheValid flag is still set instead of re-synthesizing it.
type Unit struct {
	ID              int64
	TaskID          int64
	Position        int
	Kind            UnitKind
	ImageKey        string
	AudioKey        string
	StartImageKey   string
	EndImageKey     string
	Prompt          string
	Text            string
	CacheKey        string
	CachedRemoteKey string
	CachedDuration  float64
	CachedFrames    int
	CacheValid      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HealthSummary describes aggregated task counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (t Task) IsProcessing() bool {
	_, ok := processingStatuses[t.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status is completed or failed.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// CanAdvance reports whether a task may move from one status to another.
// Forward moves may skip optional stages (subtitles, BGM mixing) but never
// move backward. Any processing status may fail; failed tasks may only
// return to pending via retry.
func CanAdvance(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusFailed {
		return IsProcessingStatus(from) || from == StatusPending
	}
	if from == StatusFailed {
		return to == StatusPending
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}

// SetProgress updates the progress fields together.
func (t *Task) SetProgress(stage, message string, percent float64) {
	t.ProgressStage = stage
	t.ProgressMessage = message
	t.ProgressPercent = percent
}

// SetFailed marks the task as failed with the given error message. Progress
// percent is left intact so a later retry can report where the run stopped.
func (t *Task) SetFailed(message string) {
	t.Status = StatusFailed
	t.ErrorMessage = message
	t.ProgressMessage = message
	t.LastHeartbeat = nil
}

// IsUserStopReason reports whether an error message represents a user-initiated stop.
func IsUserStopReason(reason string) bool {
	return strings.EqualFold(strings.TrimSpace(reason), UserStopReason)
}
