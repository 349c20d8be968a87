package api

import (
	"time"

	"montage/internal/task"
)

// UnitInput describes one content unit in a task submission.
type UnitInput struct {
	Kind          string `json:"kind"`
	ImageKey      string `json:"image_key,omitempty"`
	AudioKey      string `json:"audio_key,omitempty"`
	StartImageKey string `json:"start_image_key,omitempty"`
	EndImageKey   string `json:"end_image_key,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	Text          string `json:"text,omitempty"`
}

// CreateTaskInput is a full task submission.
type CreateTaskInput struct {
	SubjectID        string      `json:"subject_id"`
	Title            string      `json:"title,omitempty"`
	Units            []UnitInput `json:"units"`
	BGMRemoteKey     string      `json:"bgm_remote_key,omitempty"`
	BGMVolume        float64     `json:"bgm_volume,omitempty"`
	BGMLoop          bool        `json:"bgm_loop,omitempty"`
	SubtitlesEnabled bool        `json:"subtitles_enabled,omitempty"`
	TrimFrames       int         `json:"trim_frames,omitempty"`
	Dedupe           bool        `json:"dedupe"`
}

// TaskView is the external representation of a task.
type TaskView struct {
	ID              int64     `json:"id"`
	SubjectID       string    `json:"subject_id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ProgressStage   string    `json:"progress_stage,omitempty"`
	ProgressPercent float64   `json:"progress_percent,omitempty"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	FinalRemoteKey  string    `json:"final_remote_key,omitempty"`
	FinalDuration   float64   `json:"final_duration,omitempty"`
	RetryCount      int       `json:"retry_count,omitempty"`
	UnitCount       int       `json:"unit_count,omitempty"`
	CompletedUnits  int       `json:"completed_units,omitempty"`
	CachedUnits     int       `json:"cached_units,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FromTask converts a stored task to its external view.
func FromTask(t *task.Task) TaskView {
	if t == nil {
		return TaskView{}
	}
	return TaskView{
		ID:              t.ID,
		SubjectID:       t.SubjectID,
		Title:           t.Title,
		Status:          string(t.Status),
		ErrorMessage:    t.ErrorMessage,
		ProgressStage:   t.ProgressStage,
		ProgressPercent: t.ProgressPercent,
		ProgressMessage: t.ProgressMessage,
		FinalRemoteKey:  t.FinalRemoteKey,
		FinalDuration:   t.FinalDuration,
		RetryCount:      t.RetryCount,
		UnitCount:       t.TotalUnits,
		CompletedUnits:  t.CompletedUnits,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// HealthView summarizes queue counts.
type HealthView struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}
