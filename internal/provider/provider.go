// Package provider talks to the external transition-clip generation
// service. Generation is asynchronous: a submit call returns a job ID and
// the client polls until the job succeeds, fails, or the poll budget runs
// out. The finished clip is fetched over HTTP.
package provider

import (
	"context"
	"log/slog"
	"time"

	"montage/internal/logging"
)

// JobState is the lifecycle state reported by the generation service.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
)

// GenerationRequest describes one transition clip to generate: a motion
// interpolation between two keyframe images, steered by an optional prompt.
type GenerationRequest struct {
	StartImageURL string `json:"start_image_url"`
	EndImageURL   string `json:"end_image_url"`
	Prompt        string `json:"prompt,omitempty"`
	DurationSecs  int    `json:"duration_seconds,omitempty"`
	Model         string `json:"model,omitempty"`
}

// JobStatus is one poll result for a generation job.
type JobStatus struct {
	JobID    string   `json:"job_id"`
	State    JobState `json:"state"`
	VideoURL string   `json:"video_url,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Gateway is the pipeline's view of the generation service.
type Gateway interface {
	// Submit starts a generation job and returns its ID.
	Submit(ctx context.Context, req GenerationRequest) (string, error)
	// Status fetches the current state of a job.
	Status(ctx context.Context, jobID string) (JobStatus, error)
	// Fetch downloads a finished clip to a local path.
	Fetch(ctx context.Context, videoURL, localPath string) error
}

// PollSettings bounds the wait loop for a generation job.
type PollSettings struct {
	Interval time.Duration
	Timeout  time.Duration
}

// WaitForJob polls gw until the job reaches a terminal state or the poll
// budget is exhausted. Transient status errors are tolerated; the loop only
// gives up on them when the deadline passes.
func WaitForJob(ctx context.Context, gw Gateway, jobID string, settings PollSettings, logger *slog.Logger) (JobStatus, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := settings.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := gw.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return JobStatus{}, waitError(ctx, jobID, err)
			}
			logger.Warn("generation status poll failed",
				logging.String("job_id", jobID),
				logging.Error(err))
		} else {
			switch status.State {
			case JobSucceeded, JobFailed:
				return status, nil
			default:
				logger.Debug("generation job pending",
					logging.String("job_id", jobID),
					logging.String("state", string(status.State)))
			}
		}

		select {
		case <-ctx.Done():
			return JobStatus{}, waitError(ctx, jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}
