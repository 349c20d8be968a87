package ipc

import "montage/internal/api"

// StartRequest asks the daemon to begin processing.
type StartRequest struct{}

// StartResponse reports whether processing began.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

// StopRequest asks the daemon to stop processing.
type StopRequest struct{}

// StopResponse acknowledges the stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon runtime information.
type StatusRequest struct{}

// StatusResponse carries daemon runtime information.
type StatusResponse struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	DBPath        string         `json:"db_path"`
	LockPath      string         `json:"lock_path"`
	SocketPath    string         `json:"socket_path"`
	CurrentTaskID int64          `json:"current_task_id,omitempty"`
	Queue         api.HealthView `json:"queue"`
}

// TaskCreateRequest submits a new composition task.
type TaskCreateRequest struct {
	Input api.CreateTaskInput `json:"input"`
}

// TaskCreateResponse returns the created task.
type TaskCreateResponse struct {
	Task api.TaskView `json:"task"`
}

// TaskListRequest lists tasks, optionally filtered by status names.
type TaskListRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

// TaskListResponse carries the matching tasks, newest first.
type TaskListResponse struct {
	Tasks []api.TaskView `json:"tasks"`
}

// TaskDescribeRequest fetches one task.
type TaskDescribeRequest struct {
	ID int64 `json:"id"`
}

// TaskDescribeResponse carries the task details.
type TaskDescribeResponse struct {
	Task api.TaskView `json:"task"`
}

// TaskRetryRequest requeues a failed task.
type TaskRetryRequest struct {
	ID int64 `json:"id"`
}

// TaskRetryResponse returns the requeued task.
type TaskRetryResponse struct {
	Task api.TaskView `json:"task"`
}

// TaskStopRequest terminates a queued or in-flight task.
type TaskStopRequest struct {
	ID int64 `json:"id"`
}

// TaskStopResponse acknowledges the termination request.
type TaskStopResponse struct {
	Stopped bool `json:"stopped"`
}

// TaskRemoveRequest deletes a terminal task.
type TaskRemoveRequest struct {
	ID int64 `json:"id"`
}

// TaskRemoveResponse acknowledges the deletion.
type TaskRemoveResponse struct {
	Removed bool `json:"removed"`
}

// HealthRequest fetches aggregate queue counts.
type HealthRequest struct{}

// HealthResponse carries aggregate queue counts.
type HealthResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}
