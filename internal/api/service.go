package api

import (
	"context"
	"fmt"
	"strings"

	"montage/internal/services"
	"montage/internal/task"
)

// TaskStore abstracts the task persistence operations the service needs.
type TaskStore interface {
	Create(ctx context.Context, newTask *task.Task, units []task.Unit) (*task.Task, error)
	GetByID(ctx context.Context, id int64) (*task.Task, error)
	UnitsByTask(ctx context.Context, taskID int64) ([]*task.Unit, error)
	List(ctx context.Context, statuses ...task.Status) ([]*task.Task, error)
	Retry(ctx context.Context, id int64) (*task.Task, error)
	Delete(ctx context.Context, id int64) error
	Health(ctx context.Context) (task.HealthSummary, error)
}

// Terminator stops an in-flight or queued task.
type Terminator interface {
	Terminate(ctx context.Context, id int64) error
}

// Service validates submissions and mediates between transports and the store.
type Service struct {
	store      TaskStore
	terminator Terminator
}

// NewService constructs the task service.
func NewService(store TaskStore, terminator Terminator) *Service {
	return &Service{store: store, terminator: terminator}
}

// CreateTask validates a submission and persists the task with its units.
func (s *Service) CreateTask(ctx context.Context, input CreateTaskInput) (TaskView, error) {
	if err := ValidateCreate(input); err != nil {
		return TaskView{}, err
	}
	units := make([]task.Unit, len(input.Units))
	for i, u := range input.Units {
		units[i] = task.Unit{
			Position:      i,
			Kind:          task.UnitKind(strings.ToLower(strings.TrimSpace(u.Kind))),
			ImageKey:      strings.TrimSpace(u.ImageKey),
			AudioKey:      strings.TrimSpace(u.AudioKey),
			StartImageKey: strings.TrimSpace(u.StartImageKey),
			EndImageKey:   strings.TrimSpace(u.EndImageKey),
			Prompt:        strings.TrimSpace(u.Prompt),
			Text:          strings.TrimSpace(u.Text),
		}
	}
	created, err := s.store.Create(ctx, &task.Task{
		SubjectID:        strings.TrimSpace(input.SubjectID),
		Title:            strings.TrimSpace(input.Title),
		BGMRemoteKey:     strings.TrimSpace(input.BGMRemoteKey),
		BGMVolume:        input.BGMVolume,
		BGMLoop:          input.BGMLoop,
		SubtitlesEnabled: input.SubtitlesEnabled,
		TrimFrames:       input.TrimFrames,
		Dedupe:           input.Dedupe,
	}, units)
	if err != nil {
		return TaskView{}, err
	}
	view := FromTask(created)
	view.UnitCount = len(units)
	return view, nil
}

// ValidateCreate checks a submission for shape errors before it touches
// storage. Material existence is verified later by the pipeline.
func ValidateCreate(input CreateTaskInput) error {
	if strings.TrimSpace(input.SubjectID) == "" {
		return services.Wrap(services.ErrValidation, "api", "create", "subject id is required", nil)
	}
	if len(input.Units) == 0 {
		return services.Wrap(services.ErrValidation, "api", "create", "at least one unit is required", nil)
	}
	if input.BGMVolume < 0 || input.BGMVolume > 1 {
		return services.Wrap(services.ErrValidation, "api", "create", "bgm volume must be between 0 and 1", nil)
	}
	if input.TrimFrames < 0 {
		return services.Wrap(services.ErrValidation, "api", "create", "trim frames must not be negative", nil)
	}
	for i, u := range input.Units {
		kind := task.UnitKind(strings.ToLower(strings.TrimSpace(u.Kind)))
		switch kind {
		case task.UnitStill:
			if strings.TrimSpace(u.ImageKey) == "" || strings.TrimSpace(u.AudioKey) == "" {
				return services.Wrap(services.ErrValidation, "api", "create",
					fmt.Sprintf("unit %d: still units need image_key and audio_key", i), nil)
			}
		case task.UnitTransition:
			if strings.TrimSpace(u.StartImageKey) == "" || strings.TrimSpace(u.EndImageKey) == "" {
				return services.Wrap(services.ErrValidation, "api", "create",
					fmt.Sprintf("unit %d: transition units need start_image_key and end_image_key", i), nil)
			}
		default:
			return services.Wrap(services.ErrValidation, "api", "create",
				fmt.Sprintf("unit %d: unknown kind %q", i, u.Kind), nil)
		}
	}
	return nil
}

// List returns task views filtered by status names. Unknown names are an error.
func (s *Service) List(ctx context.Context, statusNames ...string) ([]TaskView, error) {
	statuses := make([]task.Status, 0, len(statusNames))
	for _, name := range statusNames {
		status, ok := task.ParseStatus(name)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list",
				fmt.Sprintf("unknown status %q", name), nil)
		}
		statuses = append(statuses, status)
	}
	tasks, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	views := make([]TaskView, len(tasks))
	for i, t := range tasks {
		views[i] = FromTask(t)
	}
	return views, nil
}

// Describe fetches one task with unit cache counts, or nil when absent.
func (s *Service) Describe(ctx context.Context, id int64) (*TaskView, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	view := FromTask(t)
	units, err := s.store.UnitsByTask(ctx, id)
	if err != nil {
		return nil, err
	}
	view.UnitCount = len(units)
	for _, u := range units {
		if u.CacheValid {
			view.CachedUnits++
		}
	}
	return &view, nil
}

// Retry requeues a failed task, keeping valid unit caches.
func (s *Service) Retry(ctx context.Context, id int64) (TaskView, error) {
	t, err := s.store.Retry(ctx, id)
	if err != nil {
		return TaskView{}, err
	}
	return FromTask(t), nil
}

// Terminate stops a queued or in-flight task.
func (s *Service) Terminate(ctx context.Context, id int64) error {
	if s.terminator == nil {
		return services.Wrap(services.ErrConfiguration, "api", "terminate", "no pipeline attached", nil)
	}
	return s.terminator.Terminate(ctx, id)
}

// Remove deletes a terminal task and its units.
func (s *Service) Remove(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}

// Health reports aggregate queue counts.
func (s *Service) Health(ctx context.Context) (HealthView, error) {
	summary, err := s.store.Health(ctx)
	if err != nil {
		return HealthView{}, err
	}
	return HealthView{
		Total:      summary.Total,
		Pending:    summary.Pending,
		Processing: summary.Processing,
		Failed:     summary.Failed,
		Completed:  summary.Completed,
	}, nil
}
