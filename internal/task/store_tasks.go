package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound reports a task ID with no row behind it.
var ErrNotFound = errors.New("task not found")

// ErrActiveConflict reports an attempt to create a second live task for a
// subject that already has one in flight.
var ErrActiveConflict = errors.New("subject already has an active task")

// ErrNotDeletable reports an attempt to delete a task that is still live.
var ErrNotDeletable = errors.New("task is not in a terminal state")

const taskColumns = `id, subject_id, title, status, error_message,
	bgm_remote_key, bgm_volume, bgm_loop, subtitles_enabled,
	trim_frames, dedupe, final_remote_key, final_duration,
	progress_stage, progress_percent, progress_message,
	total_units, completed_units, retry_count,
	created_at, updated_at, last_heartbeat`

// Create inserts a new pending task with its units. A subject may only have
// one non-terminal task at a time.
func (s *Store) Create(ctx context.Context, newTask *Task, units []Unit) (*Task, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(newTask.SubjectID) == "" {
		return nil, errors.New("subject ID is required")
	}
	if len(units) == 0 {
		return nil, errors.New("at least one unit is required")
	}

	var created *Task
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		var live int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tasks WHERE subject_id = ? AND status NOT IN (?, ?)`,
			newTask.SubjectID, StatusCompleted, StatusFailed).Scan(&live)
		if err != nil {
			return fmt.Errorf("check active tasks: %w", err)
		}
		if live > 0 {
			return ErrActiveConflict
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (subject_id, title, status, bgm_remote_key, bgm_volume,
				bgm_loop, subtitles_enabled, trim_frames, dedupe, total_units,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newTask.SubjectID, newTask.Title, StatusPending, newTask.BGMRemoteKey,
			newTask.BGMVolume, boolToInt(newTask.BGMLoop), boolToInt(newTask.SubtitlesEnabled),
			newTask.TrimFrames, boolToInt(newTask.Dedupe), len(units),
			formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		taskID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("task id: %w", err)
		}

		for i := range units {
			unit := &units[i]
			unit.TaskID = taskID
			unit.Position = i
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO units (task_id, position, kind, image_key, audio_key,
					start_image_key, end_image_key, prompt, text, cache_key,
					created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				taskID, unit.Position, unit.Kind, unit.ImageKey, unit.AudioKey,
				unit.StartImageKey, unit.EndImageKey, unit.Prompt, unit.Text,
				unit.CacheKey, formatTime(now), formatTime(now)); err != nil {
				return fmt.Errorf("insert unit %d: %w", i, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		stored := *newTask
		stored.ID = taskID
		stored.Status = StatusPending
		stored.TotalUnits = len(units)
		stored.CreatedAt = now
		stored.UpdatedAt = now
		created = &stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByID fetches a task by ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// Update persists all mutable task fields.
func (s *Store) Update(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	var heartbeat any
	if t.LastHeartbeat != nil {
		heartbeat = formatTime(*t.LastHeartbeat)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET subject_id = ?, title = ?, status = ?, error_message = ?,
			bgm_remote_key = ?, bgm_volume = ?, bgm_loop = ?, subtitles_enabled = ?,
			trim_frames = ?, dedupe = ?, final_remote_key = ?, final_duration = ?,
			progress_stage = ?, progress_percent = ?, progress_message = ?,
			total_units = ?, completed_units = ?,
			retry_count = ?, updated_at = ?, last_heartbeat = ?
		WHERE id = ?`,
		t.SubjectID, t.Title, t.Status, t.ErrorMessage,
		t.BGMRemoteKey, t.BGMVolume, boolToInt(t.BGMLoop), boolToInt(t.SubtitlesEnabled),
		t.TrimFrames, boolToInt(t.Dedupe), t.FinalRemoteKey, t.FinalDuration,
		t.ProgressStage, t.ProgressPercent, t.ProgressMessage,
		t.TotalUnits, t.CompletedUnits,
		t.RetryCount, formatTime(t.UpdatedAt), heartbeat, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Transition moves a task to a new status after checking the move is legal.
func (s *Store) Transition(ctx context.Context, id int64, to Status) (*Task, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if !CanAdvance(t.Status, to) {
		return nil, fmt.Errorf("illegal status transition %s -> %s for task %d", t.Status, to, id)
	}
	t.Status = to
	if to == StatusPending {
		t.ErrorMessage = ""
		t.LastHeartbeat = nil
	}
	if err := s.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Retry returns a failed task to pending, preserving unit caches so
// completed clips are not re-rendered. The retry counter is incremented.
func (s *Store) Retry(ctx context.Context, id int64) (*Task, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if t.Status != StatusFailed {
		return nil, fmt.Errorf("task %d is %s; only failed tasks can be retried", id, t.Status)
	}
	t.Status = StatusPending
	t.ErrorMessage = ""
	t.ProgressStage = ""
	t.ProgressMessage = ""
	t.ProgressPercent = 0
	t.CompletedUnits = 0
	t.RetryCount++
	t.LastHeartbeat = nil
	if err := s.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// NextPending claims the oldest pending task by moving it to validating.
// Returns nil when the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Task, error) {
	ctx = ensureContext(ctx)
	var claimed *Task
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
			StatusPending)
		t, err := scanTask(row)
		if err != nil {
			return err
		}
		if t == nil {
			claimed = nil
			return tx.Commit()
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ?, last_heartbeat = ? WHERE id = ?`,
			StatusValidating, formatTime(now), formatTime(now), t.ID); err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}

		t.Status = StatusValidating
		t.UpdatedAt = now
		t.LastHeartbeat = &now
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// List returns tasks filtered by status; an empty filter returns everything,
// newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a terminal task and its units. Live tasks must be
// terminated before they can be deleted.
func (s *Store) Delete(ctx context.Context, id int64) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotFound
	}
	if !IsTerminal(t.Status) {
		return fmt.Errorf("%w: task %d is %s", ErrNotDeletable, id, t.Status)
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// UpdateHeartbeat records liveness for an in-flight task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(ctx,
		`UPDATE tasks SET last_heartbeat = ? WHERE id = ?`, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale fails processing tasks whose heartbeat is older than cutoff.
// Their unit caches survive so a retry picks up where the dead run left off.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) ([]int64, error) {
	ctx = ensureContext(ctx)
	processing := make([]any, 0, len(processingStatuses))
	placeholders := make([]string, 0, len(processingStatuses))
	for status := range processingStatuses {
		processing = append(processing, status)
		placeholders = append(placeholders, "?")
	}

	query := `SELECT id FROM tasks WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		AND (last_heartbeat IS NULL OR last_heartbeat < ?)`
	args := append(processing, formatTime(cutoff))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find stale tasks: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.execWithRetry(ctx,
			`UPDATE tasks SET status = ?, error_message = ?, last_heartbeat = NULL, updated_at = ? WHERE id = ?`,
			StatusFailed, "Heartbeat lost; run presumed dead", formatTime(time.Now().UTC()), id); err != nil {
			return ids, fmt.Errorf("reclaim task %d: %w", id, err)
		}
	}
	return ids, nil
}

// Health summarizes queue counts per lifecycle group.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("health query: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		summary.Total += count
		switch {
		case status == StatusPending:
			summary.Pending += count
		case status == StatusCompleted:
			summary.Completed += count
		case status == StatusFailed:
			summary.Failed += count
		case IsProcessingStatus(status):
			summary.Processing += count
		}
	}
	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                            Task
		bgmLoop, subtitles, dedupe   int
		createdAt, updatedAt         string
		heartbeat                    sql.NullString
	)
	err := row.Scan(&t.ID, &t.SubjectID, &t.Title, &t.Status, &t.ErrorMessage,
		&t.BGMRemoteKey, &t.BGMVolume, &bgmLoop, &subtitles,
		&t.TrimFrames, &dedupe, &t.FinalRemoteKey, &t.FinalDuration,
		&t.ProgressStage, &t.ProgressPercent, &t.ProgressMessage,
		&t.TotalUnits, &t.CompletedUnits, &t.RetryCount,
		&createdAt, &updatedAt, &heartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.BGMLoop = bgmLoop != 0
	t.SubtitlesEnabled = subtitles != 0
	t.Dedupe = dedupe != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if heartbeat.Valid && heartbeat.String != "" {
		hb := parseTime(heartbeat.String)
		t.LastHeartbeat = &hb
	}
	return &t, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
