package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const unitColumns = `id, task_id, position, kind, image_key, audio_key,
	start_image_key, end_image_key, prompt, text, cache_key,
	cached_remote_key, cached_duration, cached_frames, cache_valid,
	created_at, updated_at`

// UnitsByTask returns a task's units in position order.
func (s *Store) UnitsByTask(ctx context.Context, taskID int64) ([]*Unit, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE task_id = ? ORDER BY position ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []*Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

// UnitByID fetches a single unit.
func (s *Store) UnitByID(ctx context.Context, unitID int64) (*Unit, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE id = ?`, unitID)
	return scanUnit(row)
}

// StoreCache records a successful unit synthesis: the remote key of the
// rendered clip plus its measured duration and frame count. A retried task
// skips any unit whose cache entry is still valid and keyed identically.
func (s *Store) StoreCache(ctx context.Context, unitID int64, cacheKey, remoteKey string, duration float64, frames int) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE units SET cache_key = ?, cached_remote_key = ?, cached_duration = ?,
			cached_frames = ?, cache_valid = 1, updated_at = ?
		WHERE id = ?`,
		cacheKey, remoteKey, duration, frames, formatTime(time.Now().UTC()), unitID)
	if err != nil {
		return fmt.Errorf("store unit cache: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store unit cache: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LookupCache returns the cached clip for a unit when the cache is valid and
// was produced under the same cache key. A changed key means the unit's
// inputs or render settings changed, so the stale clip is not returned.
func (s *Store) LookupCache(ctx context.Context, unitID int64, cacheKey string) (*Unit, bool, error) {
	unit, err := s.UnitByID(ctx, unitID)
	if err != nil {
		return nil, false, err
	}
	if unit == nil {
		return nil, false, ErrNotFound
	}
	if !unit.CacheValid || unit.CacheKey == "" || unit.CacheKey != cacheKey {
		return unit, false, nil
	}
	return unit, true, nil
}

// InvalidateCache drops a unit's cached clip reference.
func (s *Store) InvalidateCache(ctx context.Context, unitID int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE units SET cache_valid = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), unitID)
	if err != nil {
		return fmt.Errorf("invalidate unit cache: %w", err)
	}
	return nil
}

// InvalidateTaskCaches drops every cached clip for a task. Used when render
// settings change on retry.
func (s *Store) InvalidateTaskCaches(ctx context.Context, taskID int64) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE units SET cache_valid = 0, updated_at = ? WHERE task_id = ?`,
		formatTime(time.Now().UTC()), taskID)
	if err != nil {
		return fmt.Errorf("invalidate task caches: %w", err)
	}
	return nil
}

func scanUnit(row rowScanner) (*Unit, error) {
	var (
		unit                 Unit
		cacheValid           int
		createdAt, updatedAt string
	)
	err := row.Scan(&unit.ID, &unit.TaskID, &unit.Position, &unit.Kind,
		&unit.ImageKey, &unit.AudioKey, &unit.StartImageKey, &unit.EndImageKey,
		&unit.Prompt, &unit.Text, &unit.CacheKey, &unit.CachedRemoteKey,
		&unit.CachedDuration, &unit.CachedFrames, &cacheValid,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan unit: %w", err)
	}
	unit.CacheValid = cacheValid != 0
	unit.CreatedAt = parseTime(createdAt)
	unit.UpdatedAt = parseTime(updatedAt)
	return &unit, nil
}
