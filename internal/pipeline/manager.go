package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/staging"
	"montage/internal/task"
)

// Manager polls the task store and drives claimed tasks through the Handler.
type Manager struct {
	cfg          *config.Config
	store        *task.Store
	handler      *Handler
	logger       *slog.Logger
	pollInterval time.Duration

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	currentTaskID int64
	currentCancel context.CancelFunc
}

// NewManager constructs a pipeline manager.
func NewManager(cfg *config.Config, store *task.Store, handler *Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:               cfg,
		store:             store,
		handler:           handler,
		logger:            logger.With(logging.String(logging.FieldComponent, "pipeline")),
		pollInterval:      time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		heartbeatTimeout:  time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the manager loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// CurrentTaskID returns the task currently being processed, or 0.
func (m *Manager) CurrentTaskID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTaskID
}

// Terminate stops a task. A pending task is failed in place; the in-flight
// task has its context cancelled and is failed by the run loop.
func (m *Manager) Terminate(ctx context.Context, id int64) error {
	m.mu.Lock()
	isCurrent := m.currentTaskID == id && m.currentCancel != nil
	cancel := m.currentCancel
	m.mu.Unlock()

	if isCurrent {
		cancel()
		return nil
	}

	t, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return task.ErrNotFound
	}
	if task.IsTerminal(t.Status) {
		return nil
	}
	t.SetFailed(task.UserStopReason)
	return m.store.Update(ctx, t)
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	m.cleanStaleWorkspaces()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.reclaimStale(ctx); err != nil {
			m.logger.Warn("reclaim stale tasks failed; stuck tasks may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"))
		}

		claimed, err := m.store.NextPending(ctx)
		if err != nil {
			m.logger.Error("failed to fetch next task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"))
			m.waitOrShutdown(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
			continue
		}
		if claimed == nil {
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		if err := m.processTask(ctx, claimed); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
		}
	}
}

func (m *Manager) processTask(ctx context.Context, t *task.Task) error {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.currentTaskID = t.ID
	m.currentCancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.currentTaskID = 0
		m.currentCancel = nil
		m.mu.Unlock()
	}()

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeatLoop(taskCtx, &hbWG, t.ID)

	m.logger.Info("processing task",
		logging.Int64(logging.FieldTaskID, t.ID),
		logging.String(logging.FieldSubjectID, t.SubjectID))

	err := m.handler.Process(taskCtx, t)

	cancel()
	hbWG.Wait()

	// A cancelled task during daemon shutdown is failed with the shutdown
	// reason so it is retryable immediately after restart; any other
	// cancellation is a user stop.
	if errors.Is(err, context.Canceled) {
		reason := task.UserStopReason
		if ctx.Err() != nil {
			reason = task.DaemonStopReason
		}
		t.SetFailed(reason)
		if updateErr := m.store.Update(context.WithoutCancel(ctx), t); updateErr != nil {
			m.logger.Error("failed to persist stop", logging.Error(updateErr))
		}
		m.logger.Info("task stopped",
			logging.Int64(logging.FieldTaskID, t.ID),
			logging.String("reason", reason))
		if ctx.Err() != nil {
			return err
		}
		return nil
	}
	return err
}

func (m *Manager) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, taskID int64) {
	defer wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.UpdateHeartbeat(ctx, taskID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}

func (m *Manager) reclaimStale(ctx context.Context) error {
	if m.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-m.heartbeatTimeout)
	ids, err := m.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		m.logger.Info("reclaimed stale tasks", logging.Int("count", len(ids)))
	}
	return nil
}

// cleanStaleWorkspaces removes staging directories left behind by previous
// runs at startup.
func (m *Manager) cleanStaleWorkspaces() {
	maxAge := time.Duration(m.cfg.Workflow.StagingMaxAgeHours) * time.Hour
	if maxAge <= 0 {
		return
	}
	removed, err := staging.CleanStale(m.cfg.Paths.StagingDir, maxAge, time.Now())
	if err != nil {
		m.logger.Warn("stale workspace cleanup failed", logging.Error(err))
		return
	}
	if len(removed) > 0 {
		m.logger.Info("removed stale workspaces", logging.Int("count", len(removed)))
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, wait time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
