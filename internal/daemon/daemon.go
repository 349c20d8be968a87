package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"montage/internal/api"
	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/pipeline"
	"montage/internal/task"
)

// Daemon owns the pipeline manager lifecycle and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *task.Store
	manager *pipeline.Manager
	service *api.Service
	logPath string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	DBPath        string
	LockFilePath  string
	SocketPath    string
	CurrentTaskID int64
	Queue         task.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *task.Store, logger *slog.Logger, mgr *pipeline.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, and pipeline manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "montaged.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  mgr,
		service:  api.NewService(store, mgr),
		logPath:  filepath.Join(cfg.Paths.LogDir, "montage.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the pipeline manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another montage daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.manager.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start pipeline: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("montage daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("montage daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Service returns the task service backed by this daemon.
func (d *Daemon) Service() *api.Service {
	return d.service
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status. Queue counts are best effort;
// a storage error leaves them zeroed.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		DBPath:        d.store.Path(),
		LockFilePath:  d.lockPath,
		SocketPath:    d.cfg.Paths.SocketPath,
		CurrentTaskID: d.manager.CurrentTaskID(),
	}
	if summary, err := d.store.Health(ctx); err == nil {
		status.Queue = summary
	} else {
		d.logger.Warn("queue health unavailable", logging.Error(err))
	}
	return status
}
