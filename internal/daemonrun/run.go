// Package daemonrun assembles the daemon process: logger, task store,
// rendering components, pipeline manager, and IPC server.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"montage/internal/concat"
	"montage/internal/config"
	"montage/internal/daemon"
	"montage/internal/ipc"
	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/media/ffprobe"
	"montage/internal/mixer"
	"montage/internal/pipeline"
	"montage/internal/provider"
	"montage/internal/storage"
	"montage/internal/synthesis"
	"montage/internal/task"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// NewDaemon wires every pipeline component around an open store and
// returns the daemon ready to start.
func NewDaemon(cfg *config.Config, store *task.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	objects, err := storage.NewFSGateway(cfg.Storage.RootDir, cfg.Storage.UploadVerified)
	if err != nil {
		return nil, fmt.Errorf("open storage gateway: %w", err)
	}

	toolkit := ffmpeg.NewToolkit(cfg.FFmpegBinary(), ffmpeg.RenderSettings{
		Width:      cfg.Render.Width,
		Height:     cfg.Render.Height,
		FPS:        cfg.Render.FPS,
		VideoCodec: cfg.Render.VideoCodec,
		AudioCodec: cfg.Render.AudioCodec,
	}, ffmpeg.WithLogger(logger))

	probe := func(ctx context.Context, path string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, cfg.FFprobeBinary(), path)
	}

	var generator provider.Gateway
	if cfg.Provider.BaseURL != "" {
		client, err := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey,
			time.Duration(cfg.Provider.RequestTimeout)*time.Second,
			provider.WithModel(cfg.Provider.Model))
		if err != nil {
			return nil, fmt.Errorf("configure provider client: %w", err)
		}
		generator = client
	}

	worker, err := synthesis.NewWorker(synthesis.WorkerOptions{
		Toolkit:   toolkit,
		Store:     store,
		Objects:   objects,
		Generator: generator,
		Probe:     probe,
		Poll: provider.PollSettings{
			Interval: time.Duration(cfg.Provider.PollInterval) * time.Second,
			Timeout:  time.Duration(cfg.Provider.PollTimeout) * time.Second,
		},
		CacheScope: cfg.Storage.UnitCacheScope,
		PresignTTL: time.Duration(cfg.Storage.PresignTTL) * time.Second,
		MaxZoom:    cfg.Render.KenBurnsMaxZoom,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure synthesis worker: %w", err)
	}

	stillLimit := cfg.Render.DownloadConcurrency
	if stillLimit < 1 {
		stillLimit = runtime.NumCPU()
	}
	pool := synthesis.NewPool(worker, stillLimit, cfg.Render.GenerateConcurrency, logger)

	handler, err := pipeline.NewHandler(pipeline.HandlerOptions{
		Config:       cfg,
		Store:        store,
		Objects:      objects,
		Pool:         pool,
		Concatenator: concat.New(toolkit, probe, logger),
		Mixer:        mixer.New(toolkit, logger),
		Toolkit:      toolkit,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configure pipeline: %w", err)
	}

	manager := pipeline.NewManager(cfg, store, handler, logger)
	return daemon.New(cfg, store, logger, manager)
}

// Run starts the montage daemon runtime loop and blocks until a signal
// arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logPath := filepath.Join(cfg.Paths.LogDir, "montage.log")
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldCorrelationID, uuid.NewString()))

	pidPath := filepath.Join(cfg.Paths.LogDir, "montaged.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := task.Open(cfg)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}
	defer store.Close()

	d, err := NewDaemon(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and database access"))
	}

	<-signalCtx.Done()
	logger.Info("montage daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
