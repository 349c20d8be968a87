package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"montage/internal/api"
	"montage/internal/daemon"
	"montage/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Montage", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before the next start"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DBPath = status.DBPath
	resp.LockPath = status.LockFilePath
	resp.SocketPath = status.SocketPath
	resp.CurrentTaskID = status.CurrentTaskID
	resp.Queue = api.HealthView{
		Total:      status.Queue.Total,
		Pending:    status.Queue.Pending,
		Processing: status.Queue.Processing,
		Failed:     status.Queue.Failed,
		Completed:  status.Queue.Completed,
	}
	return nil
}

func (s *service) TaskCreate(req TaskCreateRequest, resp *TaskCreateResponse) error {
	view, err := s.daemon.Service().CreateTask(s.ctx, req.Input)
	if err != nil {
		return err
	}
	resp.Task = view
	s.log().Info("task created via IPC",
		logging.String(logging.FieldEventType, "task_create"),
		logging.Int64(logging.FieldTaskID, view.ID),
		logging.String(logging.FieldSubjectID, view.SubjectID))
	return nil
}

func (s *service) TaskList(req TaskListRequest, resp *TaskListResponse) error {
	views, err := s.daemon.Service().List(s.ctx, req.Statuses...)
	if err != nil {
		return err
	}
	resp.Tasks = views
	return nil
}

func (s *service) TaskDescribe(req TaskDescribeRequest, resp *TaskDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid task id %d", req.ID)
	}
	view, err := s.daemon.Service().Describe(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if view == nil {
		return fmt.Errorf("task %d not found", req.ID)
	}
	resp.Task = *view
	return nil
}

func (s *service) TaskRetry(req TaskRetryRequest, resp *TaskRetryResponse) error {
	view, err := s.daemon.Service().Retry(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Task = view
	s.log().Info("task retried via IPC",
		logging.String(logging.FieldEventType, "task_retry"),
		logging.Int64(logging.FieldTaskID, req.ID))
	return nil
}

func (s *service) TaskStop(req TaskStopRequest, resp *TaskStopResponse) error {
	if err := s.daemon.Service().Terminate(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Stopped = true
	s.log().Info("task stopped via IPC",
		logging.String(logging.FieldEventType, "task_stop"),
		logging.Int64(logging.FieldTaskID, req.ID))
	return nil
}

func (s *service) TaskRemove(req TaskRemoveRequest, resp *TaskRemoveResponse) error {
	if err := s.daemon.Service().Remove(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Removed = true
	s.log().Info("task removed via IPC",
		logging.String(logging.FieldEventType, "task_remove"),
		logging.Int64(logging.FieldTaskID, req.ID))
	return nil
}

func (s *service) Health(_ HealthRequest, resp *HealthResponse) error {
	health, err := s.daemon.Service().Health(s.ctx)
	if err != nil {
		return err
	}
	resp.Total = health.Total
	resp.Pending = health.Pending
	resp.Processing = health.Processing
	resp.Failed = health.Failed
	resp.Completed = health.Completed
	return nil
}
