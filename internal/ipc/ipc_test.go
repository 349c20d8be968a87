package ipc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"montage/internal/api"
	"montage/internal/daemonrun"
	"montage/internal/ipc"
	"montage/internal/logging"
	"montage/internal/task"
	"montage/internal/testsupport"
)

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	d, err := daemonrun.NewDaemon(cfg, store, logger)
	if err != nil {
		t.Fatalf("daemonrun.NewDaemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("daemon should not be running before Start")
	}
	if !strings.HasSuffix(status.DBPath, "montage.db") {
		t.Fatalf("unexpected db path: %s", status.DBPath)
	}

	created, err := client.TaskCreate(api.CreateTaskInput{
		SubjectID: "subject-1",
		Title:     "daily recap",
		Dedupe:    true,
		Units: []api.UnitInput{
			{Kind: "still", ImageKey: "materials/a.png", AudioKey: "materials/a.mp3"},
		},
	})
	if err != nil {
		t.Fatalf("TaskCreate failed: %v", err)
	}
	if created.Task.Status != string(task.StatusPending) {
		t.Fatalf("created status = %s", created.Task.Status)
	}

	if _, err := client.TaskCreate(api.CreateTaskInput{SubjectID: "subject-2"}); err == nil {
		t.Fatal("TaskCreate without units should fail")
	}

	listResp, err := client.TaskList(nil)
	if err != nil {
		t.Fatalf("TaskList failed: %v", err)
	}
	if len(listResp.Tasks) != 1 || listResp.Tasks[0].ID != created.Task.ID {
		t.Fatalf("unexpected list: %+v", listResp.Tasks)
	}

	pendingResp, err := client.TaskList([]string{string(task.StatusPending)})
	if err != nil {
		t.Fatalf("TaskList filtered failed: %v", err)
	}
	if len(pendingResp.Tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(pendingResp.Tasks))
	}

	descResp, err := client.TaskDescribe(created.Task.ID)
	if err != nil {
		t.Fatalf("TaskDescribe failed: %v", err)
	}
	if descResp.Task.UnitCount != 1 {
		t.Fatalf("unit count = %d", descResp.Task.UnitCount)
	}
	if _, err := client.TaskDescribe(9999); err == nil {
		t.Fatal("TaskDescribe of missing task should fail")
	}

	stopResp, err := client.TaskStop(created.Task.ID)
	if err != nil {
		t.Fatalf("TaskStop failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected task stop to be acknowledged")
	}
	stopped, err := store.GetByID(ctx, created.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stopped.Status != task.StatusFailed {
		t.Fatalf("stopped status = %s", stopped.Status)
	}

	retryResp, err := client.TaskRetry(created.Task.ID)
	if err != nil {
		t.Fatalf("TaskRetry failed: %v", err)
	}
	if retryResp.Task.Status != string(task.StatusPending) {
		t.Fatalf("retried status = %s", retryResp.Task.Status)
	}
	if retryResp.Task.RetryCount != 1 {
		t.Fatalf("retry count = %d", retryResp.Task.RetryCount)
	}

	healthResp, err := client.Health()
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if healthResp.Total != 1 || healthResp.Pending != 1 {
		t.Fatalf("unexpected health: %+v", healthResp)
	}

	if _, err := client.TaskRemove(created.Task.ID); err == nil {
		t.Fatal("removing a pending task should fail")
	}
	if _, err := client.TaskStop(created.Task.ID); err != nil {
		t.Fatalf("TaskStop before remove failed: %v", err)
	}
	removeResp, err := client.TaskRemove(created.Task.ID)
	if err != nil {
		t.Fatalf("TaskRemove failed: %v", err)
	}
	if !removeResp.Removed {
		t.Fatal("expected task removal to be acknowledged")
	}

	finalList, err := client.TaskList(nil)
	if err != nil {
		t.Fatalf("TaskList after remove failed: %v", err)
	}
	if len(finalList.Tasks) != 0 {
		t.Fatalf("expected empty list, got %d tasks", len(finalList.Tasks))
	}
}
