package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"montage/internal/api"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Montage.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Montage.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Montage.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskCreate submits a new composition task.
func (c *Client) TaskCreate(input api.CreateTaskInput) (*TaskCreateResponse, error) {
	var resp TaskCreateResponse
	if err := c.client.Call("Montage.TaskCreate", TaskCreateRequest{Input: input}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskList returns tasks optionally filtered by statuses.
func (c *Client) TaskList(statuses []string) (*TaskListResponse, error) {
	var resp TaskListResponse
	if err := c.client.Call("Montage.TaskList", TaskListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskDescribe returns details for a single task.
func (c *Client) TaskDescribe(id int64) (*TaskDescribeResponse, error) {
	var resp TaskDescribeResponse
	if err := c.client.Call("Montage.TaskDescribe", TaskDescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskRetry requeues a failed task.
func (c *Client) TaskRetry(id int64) (*TaskRetryResponse, error) {
	var resp TaskRetryResponse
	if err := c.client.Call("Montage.TaskRetry", TaskRetryRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskStop terminates a queued or in-flight task.
func (c *Client) TaskStop(id int64) (*TaskStopResponse, error) {
	var resp TaskStopResponse
	if err := c.client.Call("Montage.TaskStop", TaskStopRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskRemove deletes a terminal task.
func (c *Client) TaskRemove(id int64) (*TaskRemoveResponse, error) {
	var resp TaskRemoveResponse
	if err := c.client.Call("Montage.TaskRemove", TaskRemoveRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns aggregate queue counts.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.client.Call("Montage.Health", HealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
