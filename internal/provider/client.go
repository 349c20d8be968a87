package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"montage/internal/services"
)

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the HTTP client, primarily for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithModel sets the default model applied to requests that do not name one.
func WithModel(model string) ClientOption {
	return func(c *Client) { c.model = strings.TrimSpace(model) }
}

// NewClient builds a generation service client.
func NewClient(baseURL, apiKey string, requestTimeout time.Duration, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("provider: empty base URL")
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit starts a generation job.
func (c *Client) Submit(ctx context.Context, req GenerationRequest) (string, error) {
	if req.StartImageURL == "" || req.EndImageURL == "" {
		return "", services.Wrap(services.ErrValidation, "provider", "submit",
			"both keyframe URLs are required", nil)
	}
	if req.Model == "" {
		req.Model = c.model
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("provider: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/generations", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrProvider, "provider", "submit", "request failed", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, "submit"); err != nil {
		return "", err
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", services.Wrap(services.ErrProvider, "provider", "submit", "decode response", err)
	}
	if status.JobID == "" {
		return "", services.Wrap(services.ErrProvider, "provider", "submit", "response missing job_id", nil)
	}
	return status.JobID, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return JobStatus{}, errors.New("provider: empty job ID")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/generations/"+jobID, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("provider: build request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return JobStatus{}, services.Wrap(services.ErrTransient, "provider", "status", jobID, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, "status"); err != nil {
		return JobStatus{}, err
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return JobStatus{}, services.Wrap(services.ErrProvider, "provider", "status", "decode response", err)
	}
	return status, nil
}

// Fetch downloads a finished clip to localPath. The write goes through a
// partial file so an interrupted download never leaves a truncated clip at
// the final path.
func (c *Client) Fetch(ctx context.Context, videoURL, localPath string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return services.Wrap(services.ErrDownload, "provider", "fetch", videoURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrDownload, "provider", "fetch",
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, videoURL), nil)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("provider: create download directory: %w", err)
	}
	tmp := localPath + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("provider: create download file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return services.Wrap(services.ErrDownload, "provider", "fetch", videoURL, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("provider: close download file: %w", err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("provider: finalize download: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func checkResponse(resp *http.Response, operation string) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return services.Wrap(services.ErrTransient, "provider", operation,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return services.Wrap(services.ErrProvider, "provider", operation,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
}

func waitError(ctx context.Context, jobID string, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "provider", "wait",
			fmt.Sprintf("generation job %s did not finish in time", jobID), cause)
	}
	return services.Wrap(services.ErrProvider, "provider", "wait", jobID, cause)
}
