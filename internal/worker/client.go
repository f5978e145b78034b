package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskq/internal/domain"
)

// ManagerClient talks to the manager's HTTP boundary for registration,
// heartbeats and the optional execution-start signal.
type ManagerClient struct {
	baseURL string
	http    *http.Client
}

func NewManagerClient(baseURL string) *ManagerClient {
	return &ManagerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ManagerClient) Register(ctx context.Context, workerID, name string, capabilities []string) (*domain.Worker, error) {
	body := map[string]any{
		"id":           workerID,
		"name":         name,
		"capabilities": capabilities,
	}
	var w domain.Worker
	if err := c.post(ctx, "/workers", body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *ManagerClient) Heartbeat(ctx context.Context, workerID string) error {
	path := fmt.Sprintf("/workers/%s/heartbeat", workerID)
	return c.post(ctx, path, map[string]int64{"timestamp_ms": time.Now().UnixMilli()}, nil)
}

// StartTask signals queued → running. A conflict means the task was moved by
// someone else; callers treat that as non-fatal.
func (c *ManagerClient) StartTask(ctx context.Context, taskID, workerID string) error {
	path := fmt.Sprintf("/tasks/%s/start", taskID)
	return c.post(ctx, path, map[string]string{"worker_id": workerID}, nil)
}

func (c *ManagerClient) Unregister(ctx context.Context, workerID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/workers/"+workerID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readErr(resp)
	}
	return nil
}

func (c *ManagerClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readErr(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readErr(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("manager returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}
