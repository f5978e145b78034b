package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"taskq/internal/domain"
	"taskq/internal/infra/sqlstore"
	"taskq/internal/ports"
)

// nopTransport satisfies ports.Transport; the API only ensures queues.
type nopTransport struct{}

func (nopTransport) EnsureTaskQueue(context.Context, string) error { return nil }
func (nopTransport) PublishTask(context.Context, ports.DispatchMessage) error {
	return nil
}
func (nopTransport) ClaimTask(context.Context, string, string, time.Duration) (*ports.DispatchMessage, string, error) {
	return nil, "", nil
}
func (nopTransport) AckTask(context.Context, string, string) error { return nil }
func (nopTransport) PublishResult(context.Context, ports.ResultMessage) error {
	return nil
}
func (nopTransport) ClaimResult(context.Context, string, time.Duration) (*ports.ResultMessage, string, error) {
	return nil, "", nil
}
func (nopTransport) AckResult(context.Context, string) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *sqlstore.Store) {
	t.Helper()
	store, err := sqlstore.Open(filepath.Join(t.TempDir(), "taskq.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewServer(NewServer(store, nopTransport{}).Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestTaskTypeEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	var tt domain.TaskType
	if code := doJSON(t, http.MethodPost, ts.URL+"/task-types", map[string]string{"name": "render"}, &tt); code != http.StatusCreated {
		t.Fatalf("create type: status %d", code)
	}
	if tt.Name != "render" || tt.ID == "" {
		t.Errorf("type = %+v", tt)
	}

	var types []domain.TaskType
	if code := doJSON(t, http.MethodGet, ts.URL+"/task-types", nil, &types); code != http.StatusOK {
		t.Fatalf("list types: status %d", code)
	}
	if len(types) != 1 {
		t.Errorf("types = %v", types)
	}

	if code := doJSON(t, http.MethodPost, ts.URL+"/task-types", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("empty name: status %d, want 400", code)
	}
}

func TestSubmitAndGetTask(t *testing.T) {
	ts, _ := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/task-types", map[string]string{"name": "render"}, nil)

	if code := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{"type": "nope"}, nil); code != http.StatusNotFound {
		t.Errorf("unknown type: status %d, want 404", code)
	}

	var task domain.Task
	code := doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{
		"type":  "render",
		"input": map[string]int{"frame": 7},
	}, &task)
	if code != http.StatusCreated {
		t.Fatalf("submit: status %d", code)
	}
	if task.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}

	var got taskResp
	if code := doJSON(t, http.MethodGet, ts.URL+"/tasks/"+task.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get: status %d", code)
	}
	if got.ID != task.ID || got.Result != nil {
		t.Errorf("got %+v, want same task without result", got)
	}
}

func TestWorkerEndpoints(t *testing.T) {
	ts, store := newTestServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/task-types", map[string]string{"name": "render"}, nil)

	code := doJSON(t, http.MethodPost, ts.URL+"/workers", map[string]any{
		"name": "w1", "capabilities": []string{"nope"},
	}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("invalid capability: status %d, want 400", code)
	}

	var w domain.Worker
	code = doJSON(t, http.MethodPost, ts.URL+"/workers", map[string]any{
		"id": "w1", "name": "w1", "capabilities": []string{"render"},
	}, &w)
	if code != http.StatusCreated || w.ID != "w1" {
		t.Fatalf("register: status %d, worker %+v", code, w)
	}

	if code := doJSON(t, http.MethodPost, ts.URL+"/workers/w1/heartbeat", map[string]int64{"timestamp_ms": time.Now().UnixMilli()}, nil); code != http.StatusOK {
		t.Errorf("heartbeat: status %d", code)
	}
	if code := doJSON(t, http.MethodPost, ts.URL+"/workers/ghost/heartbeat", nil, nil); code != http.StatusNotFound {
		t.Errorf("heartbeat unknown worker: status %d, want 404", code)
	}

	var workers []domain.Worker
	if code := doJSON(t, http.MethodGet, ts.URL+"/workers", nil, &workers); code != http.StatusOK || len(workers) != 1 {
		t.Errorf("list workers: status %d, %v", code, workers)
	}

	if code := doJSON(t, http.MethodDelete, ts.URL+"/workers/w1", nil, nil); code != http.StatusNoContent {
		t.Errorf("unregister: status %d, want 204", code)
	}
	got, err := store.GetWorker(context.Background(), "w1")
	if err != nil || got.Status != domain.WorkerDead {
		t.Errorf("worker after unregister = %+v, %v, want dead", got, err)
	}
}

func TestCancelAndStart(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()
	doJSON(t, http.MethodPost, ts.URL+"/task-types", map[string]string{"name": "render"}, nil)
	doJSON(t, http.MethodPost, ts.URL+"/workers", map[string]any{
		"id": "w1", "name": "w1", "capabilities": []string{"render"},
	}, nil)

	var task domain.Task
	doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{"type": "render"}, &task)

	if code := doJSON(t, http.MethodPost, fmt.Sprintf("%s/tasks/%s/cancel", ts.URL, task.ID), nil, nil); code != http.StatusOK {
		t.Fatalf("cancel: status %d", code)
	}
	if code := doJSON(t, http.MethodPost, fmt.Sprintf("%s/tasks/%s/cancel", ts.URL, task.ID), nil, nil); code != http.StatusConflict {
		t.Errorf("double cancel: status %d, want 409", code)
	}

	var second domain.Task
	doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{"type": "render"}, &second)
	if err := store.AssignTask(ctx, second.ID, "w1"); err != nil {
		t.Fatal(err)
	}
	code := doJSON(t, http.MethodPost, fmt.Sprintf("%s/tasks/%s/start", ts.URL, second.ID), map[string]string{"worker_id": "w1"}, nil)
	if code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}
	got, _ := store.GetTask(ctx, second.ID)
	if got.Status != domain.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	code = doJSON(t, http.MethodPost, fmt.Sprintf("%s/tasks/%s/start", ts.URL, second.ID), map[string]string{"worker_id": "w2"}, nil)
	if code != http.StatusConflict {
		t.Errorf("start by other worker: status %d, want 409", code)
	}
}

func TestGetTaskIncludesResult(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()
	doJSON(t, http.MethodPost, ts.URL+"/task-types", map[string]string{"name": "render"}, nil)
	doJSON(t, http.MethodPost, ts.URL+"/workers", map[string]any{
		"id": "w1", "name": "w1", "capabilities": []string{"render"},
	}, nil)

	var task domain.Task
	doJSON(t, http.MethodPost, ts.URL+"/tasks", map[string]any{"type": "render"}, &task)
	if err := store.AssignTask(ctx, task.ID, "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.FinalizeTask(ctx, task.ID, "w1", true, json.RawMessage(`{"ok":1}`), nil); err != nil {
		t.Fatal(err)
	}

	var got taskResp
	if code := doJSON(t, http.MethodGet, ts.URL+"/tasks/"+task.ID, nil, &got); code != http.StatusOK {
		t.Fatalf("get: status %d", code)
	}
	if got.Status != domain.StatusCompleted || got.Result == nil || string(got.Result.OutputData) != `{"ok":1}` {
		t.Errorf("got %+v, want completed task with result", got)
	}
}
