package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exobrain/taskdaemon/internal/config"
	"github.com/exobrain/taskdaemon/internal/task"
	"github.com/exobrain/taskdaemon/internal/transport"
)

// newTestDaemon builds a daemon with isolated storage. The transport
// server is constructed but not started, so handlers can be exercised
// directly.
func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Transport = "http"
	cfg.Port = 0
	cfg.StoragePath = filepath.Join(dir, "tasks")
	cfg.PidFilePath = filepath.Join(dir, "daemon.pid")

	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.storage.Initialize())
	t.Cleanup(d.manager.Shutdown)
	return d
}

func dispatch(t *testing.T, d *Daemon, action string, params map[string]interface{}) transport.Response {
	t.Helper()
	resp, err := d.handle(context.Background(), transport.Request{Action: action, Params: params})
	require.NoError(t, err)
	return resp
}

func TestHandlePing(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "ping", nil)
	assert.Equal(t, transport.StatusOK, resp.Status)
	assert.Equal(t, "pong", resp.Data["message"])
}

func TestHandleMissingAction(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "", map[string]interface{}{"task_id": "task-x"})
	assert.True(t, resp.IsError())
	assert.Equal(t, "Missing 'action' field in request", resp.Error)
}

func TestHandleUnknownAction(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "reticulate_splines", nil)
	assert.True(t, resp.IsError())
	assert.Equal(t, "Unknown action: reticulate_splines", resp.Error)
}

func TestHandleCreateTaskValidation(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "create_task", map[string]interface{}{})
	assert.True(t, resp.IsError())
	assert.Equal(t, "Missing required parameter: name", resp.Error)

	resp = dispatch(t, d, "create_task", map[string]interface{}{
		"name":      "x",
		"task_type": "cron",
	})
	assert.True(t, resp.IsError())
	assert.Equal(t, "Invalid task type: cron", resp.Error)
}

func TestHandleGetTaskNotFound(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "get_task", map[string]interface{}{"task_id": "task-nope"})
	assert.True(t, resp.IsError())
	assert.Equal(t, "Task not found: task-nope", resp.Error)

	resp = dispatch(t, d, "get_task", nil)
	assert.True(t, resp.IsError())
	assert.Equal(t, "Missing required parameter: task_id", resp.Error)
}

func TestHandleListTasksInvalidFilter(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "list_tasks", map[string]interface{}{"status": "bogus"})
	assert.True(t, resp.IsError())
	assert.Equal(t, "Invalid status filter: bogus", resp.Error)
}

func TestHandleListTasksEmpty(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "list_tasks", nil)
	assert.Equal(t, transport.StatusOK, resp.Status)
	assert.Equal(t, 0, resp.Data["count"])
}

func TestHandleGetHealth(t *testing.T) {
	d := newTestDaemon(t)

	resp := dispatch(t, d, "get_health", nil)
	assert.Equal(t, transport.StatusOK, resp.Status)

	health, ok := resp.Data["health"].(*task.Health)
	require.True(t, ok)
	assert.True(t, health.IsHealthy)
	assert.Empty(t, health.Issues)
}

func TestHandleGetMetrics(t *testing.T) {
	d := newTestDaemon(t)

	done := task.New("done", "", task.TypeProcess, nil)
	done.Status = task.StatusCompleted
	require.NoError(t, d.storage.SaveTask(done))

	resp := dispatch(t, d, "get_metrics", nil)
	assert.Equal(t, transport.StatusOK, resp.Status)

	metrics, ok := resp.Data["metrics"].(*task.Metrics)
	require.True(t, ok)
	assert.Equal(t, 1, metrics.TotalTasks)
	assert.Equal(t, 1, metrics.CompletedTasks)
	assert.Equal(t, 1, metrics.ProcessTasks)
}

func TestIntParam(t *testing.T) {
	params := map[string]interface{}{
		"a": 7,
		"b": float64(8),
		"c": "nine",
	}
	assert.Equal(t, 7, intParam(params, "a", 0))
	assert.Equal(t, 8, intParam(params, "b", 0))
	assert.Equal(t, 0, intParam(params, "c", 0))
	assert.Equal(t, 5, intParam(params, "missing", 5))
	assert.Equal(t, 5, intParam(nil, "a", 5))
}
