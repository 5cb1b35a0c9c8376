package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/exobrain/taskdaemon/internal/pidfile"
	"github.com/exobrain/taskdaemon/internal/task"
	"github.com/exobrain/taskdaemon/internal/transport"
)

// Client is a typed client for the task daemon, layered over a transport
// client. Error responses from the daemon surface as Go errors.
type Client struct {
	tc transport.Client
}

// NewClient creates a daemon client over the given transport.
func NewClient(t transport.Type, cfg *transport.Config) (*Client, error) {
	tc, err := transport.NewClient(t, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{tc: tc}, nil
}

// NewClientWith wraps an already constructed transport client.
func NewClientWith(tc transport.Client) *Client {
	return &Client{tc: tc}
}

// Connect establishes the transport connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.tc.Connect(ctx)
}

// Disconnect tears the connection down.
func (c *Client) Disconnect() error {
	return c.tc.Disconnect()
}

// IsConnected reports connection state.
func (c *Client) IsConnected() bool {
	return c.tc.IsConnected()
}

// call sends one action and unwraps the response envelope.
func (c *Client) call(ctx context.Context, action string, params map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.tc.SendRequest(ctx, transport.Request{Action: action, Params: params})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp.Data, nil
}

// decodeTask converts a decoded JSON value back into a Task.
func decodeTask(v interface{}) (*task.Task, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task data: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task data: %w", err)
	}
	return &t, nil
}

// Ping checks daemon liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// CreateTask submits a new task.
func (c *Client) CreateTask(ctx context.Context, name, description string, taskType task.TaskType, config map[string]interface{}) (*task.Task, error) {
	data, err := c.call(ctx, "create_task", map[string]interface{}{
		"name":        name,
		"description": description,
		"task_type":   string(taskType),
		"config":      config,
	})
	if err != nil {
		return nil, err
	}
	return decodeTask(data["task"])
}

// GetTask fetches one task by ID.
func (c *Client) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	data, err := c.call(ctx, "get_task", map[string]interface{}{"task_id": taskID})
	if err != nil {
		return nil, err
	}
	return decodeTask(data["task"])
}

// ListTasks lists tasks with optional filters. Empty filters match
// everything; limit 0 means no limit.
func (c *Client) ListTasks(ctx context.Context, status task.Status, taskType task.TaskType, limit int) ([]*task.Task, error) {
	params := map[string]interface{}{}
	if status != "" {
		params["status"] = string(status)
	}
	if taskType != "" {
		params["task_type"] = string(taskType)
	}
	if limit > 0 {
		params["limit"] = limit
	}

	data, err := c.call(ctx, "list_tasks", params)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data["tasks"])
	if err != nil {
		return nil, fmt.Errorf("failed to encode task list: %w", err)
	}
	var tasks []*task.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode task list: %w", err)
	}
	return tasks, nil
}

// CancelTask cancels an active task. It reports whether the task was
// actually cancelled.
func (c *Client) CancelTask(ctx context.Context, taskID string) (bool, error) {
	data, err := c.call(ctx, "cancel_task", map[string]interface{}{"task_id": taskID})
	if err != nil {
		return false, err
	}
	cancelled, _ := data["cancelled"].(bool)
	return cancelled, nil
}

// DeleteTask removes a task and its stored output.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	_, err := c.call(ctx, "delete_task", map[string]interface{}{"task_id": taskID})
	return err
}

// GetOutput returns the tail of a task's output log. maxBytes 0 fetches
// the whole log.
func (c *Client) GetOutput(ctx context.Context, taskID string, maxBytes int) (string, error) {
	params := map[string]interface{}{"task_id": taskID}
	if maxBytes > 0 {
		params["max_bytes"] = maxBytes
	}

	data, err := c.call(ctx, "get_output", params)
	if err != nil {
		return "", err
	}
	output, _ := data["output"].(string)
	return output, nil
}

// Health returns the daemon's health report.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	data, err := c.call(ctx, "get_health", nil)
	if err != nil {
		return nil, err
	}
	health, _ := data["health"].(map[string]interface{})
	return health, nil
}

// Metrics returns a metrics snapshot from the daemon's monitor.
func (c *Client) Metrics(ctx context.Context) (map[string]interface{}, error) {
	data, err := c.call(ctx, "get_metrics", nil)
	if err != nil {
		return nil, err
	}
	metrics, _ := data["metrics"].(map[string]interface{})
	return metrics, nil
}

// Statistics returns task counts by status.
func (c *Client) Statistics(ctx context.Context) (map[string]int, error) {
	data, err := c.call(ctx, "get_statistics", nil)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data["statistics"])
	if err != nil {
		return nil, fmt.Errorf("failed to encode statistics: %w", err)
	}
	stats := make(map[string]int)
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}
	return stats, nil
}

// IsRunning checks whether a daemon instance holds the PID file at
// pidPath.
func IsRunning(pidPath string) (bool, int) {
	running, pid, err := pidfile.New(pidPath).Running()
	if err != nil {
		return false, 0
	}
	return running, pid
}

// CleanupTasks triggers a cleanup pass and returns the number of deleted
// tasks.
func (c *Client) CleanupTasks(ctx context.Context, retentionHours, maxTasks int) (int, error) {
	data, err := c.call(ctx, "cleanup_tasks", map[string]interface{}{
		"retention_hours": retentionHours,
		"max_tasks":       maxTasks,
	})
	if err != nil {
		return 0, err
	}
	deleted, _ := data["deleted"].(float64)
	return int(deleted), nil
}
