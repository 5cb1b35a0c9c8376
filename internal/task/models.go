// Package task defines the task model, its on-disk storage, and the
// lifecycle manager used by the daemon.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusInterrupted marks tasks that were running when the daemon
	// restarted.
	StatusInterrupted Status = "interrupted"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusInterrupted:
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid task status: %q", s)
	}
}

// TaskType distinguishes agent-driven tasks from plain process tasks.
type TaskType string

const (
	TypeAgent   TaskType = "agent"
	TypeProcess TaskType = "process"
)

// ParseTaskType validates a task type string.
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TypeAgent, TypeProcess:
		return TaskType(s), nil
	default:
		return "", fmt.Errorf("invalid task type: %q", s)
	}
}

// Task is one unit of background work tracked by the daemon.
type Task struct {
	ID          string                 `json:"task_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Type        TaskType               `json:"task_type"`
	Config      map[string]interface{} `json:"config,omitempty"`

	Status   Status  `json:"status"`
	Progress float64 `json:"progress"` // 0.0 to 1.0
	Error    string  `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Process-specific fields
	Command    string `json:"command,omitempty"`
	WorkingDir string `json:"working_directory,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	PID        int    `json:"pid,omitempty"`

	// Output file locations, filled in by storage
	OutputPath string `json:"output_path,omitempty"`
	EventsPath string `json:"events_path,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// New creates a pending task with a fresh ID.
func New(name, description string, taskType TaskType, config map[string]interface{}) *Task {
	t := &Task{
		ID:          "task-" + uuid.New().String()[:8],
		Name:        name,
		Description: description,
		Type:        taskType,
		Config:      config,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	if taskType == TypeProcess && config != nil {
		if cmd, ok := config["command"].(string); ok {
			t.Command = cmd
		}
		if wd, ok := config["working_directory"].(string); ok {
			t.WorkingDir = wd
		}
	}

	return t
}

// Duration returns how long the task has run, or zero when it never
// started. Running tasks measure up to now.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(*t.StartedAt)
}

// IsActive reports whether the task is still pending or running.
func (t *Task) IsActive() bool {
	return t.Status == StatusPending || t.Status == StatusRunning
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return !t.IsActive()
}
