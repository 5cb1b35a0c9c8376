package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/exobrain/taskdaemon/internal/logger"
)

const (
	maxMetricsHistory  = 100
	stuckTaskThreshold = 24 * time.Hour
)

// Metrics is one snapshot of task system metrics.
type Metrics struct {
	TotalTasks       int `json:"total_tasks"`
	PendingTasks     int `json:"pending_tasks"`
	RunningTasks     int `json:"running_tasks"`
	CompletedTasks   int `json:"completed_tasks"`
	FailedTasks      int `json:"failed_tasks"`
	CancelledTasks   int `json:"cancelled_tasks"`
	InterruptedTasks int `json:"interrupted_tasks"`

	AgentTasks   int `json:"agent_tasks"`
	ProcessTasks int `json:"process_tasks"`

	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	MinDurationSeconds float64 `json:"min_duration_seconds"`
	MaxDurationSeconds float64 `json:"max_duration_seconds"`

	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`

	TasksCreatedLastHour   int `json:"tasks_created_last_hour"`
	TasksCompletedLastHour int `json:"tasks_completed_last_hour"`
	TasksFailedLastHour    int `json:"tasks_failed_last_hour"`

	ActiveTaskCount    int `json:"active_task_count"`
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`

	CollectedAt time.Time `json:"collected_at"`
}

// Health is the result of a task system health check.
type Health struct {
	IsHealthy bool      `json:"is_healthy"`
	Issues    []string  `json:"issues"`
	Warnings  []string  `json:"warnings"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor collects metrics snapshots over storage and checks the health
// of the task system. It keeps a bounded in-memory history of snapshots.
type Monitor struct {
	storage       *Storage
	maxConcurrent int
	log           *logger.Logger

	mu      sync.Mutex
	history []*Metrics
}

// NewMonitor creates a monitor over storage. maxConcurrent is the
// manager's concurrency limit, reported in metrics and used by the
// capacity warning.
func NewMonitor(storage *Storage, maxConcurrent int) *Monitor {
	return &Monitor{
		storage:       storage,
		maxConcurrent: maxConcurrent,
		log:           logger.Global().WithPrefix("task-monitor"),
	}
}

// CollectMetrics takes a metrics snapshot and appends it to the history.
// activeCount is the manager's current active task count.
func (m *Monitor) CollectMetrics(activeCount int) (*Metrics, error) {
	tasks, err := m.storage.ListTasks("", "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for metrics: %w", err)
	}

	metrics := &Metrics{
		TotalTasks:         len(tasks),
		ActiveTaskCount:    activeCount,
		MaxConcurrentTasks: m.maxConcurrent,
		CollectedAt:        time.Now(),
	}

	oneHourAgo := time.Now().Add(-time.Hour)
	var durations []float64

	for _, t := range tasks {
		switch t.Status {
		case StatusPending:
			metrics.PendingTasks++
		case StatusRunning:
			metrics.RunningTasks++
		case StatusCompleted:
			metrics.CompletedTasks++
		case StatusFailed:
			metrics.FailedTasks++
		case StatusCancelled:
			metrics.CancelledTasks++
		case StatusInterrupted:
			metrics.InterruptedTasks++
		}

		switch t.Type {
		case TypeAgent:
			metrics.AgentTasks++
		case TypeProcess:
			metrics.ProcessTasks++
		}

		switch t.Status {
		case StatusCompleted, StatusFailed, StatusCancelled:
			if d := t.Duration(); d > 0 {
				durations = append(durations, d.Seconds())
			}
		}

		if t.CreatedAt.After(oneHourAgo) {
			metrics.TasksCreatedLastHour++
		}
		if t.CompletedAt != nil && t.CompletedAt.After(oneHourAgo) {
			switch t.Status {
			case StatusCompleted:
				metrics.TasksCompletedLastHour++
			case StatusFailed:
				metrics.TasksFailedLastHour++
			}
		}
	}

	if len(durations) > 0 {
		min, max, sum := durations[0], durations[0], 0.0
		for _, d := range durations {
			if d < min {
				min = d
			}
			if d > max {
				max = d
			}
			sum += d
		}
		metrics.AvgDurationSeconds = sum / float64(len(durations))
		metrics.MinDurationSeconds = min
		metrics.MaxDurationSeconds = max
	}

	terminal := metrics.CompletedTasks + metrics.FailedTasks + metrics.CancelledTasks
	if terminal > 0 {
		metrics.SuccessRate = float64(metrics.CompletedTasks) / float64(terminal)
		metrics.FailureRate = float64(metrics.FailedTasks) / float64(terminal)
	}

	m.mu.Lock()
	m.history = append(m.history, metrics)
	if len(m.history) > maxMetricsHistory {
		m.history = m.history[len(m.history)-maxMetricsHistory:]
	}
	m.mu.Unlock()

	m.log.Debug("Collected metrics: %d total tasks", metrics.TotalTasks)
	return metrics, nil
}

// CheckHealth inspects the task system. Capacity saturation, stuck tasks
// and a high failure rate produce warnings; a storage failure makes the
// system unhealthy.
func (m *Monitor) CheckHealth(activeCount int) (*Health, error) {
	health := &Health{
		IsHealthy: true,
		Issues:    []string{},
		Warnings:  []string{},
		CheckedAt: time.Now(),
	}

	if m.maxConcurrent > 0 && activeCount >= m.maxConcurrent {
		health.Warnings = append(health.Warnings,
			fmt.Sprintf("At maximum concurrent task capacity (%d/%d)", activeCount, m.maxConcurrent))
	}

	running, err := m.storage.ListTasks(StatusRunning, "", 0)
	if err != nil {
		health.IsHealthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("Storage error: %v", err))
		return health, nil
	}
	for _, t := range running {
		if t.StartedAt != nil && time.Since(*t.StartedAt) > stuckTaskThreshold {
			health.Warnings = append(health.Warnings,
				fmt.Sprintf("Task %s has been running for more than 24 hours", t.ID))
		}
	}

	metrics, err := m.CollectMetrics(activeCount)
	if err != nil {
		health.IsHealthy = false
		health.Issues = append(health.Issues, fmt.Sprintf("Storage error: %v", err))
		return health, nil
	}
	if metrics.FailureRate > 0.5 && metrics.TotalTasks > 10 {
		health.Warnings = append(health.Warnings,
			fmt.Sprintf("High failure rate: %.0f%% of tasks are failing", metrics.FailureRate*100))
	}

	return health, nil
}

// History returns the most recent metrics snapshots, newest last. limit
// <= 0 returns the whole history.
func (m *Monitor) History(limit int) []*Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]*Metrics, len(history))
	copy(out, history)
	return out
}

// SlowTasks returns running tasks whose duration exceeds threshold.
func (m *Monitor) SlowTasks(threshold time.Duration) ([]*Task, error) {
	running, err := m.storage.ListTasks(StatusRunning, "", 0)
	if err != nil {
		return nil, err
	}

	var slow []*Task
	for _, t := range running {
		if t.StartedAt != nil && time.Since(*t.StartedAt) > threshold {
			slow = append(slow, t)
		}
	}
	return slow, nil
}

// FailedTasks returns recently failed tasks, newest first.
func (m *Monitor) FailedTasks(limit int) ([]*Task, error) {
	return m.storage.ListTasks(StatusFailed, "", limit)
}
