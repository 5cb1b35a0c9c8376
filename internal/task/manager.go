package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exobrain/taskdaemon/internal/logger"
)

// Executor runs one task to completion. It is the seam to the daemon's
// business logic: the manager owns lifecycle and persistence, the executor
// owns the actual work.
type Executor interface {
	Execute(ctx context.Context, t *Task) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *Task) error

func (f ExecutorFunc) Execute(ctx context.Context, t *Task) error { return f(ctx, t) }

// Manager owns task lifecycle: creation, execution scheduling with a
// concurrency limit, cancellation, deletion and cleanup. One manager runs
// per daemon.
type Manager struct {
	storage  *Storage
	executor Executor
	log      *logger.Logger

	mu      sync.Mutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc

	// Execution contexts derive from baseCtx, not from request contexts:
	// a transport may cancel its request context as soon as the response
	// is written, and that must not kill the task.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewManager creates a manager over storage. maxConcurrent bounds the number
// of simultaneously running tasks.
func NewManager(storage *Storage, executor Executor, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		storage:    storage,
		executor:   executor,
		log:        logger.Global().WithPrefix("task-manager"),
		tasks:      make(map[string]*Task),
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

// Initialize recovers state after a daemon restart: tasks that were left
// running are marked interrupted.
func (m *Manager) Initialize() error {
	running, err := m.storage.ListTasks(StatusRunning, "", 0)
	if err != nil {
		return fmt.Errorf("failed to list running tasks: %w", err)
	}

	for _, t := range running {
		t.Status = StatusInterrupted
		t.Error = "Daemon restarted while task was running"
		if err := m.storage.SaveTask(t); err != nil {
			return err
		}
		m.log.Info("Marked task %s as interrupted", t.ID)
	}
	return nil
}

// CreateTask persists a new task and schedules it for execution.
func (m *Manager) CreateTask(name, description string, taskType TaskType, config map[string]interface{}) (*Task, error) {
	t := New(name, description, taskType, config)

	if err := m.storage.SaveTask(t); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	m.mu.Lock()
	m.tasks[t.ID] = t
	snapshot := *t
	m.mu.Unlock()

	m.startTask(t)

	m.log.Info("Task created: id=%s name=%q type=%s", t.ID, t.Name, t.Type)
	return &snapshot, nil
}

// GetTask returns a task by ID, from memory or storage. In-memory tasks
// are returned as copies so callers never observe concurrent lifecycle
// mutations. It returns (nil, nil) when no task exists.
func (m *Manager) GetTask(taskID string) (*Task, error) {
	m.mu.Lock()
	if t, ok := m.tasks[taskID]; ok {
		snapshot := *t
		m.mu.Unlock()
		return &snapshot, nil
	}
	m.mu.Unlock()
	return m.storage.LoadTask(taskID)
}

// ListTasks lists stored tasks with optional filters, newest first.
func (m *Manager) ListTasks(status Status, taskType TaskType, limit int) ([]*Task, error) {
	return m.storage.ListTasks(status, taskType, limit)
}

// CancelTask cancels an active task. It reports whether a task was
// actually cancelled.
func (m *Manager) CancelTask(taskID string) (bool, error) {
	m.mu.Lock()
	t, tracked := m.tasks[taskID]
	if !tracked {
		m.mu.Unlock()
		return m.cancelStored(taskID)
	}
	if !t.IsActive() {
		m.mu.Unlock()
		return false, nil
	}

	if cancel, ok := m.cancels[taskID]; ok {
		cancel()
	}
	now := time.Now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	snapshot := *t
	m.mu.Unlock()

	if err := m.storage.SaveTask(&snapshot); err != nil {
		return false, err
	}

	m.log.Info("Task cancelled: id=%s", taskID)
	return true, nil
}

// cancelStored cancels a task that is only known to storage, such as a
// pending task left over from a previous daemon run.
func (m *Manager) cancelStored(taskID string) (bool, error) {
	t, err := m.storage.LoadTask(taskID)
	if err != nil || t == nil || !t.IsActive() {
		return false, err
	}

	now := time.Now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	if err := m.storage.SaveTask(t); err != nil {
		return false, err
	}

	m.log.Info("Task cancelled: id=%s", taskID)
	return true, nil
}

// DeleteTask cancels the task if active, then removes it from memory and
// storage. It reports whether the task existed.
func (m *Manager) DeleteTask(taskID string) (bool, error) {
	t, err := m.GetTask(taskID)
	if err != nil {
		return false, err
	}
	if t != nil && t.IsActive() {
		if _, err := m.CancelTask(taskID); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	delete(m.tasks, taskID)
	delete(m.cancels, taskID)
	m.mu.Unlock()

	return m.storage.DeleteTask(taskID)
}

// GetOutput returns the tail of a task's output log.
func (m *Manager) GetOutput(taskID string, maxBytes int64) (string, error) {
	return m.storage.ReadOutput(taskID, maxBytes)
}

// Statistics summarizes stored tasks by status.
func (m *Manager) Statistics() (map[string]int, error) {
	tasks, err := m.storage.ListTasks("", "", 0)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{"total": len(tasks)}
	for _, t := range tasks {
		stats[string(t.Status)]++
	}
	return stats, nil
}

// Cleanup deletes terminal tasks older than retention, then trims the
// total count down to maxTasks (oldest first). It returns the number of
// deleted tasks.
func (m *Manager) Cleanup(retention time.Duration, maxTasks int) (int, error) {
	tasks, err := m.storage.ListTasks("", "", 0)
	if err != nil {
		return 0, err
	}

	deleted := 0
	cutoff := time.Now().Add(-retention)
	kept := make([]*Task, 0, len(tasks))

	for _, t := range tasks {
		if t.IsTerminal() && retention > 0 && t.CreatedAt.Before(cutoff) {
			if ok, err := m.DeleteTask(t.ID); err != nil {
				return deleted, err
			} else if ok {
				deleted++
				continue
			}
		}
		kept = append(kept, t)
	}

	// kept is newest-first; trim terminal tasks from the old end.
	if maxTasks > 0 && len(kept) > maxTasks {
		for _, t := range kept[maxTasks:] {
			if !t.IsTerminal() {
				continue
			}
			if ok, err := m.DeleteTask(t.ID); err != nil {
				return deleted, err
			} else if ok {
				deleted++
			}
		}
	}

	if deleted > 0 {
		m.log.Info("Cleanup removed %d tasks", deleted)
	}
	return deleted, nil
}

// ActiveCount returns the number of in-memory active tasks.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, t := range m.tasks {
		if t.IsActive() {
			count++
		}
	}
	return count
}

// Shutdown cancels all active tasks and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if t.IsActive() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.CancelTask(id); err != nil {
			m.log.Warn("Failed to cancel task %s during shutdown: %v", id, err)
		}
	}

	m.baseCancel()
	m.wg.Wait()
}

// startTask launches the execution goroutine for a task. The goroutine
// waits for a concurrency slot, runs the executor, and records the outcome.
func (m *Manager) startTask(t *Task) {
	runCtx, cancel := context.WithCancel(m.baseCtx)

	m.mu.Lock()
	m.cancels[t.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			m.mu.Lock()
			delete(m.cancels, t.ID)
			m.mu.Unlock()
		}()

		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-runCtx.Done():
			return
		}

		m.mu.Lock()
		// The task may have been cancelled while waiting for a slot.
		if t.Status != StatusPending {
			m.mu.Unlock()
			return
		}
		now := time.Now()
		t.Status = StatusRunning
		t.StartedAt = &now
		// The executor works on a private copy so request handlers can
		// snapshot the tracked task without racing on its fields.
		runCopy := *t
		m.mu.Unlock()
		if err := m.storage.SaveTask(&runCopy); err != nil {
			m.log.Error("Failed to persist running state for %s: %v", t.ID, err)
		}

		err := m.runExecutor(runCtx, &runCopy)

		m.mu.Lock()
		// A cancelled task already had its final state persisted.
		if t.Status != StatusRunning {
			m.mu.Unlock()
			return
		}
		t.PID = runCopy.PID
		t.ExitCode = runCopy.ExitCode
		done := time.Now()
		t.CompletedAt = &done
		if err != nil {
			t.Status = StatusFailed
			t.Error = err.Error()
		} else {
			t.Status = StatusCompleted
		}
		snapshot := *t
		m.mu.Unlock()

		if err != nil {
			m.log.Error("Task failed: id=%s error=%v", t.ID, err)
		} else {
			m.log.Info("Task completed: id=%s", t.ID)
		}
		if saveErr := m.storage.SaveTask(&snapshot); saveErr != nil {
			m.log.Error("Failed to persist final state for %s: %v", t.ID, saveErr)
		}
	}()
}

// runExecutor isolates executor panics so a broken task cannot take down
// the daemon.
func (m *Manager) runExecutor(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	if m.executor == nil {
		return fmt.Errorf("no executor configured")
	}
	return m.executor.Execute(ctx, t)
}
