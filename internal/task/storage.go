package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// indexEntry is the summary row kept per task in the storage index.
type indexEntry struct {
	TaskID    string    `json:"task_id"`
	Name      string    `json:"name"`
	TaskType  TaskType  `json:"task_type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Storage persists tasks as one directory per task (metadata.json plus
// output/event logs) with a JSON index over all of them.
type Storage struct {
	basePath  string
	indexPath string
	mu        sync.Mutex
}

// NewStorage creates a storage rooted at basePath. A leading ~ is expanded.
func NewStorage(basePath string) *Storage {
	if len(basePath) > 0 && basePath[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			basePath = filepath.Join(home, basePath[1:])
		}
	}
	return &Storage{
		basePath:  basePath,
		indexPath: filepath.Join(basePath, "tasks_index.json"),
	}
}

// Initialize creates the storage directory and an empty index if missing.
func (s *Storage) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	if _, err := os.Stat(s.indexPath); os.IsNotExist(err) {
		return s.writeIndex(map[string]indexEntry{})
	}
	return nil
}

func (s *Storage) taskDir(taskID string) string {
	return filepath.Join(s.basePath, taskID)
}

func (s *Storage) metadataPath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), "metadata.json")
}

// OutputPath returns the output log location for a task.
func (s *Storage) OutputPath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), "output.log")
}

// EventsPath returns the event log location for a task.
func (s *Storage) EventsPath(taskID string) string {
	return filepath.Join(s.taskDir(taskID), "events.jsonl")
}

// readIndex loads the index. The caller must hold s.mu so that a
// read-modify-write against the index stays atomic.
func (s *Storage) readIndex() (map[string]indexEntry, error) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]indexEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read task index: %w", err)
	}

	index := make(map[string]indexEntry)
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse task index: %w", err)
	}
	return index, nil
}

// writeIndex persists the index. The caller must hold s.mu.
func (s *Storage) writeIndex(index map[string]indexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task index: %w", err)
	}
	if err := os.WriteFile(s.indexPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write task index: %w", err)
	}
	return nil
}

// SaveTask writes the task's metadata and updates the index. Output paths
// are filled in on the task as a side effect.
func (s *Storage) SaveTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.taskDir(t.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}

	t.OutputPath = s.OutputPath(t.ID)
	t.EventsPath = s.EventsPath(t.ID)

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(t.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write task metadata: %w", err)
	}

	index, err := s.readIndex()
	if err != nil {
		return err
	}
	index[t.ID] = indexEntry{
		TaskID:    t.ID,
		Name:      t.Name,
		TaskType:  t.Type,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: time.Now(),
	}
	return s.writeIndex(index)
}

// LoadTask reads one task's metadata. It returns (nil, nil) when the task
// does not exist.
func (s *Storage) LoadTask(taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTask(taskID)
}

// loadTask is LoadTask without locking, for callers that hold s.mu.
func (s *Storage) loadTask(taskID string) (*Task, error) {
	data, err := os.ReadFile(s.metadataPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read task metadata: %w", err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task metadata: %w", err)
	}
	return &t, nil
}

// DeleteTask removes a task from the index and deletes its directory.
// It reports whether the task existed.
func (s *Storage) DeleteTask(taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return false, err
	}
	if _, ok := index[taskID]; !ok {
		return false, nil
	}

	delete(index, taskID)
	if err := s.writeIndex(index); err != nil {
		return false, err
	}

	if err := os.RemoveAll(s.taskDir(taskID)); err != nil {
		return false, fmt.Errorf("failed to remove task directory: %w", err)
	}
	return true, nil
}

// ListTasks loads tasks matching the optional filters, newest first.
// Empty filter values match everything; limit <= 0 means no limit.
func (s *Storage) ListTasks(status Status, taskType TaskType, limit int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}

	entries := make([]indexEntry, 0, len(index))
	for _, e := range index {
		if status != "" && e.Status != status {
			continue
		}
		if taskType != "" && e.TaskType != taskType {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	tasks := make([]*Task, 0, len(entries))
	for _, e := range entries {
		t, err := s.loadTask(e.TaskID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// ReadOutput returns up to maxBytes of the tail of a task's output log.
// A missing log yields an empty string.
func (s *Storage) ReadOutput(taskID string, maxBytes int64) (string, error) {
	path := s.OutputPath(taskID)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open output log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat output log: %w", err)
	}

	size := info.Size()
	offset := int64(0)
	if maxBytes > 0 && size > maxBytes {
		offset = size - maxBytes
	}

	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return "", fmt.Errorf("failed to read output log: %w", err)
	}
	return string(buf), nil
}

// AppendOutput appends a chunk to a task's output log.
func (s *Storage) AppendOutput(taskID string, chunk []byte) error {
	if err := os.MkdirAll(s.taskDir(taskID), 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}

	f, err := os.OpenFile(s.OutputPath(taskID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(chunk); err != nil {
		return fmt.Errorf("failed to append output: %w", err)
	}
	return nil
}
