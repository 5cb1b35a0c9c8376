package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage(t.TempDir())
	require.NoError(t, s.Initialize())
	return s
}

func TestStorageSaveAndLoad(t *testing.T) {
	s := newTestStorage(t)

	task := New("build", "compile the project", TypeProcess, map[string]interface{}{
		"command": "make all",
	})
	require.NoError(t, s.SaveTask(task))

	loaded, err := s.LoadTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, "build", loaded.Name)
	assert.Equal(t, TypeProcess, loaded.Type)
	assert.Equal(t, "make all", loaded.Command)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, s.OutputPath(task.ID), loaded.OutputPath)
}

func TestStorageLoadMissingTask(t *testing.T) {
	s := newTestStorage(t)

	loaded, err := s.LoadTask("task-missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStorageDeleteTask(t *testing.T) {
	s := newTestStorage(t)

	task := New("tidy", "", TypeAgent, nil)
	require.NoError(t, s.SaveTask(task))

	ok, err := s.DeleteTask(task.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = os.Stat(filepath.Join(s.basePath, task.ID))
	assert.True(t, os.IsNotExist(err), "task directory must be removed")

	ok, err = s.DeleteTask(task.ID)
	require.NoError(t, err)
	assert.False(t, ok, "deleting twice reports not found")
}

func TestStorageListTasksFilters(t *testing.T) {
	s := newTestStorage(t)

	done := New("done", "", TypeAgent, nil)
	done.Status = StatusCompleted
	require.NoError(t, s.SaveTask(done))

	running := New("running", "", TypeProcess, nil)
	running.Status = StatusRunning
	require.NoError(t, s.SaveTask(running))

	all, err := s.ListTasks("", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := s.ListTasks(StatusCompleted, "", 0)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	procs, err := s.ListTasks("", TypeProcess, 0)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, running.ID, procs[0].ID)
}

func TestStorageListTasksOrderAndLimit(t *testing.T) {
	s := newTestStorage(t)

	older := New("older", "", TypeAgent, nil)
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveTask(older))

	newer := New("newer", "", TypeAgent, nil)
	require.NoError(t, s.SaveTask(newer))

	tasks, err := s.ListTasks("", "", 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, newer.ID, tasks[0].ID, "newest task comes first")
}

func TestStorageOutputRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	task := New("noisy", "", TypeProcess, nil)
	require.NoError(t, s.SaveTask(task))

	require.NoError(t, s.AppendOutput(task.ID, []byte("line one\n")))
	require.NoError(t, s.AppendOutput(task.ID, []byte("line two\n")))

	out, err := s.ReadOutput(task.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", out)

	tail, err := s.ReadOutput(task.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, "line two\n", tail)
}

func TestStorageConcurrentSavesKeepIndexComplete(t *testing.T) {
	s := newTestStorage(t)

	const n = 200
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = New(fmt.Sprintf("job-%d", i), "", TypeAgent, nil)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, task := range tasks {
		wg.Add(1)
		go func(task *Task) {
			defer wg.Done()
			errs <- s.SaveTask(task)
		}(task)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	listed, err := s.ListTasks("", "", 0)
	require.NoError(t, err)
	assert.Len(t, listed, n, "every concurrently saved task stays in the index")
}

func TestStorageReadOutputMissing(t *testing.T) {
	s := newTestStorage(t)

	out, err := s.ReadOutput("task-none", 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}
