package daemon

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/exobrain/taskdaemon/internal/task"
)

// ProcessExecutor runs process tasks as shell commands, streaming their
// combined output into task storage.
type ProcessExecutor struct {
	storage *task.Storage
}

// NewProcessExecutor creates an executor over storage.
func NewProcessExecutor(storage *task.Storage) *ProcessExecutor {
	return &ProcessExecutor{storage: storage}
}

// outputWriter appends executor output to a task's log file.
type outputWriter struct {
	storage *task.Storage
	taskID  string
}

func (w *outputWriter) Write(p []byte) (int, error) {
	if err := w.storage.AppendOutput(w.taskID, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Execute implements task.Executor.
func (e *ProcessExecutor) Execute(ctx context.Context, t *task.Task) error {
	switch t.Type {
	case task.TypeProcess:
		return e.runProcess(ctx, t)
	case task.TypeAgent:
		return fmt.Errorf("agent tasks require an agent runtime")
	default:
		return fmt.Errorf("unknown task type: %s", t.Type)
	}
}

func (e *ProcessExecutor) runProcess(ctx context.Context, t *task.Task) error {
	if t.Command == "" {
		return fmt.Errorf("process task has no command")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", t.Command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", t.Command)
	}
	cmd.Dir = t.WorkingDir

	out := &outputWriter{storage: e.storage, taskID: t.ID}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	t.PID = cmd.Process.Pid

	err := cmd.Wait()
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		t.ExitCode = &code
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}
