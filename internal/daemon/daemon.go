// Package daemon wires task storage, the lifecycle manager and a transport
// server into the background task daemon, and provides the matching client.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exobrain/taskdaemon/internal/config"
	"github.com/exobrain/taskdaemon/internal/logger"
	"github.com/exobrain/taskdaemon/internal/pidfile"
	"github.com/exobrain/taskdaemon/internal/task"
	"github.com/exobrain/taskdaemon/internal/transport"
)

// Daemon is the background task daemon. It owns the storage, the task
// manager and one transport server, and dispatches request actions to the
// manager.
type Daemon struct {
	cfg     *config.Config
	storage *task.Storage
	manager *task.Manager
	monitor *task.Monitor
	server  transport.Server
	pid     *pidfile.File
	log     *logger.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a daemon from configuration. The transport is resolved and
// constructed here, so an unsupported transport fails before Start.
func New(cfg *config.Config) (*Daemon, error) {
	transportType, err := cfg.TransportType()
	if err != nil {
		return nil, err
	}

	storage := task.NewStorage(cfg.StoragePath)
	manager := task.NewManager(storage, NewProcessExecutor(storage), cfg.MaxConcurrentTasks)

	server, err := transport.NewServer(transportType, cfg.TransportConfig())
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		storage: storage,
		manager: manager,
		monitor: task.NewMonitor(storage, cfg.MaxConcurrentTasks),
		server:  server,
		pid:     pidfile.New(cfg.PidFilePath),
		log:     logger.Global().WithPrefix("daemon"),
	}
	server.SetHandler(d.handle)
	return d, nil
}

// Start brings the daemon up: it refuses to start when another instance
// holds the PID file, recovers persisted state, writes the PID file and
// starts the transport server plus the periodic cleanup loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already started")
	}

	if running, pid, err := d.pid.Running(); err != nil {
		return fmt.Errorf("failed to check pidfile: %w", err)
	} else if running {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := d.storage.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := d.manager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize task manager: %w", err)
	}

	if err := d.pid.Write(); err != nil {
		return err
	}

	if err := d.server.Start(ctx); err != nil {
		d.pid.Remove()
		return err
	}

	d.running = true
	d.stopChan = make(chan struct{})

	if d.cfg.CleanupIntervalMinutes > 0 {
		d.wg.Add(1)
		go d.cleanupLoop()
	}

	d.log.Info("Daemon started: transport=%s storage=%s", d.cfg.Transport, d.cfg.StoragePath)
	return nil
}

// Stop shuts the daemon down: transport first so no new requests arrive,
// then active tasks, then the PID file. Stop is idempotent.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopChan)
	d.mu.Unlock()

	d.server.Stop()
	d.manager.Shutdown()
	d.wg.Wait()

	if err := d.pid.Remove(); err != nil {
		d.log.Warn("Failed to remove pidfile: %v", err)
	}
	d.log.Info("Daemon stopped")
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

func (d *Daemon) cleanupLoop() {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.CleanupIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			retention := time.Duration(d.cfg.RetentionHours) * time.Hour
			if _, err := d.manager.Cleanup(retention, d.cfg.MaxTasks); err != nil {
				d.log.Warn("Periodic cleanup failed: %v", err)
			}
		case <-d.stopChan:
			return
		}
	}
}

// handle dispatches one request to the manager.
func (d *Daemon) handle(ctx context.Context, req transport.Request) (transport.Response, error) {
	if req.Action == "" {
		return transport.Errorf("Missing 'action' field in request"), nil
	}

	switch req.Action {
	case "ping":
		return transport.OK(map[string]interface{}{"message": "pong"}), nil
	case "create_task":
		return d.handleCreateTask(req.Params)
	case "get_task":
		return d.handleGetTask(req.Params)
	case "list_tasks":
		return d.handleListTasks(req.Params)
	case "cancel_task":
		return d.handleCancelTask(req.Params)
	case "delete_task":
		return d.handleDeleteTask(req.Params)
	case "get_output":
		return d.handleGetOutput(req.Params)
	case "get_metrics":
		return d.handleGetMetrics()
	case "get_health":
		return d.handleGetHealth()
	case "get_statistics":
		return d.handleGetStatistics()
	case "cleanup_tasks":
		return d.handleCleanupTasks(req.Params)
	default:
		return transport.Errorf("Unknown action: %s", req.Action), nil
	}
}

func (d *Daemon) handleCreateTask(params map[string]interface{}) (transport.Response, error) {
	name := stringParam(params, "name")
	if name == "" {
		return transport.Errorf("Missing required parameter: name"), nil
	}

	typeName := stringParam(params, "task_type")
	if typeName == "" {
		typeName = string(task.TypeAgent)
	}
	taskType, err := task.ParseTaskType(typeName)
	if err != nil {
		return transport.Errorf("Invalid task type: %s", typeName), nil
	}

	taskConfig, _ := params["config"].(map[string]interface{})

	t, err := d.manager.CreateTask(name, stringParam(params, "description"), taskType, taskConfig)
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{"task": t}), nil
}

func (d *Daemon) handleGetTask(params map[string]interface{}) (transport.Response, error) {
	taskID := stringParam(params, "task_id")
	if taskID == "" {
		return transport.Errorf("Missing required parameter: task_id"), nil
	}

	t, err := d.manager.GetTask(taskID)
	if err != nil {
		return transport.Response{}, err
	}
	if t == nil {
		return transport.Errorf("Task not found: %s", taskID), nil
	}
	return transport.OK(map[string]interface{}{"task": t}), nil
}

func (d *Daemon) handleListTasks(params map[string]interface{}) (transport.Response, error) {
	var status task.Status
	if s := stringParam(params, "status"); s != "" {
		parsed, err := task.ParseStatus(s)
		if err != nil {
			return transport.Errorf("Invalid status filter: %s", s), nil
		}
		status = parsed
	}

	var taskType task.TaskType
	if s := stringParam(params, "task_type"); s != "" {
		parsed, err := task.ParseTaskType(s)
		if err != nil {
			return transport.Errorf("Invalid task type filter: %s", s), nil
		}
		taskType = parsed
	}

	tasks, err := d.manager.ListTasks(status, taskType, intParam(params, "limit", 0))
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	}), nil
}

func (d *Daemon) handleCancelTask(params map[string]interface{}) (transport.Response, error) {
	taskID := stringParam(params, "task_id")
	if taskID == "" {
		return transport.Errorf("Missing required parameter: task_id"), nil
	}

	t, err := d.manager.GetTask(taskID)
	if err != nil {
		return transport.Response{}, err
	}
	if t == nil {
		return transport.Errorf("Task not found: %s", taskID), nil
	}

	cancelled, err := d.manager.CancelTask(taskID)
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{"cancelled": cancelled}), nil
}

func (d *Daemon) handleDeleteTask(params map[string]interface{}) (transport.Response, error) {
	taskID := stringParam(params, "task_id")
	if taskID == "" {
		return transport.Errorf("Missing required parameter: task_id"), nil
	}

	deleted, err := d.manager.DeleteTask(taskID)
	if err != nil {
		return transport.Response{}, err
	}
	if !deleted {
		return transport.Errorf("Task not found: %s", taskID), nil
	}
	return transport.OK(map[string]interface{}{"deleted": true}), nil
}

func (d *Daemon) handleGetOutput(params map[string]interface{}) (transport.Response, error) {
	taskID := stringParam(params, "task_id")
	if taskID == "" {
		return transport.Errorf("Missing required parameter: task_id"), nil
	}

	t, err := d.manager.GetTask(taskID)
	if err != nil {
		return transport.Response{}, err
	}
	if t == nil {
		return transport.Errorf("Task not found: %s", taskID), nil
	}

	output, err := d.manager.GetOutput(taskID, int64(intParam(params, "max_bytes", 0)))
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{
		"task_id": taskID,
		"output":  output,
	}), nil
}

func (d *Daemon) handleGetMetrics() (transport.Response, error) {
	metrics, err := d.monitor.CollectMetrics(d.manager.ActiveCount())
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{"metrics": metrics}), nil
}

func (d *Daemon) handleGetHealth() (transport.Response, error) {
	health, err := d.monitor.CheckHealth(d.manager.ActiveCount())
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{"health": health}), nil
}

func (d *Daemon) handleGetStatistics() (transport.Response, error) {
	stats, err := d.manager.Statistics()
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{"statistics": stats}), nil
}

func (d *Daemon) handleCleanupTasks(params map[string]interface{}) (transport.Response, error) {
	retentionHours := intParam(params, "retention_hours", d.cfg.RetentionHours)
	maxTasks := intParam(params, "max_tasks", d.cfg.MaxTasks)

	deleted, err := d.manager.Cleanup(time.Duration(retentionHours)*time.Hour, maxTasks)
	if err != nil {
		return transport.Response{}, err
	}
	return transport.OK(map[string]interface{}{"deleted": deleted}), nil
}

func stringParam(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

// intParam accepts both int and float64 since JSON decoding produces
// float64 for numbers.
func intParam(params map[string]interface{}, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
