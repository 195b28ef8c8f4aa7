package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
	"github.com/bishopdynamics/NetbootStudioV2/internal/metrics"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// Bus is the subset of pubsub.Client the task manager needs to publish
// status updates (§4.1 topic NetbootStudio/TaskStatus).
type Bus interface {
	Publish(ctx context.Context, topic string, content interface{}) error
}

// Envelope is a staging-queue entry: a request as received from the API,
// not yet resolved to a concrete task (§4.6).
type Envelope struct {
	TaskType string
	Payload  map[string]interface{}
}

// MapEntry is one row of the static task_map (§4.6): the friendly name
// shown in status and the factory that builds the Task from its payload.
type MapEntry struct {
	FriendlyName string
	Factory      func(payload map[string]interface{}) Task
}

// Manager owns the staging queue, execution queue, and bounded worker
// pools (§4.6, §5). Its Start/Stop lifecycle is grounded on the teacher's
// internal/marble.Worker/WorkerGroup shape (a cancellable goroutine joined
// on Stop), generalized from one ticker-driven function into a pool of
// queue-consumers.
type Manager struct {
	cfg        config.TasksConfig
	scratchDir string
	taskMap    map[string]MapEntry
	bus        Bus
	log        *logger.Logger
	metrics    *metrics.Metrics

	stagingQueue   chan Envelope
	executionQueue chan *runningTask

	mu        sync.Mutex
	byID      map[string]*runningTask
	startedAt map[string]time.Time
	status    []StatusEntry

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ lifecycle.Service = (*Manager)(nil)
var _ lifecycle.DescriptorProvider = (*Manager)(nil)

// NewManager constructs a Manager. taskMap is the static type->factory
// table; scratchDir holds per-task log files; log may be nil.
func NewManager(cfg config.TasksConfig, scratchDir string, taskMap map[string]MapEntry, bus Bus, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	return &Manager{
		cfg:            cfg,
		scratchDir:     scratchDir,
		taskMap:        taskMap,
		bus:            bus,
		log:            log,
		metrics:        metrics.Global(),
		stagingQueue:   make(chan Envelope, depth),
		executionQueue: make(chan *runningTask, depth),
		byID:           make(map[string]*runningTask),
		startedAt:      make(map[string]time.Time),
	}
}

func (m *Manager) Name() string { return "task-manager" }

func (m *Manager) Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{Name: m.Name(), Component: "tasks", Capabilities: []string{"staging", "execution"}}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	stagingN := m.cfg.StagingWorkers
	if stagingN < 1 {
		stagingN = 1
	}
	execN := m.cfg.ExecutionWorkers
	if execN < 1 {
		execN = 1
	}

	for i := 0; i < stagingN; i++ {
		m.wg.Add(1)
		go m.stagingWorker(runCtx)
	}
	for i := 0; i < execN; i++ {
		m.wg.Add(1)
		go m.executionWorker(runCtx)
	}
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a staging envelope (§4.6 "request envelopes as received
// from the API"). It never blocks indefinitely: if the staging queue is
// full it returns an error rather than stalling the caller.
func (m *Manager) Submit(ctx context.Context, env Envelope) error {
	select {
	case m.stagingQueue <- env:
		m.metrics.RecordTaskSubmitted(env.TaskType)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("tasks: staging queue full, dropping %s", env.TaskType)
	}
}

func (m *Manager) stagingWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-m.stagingQueue:
			m.stage(ctx, env)
		}
	}
}

func (m *Manager) stage(ctx context.Context, env Envelope) {
	entry, ok := m.taskMap[env.TaskType]
	if !ok {
		m.log.WithField("task_type", env.TaskType).Warn("tasks: unknown task type, dropping")
		return
	}

	task := entry.Factory(env.Payload)
	rt := newRunningTask(uuid.NewString(), env.TaskType, entry.FriendlyName, task, env.Payload, m)
	m.publishStatus(ctx, rt.status(StatusQueued, 0, "", ""))

	select {
	case m.executionQueue <- rt:
	case <-ctx.Done():
	}
}

func (m *Manager) executionWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rt := <-m.executionQueue:
			m.mu.Lock()
			m.byID[rt.id] = rt
			m.startedAt[rt.id] = time.Now()
			m.metrics.SetTasksRunning(len(m.startedAt))
			m.mu.Unlock()
			m.publishStatus(ctx, rt.status(StatusInitialized, 0, "", ""))
			rt.run(ctx)
		}
	}
}

// publishStatus records entry in-place in the status list (Testable
// Property 5) and publishes it over the bus.
func (m *Manager) publishStatus(ctx context.Context, entry StatusEntry) {
	m.mu.Lock()
	replaced := false
	for i, existing := range m.status {
		if existing.TaskID == entry.TaskID {
			m.status[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		m.status = append([]StatusEntry{entry}, m.status...)
	}
	if entry.TaskStatus == StatusComplete || entry.TaskStatus == StatusFailed {
		if started, ok := m.startedAt[entry.TaskID]; ok {
			m.metrics.RecordTaskTerminal(entry.TaskType, string(entry.TaskStatus), time.Since(started))
			delete(m.startedAt, entry.TaskID)
		}
		m.metrics.SetTasksRunning(len(m.startedAt))
	}
	m.mu.Unlock()

	if m.bus != nil {
		if err := m.bus.Publish(ctx, pubsub.TopicTaskStatus, entry); err != nil {
			m.log.WithField("error", err).WithField("task_id", entry.TaskID).Warn("tasks: status publish failed")
		}
	}
}

// Status returns a snapshot of the current status list, in order.
func (m *Manager) Status() []StatusEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusEntry(nil), m.status...)
}

// StopTask requests the named task stop at its next subtask boundary
// (task_action "stop", §4.6). Publishes a transient Stopping status
// immediately so pollers see the request take effect before the runner
// converges on the terminal Failed status at the next subtask boundary.
func (m *Manager) StopTask(taskID string) error {
	m.mu.Lock()
	rt, ok := m.byID[taskID]
	var current StatusEntry
	for _, s := range m.status {
		if s.TaskID == taskID {
			current = s
			break
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("tasks: unknown task id %s", taskID)
	}
	rt.requestStop()
	m.publishStatus(context.Background(), rt.status(StatusStopping, current.TaskProgress, "stop requested", current.CurrentSubtask))
	return nil
}

// Clear calls the task's Cleanup and removes it from the by-id index and
// the status list (task_action "clear", §4.6).
func (m *Manager) Clear(taskID string) error {
	m.mu.Lock()
	rt, ok := m.byID[taskID]
	if ok {
		delete(m.byID, taskID)
		for i, s := range m.status {
			if s.TaskID == taskID {
				m.status = append(m.status[:i], m.status[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("tasks: unknown task id %s", taskID)
	}
	return rt.task.Cleanup()
}

// Log returns the current contents of the per-task log file
// (task_action "log", §4.6).
func (m *Manager) Log(taskID string) (string, error) {
	m.mu.Lock()
	rt, ok := m.byID[taskID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("tasks: unknown task id %s", taskID)
	}
	return rt.readLog()
}
