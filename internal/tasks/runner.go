package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// pollInterval is the rate at which the runner checks for a stop request
// at subtask boundaries (§4.6 "polls a should_stop flag at ≈0.5 Hz").
const pollInterval = 2 * time.Second

// runningTask is one in-flight execution-queue entry: a Task bound to a
// fresh id, its originating payload (for required-key validation), and
// the stop/process-tracking state the stoppable-worker contract needs.
type runningTask struct {
	id           string
	taskType     string
	friendlyName string
	task         Task
	payload      map[string]interface{}
	manager      *Manager

	stopRequested atomic.Bool

	logMu  sync.Mutex
	logBuf bytes.Buffer
	logFile *os.File
}

func newRunningTask(id, taskType, friendlyName string, task Task, payload map[string]interface{}, m *Manager) *runningTask {
	rt := &runningTask{id: id, taskType: taskType, friendlyName: friendlyName, task: task, payload: payload, manager: m}
	if m.scratchDir != "" {
		if err := os.MkdirAll(m.scratchDir, 0o755); err == nil {
			if f, err := os.Create(filepath.Join(m.scratchDir, id+".log")); err == nil {
				rt.logFile = f
			}
		}
	}
	return rt
}

func (rt *runningTask) requestStop() { rt.stopRequested.Store(true) }

func (rt *runningTask) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...) + "\n"
	rt.logMu.Lock()
	rt.logBuf.WriteString(line)
	if rt.logFile != nil {
		rt.logFile.WriteString(line)
	}
	rt.logMu.Unlock()
}

func (rt *runningTask) readLog() (string, error) {
	rt.logMu.Lock()
	defer rt.logMu.Unlock()
	return rt.logBuf.String(), nil
}

func (rt *runningTask) status(status Status, progress int, description, currentSubtask string) StatusEntry {
	return StatusEntry{
		TaskID:                  rt.id,
		TaskType:                rt.taskType,
		FriendlyName:            rt.friendlyName,
		TaskStatus:              status,
		TaskProgress:            progress,
		TaskProgressDescription: description,
		CurrentSubtask:          currentSubtask,
	}
}

// run executes the task's subtasks in order (§4.6). It owns the entire
// stoppable-worker contract: cooperative polling at subtask boundaries,
// asynchronous termination of any subprocess the subtask registered, and
// joining the subtask goroutine's result even after a forced termination.
func (rt *runningTask) run(ctx context.Context) {
	defer func() {
		if rt.logFile != nil {
			rt.logFile.Close()
		}
	}()

	rt.manager.publishStatus(ctx, rt.status(StatusStarting, 0, "", ""))

	for _, key := range rt.task.RequiredKeys() {
		if _, ok := rt.payload[key]; !ok {
			rt.logf("missing required key %q", key)
			rt.manager.publishStatus(ctx, rt.status(StatusFailed, 0, fmt.Sprintf("missing required key %q", key), ""))
			return
		}
	}

	subtasks := rt.task.Subtasks()
	if len(subtasks) == 0 {
		rt.manager.publishStatus(ctx, rt.status(StatusComplete, 100, "", ""))
		return
	}

	for _, sub := range subtasks {
		if rt.stopRequested.Load() {
			rt.logf("stopped before subtask %q", sub.Description)
			rt.manager.publishStatus(ctx, rt.status(StatusFailed, 0, "stopped by user", sub.Description))
			return
		}

		rt.manager.publishStatus(ctx, rt.status(StatusRunning, sub.Progress, sub.Description, sub.Description))
		rt.logf("starting subtask %q", sub.Description)

		ok, err := rt.runSubtask(ctx, sub)
		if err != nil {
			rt.logf("subtask %q errored: %v", sub.Description, err)
		}
		if rt.stopRequested.Load() {
			rt.manager.publishStatus(ctx, rt.status(StatusFailed, sub.Progress, "stopped by user", sub.Description))
			return
		}
		if !ok {
			if cerr := rt.task.Cleanup(); cerr != nil {
				rt.logf("cleanup after failed subtask %q: %v", sub.Description, cerr)
			}
			rt.manager.publishStatus(ctx, rt.status(StatusFailed, sub.Progress, fmt.Sprintf("subtask %q failed", sub.Description), sub.Description))
			return
		}
	}

	rt.manager.publishStatus(ctx, rt.status(StatusComplete, 100, "", ""))
	rt.logf("task complete")
}

// runSubtask runs sub.Function in its own goroutine so the runner can
// keep polling the stop flag while it's in flight. On a stop request it
// invokes every terminate callback the subtask registered (e.g. SIGTERM
// on a spawned build process) and still waits for the goroutine's result.
func (rt *runningTask) runSubtask(ctx context.Context, sub Subtask) (bool, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var termMu sync.Mutex
	var terminators []func()
	rc := &RunContext{
		ctx: subCtx,
		registerProcess: func(terminate func()) {
			termMu.Lock()
			terminators = append(terminators, terminate)
			termMu.Unlock()
		},
	}

	type result struct {
		ok  bool
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		ok, err := sub.Function(rc)
		resultCh <- result{ok, err}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	terminated := false
	for {
		select {
		case r := <-resultCh:
			return r.ok, r.err
		case <-ticker.C:
			if rt.stopRequested.Load() && !terminated {
				terminated = true
				cancel()
				termMu.Lock()
				for _, term := range terminators {
					term()
				}
				termMu.Unlock()
			}
		}
	}
}
