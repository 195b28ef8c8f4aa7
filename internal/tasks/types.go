// Package tasks implements the Task Subsystem (C6, §4.6): a staging queue
// that resolves request envelopes into typed tasks, an execution queue
// that runs them through bounded worker pools, and a stoppable-subtask
// runner whose progress is published over the bus. Grounded structurally
// on the teacher's internal/marble.Worker/WorkerGroup lifecycle shape
// (start/stop with a done channel, group-level fan-out), adapted from a
// ticker loop into a queue-consuming pool.
package tasks

import "context"

// Status is a task's full lifecycle state (§3.4). Queued/Initialized/
// Starting/Stopping are transient and observed only via the status list
// or the bus; Running persists across the whole subtask loop (the
// per-subtask description and progress are what actually change);
// Complete/Failed are terminal. There is no "Success" task-level status —
// Success/Failed are per-subtask outcomes that either continue the task
// or force a Failed terminal state.
type Status string

const (
	StatusQueued      Status = "Queued"
	StatusInitialized Status = "Initialized"
	StatusStarting    Status = "Starting"
	StatusRunning     Status = "Running"
	StatusStopping    Status = "Stopping"
	StatusComplete    Status = "Complete"
	StatusFailed      Status = "Failed"
)

// RunContext is handed to every subtask function. It carries the run's
// context.Context plus the means to register a spawned child process so
// Stop can signal it asynchronously (§9 "stop semantics for
// subprocess-blocked subtasks").
type RunContext struct {
	ctx             context.Context
	registerProcess func(terminate func())
}

// Context returns the run's context, cancelled when the task is stopped.
func (r *RunContext) Context() context.Context { return r.ctx }

// TrackProcess registers a termination callback (typically
// `func() { proc.Signal(syscall.SIGTERM) }`) invoked when Stop is called
// while this subtask is in flight. Subtasks that do not spawn external
// processes never need to call this.
func (r *RunContext) TrackProcess(terminate func()) {
	if r.registerProcess != nil {
		r.registerProcess(terminate)
	}
}

// Subtask is one named step of a Task (§4.6).
type Subtask struct {
	Description string
	// Progress is the percentage (0-100) reported while this subtask is
	// the current one.
	Progress int
	// Function performs the work, returning true on success and false on
	// (non-error) failure; an error is treated the same as false but is
	// also logged.
	Function func(rc *RunContext) (bool, error)
}

// Task is the capability interface every concrete task type implements
// (§9: composition over the source's class-inheritance chain).
type Task interface {
	// RequiredKeys lists the payload keys that must be present before
	// Subtasks is even consulted; a missing key aborts with Failed.
	RequiredKeys() []string
	Subtasks() []Subtask
	// Cleanup deletes scratch directories and other disposable state; it
	// is optional and may be a no-op.
	Cleanup() error
}

// SimpleTask is a composition-based default Task implementation: a name,
// required keys, and an ordered subtask list supplied directly, with an
// optional cleanup function. This is the "small capability interface ...
// composition-based default image-builder wrapper" described in §9;
// concrete image builders embed it and supply only their OS-specific
// subtasks plus a CleanupFunc that removes their own scratch directory.
type SimpleTask struct {
	Required    []string
	Steps       []Subtask
	CleanupFunc func() error
}

var _ Task = SimpleTask{}

func (t SimpleTask) RequiredKeys() []string { return t.Required }
func (t SimpleTask) Subtasks() []Subtask    { return t.Steps }
func (t SimpleTask) Cleanup() error {
	if t.CleanupFunc == nil {
		return nil
	}
	return t.CleanupFunc()
}

// StatusEntry is one row of the task manager's published/queried status
// list (§4.6 "Status aggregation").
type StatusEntry struct {
	TaskID              string `json:"task_id"`
	TaskType             string `json:"task_type"`
	FriendlyName        string `json:"friendly_name"`
	TaskStatus          Status `json:"task_status"`
	TaskProgress        int    `json:"task_progress"`
	TaskProgressDescription string `json:"task_progress_description"`
	CurrentSubtask      string `json:"current_subtask"`
}
