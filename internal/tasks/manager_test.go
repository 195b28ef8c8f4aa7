package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
)

// recordingBus collects every published status update, in order, for
// assertions on Testable Property 5 (in-place status update).
type recordingBus struct {
	mu   sync.Mutex
	seen []StatusEntry
}

func (b *recordingBus) Publish(ctx context.Context, topic string, content interface{}) error {
	entry, ok := content.(StatusEntry)
	if !ok {
		return nil
	}
	b.mu.Lock()
	b.seen = append(b.seen, entry)
	b.mu.Unlock()
	return nil
}

func testManagerCfg() config.TasksConfig {
	return config.TasksConfig{StagingWorkers: 1, ExecutionWorkers: 2, QueueDepth: 8}
}

func waitForStatus(t *testing.T, m *Manager, taskID string, want Status, timeout time.Duration) StatusEntry {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, s := range m.Status() {
			if s.TaskID == taskID && s.TaskStatus == want {
				return s
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s, last: %+v", taskID, want, m.Status())
	return StatusEntry{}
}

// TestZeroSubtaskTaskCompletesImmediately covers the boundary case of a
// task type with no subtasks at all: it should report Complete at 100
// without ever reporting Running.
func TestZeroSubtaskTaskCompletesImmediately(t *testing.T) {
	taskMap := map[string]MapEntry{
		"noop": {FriendlyName: "No-op", Factory: func(map[string]interface{}) Task {
			return SimpleTask{}
		}},
	}
	bus := &recordingBus{}
	m := NewManager(testManagerCfg(), "", taskMap, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(context.Background())

	require.NoError(t, m.Submit(ctx, Envelope{TaskType: "noop"}))

	deadline := time.Now().Add(2 * time.Second)
	var found *StatusEntry
	for time.Now().Before(deadline) {
		for _, s := range m.Status() {
			if s.TaskType == "noop" && (s.TaskStatus == StatusComplete || s.TaskStatus == StatusFailed) {
				e := s
				found = &e
				break
			}
		}
		if found != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, found)
	require.Equal(t, StatusComplete, found.TaskStatus)
	require.Equal(t, 100, found.TaskProgress)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, e := range bus.seen {
		require.NotEqual(t, StatusRunning, e.TaskStatus)
	}
}

// TestMissingRequiredKeyFailsImmediately covers required-key validation:
// a payload missing a declared key must fail before any subtask runs.
func TestMissingRequiredKeyFailsImmediately(t *testing.T) {
	taskMap := map[string]MapEntry{
		"needs_name": {FriendlyName: "Needs Name", Factory: func(map[string]interface{}) Task {
			return SimpleTask{
				Required: []string{"name"},
				Steps: []Subtask{
					{Description: "should never run", Progress: 50, Function: func(rc *RunContext) (bool, error) {
						return true, nil
					}},
				},
			}
		}},
	}
	bus := &recordingBus{}
	m := NewManager(testManagerCfg(), "", taskMap, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(context.Background())

	require.NoError(t, m.Submit(ctx, Envelope{TaskType: "needs_name", Payload: map[string]interface{}{}}))

	deadline := time.Now().Add(2 * time.Second)
	var found *StatusEntry
	for time.Now().Before(deadline) {
		for _, s := range m.Status() {
			if s.TaskType == "needs_name" && (s.TaskStatus == StatusComplete || s.TaskStatus == StatusFailed) {
				e := s
				found = &e
			}
		}
		if found != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, found)
	require.Equal(t, StatusFailed, found.TaskStatus)
}

// TestUnknownTaskTypeIsDropped covers §4.6's "unknown task types are
// dropped at staging with a log, never reach the execution queue".
func TestUnknownTaskTypeIsDropped(t *testing.T) {
	bus := &recordingBus{}
	m := NewManager(testManagerCfg(), "", map[string]MapEntry{}, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(context.Background())

	require.NoError(t, m.Submit(ctx, Envelope{TaskType: "does_not_exist"}))

	time.Sleep(200 * time.Millisecond)
	require.Empty(t, m.Status())
}

// TestStatusUpdatesInPlace covers Testable Property 5: repeated status
// publishes for the same task id replace the existing entry rather than
// appending, and the list preserves insertion position.
func TestStatusUpdatesInPlace(t *testing.T) {
	gate := make(chan struct{})
	taskMap := map[string]MapEntry{
		"slow": {FriendlyName: "Slow", Factory: func(map[string]interface{}) Task {
			return SimpleTask{
				Steps: []Subtask{
					{Description: "step one", Progress: 10, Function: func(rc *RunContext) (bool, error) {
						return true, nil
					}},
					{Description: "step two", Progress: 50, Function: func(rc *RunContext) (bool, error) {
						<-gate
						return true, nil
					}},
				},
			}
		}},
	}
	bus := &recordingBus{}
	m := NewManager(testManagerCfg(), "", taskMap, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(context.Background())

	require.NoError(t, m.Submit(ctx, Envelope{TaskType: "slow"}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(m.Status()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, m.Status(), 1)
	taskID := m.Status()[0].TaskID

	close(gate)
	waitForStatus(t, m, taskID, StatusComplete, 2*time.Second)
	require.Len(t, m.Status(), 1, "status list must update in place, not append a new row per publish")
}

// TestTaskCancellationStopsWithinGrace covers concrete scenario 4: a task
// whose second subtask blocks far longer than the runner's stop-poll
// interval (pollInterval) must still reach Failed promptly once stop is
// requested.
func TestTaskCancellationStopsWithinGrace(t *testing.T) {
	taskMap := map[string]MapEntry{
		"long": {FriendlyName: "Long", Factory: func(map[string]interface{}) Task {
			return SimpleTask{
				Steps: []Subtask{
					{Description: "quick", Progress: 10, Function: func(rc *RunContext) (bool, error) {
						return true, nil
					}},
					{Description: "sleeps forever", Progress: 50, Function: func(rc *RunContext) (bool, error) {
						select {
						case <-rc.Context().Done():
							return false, rc.Context().Err()
						case <-time.After(60 * time.Second):
							return true, nil
						}
					}},
				},
			}
		}},
	}
	bus := &recordingBus{}
	m := NewManager(testManagerCfg(), "", taskMap, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop(context.Background())

	require.NoError(t, m.Submit(ctx, Envelope{TaskType: "long"}))

	deadline := time.Now().Add(2 * time.Second)
	var taskID string
	for time.Now().Before(deadline) {
		if s := m.Status(); len(s) > 0 {
			taskID = s[0].TaskID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, taskID)

	require.NoError(t, m.StopTask(taskID))

	waitForStatus(t, m, taskID, StatusFailed, 5*time.Second)
}
