package dispatcher

import (
	"context"
	"fmt"

	"github.com/bishopdynamics/NetbootStudioV2/internal/tasks"
)

// TaskSubmitter is the subset of *tasks.Manager the dispatcher needs,
// narrowed to an interface so handler tests can substitute a fake.
type TaskSubmitter interface {
	Submit(ctx context.Context, env tasks.Envelope) error
	StopTask(taskID string) error
	Clear(taskID string) error
	Log(taskID string) (string, error)
}

// handleCreateTask implements create_task: the payload is the task
// envelope itself (its "task_type" key selects the factory; every other
// key is the task's own payload), matching the original's
// `q_staging.put(payload)`.
func (d *Dispatcher) handleCreateTask(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	taskType, err := payloadString(payload, "task_type")
	if err != nil {
		return nil, err
	}
	if err := d.tasks.Submit(ctx, tasks.Envelope{TaskType: taskType, Payload: payload}); err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}
	return "Success", nil
}

// handleTaskAction implements task_action: stop/clear/log dispatched by
// the "action" payload field against a "task_id" (§4.6).
func (d *Dispatcher) handleTaskAction(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	taskID, err := payloadString(payload, "task_id")
	if err != nil {
		return nil, err
	}
	action, err := payloadString(payload, "action")
	if err != nil {
		return nil, err
	}
	switch action {
	case "stop":
		if err := d.tasks.StopTask(taskID); err != nil {
			return nil, fmt.Errorf("task_action stop: %w", err)
		}
		return "Success", nil
	case "clear":
		if err := d.tasks.Clear(taskID); err != nil {
			return nil, fmt.Errorf("task_action clear: %w", err)
		}
		return "Success", nil
	case "log":
		log, err := d.tasks.Log(taskID)
		if err != nil {
			return nil, fmt.Errorf("task_action log: %w", err)
		}
		return log, nil
	default:
		return nil, fmt.Errorf("task_action: unknown action %q", action)
	}
}
