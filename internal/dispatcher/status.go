package dispatcher

import (
	"context"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
)

// handleGetSystemStatus implements the supplemented get_system_status
// endpoint: a snapshot of every lifecycle-managed component's descriptor,
// for an admin surface that wants to see what's actually running without
// exposing /metrics' full counter set. Returns an empty list rather than
// an error when no Manager was wired (single-node test/dev construction).
func (d *Dispatcher) handleGetSystemStatus(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	if d.lifecycle == nil {
		return []lifecycle.Descriptor{}, nil
	}
	return d.lifecycle.Descriptors(), nil
}
