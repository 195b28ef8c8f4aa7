package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
)

// SettingsAuditRecorder records the before/after of every set_settings
// call (§3 supplemented feature "Settings audit trail"). A nil recorder
// (the default for tests and single-node dev runs) simply skips
// recording.
type SettingsAuditRecorder interface {
	Record(ctx context.Context, oldValue, newValue string) error
}

// handleGetSettings implements get_settings.
func (d *Dispatcher) handleGetSettings(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	s, err := config.LoadSettings(d.settingsFile)
	if err != nil {
		return nil, fmt.Errorf("get_settings: %w", err)
	}
	return s, nil
}

// handleSetSettings implements set_settings (§8 Testable Property 7):
// the payload's "settings" object must carry exactly the declared key
// set, or the call fails before anything is written.
func (d *Dispatcher) handleSetSettings(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	raw, err := payloadMap(payload, "settings")
	if err != nil {
		return nil, err
	}
	if err := config.ValidateSettingsMap(raw); err != nil {
		return nil, fmt.Errorf("set_settings: %w", err)
	}

	old, loadErr := config.LoadSettings(d.settingsFile)
	oldJSON, _ := json.Marshal(old)

	var next config.Settings
	if err := remarshal(raw, &next); err != nil {
		return nil, fmt.Errorf("set_settings: decode: %w", err)
	}
	if err := config.SaveSettings(d.settingsFile, next); err != nil {
		return nil, fmt.Errorf("set_settings: %w", err)
	}

	if d.audit != nil && loadErr == nil {
		newJSON, _ := json.Marshal(next)
		if err := d.audit.Record(ctx, string(oldJSON), string(newJSON)); err != nil {
			d.log.WithField("error", err).Warn("dispatcher: settings audit record failed")
		}
	}
	return "Success", nil
}
