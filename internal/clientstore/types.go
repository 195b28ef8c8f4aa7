// Package clientstore implements the Client Store (C2, §3.1-3.3, §4.2):
// durable per-MAC records with a state machine driven by a ≈1 Hz expiry
// ticker. Structured columns (info/config/state) are JSON, following the
// teacher's pattern of storing domain blobs as text columns and
// round-tripping them on every read (`internal/app/storage/postgres/store.go`).
package clientstore

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors, matching §7's error taxonomy.
var (
	ErrAlreadyExists = errors.New("clientstore: mac already exists")
	ErrNotFound      = errors.New("clientstore: client not found")
	ErrInvalidState  = errors.New("clientstore: invalid state name")
)

// Arch is the client architecture enum (§3.1).
type Arch string

const (
	ArchBIOS32      Arch = "bios32"
	ArchBIOS64      Arch = "bios64"
	ArchAMD64       Arch = "amd64"
	ArchARM64       Arch = "arm64"
	ArchARM32       Arch = "arm32"
	ArchIA32        Arch = "ia32"
	ArchUnsupported Arch = "unsupported"
)

// State is the client lifecycle state enum (§3.3).
type State string

const (
	StateDHCP       State = "dhcp"
	StateUBoot      State = "uboot"
	StateIPXE       State = "ipxe"
	StateStage2     State = "stage2"
	StateUnattended State = "unattended"
	StateStage4     State = "stage4"
	StateComplete   State = "complete"
	StateInactive   State = "inactive"
	StateError      State = "error"
)

// ExpirationAction is what happens when a state's expiration passes (§3.3).
type ExpirationAction string

const (
	ActionComplete ExpirationAction = "complete"
	ActionInactive ExpirationAction = "inactive"
	ActionError    ExpirationAction = "error"
	ActionNone     ExpirationAction = "none"
)

// ExpirationNone is the sentinel value for "no expiration" (§3.3), stored
// literally since StateInfo.StateExpiration is serialized as JSON and must
// round-trip through the "none" string as well as RFC3339 timestamps.
const ExpirationNone = "none"

// Config is the per-client config blob (§3.2).
type Config struct {
	BootImage        string `json:"boot_image"`
	BootImageOnce    bool   `json:"boot_image_once"`
	UnattendedConfig string `json:"unattended_config"`
	DoUnattended     bool   `json:"do_unattended"`
	IPXEBuild        string `json:"ipxe_build"`
	UbootScript      string `json:"uboot_script"`
	Stage4           string `json:"stage4"`
}

// Info is the per-client info blob (§3.1): admin-editable, with DHCP
// discover-derived data preserved verbatim under the "dhcp" key so the
// round-trip law in §8 holds (`get(create(mac, d).mac).info.dhcp == d`).
type Info struct {
	DHCP  json.RawMessage `json:"dhcp"`
	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens Extra alongside the dhcp key so admin-added fields
// round-trip without a nested wrapper.
func (i Info) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(i.Extra)+1)
	for k, v := range i.Extra {
		out[k] = v
	}
	if i.DHCP != nil {
		out["dhcp"] = i.DHCP
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the "dhcp" key out of the flat map into DHCP, keeping
// everything else in Extra.
func (i *Info) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.Extra = make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if k == "dhcp" {
			i.DHCP = v
			continue
		}
		i.Extra[k] = v
	}
	return nil
}

// StateInfo is the per-client state blob (§3.3).
type StateInfo struct {
	Active                bool             `json:"active"`
	State                 State            `json:"state"`
	StateText             string           `json:"state_text"`
	Description           string           `json:"description"`
	StateExpiration       string           `json:"state_expiration"` // RFC3339 or "none"
	StateExpirationAction ExpirationAction `json:"state_expiration_action"`
	Error                 bool             `json:"error"`
	ErrorShort            string           `json:"error_short"`
}

// Client is the per-MAC record (§3.1).
type Client struct {
	MAC      string    `json:"mac"`
	IP       string    `json:"ip"`
	Hostname string    `json:"hostname"`
	Arch     Arch      `json:"arch"`
	Info     Info      `json:"info"`
	Config   Config    `json:"config"`
	State    StateInfo `json:"state"`
}

// stateDefault is one row of the per-state constant defaults table (§3.3
// "Per-state defaults ... are a constant table").
type stateDefault struct {
	expiration time.Duration // 0 means "none"
	action     ExpirationAction
	active     bool
	errorFlag  bool
	text       string
}

// stateDefaults is the constant table driving set_state's implicit
// overrides (§4.2 "replaces the entire state blob using per-state defaults
// unless overridden").
var stateDefaults = map[State]stateDefault{
	StateDHCP:       {expiration: 300 * time.Second, action: ActionError, active: true, text: "DHCP Discovered"},
	StateUBoot:      {expiration: 120 * time.Second, action: ActionError, active: true, text: "U-Boot Requested boot.scr.uimg"},
	StateIPXE:       {expiration: 180 * time.Second, action: ActionError, active: true, text: "iPXE Booted"},
	StateStage2:     {expiration: 1800 * time.Second, action: ActionError, active: true, text: "Stage2 Running"},
	StateUnattended: {expiration: 3600 * time.Second, action: ActionError, active: true, text: "Unattended Install Running"},
	StateStage4:     {expiration: 600 * time.Second, action: ActionError, active: true, text: "Stage4 Running"},
	StateComplete:   {expiration: 0, action: ActionNone, active: false, text: "Complete"},
	StateInactive:   {expiration: 0, action: ActionNone, active: false, text: "Inactive"},
	StateError:      {expiration: 0, action: ActionNone, active: false, errorFlag: true, text: "Error"},
}

// ValidStates lists the nine-value enum (Testable Property 2).
var ValidStates = []State{
	StateDHCP, StateUBoot, StateIPXE, StateStage2, StateUnattended,
	StateStage4, StateComplete, StateInactive, StateError,
}

// IsValidState reports whether s is one of the nine defined states.
func IsValidState(s State) bool {
	for _, v := range ValidStates {
		if v == s {
			return true
		}
	}
	return false
}

// StateOverrides lets callers of SetState override the defaulted text,
// expiration, and action for a transition (§4.2).
type StateOverrides struct {
	StateText             *string
	Description           *string
	StateExpiration       *time.Time // nil means use the default
	StateExpirationAction *ExpirationAction
}

// newStateInfo builds a StateInfo from the constant defaults table for
// state, applying any overrides. now is injected so expiration math is
// deterministic in tests.
func newStateInfo(now time.Time, state State, overrides *StateOverrides) (StateInfo, error) {
	def, ok := stateDefaults[state]
	if !ok {
		return StateInfo{}, ErrInvalidState
	}

	info := StateInfo{
		Active:                def.active,
		State:                 state,
		StateText:             def.text,
		StateExpirationAction: def.action,
		Error:                 def.errorFlag,
	}

	if def.expiration > 0 {
		info.StateExpiration = now.Add(def.expiration).UTC().Format(time.RFC3339)
	} else {
		info.StateExpiration = ExpirationNone
	}

	if overrides != nil {
		if overrides.StateText != nil {
			info.StateText = *overrides.StateText
		}
		if overrides.Description != nil {
			info.Description = *overrides.Description
		}
		if overrides.StateExpirationAction != nil {
			info.StateExpirationAction = *overrides.StateExpirationAction
		}
		if overrides.StateExpiration != nil {
			info.StateExpiration = overrides.StateExpiration.UTC().Format(time.RFC3339)
		}
	}

	return info, nil
}

// SecondsUntil implements the boundary behavior from §8:
// get_seconds_until_timestamp(t_in_past) == 0; never negative.
func SecondsUntil(t, now time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Seconds())
}
