package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Settings is the singleton persisted as a flat JSON file (§3.5). The key
// set is exact: SettingsKeys lists every valid key and Validate rejects any
// record missing or adding to it.
type Settings struct {
	BootImage        string `json:"boot_image"`
	BootImageOnce    bool   `json:"boot_image_once"`
	UnattendedConfig string `json:"unattended_config"`
	UbootScript      string `json:"uboot_script"`
	DoUnattended     bool   `json:"do_unattended"`
	IPXEBuildArm64   string `json:"ipxe_build_arm64"`
	IPXEBuildAmd64   string `json:"ipxe_build_amd64"`
	Stage4           string `json:"stage4"`
	DebianMirror     string `json:"debian_mirror"`
	UbuntuMirror     string `json:"ubuntu_mirror"`
}

// SettingsKeys is the exact key set §3.5 requires; order matches the struct
// field declaration order.
var SettingsKeys = []string{
	"boot_image",
	"boot_image_once",
	"unattended_config",
	"uboot_script",
	"do_unattended",
	"ipxe_build_arm64",
	"ipxe_build_amd64",
	"stage4",
	"debian_mirror",
	"ubuntu_mirror",
}

// DefaultSettings is used when the settings file is absent (§3.6 "created
// with defaults if absent").
func DefaultSettings() Settings {
	return Settings{
		BootImage:        "standby_loop",
		BootImageOnce:    false,
		UnattendedConfig: "",
		UbootScript:      "",
		DoUnattended:     false,
		IPXEBuildArm64:   "",
		IPXEBuildAmd64:   "",
		Stage4:           "",
		DebianMirror:     "http://deb.debian.org/debian",
		UbuntuMirror:     "http://archive.ubuntu.com/ubuntu",
	}
}

// IPXEBuildFor returns the arch-specific ipxe_build_<arch> field used to
// seed a new client's config (§3.2), or "" if the arch has none configured.
func (s Settings) IPXEBuildFor(arch string) string {
	switch arch {
	case "arm64", "arm32":
		return s.IPXEBuildArm64
	case "amd64", "bios64", "bios32", "ia32":
		return s.IPXEBuildAmd64
	default:
		return ""
	}
}

// LoadSettings reads path, returning DefaultSettings() if it does not exist.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := ValidateSettingsKeys(raw); err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// SaveSettings atomically writes s to path (temp file, then rename). It does
// no key validation of its own: Settings' JSON keys are SettingsKeys.
func SaveSettings(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, path)
}

// ValidateSettingsKeys implements the Settings validation invariant
// (Testable Property 7): keys(x) must equal SettingsKeys exactly, no
// missing and no extraneous key.
func ValidateSettingsKeys(raw map[string]json.RawMessage) error {
	want := make(map[string]bool, len(SettingsKeys))
	for _, k := range SettingsKeys {
		want[k] = true
	}

	var missing, extra []string
	seen := make(map[string]bool, len(raw))
	for k := range raw {
		seen[k] = true
		if !want[k] {
			extra = append(extra, k)
		}
	}
	for _, k := range SettingsKeys {
		if !seen[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(extra)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		parts = append(parts, "extraneous: "+strings.Join(extra, ", "))
	}
	return fmt.Errorf("settings key set invalid (%s)", strings.Join(parts, "; "))
}

// ValidateSettingsMap is the entry point the dispatcher's set_settings
// handler calls with the decoded request body, before unmarshaling into a
// Settings value.
func ValidateSettingsMap(m map[string]interface{}) error {
	raw := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", k, err)
		}
		raw[k] = b
	}
	return ValidateSettingsKeys(raw)
}
