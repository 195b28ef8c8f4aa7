package config

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsValidates(t *testing.T) {
	s := DefaultSettings()
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	require.NoError(t, ValidateSettingsKeys(raw))
}

func TestValidateSettingsKeysMissing(t *testing.T) {
	raw := map[string]json.RawMessage{"boot_image": json.RawMessage(`"x"`)}
	err := ValidateSettingsKeys(raw)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing")
}

func TestValidateSettingsKeysExtraneous(t *testing.T) {
	full := DefaultSettings()
	b, err := json.Marshal(full)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	raw["unexpected_key"] = json.RawMessage(`true`)

	err = ValidateSettingsKeys(raw)
	require.Error(t, err)
	require.Contains(t, err.Error(), "extraneous")
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	s := DefaultSettings()
	s.BootImage = "ubuntu-2204"
	s.IPXEBuildAmd64 = "B1"

	require.NoError(t, SaveSettings(path, s))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, s, loaded)
}

func TestLoadSettingsMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	loaded, err := LoadSettings(filepath.Join(dir, "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), loaded)
}

func TestIPXEBuildForArch(t *testing.T) {
	s := Settings{IPXEBuildArm64: "arm-build", IPXEBuildAmd64: "amd-build"}
	require.Equal(t, "arm-build", s.IPXEBuildFor("arm64"))
	require.Equal(t, "amd-build", s.IPXEBuildFor("amd64"))
	require.Equal(t, "amd-build", s.IPXEBuildFor("bios64"))
	require.Equal(t, "", s.IPXEBuildFor("unsupported"))
}

func TestValidateSettingsMapRejectsMissingKey(t *testing.T) {
	m := map[string]interface{}{
		"boot_image":      "x",
		"boot_image_once": false,
	}
	err := ValidateSettingsMap(m)
	require.Error(t, err)
}
