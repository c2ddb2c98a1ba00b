package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettingsMissingOvermindSectionIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.ini", "[OTHER]\nkey=value\n")
	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestLoadSettingsDefaultsOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.ini", "[OVERMIND]\nhatchling_count=3\n[HATCHLING]\ntarget=http://example.test\n")
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 3, s.HatchlingCount)
	configs, err := s.HatchlingConfigs()
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.Equal(t, "http://example.test", configs[0]["target"])
}

func TestHatchlingConfigsCSVRowWinsOverSettingsDefault(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "hatchlings.csv", "name,target\nalice,http://alice.test\nbob\n")
	iniPath := writeFile(t, dir, "settings.ini",
		"[OVERMIND]\nhatchling_config_file="+csvPath+"\nhatchling_count=2\n[HATCHLING]\ntarget=http://default.test\n")
	s, err := LoadSettings(iniPath)
	require.NoError(t, err)
	configs, err := s.HatchlingConfigs()
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "http://alice.test", configs[0]["target"], "CSV value must win over the settings-file default")
	assert.Equal(t, "http://default.test", configs[1]["target"], "settings-file default must fill a column missing from a short CSV row")
}

func TestHatchlingConfigsOffsetAndCount(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "hatchlings.csv", "name\na\nb\nc\nd\n")
	iniPath := writeFile(t, dir, "settings.ini",
		"[OVERMIND]\nhatchling_config_file="+csvPath+"\nhatchling_offset=1\nhatchling_count=2\n")
	s, err := LoadSettings(iniPath)
	require.NoError(t, err)
	configs, err := s.HatchlingConfigs()
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "b", configs[0]["name"])
	assert.Equal(t, "c", configs[1]["name"])
}

func TestHatchlingConfigsShortCSVIsFatal(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "hatchlings.csv", "name\na\n")
	iniPath := writeFile(t, dir, "settings.ini",
		"[OVERMIND]\nhatchling_config_file="+csvPath+"\nhatchling_offset=0\nhatchling_count=5\n")
	s, err := LoadSettings(iniPath)
	require.NoError(t, err)
	_, err = s.HatchlingConfigs()
	assert.Error(t, err)
}
