package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespace, cfg.Namespace)
	assert.Equal(t, time.Second, cfg.Autosave.Debounce.Std())
	assert.Equal(t, 5*time.Second, cfg.Autosave.CompletionGrace.Std())
	assert.Equal(t, 168*time.Hour, cfg.Autosave.Retention.Std())
	assert.Equal(t, 24*time.Hour, cfg.Autosave.CleanupInterval.Std())
	assert.True(t, cfg.Autosave.Enabled)
	assert.True(t, cfg.Recovery.Enabled)
	assert.True(t, cfg.Recovery.RepromptAfterCancel)
	assert.Equal(t, filepath.Join(cfg.DataDir, "device.key"), cfg.KeyFilePath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "drafts.db"), cfg.DatabasePath())
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "full.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fieldsave", cfg.DataDir)
	assert.Equal(t, "/var/lib/fieldsave/autosave.db", cfg.DatabasePath())
	assert.Equal(t, "/etc/fieldsave/device.key", cfg.KeyFilePath())
	assert.Equal(t, "test_ns_", cfg.Namespace)
	assert.Equal(t, 2*time.Second, cfg.Autosave.Debounce.Std())
	assert.Equal(t, 10*time.Second, cfg.Autosave.CompletionGrace.Std())
	assert.Equal(t, 72*time.Hour, cfg.Autosave.Retention.Std())
	assert.Equal(t, 90*time.Minute, cfg.Autosave.CleanupInterval.Std())
	assert.False(t, cfg.Recovery.RepromptAfterCancel)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "autosave:\n  debounce: 1500ms\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Autosave.Debounce.Std())
	assert.Equal(t, DefaultRetention, cfg.Autosave.Retention.Std())
	assert.True(t, cfg.Autosave.Enabled)
}

func TestLoad_RelativeDataDir(t *testing.T) {
	path := writeConfig(t, "data_dir: state\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "state"), cfg.DataDir)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespace, cfg.Namespace)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown top-level key", "colour: blue\n"},
		{"unknown nested key", "autosave:\n  debounce_ms: 1000\n"},
		{"duration as number", "autosave:\n  debounce: 1000\n"},
		{"bad duration", "autosave:\n  retention: 7 days\n"},
		{"bad log level", "log:\n  level: verbose\n"},
		{"empty namespace", "namespace: \"\"\n"},
		{"bool as string", "recovery:\n  enabled: \"yes\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Parse([]byte(tt.yaml), Default("/tmp"))
			assert.Error(t, err)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	err := Parse([]byte("autosave: [\n"), Default("/tmp"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default("/tmp")
	cfg.Autosave.Retention = 0
	cfg.Autosave.Debounce = Duration(-time.Second)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention")
	assert.Contains(t, err.Error(), "debounce")

	assert.Error(t, Default("").Validate())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
