package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tether.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db: /var/lib/tether/state.db
socket: /run/tether.sock
resume:
  online_timeout: 30s
  attach_timeout: 2s
carryover:
  max_turns: 10
  max_chars: 8000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tether/state.db", cfg.DB)
	assert.Equal(t, "/run/tether.sock", cfg.Socket)
	assert.Equal(t, 30*time.Second, cfg.Resume.OnlineTimeout)
	assert.Equal(t, 2*time.Second, cfg.Resume.AttachTimeout)
	assert.Equal(t, 10, cfg.Carryover.MaxTurns)
	assert.Equal(t, 8000, cfg.Carryover.MaxChars)

	// Untouched sections keep their defaults.
	assert.Equal(t, 200, cfg.Messages.DefaultPage)
	assert.Equal(t, 500, cfg.Messages.MaxPage)
}

func TestLoad_PartialOverride(t *testing.T) {
	path := writeConfig(t, "db: custom.db\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom.db", cfg.DB)
	assert.Equal(t, 60*time.Second, cfg.Resume.OnlineTimeout)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "db: [unclosed\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty db", `db: ""`},
		{"zero online timeout", "resume:\n  online_timeout: 0s\n"},
		{"negative attach timeout", "resume:\n  attach_timeout: -1s\n"},
		{"tiny carryover budget", "carryover:\n  max_chars: 10\n"},
		{"max page below default", "messages:\n  max_page: 100\n  default_page: 200\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
