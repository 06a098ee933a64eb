package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, time.Minute, cfg.Server.LeasePeriod)
	assert.Equal(t, 1024, cfg.Server.MaxSessions)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, int32(8), cfg.Database.MaxConns)
	assert.Equal(t, "data/library", cfg.Library.Dir)
	assert.Equal(t, 1.0, cfg.Battle.EngagementRange)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  address: ":9000"
  lease_period: 5m
logging:
  level: debug
  development: true
battle:
  engagement_range: 2.0
  debug_mode: true
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 5*time.Minute, cfg.Server.LeasePeriod)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 2.0, cfg.Battle.EngagementRange)
	assert.True(t, cfg.Battle.DebugMode)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("WARGAME_SERVER_ADDRESS", ":7777")
	t.Setenv("WARGAME_LOGGING_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, `
server:
  address: ":9000"
`))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad log level", "logging:\n  level: verbose\n", "logging.level"},
		{"zero lease", "server:\n  lease_period: 0s\n", "lease_period"},
		{"negative engagement range", "battle:\n  engagement_range: -1\n", "engagement_range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent.yaml")
}
