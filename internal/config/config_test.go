package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("I2RUN_ROOT", "")
	t.Setenv("CCP4I2_TOP", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "DefXMLCache.json", cfg.TaskIndex)
	assert.Equal(t, "info", cfg.Logging.Level)

	interval, err := cfg.Poll.IntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, interval)

	timeout, err := cfg.Poll.TimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, timeout)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
root: /opt/i2
tasks_file: /opt/i2/tasks.hcl
database:
  path: /tmp/projects.sqlite
poll:
  interval: 250ms
  timeout: 2m
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	t.Setenv("I2RUN_DB", "/override/db.sqlite")
	t.Setenv("I2RUN_ROOT", "")
	t.Setenv("CCP4I2_TOP", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/i2", cfg.Root)
	assert.Equal(t, "/override/db.sqlite", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Logging.Format)

	interval, _ := cfg.Poll.IntervalDuration()
	assert.Equal(t, 250*time.Millisecond, interval)
	timeout, _ := cfg.Poll.TimeoutDuration()
	assert.Equal(t, 2*time.Minute, timeout)
}

func TestLoad_RejectsBadInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: soon\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
