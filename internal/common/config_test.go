package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 8190, config.Server.Port)
	assert.Equal(t, 10, config.Scheduler.GlobalLimit)
	assert.Equal(t, 5, config.Scheduler.SessionLimit)
	assert.NoError(t, config.Validate())

	assert.Equal(t, 10*time.Minute, config.Scheduler.JobTimeoutDuration())
	assert.Equal(t, 5*time.Minute, config.Scheduler.StaleThresholdDuration())
	assert.Equal(t, 30*24*time.Hour, config.Scheduler.RetentionAgeDuration())
}

func TestLoadFromFilesMergesAndOverrides(t *testing.T) {
	dir := t.TempDir()

	base := filepath.Join(dir, "base.toml")
	require.NoError(t, os.WriteFile(base, []byte(`
environment = "production"

[server]
port = 9000

[scheduler]
global_limit = 20
`), 0644))

	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 9001
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9001, config.Server.Port, "later file wins")
	assert.Equal(t, 20, config.Scheduler.GlobalLimit)
	assert.True(t, config.IsProduction())
	// Untouched defaults survive the merge
	assert.Equal(t, 5, config.Scheduler.SessionLimit)
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MITTO_SERVER_PORT", "7777")
	t.Setenv("MITTO_GLOBAL_LIMIT", "42")
	t.Setenv("MITTO_LOG_OUTPUT", "stdout, file")
	t.Setenv("MITTO_JOB_TIMEOUT", "30s")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 7777, config.Server.Port)
	assert.Equal(t, 42, config.Scheduler.GlobalLimit)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.Equal(t, 30*time.Second, config.Scheduler.JobTimeoutDuration())
}

func TestEnvOverridesIgnoreInvalidValues(t *testing.T) {
	t.Setenv("MITTO_SERVER_PORT", "not-a-port")
	t.Setenv("MITTO_JOB_TIMEOUT", "forever")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8190, config.Server.Port)
	assert.Equal(t, "10m", config.Scheduler.JobTimeout)
}

func TestValidateRejectsBadDurations(t *testing.T) {
	config := NewDefaultConfig()
	config.Scheduler.StaleThreshold = "sometime"
	assert.Error(t, config.Validate())
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	config := NewDefaultConfig()
	config.Scheduler.GlobalLimit = 0
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Scheduler.SessionLimit = -1
	assert.Error(t, config.Validate())
}

func TestLimitForCategory(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 5, config.Scheduler.LimitForCategory("chat"))
	assert.Equal(t, 4, config.Scheduler.LimitForCategory("file-operation"))
	assert.Equal(t, config.Scheduler.CategoryLimit, config.Scheduler.LimitForCategory("unknown"))
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 9999, "0.0.0.0")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	// Zero values leave the config untouched
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}
