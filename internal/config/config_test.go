package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPSCONDUCTOR_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0", cfg.TrapHost)
	assert.Equal(t, 162, cfg.TrapPort)
	assert.Equal(t, 10000, cfg.TrapQueueSize)
	assert.Equal(t, 4, cfg.TrapWorkers)
	assert.Equal(t, []string{"public"}, cfg.TrapCommunities)
	assert.False(t, cfg.TrapValidateCommunity)
	assert.Equal(t, 5*time.Second, cfg.SchedulerTickInterval)
	assert.Equal(t, 30*time.Minute, cfg.StaleExecutionTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPSCONDUCTOR_DATA_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SNMP_TRAP_PORT", "10162")
	t.Setenv("SNMP_TRAP_COMMUNITIES", "public, private ,secret")
	t.Setenv("SNMP_TRAP_VALIDATE_COMMUNITY", "true")
	t.Setenv("PG_DATABASE", "netops")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 10162, cfg.TrapPort)
	assert.Equal(t, []string{"public", "private", "secret"}, cfg.TrapCommunities)
	assert.True(t, cfg.TrapValidateCommunity)
	assert.Contains(t, cfg.DatabasePath, "netops.db")
}

func TestLoadRejectsBadQueueSize(t *testing.T) {
	t.Setenv("OPSCONDUCTOR_DATA_DIR", t.TempDir())
	t.Setenv("SNMP_TRAP_QUEUE_SIZE", "-1")

	_, err := Load()
	require.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "warn"}
	assert.Equal(t, "warn", cfg.ParseLogLevel().String())

	cfg = &Config{LogLevel: "not-a-level"}
	assert.Equal(t, "info", cfg.ParseLogLevel().String())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	payload := []byte(`{"connectors":[{"connector_type":"prtg","config":{"api_token":"secret"}}]}`)

	sealed, err := EncryptWithPassphrase(payload, "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, sealed)

	opened, err := DecryptWithPassphrase(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, err := EncryptWithPassphrase([]byte("data"), "right")
	require.NoError(t, err)

	_, err = DecryptWithPassphrase(sealed, "wrong")
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptTruncatedPayload(t *testing.T) {
	_, err := DecryptWithPassphrase("QUJD", "pass")
	assert.ErrorIs(t, err, ErrDecryptFailed)
}
