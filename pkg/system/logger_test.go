package system

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "********", MaskSecret("hunter2"))
	// The placeholder must not reveal the secret's length
	assert.Equal(t, MaskSecret("x"), MaskSecret("a-much-longer-passphrase"))
}

func TestToFields(t *testing.T) {
	t.Run("alternating pairs", func(t *testing.T) {
		fields := toFields([]interface{}{"device", "wlan0", "attempt", 2})
		assert.Equal(t, "wlan0", fields["device"])
		assert.Equal(t, 2, fields["attempt"])
	})

	t.Run("dangling value keeps the tail", func(t *testing.T) {
		fields := toFields([]interface{}{"device", "wlan0", "orphan"})
		assert.Equal(t, "wlan0", fields["device"])
		assert.Equal(t, "orphan", fields["value"])
	})

	t.Run("non-string key is stringified", func(t *testing.T) {
		fields := toFields([]interface{}{42, "answer"})
		assert.Equal(t, "answer", fields["42"])
	})
}

func TestNewLoggerTrailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail", "wifi_test.log")

	logger, err := NewLogger(false, path)
	require.NoError(t, err)

	logger.Info("association established", "device", "wlan0")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "association established")
	assert.Contains(t, string(data), "wlan0")
}

func TestNewLoggerDebugLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wifi_test.log")

	logger, err := NewLogger(false, path)
	require.NoError(t, err)
	logger.Debug("suppressed at info level")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "suppressed at info level")

	logger, err = NewLogger(true, path)
	require.NoError(t, err)
	logger.Debug("visible at debug level")
	require.NoError(t, logger.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible at debug level")
}
