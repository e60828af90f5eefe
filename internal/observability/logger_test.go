// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncBuffer satisfies zapcore.WriteSyncer without touching os.Stdout.
type syncBuffer struct{ bytes.Buffer }

func (s *syncBuffer) Sync() error { return nil }

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf syncBuffer

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "blue"},
		}, &buf)
		GetLogger().Info("This is a test message.")

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, colorBlue, "configured colour wins")
		assert.Contains(t, output, "[TestService]")
	})

	t.Run("should fall back to default colors", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "warn", Format: "console"}, &buf)
		GetLogger().Warn("careful")

		assert.Contains(t, buf.String(), colorYellow)
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, &buf)
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")
		assert.Equal(t, "warn", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "error", Format: "json"}, &buf)
		GetLogger().Info("quiet")

		assert.Empty(t, buf.String())
	})

	t.Run("should write to a nested log file if configured", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		logPath := filepath.Join(t.TempDir(), "nested", "droidpilot.log")

		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logPath,
			MaxSize: 1,
		}, zapcore.AddSync(&bytes.Buffer{}))
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("should only initialize once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf syncBuffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"}, &buf)
		logger1 := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, &buf)
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("test")
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, zapcore.AddSync(&bytes.Buffer{}))

		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}

func TestSyncWithoutLogger(t *testing.T) {
	ResetForTest()
	assert.NotPanics(t, Sync)
}
