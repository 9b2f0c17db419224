// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

// resetGlobalLogger is critical for ensuring test isolation, as the logger
// is a global singleton. We must reset it before each test.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

// newBufferSyncer returns an in-memory console writer for assertions.
func newBufferSyncer() (*bytes.Buffer, zapcore.WriteSyncer) {
	var buf bytes.Buffer
	return &buf, zapcore.AddSync(&buf)
}

func TestInitialize(t *testing.T) {
	t.Run("console format with colorized levels", func(t *testing.T) {
		resetGlobalLogger()
		buf, syncer := newBufferSyncer()

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "test-service",
			Colors:      config.ColorConfig{Info: "green"},
		}, syncer)

		GetLogger().Info("hello from the console")

		out := buf.String()
		assert.Contains(t, out, "hello from the console")
		assert.Contains(t, out, "test-service")
		assert.Contains(t, out, colorGreen, "info level should carry the configured color code")
	})

	t.Run("json format produces structured output", func(t *testing.T) {
		resetGlobalLogger()
		buf, syncer := newBufferSyncer()

		Initialize(config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "test-service",
		}, syncer)

		GetLogger().Info("structured entry")

		line := strings.TrimSpace(buf.String())
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "json format must emit valid JSON")
		assert.Equal(t, "structured entry", entry["msg"])
		assert.Equal(t, "INFO", entry["level"])
	})

	t.Run("respects configured level", func(t *testing.T) {
		resetGlobalLogger()
		buf, syncer := newBufferSyncer()

		Initialize(config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "t"}, syncer)

		GetLogger().Info("should be dropped")
		GetLogger().Warn("should appear")

		out := buf.String()
		assert.NotContains(t, out, "should be dropped")
		assert.Contains(t, out, "should appear")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		resetGlobalLogger()
		buf, syncer := newBufferSyncer()

		Initialize(config.LoggerConfig{Level: "not-a-level", Format: "json", ServiceName: "t"}, syncer)

		GetLogger().Debug("debug dropped")
		GetLogger().Info("info kept")

		out := buf.String()
		assert.NotContains(t, out, "debug dropped")
		assert.Contains(t, out, "info kept")
	})

	t.Run("initialization happens exactly once", func(t *testing.T) {
		resetGlobalLogger()
		buf1, syncer1 := newBufferSyncer()
		buf2, syncer2 := newBufferSyncer()

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"}, syncer1)
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, syncer2)

		GetLogger().Info("routed to first writer")
		assert.Contains(t, buf1.String(), "routed to first writer")
		assert.Empty(t, buf2.String())
	})
}

func TestLogFileOutput(t *testing.T) {
	resetGlobalLogger()
	_, syncer := newBufferSyncer()

	logFile := filepath.Join(t.TempDir(), "droidprobe.log")
	Initialize(config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "file-test",
		LogFile:     logFile,
		MaxSize:     1,
	}, syncer)

	GetLogger().Info("persisted entry")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted entry")

	// File side is always JSON regardless of console format.
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
}

func TestGetLoggerFallback(t *testing.T) {
	resetGlobalLogger()
	logger := GetLogger()
	require.NotNil(t, logger, "fallback logger must never be nil")
}
