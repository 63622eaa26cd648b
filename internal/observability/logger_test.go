// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/bitesense/internal/config"
)

func testLoggerConfig(format string) config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      format,
		ServiceName: "bitesense",
		Colors: config.ColorConfig{
			Debug: "cyan",
			Info:  "green",
			Warn:  "yellow",
			Error: "red",
			Fatal: "magenta",
		},
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("should write colored console lines", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(testLoggerConfig("console"), zapcore.AddSync(&buf))

		logger.Named("analysis").Info("insect detected", zap.String("insect", "tick"))
		require.NoError(t, logger.Sync())

		out := buf.String()
		assert.Contains(t, out, "\x1b[32mINFO\x1b[0m")
		assert.Contains(t, out, "bitesense.analysis.")
		assert.Contains(t, out, "insect detected")
		assert.Contains(t, out, `"insect": "tick"`)
	})

	t.Run("should write json lines", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(testLoggerConfig("json"), zapcore.AddSync(&buf))

		logger.Warn("save failed", zap.Int("attempt", 1))
		require.NoError(t, logger.Sync())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "bitesense", entry["logger"])
		assert.Equal(t, "save failed", entry["msg"])
		assert.EqualValues(t, 1, entry["attempt"])
	})

	t.Run("should respect the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := testLoggerConfig("json")
		cfg.Level = "warn"
		logger := NewLogger(cfg, zapcore.AddSync(&buf))

		logger.Info("hidden")
		logger.Error("shown")
		require.NoError(t, logger.Sync())

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should default to info on an invalid level", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := testLoggerConfig("json")
		cfg.Level = "loud"
		logger := NewLogger(cfg, zapcore.AddSync(&buf))

		logger.Debug("hidden")
		logger.Info("shown")
		require.NoError(t, logger.Sync())

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("should also write json to the log file", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := testLoggerConfig("console")
		cfg.LogFile = filepath.Join(t.TempDir(), "bitesense.log")
		cfg.MaxSize = 1
		logger := NewLogger(cfg, zapcore.AddSync(&buf))

		logger.Info("to both")
		require.NoError(t, logger.Sync())

		data, err := os.ReadFile(cfg.LogFile)
		require.NoError(t, err)
		line := strings.TrimSpace(string(data))
		assert.True(t, strings.HasPrefix(line, "{"), "file output is always json")
		assert.Contains(t, line, `"msg":"to both"`)
		assert.Contains(t, buf.String(), "to both")
	})
}

func TestGlobalLogger(t *testing.T) {
	t.Cleanup(ResetForTest)

	t.Run("should fall back before initialization", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
	})

	t.Run("should initialize only once", func(t *testing.T) {
		ResetForTest()
		var first, second bytes.Buffer

		Initialize(testLoggerConfig("json"), zapcore.AddSync(&first))
		Initialize(testLoggerConfig("json"), zapcore.AddSync(&second))

		GetLogger().Info("hello")
		Sync()

		assert.Contains(t, first.String(), "hello")
		assert.Empty(t, second.String())
	})
}
