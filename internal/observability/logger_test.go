package observability

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/relocator/internal/config"
)

// initBuffered initializes the global logger with console output captured
// in the returned buffer.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console with colors", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "relocator",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("scanner").Info("Target resolved.")
		Sync()

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, "relocator.scanner.")
		assert.Contains(t, out, "Target resolved.")
	})

	t.Run("json", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "relocator"})
		GetLogger().Warn("Chain broken.", zap.String("selector", "sendButton"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, jsoniter.Unmarshal(buf.Bytes(), &entry), buf.String())
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "relocator", entry["logger"])
		assert.Equal(t, "Chain broken.", entry["msg"])
		assert.Equal(t, "sendButton", entry["selector"])
	})

	t.Run("level filters entries", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "error", Format: "json"})
		GetLogger().Info("hidden")
		GetLogger().Error("shown")
		Sync()
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "loud", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("file sink is json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relocator.log")
		buf := initBuffered(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})
		GetLogger().Error("Session failed.", zap.String("session", "s-1"))
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		line := strings.TrimSpace(string(content))
		assert.True(t, jsoniter.Valid([]byte(line)), line)
		assert.Contains(t, line, `"session":"s-1"`)
		assert.Contains(t, buf.String(), "Session failed.")
	})

	t.Run("only the first call counts", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"})
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "second"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.Same(t, first, GetLogger())

		GetLogger().Info("test")
		assert.Contains(t, buf.String(), `"logger":"first"`)
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
	assert.Nil(t, globalLogger.Load(), "the fallback is not stored")
}

func TestColorizedLevelEncoder(t *testing.T) {
	enc := newColorizedLevelEncoder(config.ColorConfig{Warn: "yellow", Error: "no-such-color"})

	tests := []struct {
		name  string
		level zapcore.Level
		want  string
	}{
		{"configured color wraps the level", zapcore.WarnLevel, colorYellow + "WARN" + colorReset},
		{"unknown color name falls back to plain text", zapcore.ErrorLevel, "ERROR"},
		{"unset color falls back to plain text", zapcore.InfoLevel, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr := &stringArrayEncoder{}
			enc(tt.level, arr)
			require.Len(t, arr.elems, 1)
			assert.Equal(t, tt.want, arr.elems[0])
		})
	}
}

func TestIsBenignSyncError(t *testing.T) {
	assert.True(t, isBenignSyncError(errors.New("sync /dev/stdout: invalid argument")))
	assert.True(t, isBenignSyncError(errors.New("sync /dev/stderr: inappropriate ioctl for device")))
	assert.False(t, isBenignSyncError(errors.New("disk full")))
}

// stringArrayEncoder captures the strings a LevelEncoder appends.
type stringArrayEncoder struct {
	zapcore.PrimitiveArrayEncoder
	elems []string
}

func (s *stringArrayEncoder) AppendString(v string) { s.elems = append(s.elems, v) }
