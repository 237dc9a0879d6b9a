package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/config"
)

func TestNewLoggerWritesJSONWithService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewLogger(config.LoggerConfig{Level: "INFO", Output: path, Service: "servicedesk-engine"})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("scan finished", zap.Int("tickets", 3))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "scan finished", entry["message"])
	assert.Equal(t, "servicedesk-engine", entry["service"])
	assert.EqualValues(t, 3, entry["tickets"])
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewLogger(config.LoggerConfig{Level: "bogus", Format: "console", Output: path})
	require.NoError(t, err)

	logger.Info("ready")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ready")
	assert.False(t, json.Valid(raw))
}
