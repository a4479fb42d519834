package infra

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"text", "json", "zap"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, sync, err := NewLogger("info", format, &buf)
			require.NoError(t, err)

			logger.Debug("HIDDEN")
			logger.Info("ORDER_ACCEPTED", slog.String("order_id", "abc"))
			require.NoError(t, sync())

			out := buf.String()
			assert.Contains(t, out, "ORDER_ACCEPTED")
			assert.Contains(t, out, "abc")
			assert.NotContains(t, out, "HIDDEN")
		})
	}
}

func TestNewLogger_ZapEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, sync, err := NewLogger("debug", "zap", &buf)
	require.NoError(t, err)

	logger.Warn("CHECKPOINT_FAILED", slog.Int("attempt", 2))
	require.NoError(t, sync())

	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "CHECKPOINT_FAILED", rec["msg"])
	assert.Equal(t, "warn", rec["level"])
	assert.EqualValues(t, 2, rec["attempt"])
}

func TestNewLogger_Errors(t *testing.T) {
	_, _, err := NewLogger("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)

	_, _, err = NewLogger("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPrintBanner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Symbols = []string{"AAPL", "MSFT"}
	cfg.Storage.Backend = "memory"

	var buf bytes.Buffer
	PrintBanner(&buf, cfg)

	out := buf.String()
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "AAPL,MSFT")
	assert.Contains(t, out, "CHECKPOINTS ARE NOT PERSISTED")
	assert.NotContains(t, out, "MARGIN ENABLED")
}

func TestResolvePaths(t *testing.T) {
	root := t.TempDir()
	p := ResolvePaths(root, "alpha")
	require.NoError(t, p.Ensure())

	assert.DirExists(t, p.Dumps)
	assert.DirExists(t, root+"/journal")
	assert.True(t, strings.HasSuffix(p.Journal, "alpha.db"))
	assert.True(t, strings.HasSuffix(p.DumpFile("alpha"), "crash_alpha.json"))
}

func TestCreateLockFile(t *testing.T) {
	dir := t.TempDir()

	release, err := CreateLockFile(dir, "alpha")
	require.NoError(t, err)

	_, err = CreateLockFile(dir, "alpha")
	assert.Error(t, err, "second lock on the same identity must fail")

	other, err := CreateLockFile(dir, "beta")
	require.NoError(t, err)
	other()

	release()
	again, err := CreateLockFile(dir, "alpha")
	require.NoError(t, err)
	again()
}
