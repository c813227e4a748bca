package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warning "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestInitJSONToFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "txqueue.log")
	logger, rotating, err := Init(Config{Level: "debug", Format: "json", File: path, Output: &out})
	require.NoError(t, err)
	require.NotNil(t, rotating)
	defer rotating.Close()

	logger.Debug("parcel moved", "tx_hash", "0xabc")

	var record map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &record))
	assert.Equal(t, "parcel moved", record["msg"])
	assert.Equal(t, "0xabc", record["tx_hash"])

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), "parcel moved")
}

func TestInitTextWithoutFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var out bytes.Buffer
	_, rotating, err := Init(Config{Level: "warn", Output: &out})
	require.NoError(t, err)
	assert.Nil(t, rotating)

	slog.Info("hidden")
	slog.Warn("shown", "status", "FAILED")
	assert.NotContains(t, out.String(), "hidden")
	assert.True(t, strings.Contains(out.String(), "msg=shown status=FAILED"))
}

func TestRotatingWriterRollsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := newRotatingWriter(path, 10, 2)
	require.NoError(t, err)
	defer w.Close()

	for _, line := range []string{"first\n", "second\n", "third\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "third\n", string(current))
	one, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(one))
	two, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(two))
}

func TestRotatingWriterWithoutBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := newRotatingWriter(path, 4, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("aaaa"))
	require.NoError(t, err)
	_, err = w.Write([]byte("bb"))
	require.NoError(t, err)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(current))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	_, err := NewRotatingWriter("", 1, 1)
	assert.Error(t, err)
}
