package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	SetLevel("info")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
}

func TestLogSignalDump(t *testing.T) {
	var buf bytes.Buffer
	SetSignalWriter(&buf)
	defer SetSignalWriter(nil)

	EnableSignalDump(true)
	LogSignal("run-1", "AAPL", "BUY 1", "close=155")
	EnableSignalDump(false)
	LogSignal("run-1", "MSFT", "WAIT", "close=255")

	out := buf.String()
	assert.Contains(t, out, "[SIGNAL][run-1][AAPL]")
	assert.Contains(t, out, "close=155")
	assert.NotContains(t, out, "close=255")
}

func TestSetFileCreatesRotator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "core.log")
	closer, err := SetFile(FileOptions{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)
	defer func() {
		SetOutput(nil)
		_ = closer.Close()
	}()
	Infof("to file")
	assert.FileExists(t, path)

	_, err = SetFile(FileOptions{})
	assert.Error(t, err)
}
