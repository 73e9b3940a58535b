package zerologger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := New().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)

	require.Equal(t, 0, buff.Len())
	templogger.Info("socket opened", "attempt", 2)

	assert.Contains(t, buff.String(), `"message":"socket opened"`)
	assert.Contains(t, buff.String(), `"attempt":2`)
	assert.Contains(t, buff.String(), `"level":"info"`)
}

func TestLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := New().FromBuffer(buff).WithLevel("warn").Make()
	require.NoError(t, err)

	templogger.Info("hidden")
	templogger.Debug("hidden")
	assert.Zero(t, buff.Len())

	templogger.Error("shown")
	assert.Contains(t, buff.String(), "shown")
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resync.log")
	templogger, err := New().FromPath(path).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger.LogFile)

	templogger.Warn("queue item dropped", "endpoint", "/like")
	require.NoError(t, templogger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "queue item dropped")
	assert.Contains(t, string(data), `"endpoint":"/like"`)
}
