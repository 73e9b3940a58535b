package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	log := Nop()
	require.NotNil(t, log)
	log.Error("discarded", "key", "value")
}

func TestWith(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	log := New(slog.NewTextHandler(buff, nil)).With("component", "queue")

	log.Info("Test")

	assert.Contains(t, buff.String(), "component=queue")
	assert.Contains(t, buff.String(), "msg=Test")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

type logLine struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Component string `json:"component"`
}

func TestLevels(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{})
	handler := slog.NewJSONHandler(buffer, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := New(handler)

	methods := []struct {
		fn    func(msg string, args ...any)
		level slog.Level
	}{
		{fn: log.Error, level: slog.LevelError},
		{fn: log.Warn, level: slog.LevelWarn},
		{fn: log.Info, level: slog.LevelInfo},
		{fn: log.Debug, level: slog.LevelDebug},
	}

	for _, m := range methods {
		t.Run(m.level.String(), func(t *testing.T) {
			buffer.Reset()
			m.fn("queue drained", "component", "queue")

			var line logLine
			require.NoError(t, json.Unmarshal(buffer.Bytes(), &line))
			assert.Equal(t, m.level.String(), line.Level)
			assert.Equal(t, "queue drained", line.Msg)
			assert.Equal(t, "queue", line.Component)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{})
	log := New(slog.NewJSONHandler(buffer, &slog.HandlerOptions{Level: ParseLevel("warn")}))

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buffer.Len())

	log.Warn("shown")
	assert.Contains(t, buffer.String(), "shown")
}
