package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetByName(t *testing.T) {
	defer Level.Set(slog.LevelInfo)

	tests := []struct {
		name string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"WARNING", slog.LevelWarn, true},
		{"err", slog.LevelError, true},
		{"", slog.LevelInfo, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Level.Set(slog.LevelInfo)
			assert.Equal(t, tt.ok, Level.SetByName(tt.name))
			assert.Equal(t, tt.want, Level.lvl.Level())
		})
	}
}

func TestTextOutput(t *testing.T) {
	defer Level.Set(slog.LevelInfo)
	Level.Set(slog.LevelInfo)

	var buf bytes.Buffer
	l := Component(New(&buf, false), "server")
	l.Debug("hidden")
	l.Info("listening", "addr", "unix:///tmp/live")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=info")
	assert.Contains(t, out, "component=server")
	assert.Contains(t, out, "addr=unix:///tmp/live")
}
