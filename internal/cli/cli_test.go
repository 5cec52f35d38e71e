package cli

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"apollorag/config"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "<1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 7*time.Second, "3m7s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		l := newLogger(config.LoggingConfig{Level: tt.level, Format: "json"})
		if !l.Enabled(context.Background(), tt.want) {
			t.Errorf("level %q: %v should be enabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && l.Enabled(context.Background(), tt.want-1) {
			t.Errorf("level %q: below %v should be disabled", tt.level, tt.want)
		}
	}
}

func TestProgressRestartsOnNewRun(t *testing.T) {
	p := newProgress("Testing")

	p.update(1, 3)
	p.update(3, 3)
	p.update(2, 3)
	if p.last != 3 {
		t.Errorf("out-of-order update moved the bar back to %d", p.last)
	}

	p.update(1, 5)
	if p.total != 5 || p.last != 1 {
		t.Errorf("new run not restarted: total=%d last=%d", p.total, p.last)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"load", "group", "summarize", "questions", "embed", "pipeline", "ask", "utterance", "image", "serve", "cache"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
