package logging

import (
	"log/slog"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
)

func TestJournalField(t *testing.T) {
	tests := map[string]string{
		"run_id":        "RUN_ID",
		"segment.index": "SEGMENT_INDEX",
		"_private":      "PRIVATE",
		"2pass":         "PASS",
		"x-frame":       "X_FRAME",
	}
	for key, want := range tests {
		if got := journalField(key); got != want {
			t.Errorf("journalField(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestJournalPriority(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  journal.Priority
	}{
		{slog.LevelDebug, journal.PriDebug},
		{slog.LevelInfo, journal.PriInfo},
		{slog.LevelWarn, journal.PriWarning},
		{slog.LevelError, journal.PriErr},
		{slog.LevelError + 4, journal.PriErr},
	}
	for _, tt := range tests {
		if got := journalPriority(tt.level); got != tt.want {
			t.Errorf("journalPriority(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestJournalHandlerCarriesAttrs(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("module", "upload")}).
		WithGroup("segment").
		WithAttrs([]slog.Attr{slog.Int("index", 3)}).(*JournalHandler)

	if h.fields["module"] != "upload" || h.fields["segment.index"] != "3" {
		t.Errorf("fields = %v", h.fields)
	}
	if h.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("debug enabled at info level")
	}
}
