package eventlog

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liamavtal/vibe-agents/internal/config"
	"github.com/liamavtal/vibe-agents/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoggerWritesNDJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "events.ndjson")
	logger, err := New(config.EventLogConfig{
		Enabled:   true,
		Path:      path,
		QueueSize: 16,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Log(domain.Event{
		Type:      domain.EventPlanReady,
		SessionID: "sess-1",
		Payload:   map[string]string{"project": "todo-app"},
	})
	logger.Log(domain.Event{Type: domain.EventBuildComplete, SessionID: "sess-1"})

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read event log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var got domain.Event
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Type != domain.EventPlanReady {
		t.Errorf("expected plan_ready, got %s", got.Type)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %s", got.SessionID)
	}
	if got.At.IsZero() {
		t.Error("expected timestamp to be stamped on enqueue")
	}
}

func TestLoggerAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.ndjson")
	cfg := config.EventLogConfig{Enabled: true, Path: path, QueueSize: 4}

	for i := 0; i < 2; i++ {
		logger, err := New(cfg, discardLogger())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		logger.Log(domain.Event{Type: domain.EventPhaseChanged, At: time.Now()})
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read event log: %v", err)
	}
	if got := len(strings.Split(strings.TrimSpace(string(data)), "\n")); got != 2 {
		t.Errorf("expected 2 lines after reopen, got %d", got)
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := New(config.EventLogConfig{Enabled: false}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Log(domain.Event{Type: domain.EventError})
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
