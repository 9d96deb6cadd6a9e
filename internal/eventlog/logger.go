// Package eventlog persists pipeline progress events as NDJSON for
// offline inspection. Writes are asynchronous; a full queue drops events
// rather than blocking the pipeline.
package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/liamavtal/vibe-agents/internal/config"
	"github.com/liamavtal/vibe-agents/internal/domain"
)

// Logger appends progress events to an NDJSON file.
type Logger interface {
	Log(event domain.Event)
	Close() error
}

// New creates a logger per cfg. A disabled config yields a no-op logger.
func New(cfg config.EventLogConfig, log *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return nopLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	l := &fileLogger{
		file:  f,
		queue: make(chan domain.Event, cfg.QueueSize),
		done:  make(chan struct{}),
		log:   log,
	}
	go l.run()
	return l, nil
}

type fileLogger struct {
	file  *os.File
	queue chan domain.Event
	done  chan struct{}
	log   *slog.Logger

	closeOnce sync.Once
	dropped   int
	droppedMu sync.Mutex
}

// Log enqueues an event. Never blocks; events past the queue bound are
// counted and dropped.
func (l *fileLogger) Log(event domain.Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case l.queue <- event:
	default:
		l.droppedMu.Lock()
		l.dropped++
		n := l.dropped
		l.droppedMu.Unlock()
		if n%100 == 1 {
			l.log.Warn("event log queue full, dropping events", "dropped", n)
		}
	}
}

// Close drains the queue and closes the file.
func (l *fileLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
		err = l.file.Close()
	})
	return err
}

func (l *fileLogger) run() {
	defer close(l.done)
	enc := json.NewEncoder(l.file)
	for event := range l.queue {
		if err := enc.Encode(event); err != nil {
			l.log.Warn("failed to write event log line", "error", err)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Log(domain.Event) {}
func (nopLogger) Close() error     { return nil }
