package session

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically closes sessions that have been idle past a TTL.
// Working sessions are never reaped.
type Janitor struct {
	manager  *Manager
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a janitor sweeping manager every interval.
func NewJanitor(manager *Manager, ttl, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{manager: manager, ttl: ttl, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled. Blocks; run in a goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				j.logger.Info("reaped idle sessions", "count", n)
			}
		}
	}
}

// Sweep closes every idle session whose last activity is older than the
// TTL and returns how many were closed.
func (j *Janitor) Sweep() int {
	cutoff := time.Now().Add(-j.ttl)
	reaped := 0
	for _, info := range j.manager.List() {
		s, err := j.manager.Get(info.ID)
		if err != nil {
			continue
		}
		if s.Status() == StatusWorking {
			continue
		}
		if s.LastActive().After(cutoff) {
			continue
		}
		if err := j.manager.Close(info.ID); err == nil {
			reaped++
		}
	}
	return reaped
}
