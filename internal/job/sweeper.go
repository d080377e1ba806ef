package job

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper evicts terminal jobs after a retention window. Eviction is only a
// memory bound: an evicted id simply becomes not-found to later callers.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	retention time.Duration
}

func NewSweeper(store *Store, interval, retention time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval, retention: retention}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.store.EvictTerminalBefore(time.Now().UTC().Add(-s.retention)); n > 0 {
				slog.Info("evicted expired jobs", "count", n, "remaining", s.store.Len())
			}
		}
	}
}
