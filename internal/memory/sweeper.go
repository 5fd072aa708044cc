package memory

import (
	"context"
	"time"

	"github.com/liliang-cn/policyagent/internal/metrics"
	"go.uber.org/zap"
)

// Sweeper periodically removes expired sessions from a Store
type Sweeper struct {
	store    *Store
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(store *Store, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, metrics: m, logger: logger.Named("sweeper")}
}

// Run sweeps until ctx is cancelled. It always returns nil so it can be
// used directly in an errgroup.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Session sweeper started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Session sweeper stopped")
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass
func (w *Sweeper) Sweep(ctx context.Context) int {
	n := w.store.CleanupExpired(ctx)
	w.metrics.SessionsExpired(n)
	if n > 0 {
		w.logger.Debug("Sweep finished", zap.Int("removed", n))
	}
	return n
}
