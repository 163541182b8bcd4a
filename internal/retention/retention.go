// Package retention prunes insight signals past their retention period.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatdesk/internal/shared"
)

// DefaultInterval is how often the worker sweeps.
const DefaultInterval = time.Hour

// Pruner deletes signals created before a cutoff.
type Pruner interface {
	PruneInsightSignals(ctx context.Context, before time.Time) (int64, error)
}

// Worker periodically deletes signals older than Retention.
type Worker struct {
	Pruner    Pruner
	Retention time.Duration
	Interval  time.Duration
	Now       func() time.Time
}

// NewWorker creates a worker with the default interval.
func NewWorker(p Pruner, retention time.Duration) *Worker {
	return &Worker{Pruner: p, Retention: retention, Interval: DefaultInterval, Now: time.Now}
}

// pruneWithRetry retries locked-database errors with exponential backoff.
func (w *Worker) pruneWithRetry(ctx context.Context, cutoff time.Time) (int64, error) {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		n, err := w.Pruner.PruneInsightSignals(ctx, cutoff)
		if err == nil {
			return n, nil
		}
		if !shared.IsRetryableWriteError(err) || i == maxRetries-1 {
			return 0, fmt.Errorf("prune insight signals after %d attempts: %w", i+1, err)
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("Retention worker: database locked, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}
	return 0, nil
}

// RunOnce performs a single sweep and returns the number of rows deleted.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	cutoff := w.Now().Add(-w.Retention)
	n, err := w.pruneWithRetry(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Retention worker pruned insight signals", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Start runs the worker until ctx is done. The returned channel is closed
// once the goroutine exits.
func (w *Worker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(w.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", w.Interval, "retention", w.Retention)

		for {
			select {
			case <-ticker.C:
				if _, err := w.RunOnce(ctx); err != nil {
					slog.Error("Retention worker failed", "error", err)
				}
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
