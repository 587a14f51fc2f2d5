package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

const defaultSweepBatch = 500

// Sweeper releases reservations that never got a payment attached, e.g. when
// the process died between reserving and requesting the charge.
type Sweeper struct {
	svc    *Service
	store  Store
	clock  clock.Clock
	ttl    time.Duration
	logger observability.Logger
}

func NewSweeper(svc *Service, store Store, clk clock.Clock, ttl time.Duration, logger observability.Logger) *Sweeper {
	return &Sweeper{svc: svc, store: store, clock: clk, ttl: ttl, logger: logger}
}

func (w *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.sweepWithRetry(ctx)
			if err != nil {
				w.logger.WithError(err).Error("failed to sweep abandoned reservations after retries")
				continue
			}
			if n > 0 {
				w.logger.WithField("released", n).Info("released abandoned reservations")
			}
		}
	}
}

// SweepOnce releases one batch of abandoned tickets.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := w.clock.Now().Add(-w.ttl)
	ids, err := w.store.FindAbandonedTickets(ctx, cutoff, defaultSweepBatch)
	if err != nil {
		return 0, errors.Wrap(err, "find abandoned tickets")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := w.svc.ReleaseAbandoned(ctx, ids, cutoff)
	if err != nil {
		return 0, err
	}
	observability.TicketsReleased.WithLabelValues("abandoned").Add(float64(n))
	return n, nil
}

func (w *Sweeper) sweepWithRetry(ctx context.Context) (int, error) {
	maxRetries := 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		n, err := w.SweepOnce(ctx)
		if err == nil {
			return n, nil
		}
		lastErr = err
		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return 0, errors.Wrapf(lastErr, "failed after %d retries", maxRetries)
}
