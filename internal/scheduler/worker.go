package scheduler

import (
	"context"
	"time"

	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Job is a claimed queue entry. LeaseUntil identifies the claim on Ack.
type Job struct {
	ID         string
	Payload    []byte
	LeaseUntil time.Time
}

type JobSource interface {
	// Claim returns up to limit due jobs and hides them until the lease runs out.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Job, error)
	// Ack removes the job unless it was replaced or re-claimed meanwhile.
	Ack(ctx context.Context, job Job) error
}

type Handler func(ctx context.Context, payload []byte) error

// Worker fires due publish jobs. A job whose handler fails stays leased and
// is claimed again once the lease expires.
type Worker struct {
	source  JobSource
	handler Handler
	clock   clock.Clock
	lease   time.Duration
	batch   int
	logger  observability.Logger
}

func NewWorker(source JobSource, handler Handler, clk clock.Clock, lease time.Duration, logger observability.Logger) *Worker {
	return &Worker{source: source, handler: handler, clock: clk, lease: lease, batch: 50, logger: logger}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Poll(ctx); err != nil {
				w.logger.WithError(err).Error("failed to poll publish jobs")
			}
		}
	}
}

// Poll claims and runs one batch of due jobs, returning how many were acked.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	jobs, err := w.source.Claim(ctx, w.clock.Now(), w.lease, w.batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, job := range jobs {
		log := w.logger.WithField("job_id", job.ID)
		if err := w.handler(ctx, job.Payload); err != nil {
			log.WithError(err).Error("publish job failed, will retry after lease")
			observability.PublishJobs.WithLabelValues("failed").Inc()
			continue
		}
		if err := w.source.Ack(ctx, job); err != nil {
			log.WithError(err).Error("failed to ack publish job")
			continue
		}
		done++
	}
	return done, nil
}
