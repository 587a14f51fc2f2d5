package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// QueueName names the delay queue shared by the api and the publish worker.
const QueueName = "event-publish"

// DelayQueue stores deferred jobs keyed by id. Enqueue under an existing id
// replaces the pending job.
type DelayQueue interface {
	Enqueue(ctx context.Context, jobID string, payload []byte, delay time.Duration) error
	Cancel(ctx context.Context, jobID string) (bool, error)
}

type EventStatusWriter interface {
	// SetEventStatus returns domain.ErrNotFound when the event is gone.
	SetEventStatus(ctx context.Context, eventID uuid.UUID, status domain.EventStatus) error
}

type Auditor interface {
	LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}

type publishPayload struct {
	EventID uuid.UUID `json:"eventId"`
}

// JobID is the queue key for an event's publish job.
func JobID(eventID uuid.UUID) string {
	return "event-" + eventID.String()
}

type Scheduler struct {
	queue   DelayQueue
	events  EventStatusWriter
	auditor Auditor
	clock   clock.Clock
	logger  observability.Logger
}

func New(queue DelayQueue, events EventStatusWriter, auditor Auditor, clk clock.Clock, logger observability.Logger) *Scheduler {
	return &Scheduler{queue: queue, events: events, auditor: auditor, clock: clk, logger: logger}
}

// Schedule enqueues the publish job when publishDate is in the future.
func (s *Scheduler) Schedule(ctx context.Context, eventID uuid.UUID, publishDate *time.Time) error {
	if publishDate == nil {
		return nil
	}
	delay := publishDate.Sub(s.clock.Now())
	if delay <= 0 {
		return nil
	}

	payload, err := json.Marshal(publishPayload{EventID: eventID})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, JobID(eventID), payload, delay); err != nil {
		return errors.Wrapf(err, "enqueue publish job for event %s", eventID)
	}

	observability.PublishJobs.WithLabelValues("scheduled").Inc()
	s.logger.WithFields(map[string]interface{}{
		"event_id":     eventID,
		"publish_date": publishDate.UTC().Format(time.RFC3339),
	}).Info("publish scheduled")
	return nil
}

// Reschedule applies an event update to its pending job. newStatus is empty
// when the update does not touch the status.
func (s *Scheduler) Reschedule(ctx context.Context, eventID uuid.UUID, newPublishDate *time.Time, newStatus, currentStatus domain.EventStatus) error {
	if newStatus == domain.EventStatusPublished {
		return s.Cancel(ctx, eventID)
	}
	if newPublishDate == nil || currentStatus != domain.EventStatusDraft {
		return nil
	}
	if err := s.Cancel(ctx, eventID); err != nil {
		return err
	}
	return s.Schedule(ctx, eventID, newPublishDate)
}

func (s *Scheduler) Cancel(ctx context.Context, eventID uuid.UUID) error {
	removed, err := s.queue.Cancel(ctx, JobID(eventID))
	if err != nil {
		return errors.Wrapf(err, "cancel publish job for event %s", eventID)
	}
	if removed {
		observability.PublishJobs.WithLabelValues("cancelled").Inc()
	}
	return nil
}

// OnFire publishes the event named in payload. A missing event is not an
// error: it was deleted after scheduling.
func (s *Scheduler) OnFire(ctx context.Context, payload []byte) error {
	var p publishPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, "decode publish payload")
	}
	log := s.logger.WithField("event_id", p.EventID)

	err := s.events.SetEventStatus(ctx, p.EventID, domain.EventStatusPublished)
	if errors.Is(err, domain.ErrNotFound) {
		err = errors.Mark(err, domain.ErrJobTargetMissing)
	}
	if errors.Is(err, domain.ErrJobTargetMissing) {
		log.Warn("publish job fired for deleted event")
		observability.PublishJobs.WithLabelValues("target_missing").Inc()
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "publish event %s", p.EventID)
	}

	observability.PublishJobs.WithLabelValues("fired").Inc()
	if s.auditor != nil {
		if err := s.auditor.LogEvent(ctx, "event.published", uuid.Nil, map[string]interface{}{
			"event_id": p.EventID.String(),
		}); err != nil {
			log.WithError(err).Warn("audit log write failed")
		}
	}
	log.Info("event published")
	return nil
}
