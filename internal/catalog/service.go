// Package catalog manages events and their promocodes on behalf of an
// organizing company, and keeps the publish schedule in step with them.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/shopspring/decimal"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetPayoutAccount(ctx context.Context, companyID uuid.UUID) (string, error)
	CreateEvent(ctx context.Context, event domain.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	UpdateEvent(ctx context.Context, event domain.Event) error
	DeleteEvent(ctx context.Context, id uuid.UUID) error
	CreatePromocode(ctx context.Context, promo domain.Promocode) error
	SetPromocodeActive(ctx context.Context, eventID, promocodeID uuid.UUID, active bool) (domain.Promocode, error)
}

type PublishScheduler interface {
	Schedule(ctx context.Context, eventID uuid.UUID, publishDate *time.Time) error
	Reschedule(ctx context.Context, eventID uuid.UUID, newPublishDate *time.Time, newStatus, currentStatus domain.EventStatus) error
	Cancel(ctx context.Context, eventID uuid.UUID) error
}

type PromocodeInput struct {
	Code            string
	DiscountPercent int
	ExpirationDate  time.Time
}

type CreateEventInput struct {
	Title           string
	Location        string
	StartDate       time.Time
	TicketsQuantity int
	TicketPrice     decimal.Decimal
	PublishDate     *time.Time
	Promocodes      []PromocodeInput
}

// UpdateEventInput holds the fields to change; nil leaves a field as is.
type UpdateEventInput struct {
	Title           *string
	Location        *string
	StartDate       *time.Time
	TicketsQuantity *int
	TicketPrice     *decimal.Decimal
	PublishDate     *time.Time
	Status          *domain.EventStatus
}

type Service struct {
	store     Store
	scheduler PublishScheduler
	clock     clock.Clock
	logger    observability.Logger
}

func NewService(store Store, scheduler PublishScheduler, clk clock.Clock, logger observability.Logger) *Service {
	return &Service{store: store, scheduler: scheduler, clock: clk, logger: logger}
}

// CreateEvent stores a new event. With a publish date it starts as DRAFT and
// a publish job is queued; without one it is published right away.
func (s *Service) CreateEvent(ctx context.Context, companyID uuid.UUID, in CreateEventInput) (domain.Event, error) {
	if err := s.validateEvent(in.Title, in.Location, in.TicketsQuantity, in.TicketPrice, in.PublishDate); err != nil {
		return domain.Event{}, err
	}
	promos := make([]domain.Promocode, 0, len(in.Promocodes))
	for _, p := range in.Promocodes {
		promo, err := s.newPromocode(uuid.Nil, p)
		if err != nil {
			return domain.Event{}, err
		}
		promos = append(promos, promo)
	}

	account, err := s.store.GetPayoutAccount(ctx, companyID)
	if err != nil {
		return domain.Event{}, err
	}
	if account == "" {
		return domain.Event{}, domain.ErrPayoutAccountMissing
	}

	event := domain.Event{
		ID:              uuid.New(),
		CompanyID:       companyID,
		Title:           strings.TrimSpace(in.Title),
		Location:        strings.TrimSpace(in.Location),
		StartDate:       in.StartDate,
		TicketsQuantity: in.TicketsQuantity,
		TicketPrice:     in.TicketPrice,
		Status:          domain.EventStatusPublished,
		PublishDate:     in.PublishDate,
	}
	if in.PublishDate != nil {
		event.Status = domain.EventStatusDraft
	}

	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CreateEvent(txCtx, event); err != nil {
			return err
		}
		for _, p := range promos {
			p.EventID = event.ID
			if err := s.store.CreatePromocode(txCtx, p); err != nil {
				return err
			}
		}
		return s.scheduler.Schedule(txCtx, event.ID, event.PublishDate)
	})
	if err != nil {
		return domain.Event{}, err
	}

	s.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"company_id": companyID,
		"status":     event.Status,
	}).Info("event created")
	return event, nil
}

// UpdateEvent changes a DRAFT event. Published events are read-only.
func (s *Service) UpdateEvent(ctx context.Context, eventID uuid.UUID, in UpdateEventInput) (domain.Event, error) {
	var updated domain.Event
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.store.GetEvent(txCtx, eventID)
		if err != nil {
			return err
		}
		if event.Status == domain.EventStatusPublished {
			return domain.ErrEventPublished
		}

		if in.Title != nil {
			event.Title = strings.TrimSpace(*in.Title)
		}
		if in.Location != nil {
			event.Location = strings.TrimSpace(*in.Location)
		}
		if in.StartDate != nil {
			event.StartDate = *in.StartDate
		}
		if in.TicketsQuantity != nil {
			if *in.TicketsQuantity < event.TicketsSold {
				return errors.Wrapf(domain.ErrInvalidInput, "tickets quantity below %d already sold", event.TicketsSold)
			}
			event.TicketsQuantity = *in.TicketsQuantity
		}
		if in.TicketPrice != nil {
			event.TicketPrice = *in.TicketPrice
		}
		if in.PublishDate != nil {
			event.PublishDate = in.PublishDate
		}
		var newStatus domain.EventStatus
		if in.Status != nil {
			if *in.Status != domain.EventStatusDraft && *in.Status != domain.EventStatusPublished {
				return errors.Wrapf(domain.ErrInvalidInput, "unknown status %q", *in.Status)
			}
			newStatus = *in.Status
			event.Status = newStatus
		}
		if err := s.validateEvent(event.Title, event.Location, event.TicketsQuantity, event.TicketPrice, in.PublishDate); err != nil {
			return err
		}

		if err := s.store.UpdateEvent(txCtx, event); err != nil {
			return err
		}
		updated = event
		return s.scheduler.Reschedule(txCtx, event.ID, in.PublishDate, newStatus, event.Status)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return updated, nil
}

// RemoveEvent deletes an unpublished event after dropping its publish job.
// Events that still hold reserved or sold tickets are kept.
func (s *Service) RemoveEvent(ctx context.Context, eventID uuid.UUID) error {
	return s.store.WithTx(ctx, func(txCtx context.Context) error {
		event, err := s.store.GetEvent(txCtx, eventID)
		if err != nil {
			return err
		}
		if event.Status == domain.EventStatusPublished {
			return domain.ErrEventPublished
		}
		if event.TicketsSold > 0 {
			return errors.Wrapf(domain.ErrConflict, "event has %d tickets", event.TicketsSold)
		}
		if err := s.scheduler.Cancel(txCtx, eventID); err != nil {
			return err
		}
		return s.store.DeleteEvent(txCtx, eventID)
	})
}

func (s *Service) CreatePromocode(ctx context.Context, eventID uuid.UUID, in PromocodeInput) (domain.Promocode, error) {
	promo, err := s.newPromocode(eventID, in)
	if err != nil {
		return domain.Promocode{}, err
	}
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return domain.Promocode{}, err
	}
	if err := s.store.CreatePromocode(ctx, promo); err != nil {
		return domain.Promocode{}, err
	}
	return promo, nil
}

// SetPromocodeActive is the only change allowed on an existing promocode.
func (s *Service) SetPromocodeActive(ctx context.Context, eventID, promocodeID uuid.UUID, active bool) (domain.Promocode, error) {
	return s.store.SetPromocodeActive(ctx, eventID, promocodeID, active)
}

func (s *Service) newPromocode(eventID uuid.UUID, in PromocodeInput) (domain.Promocode, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return domain.Promocode{}, errors.Wrap(domain.ErrInvalidInput, "promocode is empty")
	}
	if in.DiscountPercent < 1 || in.DiscountPercent > 100 {
		return domain.Promocode{}, errors.Wrap(domain.ErrInvalidInput, "discount must be between 1 and 100")
	}
	if !in.ExpirationDate.After(s.clock.Now()) {
		return domain.Promocode{}, errors.Wrap(domain.ErrInvalidInput, "expiration date must be in the future")
	}
	return domain.Promocode{
		ID:              uuid.New(),
		EventID:         eventID,
		Code:            code,
		DiscountPercent: in.DiscountPercent,
		ExpirationDate:  in.ExpirationDate,
		IsActive:        true,
	}, nil
}

func (s *Service) validateEvent(title, location string, quantity int, price decimal.Decimal, publishDate *time.Time) error {
	switch {
	case strings.TrimSpace(title) == "":
		return errors.Wrap(domain.ErrInvalidInput, "title is required")
	case strings.TrimSpace(location) == "":
		return errors.Wrap(domain.ErrInvalidInput, "location is required")
	case quantity < 0:
		return errors.Wrap(domain.ErrInvalidInput, "tickets quantity must not be negative")
	case price.IsNegative():
		return errors.Wrap(domain.ErrInvalidInput, "ticket price must not be negative")
	case publishDate != nil && !publishDate.After(s.clock.Now()):
		return errors.Wrap(domain.ErrInvalidInput, "publish date must be in the future")
	}
	return nil
}
