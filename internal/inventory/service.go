package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	// IncrementSold advances tickets_sold by n in a single conditional
	// statement and reports false when that would exceed capacity.
	IncrementSold(ctx context.Context, eventID uuid.UUID, n int) (bool, error)
	DecrementSold(ctx context.Context, eventID uuid.UUID, n int) error
	CreateTickets(ctx context.Context, tickets []domain.Ticket) error
	// DeleteTickets removes whichever of ids still exist and returns how
	// many were deleted per event.
	DeleteTickets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)
	// DeleteAbandonedTickets is DeleteTickets restricted to tickets that are
	// still older than reservedBefore and not linked to any payment.
	DeleteAbandonedTickets(ctx context.Context, ids []uuid.UUID, reservedBefore time.Time) (map[uuid.UUID]int, error)
	FindAbandonedTickets(ctx context.Context, reservedBefore time.Time, limit int) ([]uuid.UUID, error)
}

type ReserveInput struct {
	EventID         uuid.UUID
	UserID          uuid.UUID
	Quantity        int
	DiscountPercent int
	PromocodeID     *uuid.UUID
}

type Reservation struct {
	Event     domain.Event
	TicketIDs []uuid.UUID
	UnitPrice decimal.Decimal
}

type Service struct {
	store    Store
	clock    clock.Clock
	logger   observability.Logger
	codeFunc func() string
}

type Option func(*Service)

// WithCodeGenerator replaces the ticket code source.
func WithCodeGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.codeFunc = fn
		}
	}
}

func NewService(store Store, clk clock.Clock, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		clock:    clk,
		logger:   logger,
		codeFunc: ticketdoc.GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Reserve(ctx context.Context, in ReserveInput) (Reservation, error) {
	ctx, span := otel.Tracer("inventory").Start(ctx, "Inventory.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", in.EventID.String()),
		attribute.Int("tickets.quantity", in.Quantity),
	)

	if in.Quantity <= 0 || in.DiscountPercent < 0 || in.DiscountPercent > 100 {
		return Reservation{}, domain.ErrInvalidInput
	}

	event, err := s.store.GetEvent(ctx, in.EventID)
	if err != nil {
		return Reservation{}, err
	}
	if in.Quantity > event.Available() {
		observability.TicketsReserved.WithLabelValues("insufficient").Inc()
		return Reservation{}, &domain.InsufficientInventoryError{Remaining: max(event.Available(), 0)}
	}

	unitPrice := domain.FinalPrice(event.TicketPrice, in.DiscountPercent)
	now := s.clock.Now()
	tickets := make([]domain.Ticket, in.Quantity)
	ids := make([]uuid.UUID, in.Quantity)
	for i := range tickets {
		ids[i] = uuid.New()
		tickets[i] = domain.Ticket{
			ID:           ids[i],
			UserID:       in.UserID,
			EventID:      in.EventID,
			TicketCode:   s.codeFunc(),
			FinalPrice:   unitPrice,
			PurchaseDate: now,
			PromocodeID:  in.PromocodeID,
		}
	}

	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := s.store.IncrementSold(txCtx, in.EventID, in.Quantity)
		if err != nil {
			return errors.Wrap(err, "increment sold")
		}
		if !ok {
			// Lost a race with a concurrent reservation after the pre-check.
			current, err := s.store.GetEvent(txCtx, in.EventID)
			if err != nil {
				return err
			}
			return &domain.InsufficientInventoryError{Remaining: max(current.Available(), 0)}
		}
		return s.store.CreateTickets(txCtx, tickets)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientInventory) {
			observability.TicketsReserved.WithLabelValues("insufficient").Inc()
		}
		return Reservation{}, err
	}

	observability.TicketsReserved.WithLabelValues("reserved").Add(float64(in.Quantity))
	s.logger.WithFields(map[string]interface{}{
		"event_id": in.EventID,
		"user_id":  in.UserID,
		"quantity": in.Quantity,
	}).Info("tickets reserved")

	event.TicketsSold += in.Quantity
	return Reservation{Event: event, TicketIDs: ids, UnitPrice: unitPrice}, nil
}

// Release deletes the given tickets and gives their seats back to the event.
// Tickets that are already gone are skipped, so repeated calls are harmless.
// When ctx carries a transaction the release joins it.
func (s *Service) Release(ctx context.Context, ticketIDs []uuid.UUID) (int, error) {
	return s.release(ctx, "Inventory.Release", ticketIDs, s.store.DeleteTickets)
}

// ReleaseAbandoned is Release for the sweeper. The age and no-payment
// conditions are checked again at delete time, so a ticket that got a
// payment since it was listed keeps its seat.
func (s *Service) ReleaseAbandoned(ctx context.Context, ticketIDs []uuid.UUID, reservedBefore time.Time) (int, error) {
	return s.release(ctx, "Inventory.ReleaseAbandoned", ticketIDs, func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
		return s.store.DeleteAbandonedTickets(ctx, ids, reservedBefore)
	})
}

type deleteFunc func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)

func (s *Service) release(ctx context.Context, spanName string, ticketIDs []uuid.UUID, del deleteFunc) (int, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}

	ctx, span := otel.Tracer("inventory").Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.Int("tickets.requested", len(ticketIDs)))

	released := 0
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		released = 0
		perEvent, err := del(txCtx, ticketIDs)
		if err != nil {
			return errors.Wrap(err, "delete tickets")
		}
		for eventID, n := range perEvent {
			if n == 0 {
				continue
			}
			if err := s.store.DecrementSold(txCtx, eventID, n); err != nil {
				return errors.Wrapf(err, "decrement sold for event %s", eventID)
			}
			released += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("tickets.released", released))
	return released, nil
}
