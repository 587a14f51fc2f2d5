// Package checkout runs a ticket purchase from discount lookup to the
// processor charge.
package checkout

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/inventory"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/promocode"
	"github.com/robertarktes/event-ticketing/internal/settlement"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

type PromocodeValidator interface {
	Validate(ctx context.Context, eventID uuid.UUID, code string) (promocode.Discount, error)
}

type Inventory interface {
	Reserve(ctx context.Context, in inventory.ReserveInput) (inventory.Reservation, error)
	Release(ctx context.Context, ticketIDs []uuid.UUID) (int, error)
}

type Charger interface {
	PayoutDestination(ctx context.Context, eventID uuid.UUID) (string, error)
	InitiateCharge(ctx context.Context, in settlement.ChargeInput) (settlement.Charge, error)
}

type PurchaseInput struct {
	EventID   uuid.UUID
	User      domain.User
	Quantity  int
	Promocode string
}

type PurchaseResult struct {
	ClientSecret  string
	TransactionID string
	TicketIDs     []uuid.UUID
	UnitPrice     decimal.Decimal
	Total         decimal.Decimal
}

type Service struct {
	promos    PromocodeValidator
	inventory Inventory
	charger   Charger
	logger    observability.Logger
}

func NewService(promos PromocodeValidator, inv Inventory, charger Charger, logger observability.Logger) *Service {
	return &Service{promos: promos, inventory: inv, charger: charger, logger: logger}
}

// Purchase reserves the tickets, then asks the processor to charge for them.
// Everything that can reject the purchase without the processor (promocode,
// payout account) is checked before inventory is touched. The reservation is
// committed before the processor is called; if the charge cannot be created
// the tickets are released again.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "Checkout.Purchase")
	defer span.End()

	if in.Quantity <= 0 || in.User.ID == uuid.Nil {
		return PurchaseResult{}, domain.ErrInvalidInput
	}

	discount, err := s.promos.Validate(ctx, in.EventID, in.Promocode)
	if err != nil {
		return PurchaseResult{}, err
	}

	destination, err := s.charger.PayoutDestination(ctx, in.EventID)
	if err != nil {
		return PurchaseResult{}, err
	}

	res, err := s.inventory.Reserve(ctx, inventory.ReserveInput{
		EventID:         in.EventID,
		UserID:          in.User.ID,
		Quantity:        in.Quantity,
		DiscountPercent: discount.Percent,
		PromocodeID:     discount.PromocodeID,
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	charge, err := s.charger.InitiateCharge(ctx, settlement.ChargeInput{
		Event:       res.Event,
		User:        in.User,
		Quantity:    in.Quantity,
		UnitPrice:   res.UnitPrice,
		TicketIDs:   res.TicketIDs,
		Destination: destination,
	})
	if err != nil {
		if charge.TransactionID == "" {
			s.compensate(ctx, res.TicketIDs)
		}
		return PurchaseResult{}, err
	}

	return PurchaseResult{
		ClientSecret:  charge.ClientReference,
		TransactionID: charge.TransactionID,
		TicketIDs:     res.TicketIDs,
		UnitPrice:     res.UnitPrice,
		Total:         charge.Amount,
	}, nil
}

func (s *Service) compensate(ctx context.Context, ticketIDs []uuid.UUID) {
	// The request may already be cancelled; the release must still run.
	ctx = context.WithoutCancel(ctx)
	n, err := s.inventory.Release(ctx, ticketIDs)
	if err != nil {
		s.logger.WithError(err).Error("failed to release tickets after charge error, sweeper will retry")
		return
	}
	observability.TicketsReleased.WithLabelValues("charge_failed").Add(float64(n))
}
