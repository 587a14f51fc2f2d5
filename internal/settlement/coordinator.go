package settlement

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type Coordinator struct {
	processor PaymentProcessor
	payouts   PayoutAccountLookup
	store     Store
	inventory InventoryReleaser
	renderer  DocumentRenderer
	notifier  Notifier
	auditor   Auditor
	clock     clock.Clock
	currency  string
	logger    observability.Logger
}

type Deps struct {
	Processor PaymentProcessor
	Payouts   PayoutAccountLookup
	Store     Store
	Inventory InventoryReleaser
	Renderer  DocumentRenderer
	Notifier  Notifier
	Auditor   Auditor
	Clock     clock.Clock
	Logger    observability.Logger
}

func NewCoordinator(deps Deps, currency string) *Coordinator {
	if currency == "" {
		currency = "usd"
	}
	return &Coordinator{
		processor: deps.Processor,
		payouts:   deps.Payouts,
		store:     deps.Store,
		inventory: deps.Inventory,
		renderer:  deps.Renderer,
		notifier:  deps.Notifier,
		auditor:   deps.Auditor,
		clock:     deps.Clock,
		currency:  currency,
		logger:    deps.Logger,
	}
}

// PayoutDestination returns the connected payout account of the company
// that runs eventID. It only reads, so purchases call it before reserving.
func (c *Coordinator) PayoutDestination(ctx context.Context, eventID uuid.UUID) (string, error) {
	event, err := c.store.GetEvent(ctx, eventID)
	if err != nil {
		return "", errors.Wrap(err, "load event")
	}
	return c.lookupPayout(ctx, event.CompanyID)
}

func (c *Coordinator) lookupPayout(ctx context.Context, companyID uuid.UUID) (string, error) {
	destination, err := c.payouts.GetPayoutAccount(ctx, companyID)
	if err != nil {
		return "", errors.Wrap(err, "lookup payout account")
	}
	if destination == "" {
		return "", domain.ErrPayoutAccountMissing
	}
	return destination, nil
}

// InitiateCharge asks the processor to collect the reservation total on
// behalf of the event's company and records a PENDING payment for it.
func (c *Coordinator) InitiateCharge(ctx context.Context, in ChargeInput) (Charge, error) {
	ctx, span := otel.Tracer("settlement").Start(ctx, "Settlement.InitiateCharge")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", in.Event.ID.String()))

	destination := in.Destination
	if destination == "" {
		var err error
		if destination, err = c.lookupPayout(ctx, in.Event.CompanyID); err != nil {
			return Charge{}, err
		}
	}

	total := domain.ChargeTotal(in.UnitPrice, in.Quantity)
	ids := make([]string, len(in.TicketIDs))
	for i, id := range in.TicketIDs {
		ids[i] = id.String()
	}

	result, err := c.processor.CreateCharge(ctx, ChargeRequest{
		Amount:      domain.MinorUnits(total),
		Currency:    c.currency,
		Destination: destination,
		Metadata: map[string]string{
			"userId":     in.User.ID.String(),
			"userEmail":  in.User.Email,
			"eventId":    in.Event.ID.String(),
			"eventTitle": in.Event.Title,
			"companyId":  in.Event.CompanyID.String(),
			"ticketIds":  strings.Join(ids, ","),
		},
	})
	if err != nil {
		return Charge{}, errors.Mark(errors.Wrap(err, "create charge"), domain.ErrPaymentProcessor)
	}

	payment := domain.Payment{
		ID:            uuid.New(),
		UserID:        in.User.ID,
		UserEmail:     in.User.Email,
		TransactionID: result.TransactionID,
		Status:        domain.PaymentStatusPending,
		TicketIDs:     in.TicketIDs,
		CreatedAt:     c.clock.Now(),
	}
	if err := c.store.CreatePayment(ctx, payment); err != nil {
		// The charge exists at the processor; callers must not release the
		// tickets on their own.
		c.logger.WithError(err).WithField("transaction_id", result.TransactionID).Error("charge created but payment not recorded")
		return Charge{TransactionID: result.TransactionID}, errors.Wrap(err, "persist payment")
	}

	c.logger.WithFields(map[string]interface{}{
		"payment_id":     payment.ID,
		"transaction_id": result.TransactionID,
		"amount":         total.StringFixed(2),
	}).Info("charge initiated")

	return Charge{
		PaymentID:       payment.ID,
		TransactionID:   result.TransactionID,
		ClientReference: result.ClientReference,
		Amount:          total,
	}, nil
}

// HandleCallback verifies and applies a processor notification. Every
// branch is safe to repeat: duplicates and late deliveries are no-ops.
func (c *Coordinator) HandleCallback(ctx context.Context, payload []byte, signature string) error {
	ctx, span := otel.Tracer("settlement").Start(ctx, "Settlement.HandleCallback")
	defer span.End()

	n, err := c.processor.ParseNotification(payload, signature)
	if err != nil {
		observability.PaymentCallbacks.WithLabelValues("unknown", "rejected").Inc()
		return err
	}

	switch v := n.(type) {
	case PaymentSucceeded:
		span.SetAttributes(attribute.String("payment.transaction_id", v.TransactionID))
		return c.handleSucceeded(ctx, v)
	case PaymentFailed:
		span.SetAttributes(attribute.String("payment.transaction_id", v.TransactionID))
		return c.handleFailed(ctx, v)
	default:
		observability.PaymentCallbacks.WithLabelValues("unknown", "ignored").Inc()
		return nil
	}
}

func (c *Coordinator) handleSucceeded(ctx context.Context, n PaymentSucceeded) error {
	log := c.logger.WithField("transaction_id", n.TransactionID)

	payment, err := c.store.GetPaymentByTransaction(ctx, n.TransactionID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("success callback for unknown payment")
		observability.PaymentCallbacks.WithLabelValues("succeeded", "ignored").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentStatusPending {
		observability.PaymentCallbacks.WithLabelValues("succeeded", "duplicate").Inc()
		return nil
	}

	tickets, err := c.store.GetTickets(ctx, payment.TicketIDs)
	if err != nil {
		return errors.Wrap(err, "load tickets")
	}
	if len(tickets) == 0 {
		// Redelivery cannot bring the tickets back; needs a refund by hand.
		log.WithField("payment_id", payment.ID).Error("paid payment has no tickets left")
		observability.PaymentCallbacks.WithLabelValues("succeeded", "orphaned").Inc()
		c.audit(ctx, "payment.orphaned", payment, map[string]interface{}{
			"ticket_ids": len(payment.TicketIDs),
		})
		return nil
	}
	event, err := c.store.GetEvent(ctx, tickets[0].EventID)
	if err != nil {
		return errors.Wrap(err, "load event")
	}

	docs, err := c.renderDocuments(ctx, tickets, event)
	if err != nil {
		return err
	}

	completed := false
	err = c.store.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := c.store.TransitionPayment(txCtx, n.TransactionID, domain.PaymentStatusPending, domain.PaymentStatusCompleted)
		if err != nil {
			return err
		}
		completed = ok
		if !ok {
			return nil
		}
		if err := c.notifier.EnqueueTicketsIssued(txCtx, TicketsIssued{
			TransactionID: n.TransactionID,
			UserID:        payment.UserID,
			Email:         payment.UserEmail,
			EventID:       event.ID,
			EventTitle:    event.Title,
			Documents:     docs,
		}); err != nil {
			return errors.Wrap(err, "enqueue tickets issued")
		}
		return c.notifier.EnqueueNewAttendee(txCtx, NewAttendee{
			TransactionID: n.TransactionID,
			EventID:       event.ID,
			CompanyID:     event.CompanyID,
			EventTitle:    event.Title,
			UserID:        payment.UserID,
			Quantity:      len(tickets),
		})
	})
	if err != nil {
		return err
	}
	if !completed {
		observability.PaymentCallbacks.WithLabelValues("succeeded", "duplicate").Inc()
		return nil
	}

	observability.PaymentCallbacks.WithLabelValues("succeeded", "applied").Inc()
	c.audit(ctx, "payment.completed", payment, map[string]interface{}{
		"event_id": event.ID.String(),
		"tickets":  len(tickets),
	})
	log.WithField("payment_id", payment.ID).Info("payment completed")
	return nil
}

func (c *Coordinator) renderDocuments(ctx context.Context, tickets []domain.Ticket, event domain.Event) ([]ticketdoc.Document, error) {
	info := ticketdoc.EventInfo{
		ID:        event.ID,
		Title:     event.Title,
		Location:  event.Location,
		StartDate: event.StartDate,
	}
	docs := make([]ticketdoc.Document, len(tickets))
	g, _ := errgroup.WithContext(ctx)
	for i, t := range tickets {
		g.Go(func() error {
			doc, err := c.renderer.RenderDocument(ticketdoc.TicketInfo{ID: t.ID, Code: t.TicketCode}, info)
			if err != nil {
				return errors.Wrapf(err, "render ticket %s", t.TicketCode)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Coordinator) handleFailed(ctx context.Context, n PaymentFailed) error {
	log := c.logger.WithField("transaction_id", n.TransactionID)

	var payment domain.Payment
	released := 0
	applied := false
	err := c.store.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := c.store.TransitionPayment(txCtx, n.TransactionID, domain.PaymentStatusPending, domain.PaymentStatusFailed)
		if err != nil {
			return err
		}
		applied = ok
		if !ok {
			return nil
		}
		payment, err = c.store.GetPaymentByTransaction(txCtx, n.TransactionID)
		if err != nil {
			return err
		}
		released, err = c.inventory.Release(txCtx, payment.TicketIDs)
		return err
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Debug("failure callback ignored, payment missing or already settled")
		observability.PaymentCallbacks.WithLabelValues("failed", "duplicate").Inc()
		return nil
	}

	observability.PaymentCallbacks.WithLabelValues("failed", "applied").Inc()
	observability.TicketsReleased.WithLabelValues("payment_failed").Add(float64(released))
	c.audit(ctx, "payment.failed", payment, map[string]interface{}{
		"reason":   n.Reason,
		"released": released,
	})
	log.WithFields(map[string]interface{}{
		"payment_id": payment.ID,
		"released":   released,
	}).Info("payment failed, tickets released")
	return nil
}

func (c *Coordinator) audit(ctx context.Context, action string, payment domain.Payment, data map[string]interface{}) {
	if c.auditor == nil {
		return
	}
	data["payment_id"] = payment.ID.String()
	data["transaction_id"] = payment.TransactionID
	if err := c.auditor.LogEvent(ctx, action, payment.UserID, data); err != nil {
		c.logger.WithError(err).Warn("audit log write failed")
	}
}
