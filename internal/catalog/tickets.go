package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
)

type TicketStore interface {
	GetTickets(ctx context.Context, ids []uuid.UUID) ([]domain.Ticket, error)
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	TicketPaymentStatus(ctx context.Context, ticketID uuid.UUID) (domain.PaymentStatus, error)
}

type Renderer interface {
	RenderDocument(ticket ticketdoc.TicketInfo, event ticketdoc.EventInfo) (ticketdoc.Document, error)
}

type TicketDocuments struct {
	store    TicketStore
	renderer Renderer
}

func NewTicketDocuments(store TicketStore, renderer Renderer) *TicketDocuments {
	return &TicketDocuments{store: store, renderer: renderer}
}

// Download renders the ticket for its owner once its payment has completed.
// Tickets of other users and unpaid reservations are reported as not found.
func (d *TicketDocuments) Download(ctx context.Context, ticketID, userID uuid.UUID) (ticketdoc.Document, error) {
	tickets, err := d.store.GetTickets(ctx, []uuid.UUID{ticketID})
	if err != nil {
		return ticketdoc.Document{}, err
	}
	if len(tickets) == 0 || tickets[0].UserID != userID {
		return ticketdoc.Document{}, domain.ErrNotFound
	}
	t := tickets[0]

	status, err := d.store.TicketPaymentStatus(ctx, t.ID)
	if err != nil {
		return ticketdoc.Document{}, err
	}
	if status != domain.PaymentStatusCompleted {
		return ticketdoc.Document{}, domain.ErrNotFound
	}

	event, err := d.store.GetEvent(ctx, t.EventID)
	if err != nil {
		return ticketdoc.Document{}, err
	}
	return d.renderer.RenderDocument(
		ticketdoc.TicketInfo{ID: t.ID, Code: t.TicketCode},
		ticketdoc.EventInfo{ID: event.ID, Title: event.Title, Location: event.Location, StartDate: event.StartDate},
	)
}
