package outbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/settlement"
)

const (
	TypeTicketsIssued = "tickets.issued"
	TypeNewAttendee   = "attendee.new"
)

type Writer interface {
	InsertOutbox(ctx context.Context, record crdb.OutboxRecord) error
}

type Attachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// TicketsIssuedMessage is consumed by the mailer.
type TicketsIssuedMessage struct {
	TransactionID string       `json:"transactionId"`
	UserID        uuid.UUID    `json:"userId"`
	Email         string       `json:"email"`
	EventID       uuid.UUID    `json:"eventId"`
	EventTitle    string       `json:"eventTitle"`
	Attachments   []Attachment `json:"attachments"`
}

// NewAttendeeMessage is consumed by the company notification feed.
type NewAttendeeMessage struct {
	EventID    uuid.UUID `json:"eventId"`
	CompanyID  uuid.UUID `json:"companyId"`
	EventTitle string    `json:"eventTitle"`
	UserID     uuid.UUID `json:"userId"`
	Quantity   int       `json:"quantity"`
}

// Notifier turns settlement notifications into outbox rows written in the
// caller's transaction.
type Notifier struct {
	writer Writer
}

func NewNotifier(writer Writer) *Notifier {
	return &Notifier{writer: writer}
}

func (n *Notifier) EnqueueTicketsIssued(ctx context.Context, msg settlement.TicketsIssued) error {
	attachments := make([]Attachment, len(msg.Documents))
	for i, d := range msg.Documents {
		attachments[i] = Attachment{Filename: d.Filename, Content: d.Base64(), ContentType: "application/pdf"}
	}
	return n.insert(ctx, TypeTicketsIssued, msg.EventID, msg.TransactionID, TicketsIssuedMessage{
		TransactionID: msg.TransactionID,
		UserID:        msg.UserID,
		Email:         msg.Email,
		EventID:       msg.EventID,
		EventTitle:    msg.EventTitle,
		Attachments:   attachments,
	})
}

func (n *Notifier) EnqueueNewAttendee(ctx context.Context, msg settlement.NewAttendee) error {
	return n.insert(ctx, TypeNewAttendee, msg.EventID, msg.TransactionID, NewAttendeeMessage{
		EventID:    msg.EventID,
		CompanyID:  msg.CompanyID,
		EventTitle: msg.EventTitle,
		UserID:     msg.UserID,
		Quantity:   msg.Quantity,
	})
}

func (n *Notifier) insert(ctx context.Context, eventType string, eventID uuid.UUID, transactionID string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return n.writer.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "event",
		AggregateID:   eventID,
		EventType:     eventType,
		Payload:       payload,
		Status:        "NEW",
		DedupeKey:     eventType + ":" + transactionID,
	})
}
