package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ticketdoc"
	"github.com/shopspring/decimal"
)

// ChargeRequest is what the coordinator asks the processor to collect.
// Amount is in minor currency units.
type ChargeRequest struct {
	Amount      int64
	Currency    string
	Destination string
	Metadata    map[string]string
}

type ChargeResult struct {
	TransactionID   string
	ClientReference string
}

// Notification is a verified processor callback. It is either
// PaymentSucceeded or PaymentFailed.
type Notification interface {
	transactionID() string
}

type PaymentSucceeded struct {
	TransactionID string
}

func (n PaymentSucceeded) transactionID() string { return n.TransactionID }

// PaymentFailed also covers expired or cancelled charges.
type PaymentFailed struct {
	TransactionID string
	Reason        string
}

func (n PaymentFailed) transactionID() string { return n.TransactionID }

type PaymentProcessor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// ParseNotification verifies the signature and decodes the payload.
	// It returns a nil Notification for event types this system does not
	// act on, and an error matching domain.ErrInvalidWebhookSignature when
	// verification fails.
	ParseNotification(payload []byte, signature string) (Notification, error)
}

type PayoutAccountLookup interface {
	// GetPayoutAccount returns "" when the company has no connected account.
	GetPayoutAccount(ctx context.Context, companyID uuid.UUID) (string, error)
}

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreatePayment(ctx context.Context, payment domain.Payment) error
	GetPaymentByTransaction(ctx context.Context, transactionID string) (domain.Payment, error)
	// TransitionPayment moves the payment from one status to another and
	// reports false when it was not in the expected status.
	TransitionPayment(ctx context.Context, transactionID string, from, to domain.PaymentStatus) (bool, error)
	GetTickets(ctx context.Context, ids []uuid.UUID) ([]domain.Ticket, error)
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
}

type InventoryReleaser interface {
	Release(ctx context.Context, ticketIDs []uuid.UUID) (int, error)
}

type DocumentRenderer interface {
	RenderDocument(ticket ticketdoc.TicketInfo, event ticketdoc.EventInfo) (ticketdoc.Document, error)
}

type TicketsIssued struct {
	TransactionID string
	UserID        uuid.UUID
	Email         string
	EventID       uuid.UUID
	EventTitle    string
	Documents     []ticketdoc.Document
}

type NewAttendee struct {
	TransactionID string
	EventID       uuid.UUID
	CompanyID     uuid.UUID
	EventTitle    string
	UserID        uuid.UUID
	Quantity      int
}

// Notifier hands messages to the delivery side. Implementations write
// within the transaction carried by ctx.
type Notifier interface {
	EnqueueTicketsIssued(ctx context.Context, msg TicketsIssued) error
	EnqueueNewAttendee(ctx context.Context, msg NewAttendee) error
}

type Auditor interface {
	LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}

type ChargeInput struct {
	Event     domain.Event
	User      domain.User
	Quantity  int
	UnitPrice decimal.Decimal
	TicketIDs []uuid.UUID
	// Destination is the payout account from PayoutDestination. Empty means
	// it is looked up again.
	Destination string
}

type Charge struct {
	PaymentID       uuid.UUID
	TransactionID   string
	ClientReference string
	Amount          decimal.Decimal
}
