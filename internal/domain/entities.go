package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "DRAFT"
	EventStatusPublished EventStatus = "PUBLISHED"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

type Event struct {
	ID              uuid.UUID
	CompanyID       uuid.UUID
	Title           string
	Location        string
	StartDate       time.Time
	TicketsQuantity int
	TicketsSold     int
	TicketPrice     decimal.Decimal
	Status          EventStatus
	PublishDate     *time.Time
}

// Available is the number of tickets that can still be reserved.
func (e Event) Available() int {
	return e.TicketsQuantity - e.TicketsSold
}

type Promocode struct {
	ID              uuid.UUID
	EventID         uuid.UUID
	Code            string
	DiscountPercent int
	ExpirationDate  time.Time
	IsActive        bool
}

type Ticket struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	EventID      uuid.UUID
	TicketCode   string
	FinalPrice   decimal.Decimal
	PurchaseDate time.Time
	PromocodeID  *uuid.UUID
}

type Payment struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	UserEmail     string
	TransactionID string
	Status        PaymentStatus
	TicketIDs     []uuid.UUID
	CreatedAt     time.Time
}

// User is the purchaser as seen by the core; identity comes from the caller.
type User struct {
	ID    uuid.UUID
	Email string
}
