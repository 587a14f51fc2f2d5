package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrInsufficientInventory   = errors.New("insufficient inventory")
	ErrPromocodeNotFound       = errors.New("promocode not found")
	ErrPromocodeInactive       = errors.New("promocode is inactive or expired")
	ErrPayoutAccountMissing    = errors.New("company does not have a connected payout account")
	ErrInvalidWebhookSignature = errors.New("webhook error: invalid signature")
	ErrPaymentProcessor        = errors.New("payment processor error")
	ErrJobTargetMissing        = errors.New("scheduled job target no longer exists")
	ErrEventPublished          = errors.New("event is already published")
)

// InsufficientInventoryError carries the remaining ticket count. Its message
// is shown to buyers as is.
type InsufficientInventoryError struct {
	Remaining int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("Only %d tickets remaining", e.Remaining)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}
