package promocode

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

type Repository interface {
	// FindPromocode matches code case-insensitively within the event and
	// returns domain.ErrNotFound when nothing matches.
	FindPromocode(ctx context.Context, eventID uuid.UUID, code string) (domain.Promocode, error)
}

// Discount is the outcome of validating a code. A zero Discount means no code
// was supplied.
type Discount struct {
	PromocodeID *uuid.UUID
	Percent     int
}

type Validator struct {
	repo  Repository
	clock clock.Clock
}

func NewValidator(repo Repository, clk clock.Clock) *Validator {
	return &Validator{repo: repo, clock: clk}
}

func (v *Validator) Validate(ctx context.Context, eventID uuid.UUID, code string) (Discount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Discount{}, nil
	}

	promo, err := v.repo.FindPromocode(ctx, eventID, code)
	if errors.Is(err, domain.ErrNotFound) {
		return Discount{}, domain.ErrPromocodeNotFound
	}
	if err != nil {
		return Discount{}, errors.Wrap(err, "find promocode")
	}

	if !promo.IsActive || promo.ExpirationDate.Before(v.clock.Now()) {
		return Discount{}, domain.ErrPromocodeInactive
	}

	id := promo.ID
	return Discount{PromocodeID: &id, Percent: promo.DiscountPercent}, nil
}
