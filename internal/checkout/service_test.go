package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/inventory"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/promocode"
	"github.com/robertarktes/event-ticketing/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	discount promocode.Discount
	err      error
}

func (v stubValidator) Validate(context.Context, uuid.UUID, string) (promocode.Discount, error) {
	return v.discount, v.err
}

type stubInventory struct {
	reserved []inventory.ReserveInput
	released [][]uuid.UUID
	err      error
}

func (i *stubInventory) Reserve(_ context.Context, in inventory.ReserveInput) (inventory.Reservation, error) {
	if i.err != nil {
		return inventory.Reservation{}, i.err
	}
	i.reserved = append(i.reserved, in)
	ids := make([]uuid.UUID, in.Quantity)
	for n := range ids {
		ids[n] = uuid.New()
	}
	return inventory.Reservation{
		Event:     domain.Event{ID: in.EventID, Title: "Show"},
		TicketIDs: ids,
		UnitPrice: domain.FinalPrice(decimal.RequireFromString("20.00"), in.DiscountPercent),
	}, nil
}

func (i *stubInventory) Release(_ context.Context, ids []uuid.UUID) (int, error) {
	i.released = append(i.released, ids)
	return len(ids), nil
}

type stubCharger struct {
	inputs    []settlement.ChargeInput
	charge    settlement.Charge
	err       error
	payoutErr error
}

func (c *stubCharger) PayoutDestination(context.Context, uuid.UUID) (string, error) {
	if c.payoutErr != nil {
		return "", c.payoutErr
	}
	return "acct_1", nil
}

func (c *stubCharger) InitiateCharge(_ context.Context, in settlement.ChargeInput) (settlement.Charge, error) {
	c.inputs = append(c.inputs, in)
	if c.err != nil {
		return c.charge, c.err
	}
	return settlement.Charge{
		TransactionID:   "pi_1",
		ClientReference: "pi_1_secret",
		Amount:          domain.ChargeTotal(in.UnitPrice, in.Quantity),
	}, nil
}

var buyer = domain.User{ID: uuid.New(), Email: "a@b.c"}

func TestPurchase_AppliesDiscountAndCharges(t *testing.T) {
	promoID := uuid.New()
	inv := &stubInventory{}
	charger := &stubCharger{}
	svc := NewService(stubValidator{discount: promocode.Discount{PromocodeID: &promoID, Percent: 20}}, inv, charger, observability.NewLogger())

	res, err := svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), User: buyer, Quantity: 3, Promocode: "SAVE20"})
	require.NoError(t, err)

	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.True(t, res.UnitPrice.Equal(decimal.RequireFromString("16")))
	assert.True(t, res.Total.Equal(decimal.RequireFromString("48")))
	require.Len(t, inv.reserved, 1)
	assert.Equal(t, &promoID, inv.reserved[0].PromocodeID)
	assert.Equal(t, 20, inv.reserved[0].DiscountPercent)
	require.Len(t, charger.inputs, 1)
	assert.Equal(t, res.TicketIDs, charger.inputs[0].TicketIDs)
	assert.Equal(t, "acct_1", charger.inputs[0].Destination)
	assert.Empty(t, inv.released)
}

func TestPurchase_InvalidPromocodeStopsBeforeReserve(t *testing.T) {
	inv := &stubInventory{}
	svc := NewService(stubValidator{err: domain.ErrPromocodeInactive}, inv, &stubCharger{}, observability.NewLogger())

	_, err := svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), User: buyer, Quantity: 1, Promocode: "OLD"})
	assert.ErrorIs(t, err, domain.ErrPromocodeInactive)
	assert.Empty(t, inv.reserved)
}

func TestPurchase_ReserveFailureSkipsCharge(t *testing.T) {
	inv := &stubInventory{err: &domain.InsufficientInventoryError{Remaining: 1}}
	charger := &stubCharger{}
	svc := NewService(stubValidator{}, inv, charger, observability.NewLogger())

	_, err := svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), User: buyer, Quantity: 2})
	assert.EqualError(t, err, "Only 1 tickets remaining")
	assert.Empty(t, charger.inputs)
}

func TestPurchase_MissingPayoutAccountStopsBeforeReserve(t *testing.T) {
	inv := &stubInventory{}
	charger := &stubCharger{payoutErr: domain.ErrPayoutAccountMissing}
	svc := NewService(stubValidator{}, inv, charger, observability.NewLogger())

	for i := 0; i < 3; i++ {
		_, err := svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), User: buyer, Quantity: 2})
		assert.ErrorIs(t, err, domain.ErrPayoutAccountMissing)
	}
	assert.Empty(t, inv.reserved)
	assert.Empty(t, inv.released)
	assert.Empty(t, charger.inputs)
}

func TestPurchase_ChargeErrorReleasesTickets(t *testing.T) {
	processorErr := errors.New("processor unavailable")
	inv := &stubInventory{}
	charger := &stubCharger{err: processorErr}
	svc := NewService(stubValidator{}, inv, charger, observability.NewLogger())

	_, err := svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), User: buyer, Quantity: 2})
	assert.ErrorIs(t, err, processorErr)
	require.Len(t, inv.released, 1)
	assert.Equal(t, charger.inputs[0].TicketIDs, inv.released[0])
}

func TestPurchase_UnrecordedChargeKeepsTickets(t *testing.T) {
	inv := &stubInventory{}
	charger := &stubCharger{
		charge: settlement.Charge{TransactionID: "pi_9"},
		err:    errors.New("insert payment: connection lost"),
	}
	svc := NewService(stubValidator{}, inv, charger, observability.NewLogger())

	_, err := svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), User: buyer, Quantity: 1})
	require.Error(t, err)
	assert.Empty(t, inv.released)
}

func TestPurchase_RejectsBadInput(t *testing.T) {
	svc := NewService(stubValidator{}, &stubInventory{}, &stubCharger{}, observability.NewLogger())

	_, err := svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), User: buyer, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Purchase(context.Background(), PurchaseInput{EventID: uuid.New(), Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
