package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// FinalPrice applies a percent discount and rounds half-up to the currency's
// minor unit.
func FinalPrice(price decimal.Decimal, discountPercent int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(100 - discountPercent))).Div(hundred).Round(2)
}

// MinorUnits converts a currency amount to its integer minor-unit value
// (cents for usd).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// ChargeTotal is the amount requested from the processor for a reservation.
func ChargeTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}
