// Package pricing computes order totals from captured line items. It is pure:
// no i/o, no state, and under cart invariants (non-negative prices, positive
// quantities) it cannot fail.
package pricing

import (
	"errors"

	"tillpoint/internal/money"
)

// Line is one priced row of an order: the unit price captured at the time the
// row entered the cart, times a quantity.
type Line struct {
	UnitPrice money.Cents
	Quantity  int
}

var (
	ErrNegativePrice   = errors.New("pricing: negative unit price")
	ErrInvalidQuantity = errors.New("pricing: quantity must be positive")
	ErrInvalidRate     = errors.New("pricing: negative tax rate")
)

// Subtotal sums unit_price x quantity over the lines.
func Subtotal(lines []Line) (money.Cents, error) {
	var sum money.Cents
	for _, line := range lines {
		if line.UnitPrice < 0 {
			return 0, ErrNegativePrice
		}
		if line.Quantity <= 0 {
			return 0, ErrInvalidQuantity
		}
		sum += line.UnitPrice.Mul(line.Quantity)
	}
	return sum, nil
}

// Tax applies a basis-point rate (2000 = 20%) to the subtotal, rounding
// half-up to the cent. The rounding happens once, here; Total builds on the
// already-rounded tax so that total == subtotal + tax holds exactly.
func Tax(lines []Line, rateBasisPoints int) (money.Cents, error) {
	if rateBasisPoints < 0 {
		return 0, ErrInvalidRate
	}
	sub, err := Subtotal(lines)
	if err != nil {
		return 0, err
	}
	return TaxOn(sub, rateBasisPoints), nil
}

// TaxOn applies the rate to an already-computed subtotal.
func TaxOn(subtotal money.Cents, rateBasisPoints int) money.Cents {
	if rateBasisPoints <= 0 || subtotal <= 0 {
		return 0
	}
	scaled := int64(subtotal) * int64(rateBasisPoints)
	return money.Cents((scaled + 5000) / 10000)
}

// Total is subtotal plus rounded tax.
func Total(lines []Line, rateBasisPoints int) (money.Cents, error) {
	sub, err := Subtotal(lines)
	if err != nil {
		return 0, err
	}
	if rateBasisPoints < 0 {
		return 0, ErrInvalidRate
	}
	return sub + TaxOn(sub, rateBasisPoints), nil
}
