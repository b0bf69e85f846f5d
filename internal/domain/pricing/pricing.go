// Package pricing computes rental quotes. All functions are pure; amounts are
// integer-valued decimals in the platform display currency.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodarent/backend/internal/domain/addon"
)

var hundred = decimal.NewFromInt(100)

// Quote is the line-item breakdown of a rental order.
type Quote struct {
	BilledDays     int64
	BaseSubtotal   decimal.Decimal
	AddOnSubtotal  decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// Subtotal returns the order value before discount.
func (q Quote) Subtotal() decimal.Decimal {
	return q.BaseSubtotal.Add(q.AddOnSubtotal)
}

// BilledDays returns the number of whole days charged for the interval,
// clamped to a minimum of one. Same-day and inverted ranges both clamp to 1;
// callers reject inverted ranges separately before pricing.
func BilledDays(start, end time.Time) int64 {
	days := int64(end.Sub(start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// Compute prices a rental interval at the given day rate with the selected
// add-ons and an already-computed discount amount. The discount is capped at
// the order subtotal so the total never goes negative.
func Compute(start, end time.Time, dayRate decimal.Decimal, addOns []addon.AddOn, discount decimal.Decimal) Quote {
	days := BilledDays(start, end)
	daysDec := decimal.NewFromInt(days)

	base := dayRate.Mul(daysDec)

	addOnSum := decimal.Zero
	for _, a := range addOns {
		addOnSum = addOnSum.Add(a.DayRate.Mul(daysDec))
	}

	subtotal := base.Add(addOnSum)
	discount = decimal.Min(floorAtZero(discount), subtotal)

	return Quote{
		BilledDays:     days,
		BaseSubtotal:   base,
		AddOnSubtotal:  addOnSum,
		DiscountAmount: discount,
		Total:          subtotal.Sub(discount),
	}
}

// Percentage returns round(subtotal × pct/100).
func Percentage(subtotal, pct decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Mul(pct).Div(hundred).Round(0))
}

// Fixed returns min(amount, subtotal): a fixed discount never exceeds the order.
func Fixed(subtotal, amount decimal.Decimal) decimal.Decimal {
	return floorAtZero(decimal.Min(amount, subtotal))
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
