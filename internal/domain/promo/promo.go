// Package promo holds discount-code rules and their validation.
package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage applies a percentage of the order subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed applies a fixed amount capped at the order subtotal.
	KindFixed Kind = "fixed_amount"
)

var (
	// ErrNotFound is returned when a code does not exist.
	ErrNotFound = errors.New("promo code not found")
	// ErrInactive is returned when a code exists but has been deactivated.
	ErrInactive = errors.New("promo code is inactive")
	// ErrExpired is returned when the current instant is outside the code's
	// activation window.
	ErrExpired = errors.New("promo code expired")
	// ErrUsageCapReached is returned when a code has exhausted its allowed uses.
	ErrUsageCapReached = errors.New("promo code usage limit reached")
)

// BelowMinimumOrderError is returned when the order subtotal does not meet the
// code's minimum order value. It carries the threshold for user messaging.
type BelowMinimumOrderError struct {
	Minimum decimal.Decimal
}

func (e *BelowMinimumOrderError) Error() string {
	return fmt.Sprintf("order below promo minimum of %s", e.Minimum)
}

// ErrBelowMinimumOrder is a sentinel matched by errors.Is for any
// BelowMinimumOrderError.
var ErrBelowMinimumOrder = errors.New("order below promo minimum")

func (e *BelowMinimumOrderError) Is(target error) bool { return target == ErrBelowMinimumOrder }

// Code defines a discount code's behaviour and eligibility constraints.
// MaxUses nil means unlimited.
type Code struct {
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	MinOrder    decimal.Decimal
	MaxUses     *int
	Uses        int
	ValidFrom   time.Time
	ValidUntil  *time.Time
	Active      bool
	Description string
}

// Canonicalize normalises user input to the stored form: trimmed, upper-case.
func Canonicalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeemer is the redemption-only view of a Repository, consumed by the
// settlement confirm path.
type Redeemer interface {
	Redeem(ctx context.Context, code string) error
}

// Repository provides lookup and redemption of promo codes.
type Repository interface {
	// FindByCode looks a code up case-insensitively. Returns ErrNotFound when
	// no such code exists.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// Redeem increments the code's usage counter iff it is still below the
	// cap. Returns ErrUsageCapReached when the cap is already exhausted.
	Redeem(ctx context.Context, code string) error
}

// Validator checks a code against an order subtotal and returns the computed
// discount amount. Validation is side-effect free: redemption happens
// separately, on settlement confirmation.
type Validator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Result, error)
}

// Result is a successful validation: the matched code and the discount it
// yields for the given subtotal.
type Result struct {
	Code   *Code
	Amount decimal.Decimal
}
