package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/bodarent/backend/internal/domain/pricing"
)

// RepoValidator implements Validator by looking up codes from a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate checks the code against the order subtotal. The check order is
// fixed because each rejection surfaces as a distinct user-facing message:
// existence, active flag, minimum order, usage cap, expiry.
func (v *RepoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (*Result, error) {
	rule, err := v.repo.FindByCode(ctx, Canonicalize(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promo code")
	}

	if !rule.Active {
		return nil, ErrInactive
	}

	if subtotal.LessThan(rule.MinOrder) {
		return nil, &BelowMinimumOrderError{Minimum: rule.MinOrder}
	}

	if rule.MaxUses != nil && rule.Uses >= *rule.MaxUses {
		return nil, ErrUsageCapReached
	}

	now := v.now()
	if now.Before(rule.ValidFrom) {
		return nil, ErrExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrExpired
	}

	return &Result{Code: rule, Amount: amountFor(rule, subtotal)}, nil
}

// amountFor computes the discount a rule yields on the given subtotal.
func amountFor(rule *Code, subtotal decimal.Decimal) decimal.Decimal {
	switch rule.Kind {
	case KindPercentage:
		return pricing.Percentage(subtotal, rule.Value)
	case KindFixed:
		return pricing.Fixed(subtotal, rule.Value)
	default:
		return decimal.Zero
	}
}
