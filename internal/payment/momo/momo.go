// Package momo integrates with a mobile-money request-to-pay provider.
//
// A push payment is a two-phase flow: RequestPush asks the provider to prompt
// the payer's device, and the actual settle/reject outcome arrives later via
// the provider callback or a Status poll. An accepted push is never proof of
// payment.
package momo

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Outcome is the provider-side state of a payment attempt.
type Outcome string

const (
	// OutcomePending means the payer has not yet approved or declined.
	OutcomePending Outcome = "pending"
	// OutcomeSettled means the money moved.
	OutcomeSettled Outcome = "settled"
	// OutcomeRejected means the payer declined or the provider refused.
	OutcomeRejected Outcome = "rejected"
	// OutcomeUnknown means the provider could not answer for this reference.
	// Callers must treat it as "ask again later", never as success.
	OutcomeUnknown Outcome = "unknown"
)

var (
	// ErrNotConfigured is returned when provider credentials are missing.
	ErrNotConfigured = errors.New("payment provider not configured")
	// ErrUnavailable is returned when the provider cannot be reached.
	ErrUnavailable = errors.New("payment provider unreachable")
	// ErrInvalidMSISDN is returned for payer numbers that cannot be
	// normalised to international subscriber format. Rejected locally,
	// without a network call.
	ErrInvalidMSISDN = errors.New("invalid payer phone number")
)

// RejectionError is a business rejection from the provider: the request
// itself was understood and refused (bad amount, unknown payer, payer
// declined). Distinct from availability failures, which may fall back to the
// simulator when that is explicitly enabled.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("payment rejected: %s", e.Reason)
}

// IsAvailabilityError reports whether err belongs to the
// configuration/availability failure class rather than a business rejection.
func IsAvailabilityError(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrUnavailable)
}

// PushRequest asks the provider to prompt the payer for the given amount.
// Reference correlates the provider-side request back to exactly one
// reservation and must equal its id.
type PushRequest struct {
	PayerMSISDN string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// PushResult reports acceptance of the push request (not of the payment).
type PushResult struct {
	ProviderMessage string
	// Simulated is true when no real provider was involved.
	Simulated bool
}

// Gateway is the payment provider surface the settlement engine consumes.
type Gateway interface {
	// RequestPush queues a payment prompt on the payer's device.
	RequestPush(ctx context.Context, req PushRequest) (*PushResult, error)
	// Status asks the provider for the current outcome of a prior push.
	Status(ctx context.Context, reference string) (Outcome, string, error)
}

// NormalizeMSISDN canonicalises a payer phone number to international
// subscriber format (digits only, country code prefix). A local number with a
// leading zero gets the default country code. Anything else that is not
// 10–14 digits is rejected.
func NormalizeMSISDN(raw, defaultCountryCode string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(strings.TrimSpace(raw), "+") {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
			// separators are tolerated
		default:
			return "", errors.Wrapf(ErrInvalidMSISDN, "unexpected character %q", r)
		}
	}

	digits := b.String()
	if strings.HasPrefix(digits, "0") {
		digits = defaultCountryCode + digits[1:]
	}

	if len(digits) < 10 || len(digits) > 14 {
		return "", errors.Wrapf(ErrInvalidMSISDN, "length %d", len(digits))
	}
	return digits, nil
}
