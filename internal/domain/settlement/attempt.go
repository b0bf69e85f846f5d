package settlement

import (
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AttemptState is the payment sub-flow state within one settlement attempt.
type AttemptState int

const (
	// AttemptIdle is the initial state before any provider contact.
	AttemptIdle AttemptState = iota
	// AttemptRequesting means the push request is in flight.
	AttemptRequesting
	// AttemptAwaitingConfirmation means the provider queued a prompt and the
	// outcome is pending. Entering this state is not success.
	AttemptAwaitingConfirmation
	// AttemptSettled is terminal: the payment completed.
	AttemptSettled
	// AttemptRejected is terminal: the provider or payer refused.
	AttemptRejected
)

func (s AttemptState) String() string {
	switch s {
	case AttemptIdle:
		return "idle"
	case AttemptRequesting:
		return "requesting"
	case AttemptAwaitingConfirmation:
		return "awaiting_confirmation"
	case AttemptSettled:
		return "settled"
	case AttemptRejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// attemptEdges is the legal transition table for the payment sub-flow.
var attemptEdges = map[AttemptState][]AttemptState{
	AttemptIdle:                 {AttemptRequesting},
	AttemptRequesting:           {AttemptAwaitingConfirmation, AttemptRejected},
	AttemptAwaitingConfirmation: {AttemptSettled, AttemptRejected},
}

// Attempt tracks one payment attempt. The Reference always equals the
// provisional reservation id so the provider-side request correlates back to
// exactly one reservation.
type Attempt struct {
	State       AttemptState
	Amount      decimal.Decimal
	PayerMSISDN string
	Reference   string
}

// NewAttempt creates an idle attempt correlated to the given reservation.
func NewAttempt(reservationID uuid.UUID, payerMSISDN string, amount decimal.Decimal) *Attempt {
	return &Attempt{
		State:       AttemptIdle,
		Amount:      amount,
		PayerMSISDN: payerMSISDN,
		Reference:   reservationID.String(),
	}
}

// To advances the attempt along a legal edge or fails.
func (a *Attempt) To(next AttemptState) error {
	for _, allowed := range attemptEdges[a.State] {
		if allowed == next {
			a.State = next
			return nil
		}
	}
	return errors.Errorf("illegal payment attempt transition %s -> %s", a.State, next)
}
