// Package reservation defines the booking record and its lifecycle.
package reservation

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the persisted lifecycle state of a reservation. The engine owns
// pending_payment and its three terminal outcomes; downstream states
// (active, completed) belong to the fulfilment workflow.
type Status string

const (
	// StatusPendingPayment is the provisional state between creation and a
	// terminal payment outcome.
	StatusPendingPayment Status = "pending_payment"
	// StatusConfirmed means payment settled; terminal for this engine.
	StatusConfirmed Status = "confirmed"
	// StatusCancelled means the user abandoned the attempt before settlement.
	StatusCancelled Status = "cancelled"
	// StatusPaymentFailed means the provider rejected the payment. Terminal;
	// a retry starts a fresh reservation.
	StatusPaymentFailed Status = "payment_failed"
)

var (
	// ErrNotFound is returned when a reservation does not exist.
	ErrNotFound = errors.New("reservation not found")
	// ErrIllegalTransition is returned when a status update violates the
	// transition table.
	ErrIllegalTransition = errors.New("illegal reservation status transition")
	// ErrBikeUnavailable is returned when the bike already has an active
	// reservation overlapping the requested dates.
	ErrBikeUnavailable = errors.New("bike unavailable for the requested dates")
)

// transitions is the set of legal status edges. Everything not listed is
// rejected; confirmed, cancelled and payment_failed have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusConfirmed, StatusCancelled, StatusPaymentFailed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing edges in this engine.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// AddOnLine is a priced add-on snapshot attached to a reservation. Rates are
// captured at booking time; later catalog edits do not change past bookings.
type AddOnLine struct {
	AddOnID uuid.UUID
	Name    string
	DayRate decimal.Decimal
}

// Reservation is a booking record moving through the settlement lifecycle.
type Reservation struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	BikeID         *uuid.UUID
	BikeName       string
	StartDate      time.Time
	EndDate        time.Time
	PickupLocation string
	Notes          string
	AddOns         []AddOnLine
	BaseSubtotal   decimal.Decimal
	AddOnSubtotal  decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	PromoCode      *string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository is the single source of truth for booking state.
type Repository interface {
	// Create persists a new reservation in StatusPendingPayment. It enforces
	// the overlap guard: if the bike already has a pending or confirmed
	// reservation intersecting [StartDate, EndDate), it returns
	// ErrBikeUnavailable and persists nothing.
	Create(ctx context.Context, r *Reservation) error
	// UpdateStatus transitions a reservation along a legal edge. It returns
	// ErrIllegalTransition when the stored status does not admit the move and
	// ErrNotFound when the id is unknown.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Reservation, error)
	// ListStalePending returns pending_payment reservations created before
	// the cutoff, oldest first; used by payment reconciliation.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error)
}
