package addon

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NotFoundError indicates a requested add-on does not exist.
type NotFoundError struct {
	AddOnID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return "add-on " + e.AddOnID.String() + " not found"
}

// ErrNotFound is a sentinel matched by errors.Is for any missing add-on.
var ErrNotFound = errors.New("add-on not found")

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AddOn is an optional accessory rented alongside a bike, priced per day.
type AddOn struct {
	ID      uuid.UUID
	Name    string
	DayRate decimal.Decimal
	Active  bool
}

// Repository defines read operations over the add-on catalog.
type Repository interface {
	// GetByIDs fetches all requested add-ons in one batch. The result order is
	// unspecified; callers match by ID.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]AddOn, error)
}
