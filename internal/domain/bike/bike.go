package bike

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested bike does not exist or is inactive.
var ErrNotFound = errors.New("bike not found")

// Bike is a rentable unit of the fleet with its per-day rate.
type Bike struct {
	ID      uuid.UUID
	Name    string
	DayRate decimal.Decimal
	Active  bool
}

// Repository defines read operations over the fleet catalog.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Bike, error)
	List(ctx context.Context) ([]Bike, error)
}
