package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodarent/backend/internal/domain/bike"
)

const (
	listBikesSQL = `SELECT id, name, day_rate, active
		FROM bikes WHERE active = TRUE ORDER BY name`

	getBikeByIDSQL = `SELECT id, name, day_rate, active
		FROM bikes WHERE id = $1`
)

var _ bike.Repository = (*BikeRepository)(nil)

// BikeRepository implements bike.Repository backed by PostgreSQL.
type BikeRepository struct {
	pool *pgxpool.Pool
}

// NewBikeRepository returns a BikeRepository that uses the given pool.
func NewBikeRepository(pool *pgxpool.Pool) *BikeRepository {
	return &BikeRepository{pool: pool}
}

// List returns the active fleet ordered by name.
func (r *BikeRepository) List(ctx context.Context) ([]bike.Bike, error) {
	rows, err := r.pool.Query(ctx, listBikesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing bikes: %w", err)
	}
	return pgx.CollectRows(rows, scanBike)
}

// GetByID returns a single bike by its identifier.
func (r *BikeRepository) GetByID(ctx context.Context, id uuid.UUID) (*bike.Bike, error) {
	rows, err := r.pool.Query(ctx, getBikeByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting bike %q: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBike)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bike.ErrNotFound
		}
		return nil, fmt.Errorf("getting bike %q: %w", id, err)
	}
	return &b, nil
}

func scanBike(row pgx.CollectableRow) (bike.Bike, error) {
	var (
		b       bike.Bike
		dayRate decimal.Decimal
	)
	err := row.Scan(&b.ID, &b.Name, &dayRate, &b.Active)
	b.DayRate = dayRate
	return b, err
}
