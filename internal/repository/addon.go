package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodarent/backend/internal/domain/addon"
)

const getAddOnsByIDsSQL = `SELECT id, name, day_rate, active
	FROM addons WHERE id = ANY($1) AND active = TRUE`

var _ addon.Repository = (*AddOnRepository)(nil)

// AddOnRepository implements addon.Repository backed by PostgreSQL.
type AddOnRepository struct {
	pool *pgxpool.Pool
}

// NewAddOnRepository returns an AddOnRepository that uses the given pool.
func NewAddOnRepository(pool *pgxpool.Pool) *AddOnRepository {
	return &AddOnRepository{pool: pool}
}

// GetByIDs returns the active add-ons matching any of the given IDs. Missing
// ids are simply absent from the result; callers detect them.
func (r *AddOnRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]addon.AddOn, error) {
	rows, err := r.pool.Query(ctx, getAddOnsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting add-ons by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanAddOn)
}

func scanAddOn(row pgx.CollectableRow) (addon.AddOn, error) {
	var (
		a       addon.AddOn
		dayRate decimal.Decimal
	)
	err := row.Scan(&a.ID, &a.Name, &dayRate, &a.Active)
	a.DayRate = dayRate
	return a, err
}
