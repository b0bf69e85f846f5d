package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bodarent/backend/internal/domain/loyalty"
)

const (
	// ON CONFLICT on the unique reservation_id makes accrual idempotent: a
	// reservation credits points at most once however often settlement fires.
	createAccrualSQL = `INSERT INTO loyalty_accruals (id, owner_id, points, reason, reservation_id, source_kind)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (reservation_id) DO NOTHING`

	loyaltyBalanceSQL = `SELECT COALESCE(SUM(points), 0) FROM loyalty_accruals WHERE owner_id = $1`
)

var _ loyalty.Repository = (*LoyaltyRepository)(nil)

// LoyaltyRepository implements loyalty.Repository backed by PostgreSQL.
type LoyaltyRepository struct {
	pool *pgxpool.Pool
}

// NewLoyaltyRepository returns a LoyaltyRepository that uses the given pool.
func NewLoyaltyRepository(pool *pgxpool.Pool) *LoyaltyRepository {
	return &LoyaltyRepository{pool: pool}
}

// Create writes an accrual; a duplicate reservation id is a silent no-op.
func (r *LoyaltyRepository) Create(ctx context.Context, a *loyalty.Accrual) error {
	_, err := r.pool.Exec(ctx, createAccrualSQL,
		a.ID, a.OwnerID, a.Points, a.Reason, a.ReservationID, a.SourceKind,
	)
	if err != nil {
		return fmt.Errorf("creating loyalty accrual for reservation %q: %w", a.ReservationID, err)
	}
	return nil
}

// BalanceFor returns the owner's total accrued points.
func (r *LoyaltyRepository) BalanceFor(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, loyaltyBalanceSQL, ownerID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("computing loyalty balance for owner %q: %w", ownerID, err)
	}
	return balance, nil
}
