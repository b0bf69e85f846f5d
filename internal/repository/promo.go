package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodarent/backend/internal/domain/promo"
)

const (
	getPromoByCodeSQL = `SELECT code, kind, value, min_order, max_uses, uses,
		valid_from, valid_until, active, description
		FROM promo_codes WHERE UPPER(code) = UPPER($1)`

	// The cap guard lives in the WHERE clause so two concurrent redemptions of
	// the last remaining use cannot both succeed.
	redeemPromoSQL = `UPDATE promo_codes SET uses = uses + 1
		WHERE code = $1 AND (max_uses IS NULL OR uses < max_uses)`

	promoExistsSQL = `SELECT EXISTS (SELECT 1 FROM promo_codes WHERE code = $1)`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a promo code case-insensitively. Inactive codes are
// returned too; eligibility is the validator's concern.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := r.pool.Query(ctx, getPromoByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanPromoCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return &c, nil
}

// Redeem atomically increments the usage counter while it is still below the
// cap. Zero affected rows is disambiguated with an existence check so an
// unknown code reports not-found rather than cap-reached.
func (r *PromoRepository) Redeem(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, redeemPromoSQL, code)
	if err != nil {
		return fmt.Errorf("redeeming promo code %q: %w", code, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, promoExistsSQL, code).Scan(&exists); err != nil {
		return fmt.Errorf("checking promo code %q: %w", code, err)
	}
	if !exists {
		return promo.ErrNotFound
	}
	return promo.ErrUsageCapReached
}

func scanPromoCode(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c        promo.Code
		kind     string
		value    decimal.Decimal
		minOrder decimal.Decimal
		maxUses  *int32
		uses     int32
	)
	err := row.Scan(
		&c.Code, &kind, &value, &minOrder, &maxUses, &uses,
		&c.ValidFrom, &c.ValidUntil, &c.Active, &c.Description,
	)
	c.Kind = promo.Kind(kind)
	c.Value = value
	c.MinOrder = minOrder
	if maxUses != nil {
		m := int(*maxUses)
		c.MaxUses = &m
	}
	c.Uses = int(uses)
	return c, err
}
