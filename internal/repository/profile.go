package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bodarent/backend/internal/domain/settlement"
)

const getUserByIDSQL = `SELECT id, name, msisdn FROM users WHERE id = $1`

var _ settlement.ProfileDirectory = (*ProfileRepository)(nil)

// ProfileRepository resolves owner profiles from the users table.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// GetByID returns the owner's contact profile.
func (r *ProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*settlement.Profile, error) {
	rows, err := r.pool.Query(ctx, getUserByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (settlement.Profile, error) {
		var p settlement.Profile
		err := row.Scan(&p.ID, &p.Name, &p.MSISDN)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrOwnerNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &p, nil
}
