package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodarent/backend/internal/domain/reservation"
)

// PostgreSQL SQLSTATE raised by the reservations_no_overlap constraint.
const exclusionViolation = "23P01"

const (
	// The double-booking guard is the reservations_no_overlap exclusion
	// constraint, not a subquery here: a WHERE NOT EXISTS check would race
	// under READ COMMITTED (neither transaction sees the other's uncommitted
	// row). The insert surfaces the conflict as an exclusion violation.
	createReservationSQL = `INSERT INTO reservations (id, owner_id, bike_id, bike_name,
		start_date, end_date, pickup_location, notes,
		base_subtotal, addon_subtotal, discount_amount, total, promo_code, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	createReservationAddOnSQL = `INSERT INTO reservation_addons (reservation_id, addon_id, name, day_rate)
		VALUES ($1, $2, $3, $4)`

	updateReservationStatusSQL = `UPDATE reservations SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`

	getReservationStatusSQL = `SELECT status FROM reservations WHERE id = $1`

	reservationColumns = `id, owner_id, bike_id, bike_name, start_date, end_date,
		pickup_location, notes, base_subtotal, addon_subtotal, discount_amount, total,
		promo_code, status, created_at, updated_at`

	getReservationByIDSQL = `SELECT ` + reservationColumns + `
		FROM reservations WHERE id = $1`

	listReservationsByOwnerSQL = `SELECT ` + reservationColumns + `
		FROM reservations WHERE owner_id = $1 ORDER BY created_at DESC`

	listStalePendingSQL = `SELECT ` + reservationColumns + `
		FROM reservations WHERE status = 'pending_payment' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`

	getReservationAddOnsSQL = `SELECT reservation_id, addon_id, name, day_rate
		FROM reservation_addons WHERE reservation_id = ANY($1)`
)

var _ reservation.Repository = (*ReservationRepository)(nil)

// ReservationRepository implements reservation.Repository backed by PostgreSQL.
type ReservationRepository struct {
	pool *pgxpool.Pool
}

// NewReservationRepository returns a ReservationRepository that uses the given pool.
func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

// Create persists a reservation and its add-on lines in one transaction.
// Returns reservation.ErrBikeUnavailable when the overlap guard rejects the
// insert; nothing is persisted in that case.
func (r *ReservationRepository) Create(ctx context.Context, res *reservation.Reservation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, createReservationSQL,
		res.ID, res.OwnerID, res.BikeID, res.BikeName,
		res.StartDate, res.EndDate, res.PickupLocation, res.Notes,
		res.BaseSubtotal, res.AddOnSubtotal, res.DiscountAmount, res.Total,
		res.PromoCode, string(res.Status),
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return reservation.ErrBikeUnavailable
		}
		return fmt.Errorf("creating reservation %q: %w", res.ID, err)
	}

	for _, line := range res.AddOns {
		if _, err := tx.Exec(ctx, createReservationAddOnSQL,
			res.ID, line.AddOnID, line.Name, line.DayRate,
		); err != nil {
			return fmt.Errorf("creating reservation add-on line %q: %w", line.AddOnID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing reservation %q: %w", res.ID, err)
	}
	return nil
}

// UpdateStatus performs the guarded status transition. The expected current
// status is part of the WHERE clause, so a row moved by a concurrent actor is
// never overwritten.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to reservation.Status) error {
	tag, err := r.pool.Exec(ctx, updateReservationStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating reservation %q status: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing row from a status conflict.
	var current string
	err = r.pool.QueryRow(ctx, getReservationStatusSQL, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return reservation.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking reservation %q status: %w", id, err)
	}
	return errors.Wrapf(reservation.ErrIllegalTransition, "reservation %s is %s, not %s", id, current, from)
}

// GetByID returns a reservation with its add-on lines.
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	rows, err := r.pool.Query(ctx, getReservationByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting reservation %q: %w", id, err)
	}

	res, err := pgx.CollectExactlyOneRow(rows, scanReservation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservation.ErrNotFound
		}
		return nil, fmt.Errorf("getting reservation %q: %w", id, err)
	}

	lines, err := r.addOnLines(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	res.AddOns = lines[id]
	return &res, nil
}

// ListByOwner returns the owner's reservations, newest first, with add-on
// lines attached.
func (r *ReservationRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]reservation.Reservation, error) {
	rows, err := r.pool.Query(ctx, listReservationsByOwnerSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing reservations for owner %q: %w", ownerID, err)
	}

	list, err := pgx.CollectRows(rows, scanReservation)
	if err != nil {
		return nil, fmt.Errorf("listing reservations for owner %q: %w", ownerID, err)
	}
	if len(list) == 0 {
		return list, nil
	}

	ids := make([]uuid.UUID, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	lines, err := r.addOnLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].AddOns = lines[list[i].ID]
	}
	return list, nil
}

// ListStalePending returns pending_payment reservations created before the
// cutoff, oldest first. Add-on lines are not loaded; reconciliation only
// needs ids, totals and timestamps.
func (r *ReservationRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]reservation.Reservation, error) {
	rows, err := r.pool.Query(ctx, listStalePendingSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending reservations: %w", err)
	}
	return pgx.CollectRows(rows, scanReservation)
}

func (r *ReservationRepository) addOnLines(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]reservation.AddOnLine, error) {
	rows, err := r.pool.Query(ctx, getReservationAddOnsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting reservation add-on lines: %w", err)
	}

	lines := make(map[uuid.UUID][]reservation.AddOnLine)
	for rows.Next() {
		var (
			resID   uuid.UUID
			line    reservation.AddOnLine
			dayRate decimal.Decimal
		)
		if err := rows.Scan(&resID, &line.AddOnID, &line.Name, &dayRate); err != nil {
			return nil, fmt.Errorf("scanning reservation add-on line: %w", err)
		}
		line.DayRate = dayRate
		lines[resID] = append(lines[resID], line)
	}
	return lines, rows.Err()
}

func scanReservation(row pgx.CollectableRow) (reservation.Reservation, error) {
	var (
		res      reservation.Reservation
		status   string
		amounts  [4]decimal.Decimal
		promoPtr *string
	)
	err := row.Scan(
		&res.ID, &res.OwnerID, &res.BikeID, &res.BikeName,
		&res.StartDate, &res.EndDate, &res.PickupLocation, &res.Notes,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3],
		&promoPtr, &status, &res.CreatedAt, &res.UpdatedAt,
	)
	res.BaseSubtotal = amounts[0]
	res.AddOnSubtotal = amounts[1]
	res.DiscountAmount = amounts[2]
	res.Total = amounts[3]
	res.PromoCode = promoPtr
	res.Status = reservation.Status(status)
	return res, err
}
