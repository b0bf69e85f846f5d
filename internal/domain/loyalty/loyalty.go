// Package loyalty credits points to users as a side effect of settled rentals.
package loyalty

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceRental tags accruals that originate from a settled reservation.
const SourceRental = "rental"

// pointsPer100 is the accrual rate: 10 points per 100 currency units spent.
var (
	per100       = decimal.NewFromInt(100)
	pointsPer100 = int64(10)
)

// Accrual records a single point credit tied to its source reservation.
// ReservationID is unique in storage, so a reservation can accrue at most once
// no matter how often the success path fires.
type Accrual struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Points        int64
	Reason        string
	ReservationID uuid.UUID
	SourceKind    string
	CreatedAt     time.Time
}

// Repository persists accruals.
type Repository interface {
	// Create writes an accrual. A duplicate ReservationID is a no-op, not an
	// error: the accrual already exists and the outcome is the same.
	Create(ctx context.Context, a *Accrual) error
	// BalanceFor returns the sum of points accrued by the owner.
	BalanceFor(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// PointsFor returns floor(total/100) × 10, the points earned for a settled
// total. Negative totals yield zero.
func PointsFor(total decimal.Decimal) int64 {
	if total.IsNegative() {
		return 0
	}
	return total.Div(per100).Floor().IntPart() * pointsPer100
}

// Awarder writes point accruals for settled reservations.
type Awarder struct {
	repo Repository
}

// NewAwarder creates an Awarder backed by the given Repository.
func NewAwarder(repo Repository) *Awarder {
	return &Awarder{repo: repo}
}

// Award computes and records the accrual for a settled reservation.
// Zero-point awards are skipped entirely: no record, no error.
func (a *Awarder) Award(ctx context.Context, ownerID uuid.UUID, total decimal.Decimal, reason string, reservationID uuid.UUID) error {
	points := PointsFor(total)
	if points == 0 {
		return nil
	}

	return a.repo.Create(ctx, &Accrual{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Points:        points,
		Reason:        reason,
		ReservationID: reservationID,
		SourceKind:    SourceRental,
	})
}
