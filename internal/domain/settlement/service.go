// Package settlement turns a booking intent into a paid, confirmed
// reservation. It owns the ordering guarantees of the flow: the reservation
// is persisted before any payment request (its id is the provider
// correlation reference), payment confirmation precedes status finalisation,
// and loyalty accrual runs only after a successful confirm.
package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bodarent/backend/internal/domain/addon"
	"github.com/bodarent/backend/internal/domain/bike"
	"github.com/bodarent/backend/internal/domain/loyalty"
	"github.com/bodarent/backend/internal/domain/pricing"
	"github.com/bodarent/backend/internal/domain/promo"
	"github.com/bodarent/backend/internal/domain/reservation"
	"github.com/bodarent/backend/internal/payment/momo"
)

// Input validation errors. Surfaced immediately; no network call is made and
// no state changes.
var (
	ErrMissingDates          = errors.New("start and end dates are required")
	ErrInvalidDateRange      = errors.New("end date must not be before start date")
	ErrMissingPickupLocation = errors.New("pickup location is required")
	ErrMissingBike           = errors.New("a bike or a bike name is required")
	ErrNotOwner              = errors.New("reservation belongs to another user")
	ErrOwnerNotFound         = errors.New("owner not found")
)

// PaymentRejectedError is a terminal business rejection of the payment
// request. The reservation has been moved to payment_failed; the user may
// retry from a fresh intent.
type PaymentRejectedError struct {
	Reason string
}

func (e *PaymentRejectedError) Error() string {
	return "payment rejected: " + e.Reason
}

// Profile is the owner-side contact information the engine needs: where to
// push the payment prompt and whom to credit loyalty points.
type Profile struct {
	ID     uuid.UUID
	Name   string
	MSISDN string
}

// ProfileDirectory resolves owner ids to contact profiles.
type ProfileDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
}

// StartRequest is a complete booking intent.
type StartRequest struct {
	OwnerID uuid.UUID
	// BikeID selects a fleet bike; when nil, BikeName and DayRate describe an
	// off-catalog unit.
	BikeID         *uuid.UUID
	BikeName       string
	DayRate        decimal.Decimal
	StartDate      time.Time
	EndDate        time.Time
	PickupLocation string
	Notes          string
	AddOnIDs       []uuid.UUID
	PromoCode      string
}

// StartResult reports the created reservation and how far payment got.
type StartResult struct {
	Reservation *reservation.Reservation
	Payment     *momo.PushResult
	// PromoRejection explains why the supplied code did not apply; empty when
	// no code was given or the code applied. A rejected code never blocks the
	// order.
	PromoRejection string
}

// QuoteResult is a non-binding price preview.
type QuoteResult struct {
	BikeName string
	Quote    pricing.Quote
	// PromoCode is the canonical code that applied, nil when none did.
	PromoCode      *string
	PromoRejection string
}

// Service is the settlement orchestrator.
type Service struct {
	bikes        bike.Repository
	addons       addon.Repository
	reservations reservation.Repository
	validator    promo.Validator
	redeemer     promo.Redeemer
	gateway      momo.Gateway
	awarder      *loyalty.Awarder
	profiles     ProfileDirectory
}

// NewService creates a settlement Service with the required collaborators.
func NewService(
	bikes bike.Repository,
	addons addon.Repository,
	reservations reservation.Repository,
	validator promo.Validator,
	redeemer promo.Redeemer,
	gateway momo.Gateway,
	awarder *loyalty.Awarder,
	profiles ProfileDirectory,
) *Service {
	return &Service{
		bikes:        bikes,
		addons:       addons,
		reservations: reservations,
		validator:    validator,
		redeemer:     redeemer,
		gateway:      gateway,
		awarder:      awarder,
		profiles:     profiles,
	}
}

// Start runs the CollectingDetails -> AwaitingPayment transition: validate
// the intent, price it, persist a provisional reservation, then issue the
// payment push. Reservation creation failure aborts before any provider
// contact; a provider business rejection marks the reservation
// payment_failed.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := validateIntent(req); err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetByID(ctx, req.OwnerID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve owner profile")
	}

	bikeName, dayRate, err := s.resolveBike(ctx, req)
	if err != nil {
		return nil, err
	}

	addOns, err := s.resolveAddOns(ctx, req.AddOnIDs)
	if err != nil {
		return nil, err
	}

	quote, promoCode, promoRejection, err := s.price(ctx, req, dayRate, addOns)
	if err != nil {
		return nil, err
	}

	res := buildReservation(req, bikeName, addOns, quote, promoCode)
	if err := s.reservations.Create(ctx, res); err != nil {
		return nil, errors.Wrap(err, "create reservation")
	}

	// A fully discounted order has nothing to collect. The provider rejects
	// zero-amount pushes, so settle directly instead of entering the payment
	// sub-flow.
	if res.Total.IsZero() {
		if err := s.OnPaymentSettled(ctx, res.ID); err != nil {
			return nil, errors.Wrap(err, "settle free reservation")
		}
		res.Status = reservation.StatusConfirmed
		return &StartResult{
			Reservation:    res,
			PromoRejection: promoRejection,
		}, nil
	}

	push, err := s.requestPayment(ctx, res, profile)
	if err != nil {
		return nil, err
	}

	return &StartResult{
		Reservation:    res,
		Payment:        push,
		PromoRejection: promoRejection,
	}, nil
}

// Quote prices an intent without creating anything. The same validation and
// promo rules as Start apply, so a preview never disagrees with the booking
// that follows it.
func (s *Service) Quote(ctx context.Context, req StartRequest) (*QuoteResult, error) {
	if err := validateIntent(req); err != nil {
		return nil, err
	}

	bikeName, dayRate, err := s.resolveBike(ctx, req)
	if err != nil {
		return nil, err
	}

	addOns, err := s.resolveAddOns(ctx, req.AddOnIDs)
	if err != nil {
		return nil, err
	}

	quote, promoCode, promoRejection, err := s.price(ctx, req, dayRate, addOns)
	if err != nil {
		return nil, err
	}

	return &QuoteResult{
		BikeName:       bikeName,
		Quote:          quote,
		PromoCode:      promoCode,
		PromoRejection: promoRejection,
	}, nil
}

// validateIntent re-checks the date range independently of the pricing
// clamp: an inverted range would otherwise be silently billed as one day.
func validateIntent(req StartRequest) error {
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return ErrMissingDates
	}
	if req.EndDate.Before(req.StartDate) {
		return ErrInvalidDateRange
	}
	if req.PickupLocation == "" {
		return ErrMissingPickupLocation
	}
	if req.BikeID == nil && req.BikeName == "" {
		return ErrMissingBike
	}
	return nil
}

func (s *Service) resolveBike(ctx context.Context, req StartRequest) (string, decimal.Decimal, error) {
	if req.BikeID == nil {
		return req.BikeName, req.DayRate, nil
	}
	b, err := s.bikes.GetByID(ctx, *req.BikeID)
	if err != nil {
		return "", decimal.Zero, errors.Wrap(err, "resolve bike")
	}
	return b.Name, b.DayRate, nil
}

func (s *Service) resolveAddOns(ctx context.Context, ids []uuid.UUID) ([]addon.AddOn, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	fetched, err := s.addons.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "fetch add-ons")
	}

	byID := make(map[uuid.UUID]addon.AddOn, len(fetched))
	for _, a := range fetched {
		byID[a.ID] = a
	}

	addOns := make([]addon.AddOn, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, &addon.NotFoundError{AddOnID: id}
		}
		addOns = append(addOns, a)
	}
	return addOns, nil
}

// price computes the quote, validating the promo code when one is supplied.
// A code failing one of its eligibility checks is non-fatal: the order
// proceeds undiscounted and the rejection reason is reported back.
func (s *Service) price(ctx context.Context, req StartRequest, dayRate decimal.Decimal, addOns []addon.AddOn) (pricing.Quote, *string, string, error) {
	base := pricing.Compute(req.StartDate, req.EndDate, dayRate, addOns, decimal.Zero)

	if req.PromoCode == "" {
		return base, nil, "", nil
	}

	result, err := s.validator.Validate(ctx, req.PromoCode, base.Subtotal())
	if err != nil {
		if reason := promoRejectionMessage(err); reason != "" {
			return base, nil, reason, nil
		}
		return pricing.Quote{}, nil, "", errors.Wrap(err, "validate promo code")
	}

	quote := pricing.Compute(req.StartDate, req.EndDate, dayRate, addOns, result.Amount)
	code := result.Code.Code
	return quote, &code, "", nil
}

// promoRejectionMessage maps the validator's rejection taxonomy to the
// user-facing message; unexpected errors return "".
func promoRejectionMessage(err error) string {
	var minErr *promo.BelowMinimumOrderError
	switch {
	case errors.Is(err, promo.ErrNotFound):
		return "promo code not found"
	case errors.Is(err, promo.ErrInactive):
		return "promo code is no longer active"
	case errors.As(err, &minErr):
		return minErr.Error()
	case errors.Is(err, promo.ErrUsageCapReached):
		return "promo code has reached its usage limit"
	case errors.Is(err, promo.ErrExpired):
		return "promo code expired"
	default:
		return ""
	}
}

func buildReservation(req StartRequest, bikeName string, addOns []addon.AddOn, quote pricing.Quote, promoCode *string) *reservation.Reservation {
	lines := make([]reservation.AddOnLine, len(addOns))
	for i, a := range addOns {
		lines[i] = reservation.AddOnLine{AddOnID: a.ID, Name: a.Name, DayRate: a.DayRate}
	}

	return &reservation.Reservation{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		BikeID:         req.BikeID,
		BikeName:       bikeName,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		PickupLocation: req.PickupLocation,
		Notes:          req.Notes,
		AddOns:         lines,
		BaseSubtotal:   quote.BaseSubtotal,
		AddOnSubtotal:  quote.AddOnSubtotal,
		DiscountAmount: quote.DiscountAmount,
		Total:          quote.Total,
		PromoCode:      promoCode,
		Status:         reservation.StatusPendingPayment,
	}
}

// requestPayment drives the payment sub-flow for a freshly created
// reservation. The attempt reference is the reservation id.
func (s *Service) requestPayment(ctx context.Context, res *reservation.Reservation, profile *Profile) (*momo.PushResult, error) {
	lg := zctx.From(ctx)
	attempt := NewAttempt(res.ID, profile.MSISDN, res.Total)

	if err := attempt.To(AttemptRequesting); err != nil {
		return nil, err
	}

	push, err := s.gateway.RequestPush(ctx, momo.PushRequest{
		PayerMSISDN: attempt.PayerMSISDN,
		Amount:      attempt.Amount,
		Reference:   attempt.Reference,
		Description: "bodarent rental " + res.BikeName,
	})
	if err != nil {
		var rej *momo.RejectionError
		if errors.As(err, &rej) {
			_ = attempt.To(AttemptRejected)
			s.markPaymentFailed(ctx, res, rej.Reason)
			return nil, &PaymentRejectedError{Reason: rej.Reason}
		}

		// Availability failure with no simulator wired: no prompt was ever
		// queued, so the provisional reservation is rolled back.
		lg.Error("payment push unavailable",
			zap.String("reservation_id", res.ID.String()),
			zap.Error(err))
		s.rollback(ctx, res)
		return nil, errors.Wrap(err, "request payment push")
	}

	if err := attempt.To(AttemptAwaitingConfirmation); err != nil {
		return nil, err
	}

	lg.Info("payment push accepted",
		zap.String("reservation_id", res.ID.String()),
		zap.Bool("simulated", push.Simulated),
		zap.String("provider_message", push.ProviderMessage))
	return push, nil
}

// OnPaymentSettled finalises a reservation after payment confirmation.
// The confirm write is the one failure that is never swallowed: money has
// moved, so an unconfirmed paid reservation must surface for retry or
// escalation. Promo redemption and loyalty accrual are best-effort.
func (s *Service) OnPaymentSettled(ctx context.Context, id uuid.UUID) error {
	lg := zctx.From(ctx)

	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load reservation")
	}

	switch res.Status {
	case reservation.StatusConfirmed:
		// Duplicate confirmation (webhook retry, reconciler race): done.
		return nil
	case reservation.StatusPendingPayment:
		// proceed
	default:
		return errors.Wrapf(reservation.ErrIllegalTransition,
			"payment settled for reservation %s in status %s", id, res.Status)
	}

	if err := s.confirmWithRetry(ctx, id); err != nil {
		return err
	}

	if res.PromoCode != nil {
		if err := s.redeemer.Redeem(ctx, *res.PromoCode); err != nil {
			lg.Warn("promo redemption failed after settlement",
				zap.String("reservation_id", id.String()),
				zap.String("code", *res.PromoCode),
				zap.Error(err))
		}
	}

	if err := s.awarder.Award(ctx, res.OwnerID, res.Total, "rental settled", res.ID); err != nil {
		lg.Warn("loyalty award failed, accrual to be reconciled out-of-band",
			zap.String("reservation_id", id.String()),
			zap.Error(err))
	}

	lg.Info("reservation settled",
		zap.String("reservation_id", id.String()),
		zap.String("total", res.Total.String()))
	return nil
}

// confirmWithRetry performs the pending_payment -> confirmed write with one
// immediate retry. A concurrent confirm is success, not failure.
func (s *Service) confirmWithRetry(ctx context.Context, id uuid.UUID) error {
	err := s.reservations.UpdateStatus(ctx, id, reservation.StatusPendingPayment, reservation.StatusConfirmed)
	if err == nil {
		return nil
	}
	if errors.Is(err, reservation.ErrIllegalTransition) {
		return s.resolveConfirmConflict(ctx, id, err)
	}

	zctx.From(ctx).Warn("confirm write failed, retrying",
		zap.String("reservation_id", id.String()), zap.Error(err))

	err = s.reservations.UpdateStatus(ctx, id, reservation.StatusPendingPayment, reservation.StatusConfirmed)
	if err == nil {
		return nil
	}
	if errors.Is(err, reservation.ErrIllegalTransition) {
		return s.resolveConfirmConflict(ctx, id, err)
	}
	return errors.Wrap(err, "confirm reservation")
}

// resolveConfirmConflict re-reads the row after an illegal-transition error:
// if another actor already confirmed it the outcome stands.
func (s *Service) resolveConfirmConflict(ctx context.Context, id uuid.UUID, cause error) error {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "re-read reservation after confirm conflict")
	}
	if res.Status == reservation.StatusConfirmed {
		return nil
	}
	return errors.Wrapf(cause, "cannot confirm reservation %s in status %s", id, res.Status)
}

// OnPaymentRejected moves a reservation to payment_failed after a genuine
// provider rejection.
func (s *Service) OnPaymentRejected(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load reservation")
	}
	if res.Status == reservation.StatusPaymentFailed {
		return nil
	}

	s.markPaymentFailed(ctx, res, reason)
	return nil
}

// OnPaymentCancelled handles a payer abandoning the prompt: same rollback as
// a user-initiated cancel, but keyed by the provider notification.
func (s *Service) OnPaymentCancelled(ctx context.Context, id uuid.UUID) error {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load reservation")
	}
	if res.Status == reservation.StatusCancelled {
		return nil
	}

	s.rollback(ctx, res)
	return nil
}

// Cancel is the user-initiated rollback while still awaiting payment. The
// status write is best-effort: a failed write is logged but never traps the
// user in the payment flow.
func (s *Service) Cancel(ctx context.Context, ownerID, id uuid.UUID) error {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load reservation")
	}
	if res.OwnerID != ownerID {
		return ErrNotOwner
	}
	if res.Status == reservation.StatusCancelled {
		return nil
	}
	if res.Status != reservation.StatusPendingPayment {
		return errors.Wrapf(reservation.ErrIllegalTransition,
			"cannot cancel reservation in status %s", res.Status)
	}

	s.rollback(ctx, res)
	return nil
}

// markPaymentFailed transitions to payment_failed, logging (not propagating)
// write failures: the payment outcome is already decided.
func (s *Service) markPaymentFailed(ctx context.Context, res *reservation.Reservation, reason string) {
	lg := zctx.From(ctx)
	err := s.reservations.UpdateStatus(ctx, res.ID, reservation.StatusPendingPayment, reservation.StatusPaymentFailed)
	if err != nil {
		lg.Error("failed to mark reservation payment_failed",
			zap.String("reservation_id", res.ID.String()),
			zap.Error(err))
		return
	}
	res.Status = reservation.StatusPaymentFailed
	lg.Info("reservation payment failed",
		zap.String("reservation_id", res.ID.String()),
		zap.String("reason", reason))
}

// rollback transitions to cancelled, logging (not propagating) failures.
func (s *Service) rollback(ctx context.Context, res *reservation.Reservation) {
	lg := zctx.From(ctx)
	err := s.reservations.UpdateStatus(ctx, res.ID, reservation.StatusPendingPayment, reservation.StatusCancelled)
	if err != nil {
		lg.Error("failed to cancel reservation",
			zap.String("reservation_id", res.ID.String()),
			zap.Error(err))
		return
	}
	res.Status = reservation.StatusCancelled
	lg.Info("reservation cancelled", zap.String("reservation_id", res.ID.String()))
}

// GetReservation is the read path for the confirmation screen.
func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	return s.reservations.GetByID(ctx, id)
}

// ListReservations returns the owner's reservations, newest first.
func (s *Service) ListReservations(ctx context.Context, ownerID uuid.UUID) ([]reservation.Reservation, error) {
	return s.reservations.ListByOwner(ctx, ownerID)
}
