package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodarent/backend/internal/domain/addon"
	"github.com/bodarent/backend/internal/domain/bike"
	"github.com/bodarent/backend/internal/domain/loyalty"
	"github.com/bodarent/backend/internal/domain/promo"
	"github.com/bodarent/backend/internal/domain/reservation"
	"github.com/bodarent/backend/internal/domain/settlement"
	"github.com/bodarent/backend/internal/payment/momo"
)

// --- In-memory test doubles ---

type stubBikes struct {
	byID map[uuid.UUID]*bike.Bike
}

func (s *stubBikes) GetByID(_ context.Context, id uuid.UUID) (*bike.Bike, error) {
	b, ok := s.byID[id]
	if !ok {
		return nil, bike.ErrNotFound
	}
	return b, nil
}

func (s *stubBikes) List(_ context.Context) ([]bike.Bike, error) {
	var out []bike.Bike
	for _, b := range s.byID {
		out = append(out, *b)
	}
	return out, nil
}

type stubAddOns struct{}

func (stubAddOns) GetByIDs(_ context.Context, _ []uuid.UUID) ([]addon.AddOn, error) {
	return nil, nil
}

type stubReservations struct {
	byID map[uuid.UUID]*reservation.Reservation
}

func (s *stubReservations) Create(_ context.Context, r *reservation.Reservation) error {
	cp := *r
	s.byID[r.ID] = &cp
	return nil
}

func (s *stubReservations) UpdateStatus(_ context.Context, id uuid.UUID, from, to reservation.Status) error {
	r, ok := s.byID[id]
	if !ok {
		return reservation.ErrNotFound
	}
	if r.Status != from {
		return reservation.ErrIllegalTransition
	}
	r.Status = to
	return nil
}

func (s *stubReservations) GetByID(_ context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	r, ok := s.byID[id]
	if !ok {
		return nil, reservation.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *stubReservations) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]reservation.Reservation, error) {
	var out []reservation.Reservation
	for _, r := range s.byID {
		if r.OwnerID == ownerID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubReservations) ListStalePending(_ context.Context, _ time.Time, _ int) ([]reservation.Reservation, error) {
	return nil, nil
}

type stubValidator struct {
	err error
}

func (s *stubValidator) Validate(_ context.Context, code string, _ decimal.Decimal) (*promo.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &promo.Result{
		Code:   &promo.Code{Code: promo.Canonicalize(code), Kind: promo.KindFixed, Value: decimal.NewFromInt(100)},
		Amount: decimal.NewFromInt(100),
	}, nil
}

type stubRedeemer struct{}

func (stubRedeemer) Redeem(_ context.Context, _ string) error { return nil }

type stubGateway struct {
	err error
}

func (s *stubGateway) RequestPush(_ context.Context, _ momo.PushRequest) (*momo.PushResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &momo.PushResult{ProviderMessage: "prompt queued"}, nil
}

func (s *stubGateway) Status(_ context.Context, _ string) (momo.Outcome, string, error) {
	return momo.OutcomeUnknown, "", nil
}

type stubAccruals struct {
	balance int64
}

func (s *stubAccruals) Create(_ context.Context, _ *loyalty.Accrual) error { return nil }

func (s *stubAccruals) BalanceFor(_ context.Context, _ uuid.UUID) (int64, error) {
	return s.balance, nil
}

type stubProfiles struct {
	profile *settlement.Profile
}

func (s *stubProfiles) GetByID(_ context.Context, id uuid.UUID) (*settlement.Profile, error) {
	if s.profile == nil || s.profile.ID != id {
		return nil, settlement.ErrOwnerNotFound
	}
	return s.profile, nil
}

// --- Fixture ---

type apiFixture struct {
	mux          *http.ServeMux
	owner        uuid.UUID
	bikeID       uuid.UUID
	reservations *stubReservations
	validator    *stubValidator
	gateway      *stubGateway
	accruals     *stubAccruals
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		mux:          http.NewServeMux(),
		owner:        uuid.New(),
		bikeID:       uuid.New(),
		reservations: &stubReservations{byID: make(map[uuid.UUID]*reservation.Reservation)},
		validator:    &stubValidator{err: promo.ErrNotFound},
		gateway:      &stubGateway{},
		accruals:     &stubAccruals{},
	}
	bikes := &stubBikes{byID: map[uuid.UUID]*bike.Bike{
		f.bikeID: {ID: f.bikeID, Name: "Honda CB125", DayRate: decimal.NewFromInt(1000), Active: true},
	}}
	svc := settlement.NewService(
		bikes, stubAddOns{}, f.reservations, f.validator, stubRedeemer{},
		f.gateway, loyalty.NewAwarder(f.accruals),
		&stubProfiles{profile: &settlement.Profile{ID: f.owner, Name: "Rider", MSISDN: "250781234567"}},
	)
	NewHandler(svc, bikes, f.accruals).Routes(f.mux)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) startBody() map[string]any {
	return map[string]any{
		"ownerId":        f.owner.String(),
		"bikeId":         f.bikeID.String(),
		"startDate":      "2024-06-01",
		"endDate":        "2024-06-04",
		"pickupLocation": "Kigali Heights",
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// --- Tests ---

func TestStartReservation(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodPost, "/api/reservations", f.startBody())

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[startReservationResponse](t, rec)
	assert.Equal(t, "pending_payment", resp.Reservation.Status)
	assert.Equal(t, int64(3000), resp.Reservation.Total)
	assert.Equal(t, "Honda CB125", resp.Reservation.BikeName)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "prompt queued", resp.Payment.ProviderMessage)
}

func TestStartReservation_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"bad owner id", func(b map[string]any) { b["ownerId"] = "nope" }},
		{"bad bike id", func(b map[string]any) { b["bikeId"] = "nope" }},
		{"bad date", func(b map[string]any) { b["startDate"] = "01/06/2024" }},
		{"inverted range", func(b map[string]any) { b["startDate"], b["endDate"] = b["endDate"], b["startDate"] }},
		{"missing pickup", func(b map[string]any) { delete(b, "pickupLocation") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture()
			body := f.startBody()
			tt.mutate(body)

			rec := f.do(t, http.MethodPost, "/api/reservations", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartReservation_PromoRejectionReported(t *testing.T) {
	f := newAPIFixture()
	f.validator.err = promo.ErrExpired
	body := f.startBody()
	body["promoCode"] = "OLDCODE"

	rec := f.do(t, http.MethodPost, "/api/reservations", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[startReservationResponse](t, rec)
	assert.Equal(t, "promo code expired", resp.PromoRejection)
	assert.Equal(t, int64(3000), resp.Reservation.Total)
}

func TestStartReservation_PaymentRejected(t *testing.T) {
	f := newAPIFixture()
	f.gateway.err = &momo.RejectionError{Reason: "payer not found"}

	rec := f.do(t, http.MethodPost, "/api/reservations", f.startBody())

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "payment rejected: payer not found", resp.Message)
}

func TestStartReservation_ProviderDown(t *testing.T) {
	f := newAPIFixture()
	f.gateway.err = momo.ErrUnavailable

	rec := f.do(t, http.MethodPost, "/api/reservations", f.startBody())

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[errorResponse](t, rec)
	assert.Contains(t, resp.Message, "payment provider unavailable")
}

func TestStartReservation_UnknownBike(t *testing.T) {
	f := newAPIFixture()
	body := f.startBody()
	body["bikeId"] = uuid.NewString()

	rec := f.do(t, http.MethodPost, "/api/reservations", body)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetReservation(t *testing.T) {
	f := newAPIFixture()
	created := decodeBody[startReservationResponse](t,
		f.do(t, http.MethodPost, "/api/reservations", f.startBody()))

	rec := f.do(t, http.MethodGet, "/api/reservations/"+created.Reservation.ID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[reservationDTO](t, rec)
	assert.Equal(t, created.Reservation.ID, got.ID)
	assert.Equal(t, int64(3000), got.Total)

	rec = f.do(t, http.MethodGet, "/api/reservations/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReservations(t *testing.T) {
	f := newAPIFixture()
	f.do(t, http.MethodPost, "/api/reservations", f.startBody())

	rec := f.do(t, http.MethodGet, "/api/reservations?owner="+f.owner.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[map[string][]reservationDTO](t, rec)
	assert.Len(t, resp["reservations"], 1)

	rec = f.do(t, http.MethodGet, "/api/reservations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelReservation(t *testing.T) {
	f := newAPIFixture()
	created := decodeBody[startReservationResponse](t,
		f.do(t, http.MethodPost, "/api/reservations", f.startBody()))
	path := "/api/reservations/" + created.Reservation.ID + "/cancel"

	rec := f.do(t, http.MethodPost, path, map[string]any{"ownerId": uuid.NewString()})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, path, map[string]any{"ownerId": f.owner.String()})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got := decodeBody[reservationDTO](t,
		f.do(t, http.MethodGet, "/api/reservations/"+created.Reservation.ID, nil))
	assert.Equal(t, "cancelled", got.Status)
}

func TestPaymentCallback_Settled(t *testing.T) {
	f := newAPIFixture()
	created := decodeBody[startReservationResponse](t,
		f.do(t, http.MethodPost, "/api/reservations", f.startBody()))

	rec := f.do(t, http.MethodPost, "/api/payments/momo/callback", map[string]any{
		"referenceId": created.Reservation.ID,
		"status":      "SUCCESSFUL",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got := decodeBody[reservationDTO](t,
		f.do(t, http.MethodGet, "/api/reservations/"+created.Reservation.ID, nil))
	assert.Equal(t, "confirmed", got.Status)

	// Webhook retry is acknowledged the same way.
	rec = f.do(t, http.MethodPost, "/api/payments/momo/callback", map[string]any{
		"referenceId": created.Reservation.ID,
		"status":      "SUCCESSFUL",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPaymentCallback_Failed(t *testing.T) {
	f := newAPIFixture()
	created := decodeBody[startReservationResponse](t,
		f.do(t, http.MethodPost, "/api/reservations", f.startBody()))

	rec := f.do(t, http.MethodPost, "/api/payments/momo/callback", map[string]any{
		"referenceId": created.Reservation.ID,
		"status":      "FAILED",
		"reason":      "insufficient funds",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got := decodeBody[reservationDTO](t,
		f.do(t, http.MethodGet, "/api/reservations/"+created.Reservation.ID, nil))
	assert.Equal(t, "payment_failed", got.Status)
}

func TestPaymentCallback_NonFinalIgnored(t *testing.T) {
	f := newAPIFixture()
	created := decodeBody[startReservationResponse](t,
		f.do(t, http.MethodPost, "/api/reservations", f.startBody()))

	for _, status := range []string{"PENDING", "SOMETHING_NEW"} {
		rec := f.do(t, http.MethodPost, "/api/payments/momo/callback", map[string]any{
			"referenceId": created.Reservation.ID,
			"status":      status,
		})
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}

	got := decodeBody[reservationDTO](t,
		f.do(t, http.MethodGet, "/api/reservations/"+created.Reservation.ID, nil))
	assert.Equal(t, "pending_payment", got.Status)
}

func TestPaymentCallback_UnknownReference(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodPost, "/api/payments/momo/callback", map[string]any{
		"referenceId": uuid.NewString(),
		"status":      "SUCCESSFUL",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/payments/momo/callback", map[string]any{
		"referenceId": "not-a-uuid",
		"status":      "SUCCESSFUL",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateQuote(t *testing.T) {
	f := newAPIFixture()
	f.validator.err = nil
	body := map[string]any{
		"bikeId":         f.bikeID.String(),
		"startDate":      "2024-06-01",
		"endDate":        "2024-06-04",
		"pickupLocation": "Kigali Heights",
		"promoCode":      "flat100",
	}

	rec := f.do(t, http.MethodPost, "/api/quotes", body)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[quoteResponse](t, rec)
	assert.Equal(t, int64(3), resp.BilledDays)
	assert.Equal(t, int64(3000), resp.BaseSubtotal)
	assert.Equal(t, int64(100), resp.DiscountAmount)
	assert.Equal(t, int64(2900), resp.Total)
	assert.Equal(t, "FLAT100", resp.PromoCode)

	// Nothing was persisted.
	assert.Empty(t, f.reservations.byID)
}

func TestLoyaltyBalance(t *testing.T) {
	f := newAPIFixture()
	f.accruals.balance = 270

	rec := f.do(t, http.MethodGet, "/api/owners/"+f.owner.String()+"/loyalty", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[loyaltyBalanceResponse](t, rec)
	assert.Equal(t, int64(270), resp.Balance)
}

func TestListBikes(t *testing.T) {
	f := newAPIFixture()

	rec := f.do(t, http.MethodGet, "/api/bikes", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[map[string][]bikeDTO](t, rec)
	require.Len(t, resp["bikes"], 1)
	assert.Equal(t, "Honda CB125", resp["bikes"][0].Name)
}
