package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bodarent/backend/internal/domain/addon"
	"github.com/bodarent/backend/internal/domain/bike"
	"github.com/bodarent/backend/internal/domain/settlement"
)

type quoteResponse struct {
	BikeName       string `json:"bikeName"`
	BilledDays     int64  `json:"billedDays"`
	BaseSubtotal   int64  `json:"baseSubtotal"`
	AddOnSubtotal  int64  `json:"addonSubtotal"`
	DiscountAmount int64  `json:"discountAmount"`
	Total          int64  `json:"total"`
	PromoCode      string `json:"promoCode,omitempty"`
	PromoRejection string `json:"promoRejection,omitempty"`
}

// CreateQuote prices a booking intent without creating anything.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	intent, fieldErr := req.toStartRequest(false)
	if fieldErr != "" {
		writeError(w, http.StatusBadRequest, fieldErr)
		return
	}

	result, err := h.settlement.Quote(r.Context(), intent)
	if err != nil {
		h.writeQuoteError(w, r, err)
		return
	}

	resp := quoteResponse{
		BikeName:       result.BikeName,
		BilledDays:     result.Quote.BilledDays,
		BaseSubtotal:   result.Quote.BaseSubtotal.IntPart(),
		AddOnSubtotal:  result.Quote.AddOnSubtotal.IntPart(),
		DiscountAmount: result.Quote.DiscountAmount.IntPart(),
		Total:          result.Quote.Total.IntPart(),
		PromoRejection: result.PromoRejection,
	}
	if result.PromoCode != nil {
		resp.PromoCode = *result.PromoCode
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeQuoteError(w http.ResponseWriter, r *http.Request, err error) {
	var addOnErr *addon.NotFoundError

	switch {
	case errors.Is(err, settlement.ErrMissingDates),
		errors.Is(err, settlement.ErrInvalidDateRange),
		errors.Is(err, settlement.ErrMissingPickupLocation),
		errors.Is(err, settlement.ErrMissingBike):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bike.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "bike not found")
	case errors.As(err, &addOnErr):
		writeError(w, http.StatusUnprocessableEntity, addOnErr.Error())
	default:
		zctx.From(r.Context()).Error("pricing quote", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type bikeDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	DayRate int64  `json:"dayRate"`
}

// ListBikes returns the active fleet.
func (h *Handler) ListBikes(w http.ResponseWriter, r *http.Request) {
	bikes, err := h.bikes.List(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("listing bikes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	dtos := make([]bikeDTO, len(bikes))
	for i, b := range bikes {
		dtos[i] = bikeDTO{ID: b.ID.String(), Name: b.Name, DayRate: b.DayRate.IntPart()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bikes": dtos})
}

func decimalFromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
