package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bodarent/backend/internal/domain/addon"
	"github.com/bodarent/backend/internal/domain/bike"
	"github.com/bodarent/backend/internal/domain/reservation"
	"github.com/bodarent/backend/internal/domain/settlement"
	"github.com/bodarent/backend/internal/payment/momo"
)

// reservationRequest is the booking intent payload, shared by the quote
// preview and the real booking. Dates are YYYY-MM-DD.
type reservationRequest struct {
	OwnerID        string   `json:"ownerId,omitempty"`
	BikeID         string   `json:"bikeId,omitempty"`
	BikeName       string   `json:"bikeName,omitempty"`
	DayRate        int64    `json:"dayRate,omitempty"`
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	PickupLocation string   `json:"pickupLocation"`
	Notes          string   `json:"notes,omitempty"`
	AddOnIDs       []string `json:"addOnIds,omitempty"`
	PromoCode      string   `json:"promoCode,omitempty"`
}

// toStartRequest maps the DTO onto the domain intent. Unparseable ids and
// dates are reported as field errors before any domain logic runs.
func (req *reservationRequest) toStartRequest(needOwner bool) (settlement.StartRequest, string) {
	var out settlement.StartRequest

	if needOwner {
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			return out, "ownerId must be a valid UUID"
		}
		out.OwnerID = ownerID
	}

	if req.BikeID != "" {
		bikeID, err := uuid.Parse(req.BikeID)
		if err != nil {
			return out, "bikeId must be a valid UUID"
		}
		out.BikeID = &bikeID
	}
	out.BikeName = req.BikeName
	out.DayRate = decimalFromInt(req.DayRate)

	if req.StartDate != "" {
		start, err := parseDate(req.StartDate)
		if err != nil {
			return out, "startDate must be YYYY-MM-DD"
		}
		out.StartDate = start
	}
	if req.EndDate != "" {
		end, err := parseDate(req.EndDate)
		if err != nil {
			return out, "endDate must be YYYY-MM-DD"
		}
		out.EndDate = end
	}

	out.PickupLocation = req.PickupLocation
	out.Notes = req.Notes
	out.PromoCode = req.PromoCode

	for _, raw := range req.AddOnIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return out, "addOnIds must be valid UUIDs"
		}
		out.AddOnIDs = append(out.AddOnIDs, id)
	}

	return out, ""
}

type addOnLineDTO struct {
	AddOnID string `json:"addOnId"`
	Name    string `json:"name"`
	DayRate int64  `json:"dayRate"`
}

type reservationDTO struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"ownerId"`
	BikeID         string         `json:"bikeId,omitempty"`
	BikeName       string         `json:"bikeName"`
	StartDate      string         `json:"startDate"`
	EndDate        string         `json:"endDate"`
	PickupLocation string         `json:"pickupLocation"`
	Notes          string         `json:"notes,omitempty"`
	AddOns         []addOnLineDTO `json:"addOns,omitempty"`
	BaseSubtotal   int64          `json:"baseSubtotal"`
	AddOnSubtotal  int64          `json:"addonSubtotal"`
	DiscountAmount int64          `json:"discountAmount"`
	Total          int64          `json:"total"`
	PromoCode      string         `json:"promoCode,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"createdAt,omitzero"`
}

func toReservationDTO(r *reservation.Reservation) reservationDTO {
	dto := reservationDTO{
		ID:             r.ID.String(),
		OwnerID:        r.OwnerID.String(),
		BikeName:       r.BikeName,
		StartDate:      r.StartDate.Format(dateLayout),
		EndDate:        r.EndDate.Format(dateLayout),
		PickupLocation: r.PickupLocation,
		Notes:          r.Notes,
		BaseSubtotal:   r.BaseSubtotal.IntPart(),
		AddOnSubtotal:  r.AddOnSubtotal.IntPart(),
		DiscountAmount: r.DiscountAmount.IntPart(),
		Total:          r.Total.IntPart(),
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt,
	}
	if r.BikeID != nil {
		dto.BikeID = r.BikeID.String()
	}
	if r.PromoCode != nil {
		dto.PromoCode = *r.PromoCode
	}
	for _, line := range r.AddOns {
		dto.AddOns = append(dto.AddOns, addOnLineDTO{
			AddOnID: line.AddOnID.String(),
			Name:    line.Name,
			DayRate: line.DayRate.IntPart(),
		})
	}
	return dto
}

type startReservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
	Payment     *paymentDTO    `json:"payment,omitempty"`
	// PromoRejection explains an ignored promo code; the booking succeeded
	// without it.
	PromoRejection string `json:"promoRejection,omitempty"`
}

type paymentDTO struct {
	ProviderMessage string `json:"providerMessage,omitempty"`
	Simulated       bool   `json:"simulated,omitempty"`
}

// StartReservation creates a reservation and issues the payment prompt.
func (h *Handler) StartReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	intent, fieldErr := req.toStartRequest(true)
	if fieldErr != "" {
		writeError(w, http.StatusBadRequest, fieldErr)
		return
	}

	result, err := h.settlement.Start(r.Context(), intent)
	if err != nil {
		h.writeStartError(w, r, err)
		return
	}

	resp := startReservationResponse{
		Reservation:    toReservationDTO(result.Reservation),
		PromoRejection: result.PromoRejection,
	}
	if result.Payment != nil {
		resp.Payment = &paymentDTO{
			ProviderMessage: result.Payment.ProviderMessage,
			Simulated:       result.Payment.Simulated,
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// writeStartError maps every failure class of the booking flow to a distinct
// status and message. The payment path deliberately has no catch-all.
func (h *Handler) writeStartError(w http.ResponseWriter, r *http.Request, err error) {
	var rejErr *settlement.PaymentRejectedError
	var addOnErr *addon.NotFoundError

	switch {
	case errors.Is(err, settlement.ErrMissingDates),
		errors.Is(err, settlement.ErrInvalidDateRange),
		errors.Is(err, settlement.ErrMissingPickupLocation),
		errors.Is(err, settlement.ErrMissingBike):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, settlement.ErrOwnerNotFound):
		writeError(w, http.StatusUnprocessableEntity, "owner not found")
	case errors.Is(err, bike.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "bike not found")
	case errors.As(err, &addOnErr):
		writeError(w, http.StatusUnprocessableEntity, addOnErr.Error())
	case errors.Is(err, reservation.ErrBikeUnavailable):
		writeError(w, http.StatusConflict, "bike unavailable for the requested dates")
	case errors.As(err, &rejErr):
		writeError(w, http.StatusPaymentRequired, "payment rejected: "+rejErr.Reason)
	case momo.IsAvailabilityError(err):
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable, reservation cancelled")
	default:
		zctx.From(r.Context()).Error("starting reservation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// GetReservation returns one reservation with its full price breakdown.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "reservation id must be a valid UUID")
		return
	}

	res, err := h.settlement.GetReservation(r.Context(), id)
	if err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "reservation not found")
			return
		}
		zctx.From(r.Context()).Error("getting reservation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// ListReservations returns the owner's reservations, newest first.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner query parameter must be a valid UUID")
		return
	}

	list, err := h.settlement.ListReservations(r.Context(), ownerID)
	if err != nil {
		zctx.From(r.Context()).Error("listing reservations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	dtos := make([]reservationDTO, len(list))
	for i := range list {
		dtos[i] = toReservationDTO(&list[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": dtos})
}

type cancelRequest struct {
	OwnerID string `json:"ownerId"`
}

// CancelReservation is the user abandoning the payment flow.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "reservation id must be a valid UUID")
		return
	}

	var req cancelRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ownerId must be a valid UUID")
		return
	}

	switch err := h.settlement.Cancel(r.Context(), ownerID, id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, reservation.ErrNotFound):
		writeError(w, http.StatusNotFound, "reservation not found")
	case errors.Is(err, settlement.ErrNotOwner):
		writeError(w, http.StatusForbidden, "reservation belongs to another user")
	case errors.Is(err, reservation.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "reservation can no longer be cancelled")
	default:
		zctx.From(r.Context()).Error("cancelling reservation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
