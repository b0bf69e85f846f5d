package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bodarent/backend/internal/domain/reservation"
	"github.com/bodarent/backend/internal/payment/momo"
)

// paymentCallbackRequest is the provider's asynchronous outcome notification.
// ReferenceID is the externalId we sent, i.e. the reservation id.
type paymentCallbackRequest struct {
	ReferenceID string `json:"referenceId"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// PaymentCallback translates a provider notification into settlement
// transitions. Retries are expected; handled outcomes are idempotent.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	id, err := uuid.Parse(req.ReferenceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "referenceId must be a valid UUID")
		return
	}

	lg := zctx.From(r.Context()).With(
		zap.String("reservation_id", id.String()),
		zap.String("provider_status", req.Status))

	// The payer dismissing the prompt is a cancellation, not a failure; it is
	// not part of the generic status vocabulary.
	if req.Status == "CANCELLED" {
		h.applyCallback(w, lg, h.settlement.OnPaymentCancelled(r.Context(), id))
		return
	}

	switch momo.MapProviderStatus(req.Status) {
	case momo.OutcomeSettled:
		h.applyCallback(w, lg, h.settlement.OnPaymentSettled(r.Context(), id))
	case momo.OutcomeRejected:
		reason := req.Reason
		if reason == "" {
			reason = "payment not completed"
		}
		h.applyCallback(w, lg, h.settlement.OnPaymentRejected(r.Context(), id, reason))
	default:
		// Pending or unrecognised: acknowledge without acting. The
		// reconciliation sweep will resolve it if no final callback arrives.
		lg.Info("ignoring non-final payment callback")
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *Handler) applyCallback(w http.ResponseWriter, lg *zap.Logger, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, reservation.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown payment reference")
	case errors.Is(err, reservation.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "reservation already finalised")
	default:
		lg.Error("applying payment callback", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
