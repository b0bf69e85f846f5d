package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

type loyaltyBalanceResponse struct {
	OwnerID string `json:"ownerId"`
	Balance int64  `json:"balance"`
}

// LoyaltyBalance returns the owner's total accrued points.
func (h *Handler) LoyaltyBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "owner id must be a valid UUID")
		return
	}

	balance, err := h.loyalty.BalanceFor(r.Context(), id)
	if err != nil {
		zctx.From(r.Context()).Error("computing loyalty balance", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loyaltyBalanceResponse{OwnerID: id.String(), Balance: balance})
}
