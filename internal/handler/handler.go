// Package handler exposes the settlement engine over HTTP. Request and
// response shapes are small JSON DTOs; all business rules live in the domain
// packages.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bodarent/backend/internal/domain/bike"
	"github.com/bodarent/backend/internal/domain/loyalty"
	"github.com/bodarent/backend/internal/domain/settlement"
)

const dateLayout = "2006-01-02"

// Handler serves the public API, delegating to the settlement service and the
// read-side repositories.
type Handler struct {
	settlement *settlement.Service
	bikes      bike.Repository
	loyalty    loyalty.Repository
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(svc *settlement.Service, bikes bike.Repository, points loyalty.Repository) *Handler {
	return &Handler{
		settlement: svc,
		bikes:      bikes,
		loyalty:    points,
	}
}

// Routes registers all API endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/bikes", h.ListBikes)
	mux.HandleFunc("POST /api/quotes", h.CreateQuote)
	mux.HandleFunc("POST /api/reservations", h.StartReservation)
	mux.HandleFunc("GET /api/reservations", h.ListReservations)
	mux.HandleFunc("GET /api/reservations/{id}", h.GetReservation)
	mux.HandleFunc("POST /api/reservations/{id}/cancel", h.CancelReservation)
	mux.HandleFunc("POST /api/payments/momo/callback", h.PaymentCallback)
	mux.HandleFunc("GET /api/owners/{id}/loyalty", h.LoyaltyBalance)
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already gone; an encode failure here is a closed
	// connection, not something we can report to the client.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// readJSON decodes the request body, rejecting unknown fields.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
