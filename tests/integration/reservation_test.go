//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"
)

func startRequestBody(bike bikeResponse, startOffsetDays int) map[string]any {
	start := time.Now().AddDate(0, 0, startOffsetDays)
	return map[string]any{
		"ownerId":        demoOwnerID,
		"bikeId":         bike.ID,
		"startDate":      start.Format("2006-01-02"),
		"endDate":        start.AddDate(0, 0, 3).Format("2006-01-02"),
		"pickupLocation": "Kigali Heights",
	}
}

func TestQuote(t *testing.T) {
	bike := firstBike(t)
	body := startRequestBody(bike, 7)
	body["promoCode"] = "save10"

	resp := doPost(t, "/api/quotes", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	quote := decodeJSON[quoteResponse](t, resp)
	if quote.BilledDays != 3 {
		t.Errorf("billed days: got %d, want 3", quote.BilledDays)
	}
	wantBase := bike.DayRate * 3
	if quote.BaseSubtotal != wantBase {
		t.Errorf("base subtotal: got %d, want %d", quote.BaseSubtotal, wantBase)
	}
	if quote.PromoCode != "SAVE10" {
		t.Errorf("promo code: got %q, want SAVE10", quote.PromoCode)
	}
	if quote.DiscountAmount == 0 {
		t.Error("expected a discount from SAVE10")
	}
	if quote.Total != quote.BaseSubtotal+quote.AddOnSubtotal-quote.DiscountAmount {
		t.Errorf("total %d does not match breakdown", quote.Total)
	}
}

func TestQuote_UnknownPromoIsNonFatal(t *testing.T) {
	bike := firstBike(t)
	body := startRequestBody(bike, 14)
	body["promoCode"] = "NOSUCHCODE"

	resp := doPost(t, "/api/quotes", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	quote := decodeJSON[quoteResponse](t, resp)
	if quote.PromoRejection == "" {
		t.Error("expected a promo rejection message")
	}
	if quote.DiscountAmount != 0 {
		t.Errorf("discount: got %d, want 0", quote.DiscountAmount)
	}
}

// The compose environment runs the payment simulator with a short settle
// delay, so a booking can be driven end to end: create, await settlement via
// the reconciliation sweep, check loyalty accrual.
func TestReservationLifecycle(t *testing.T) {
	bike := firstBike(t)

	resp := doPost(t, "/api/reservations", startRequestBody(bike, 21))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	created := decodeJSON[startReservationResponse](t, resp)
	if created.Reservation.Status != "pending_payment" {
		t.Fatalf("status: got %q, want pending_payment", created.Reservation.Status)
	}
	if created.Payment == nil || !created.Payment.Simulated {
		t.Fatal("expected a simulated payment push")
	}

	// Double-booking the same window must be rejected.
	dup := doPost(t, "/api/reservations", startRequestBody(bike, 21))
	defer dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("double booking: expected 409, got %d", dup.StatusCode)
	}

	// The simulator settles after its delay and the reconciler confirms.
	waitForStatus(t, created.Reservation.ID, "confirmed", 2*time.Minute)

	// Loyalty accrued for the settled total.
	lresp := doGet(t, "/api/owners/"+demoOwnerID+"/loyalty")
	defer lresp.Body.Close()
	loyalty := decodeJSON[loyaltyResponse](t, lresp)
	wantPoints := created.Reservation.Total / 100 * 10
	if loyalty.Balance < wantPoints {
		t.Errorf("loyalty balance: got %d, want at least %d", loyalty.Balance, wantPoints)
	}
}

// The overlap guard is an exclusion constraint, so simultaneous bookings of
// the same bike and window must resolve to exactly one winner even when both
// inserts run before either commits.
func TestStartReservation_ConcurrentSameWindow(t *testing.T) {
	bike := firstBike(t)
	body := startRequestBody(bike, 120)

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	const attempts = 4
	statuses := make([]int, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := httpClient.Post(baseURL+"/api/reservations", "application/json", bytes.NewReader(data))
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	var created, conflicted int
	for i, code := range statuses {
		switch {
		case errs[i] != nil:
			t.Errorf("attempt %d: %v", i, errs[i])
		case code == http.StatusCreated:
			created++
		case code == http.StatusConflict:
			conflicted++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if created != 1 {
		t.Errorf("created: got %d, want exactly 1 (statuses: %v)", created, statuses)
	}
	if conflicted != attempts-1 {
		t.Errorf("conflicted: got %d, want %d", conflicted, attempts-1)
	}
}

func TestCancelReservation(t *testing.T) {
	bike := firstBike(t)

	resp := doPost(t, "/api/reservations", startRequestBody(bike, 60))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decodeJSON[startReservationResponse](t, resp)

	cancel := doPost(t, "/api/reservations/"+created.Reservation.ID+"/cancel",
		map[string]any{"ownerId": demoOwnerID})
	defer cancel.Body.Close()
	if cancel.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", cancel.StatusCode)
	}

	get := doGet(t, "/api/reservations/"+created.Reservation.ID)
	defer get.Body.Close()
	got := decodeJSON[reservationResponse](t, get)
	if got.Status != "cancelled" {
		t.Errorf("status: got %q, want cancelled", got.Status)
	}
}

func TestStartReservation_ValidationErrors(t *testing.T) {
	bike := firstBike(t)

	body := startRequestBody(bike, 90)
	body["startDate"], body["endDate"] = body["endDate"], body["startDate"]

	resp := doPost(t, "/api/reservations", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("inverted range: expected 400, got %d", resp.StatusCode)
	}

	errBody := decodeJSON[errorResponse](t, resp)
	if errBody.Message == "" {
		t.Error("expected an error message")
	}
}

func waitForStatus(t *testing.T, id, want string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp := doGet(t, "/api/reservations/"+id)
		got := decodeJSON[reservationResponse](t, resp)
		resp.Body.Close()

		if got.Status == want {
			return
		}
		time.Sleep(2 * time.Second)
	}
	t.Fatalf("reservation %s did not reach %q within %s", id, want, timeout)
}
