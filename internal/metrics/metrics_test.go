package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/room-reservations/internal/application"
)

func TestObservers(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveOutcome("create", application.StateCommitted, "", 10*time.Millisecond)
	m.ObserveOutcome("create", application.StateRejected, "slot_taken", time.Millisecond)
	m.ObserveOutcome("create", application.StateRejected, "slot_taken", time.Millisecond)
	m.ObserveDelivery("mail", nil)
	m.ObserveDelivery("mail", errors.New("refused"))
	m.ObserveDropped("queue_full")
	m.ObserveRequest("POST", "/reservations", 201, time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.bookingOutcomes.WithLabelValues("create", "rejected", "slot_taken")); got != 2 {
		t.Fatalf("expected 2 rejections, got %v", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("mail", "error")); got != 1 {
		t.Fatalf("expected 1 failed delivery, got %v", got)
	}
	if got := testutil.ToFloat64(m.droppedEvents.WithLabelValues("queue_full")); got != 1 {
		t.Fatalf("expected 1 drop, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestCount.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("expected unmatched route label, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveOutcome("delete", application.StateApplied, "", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `reservations_booking_outcomes_total{kind="",operation="delete",state="applied"} 1`) {
		t.Fatalf("expected outcome series in output:\n%s", body)
	}
}
