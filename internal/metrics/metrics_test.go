// ABOUTME: Tests for the Prometheus metrics wrapper
// ABOUTME: Verifies counters, gauges, and the exposition handler

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.EventProduced()
	m.EventProduced()
	m.ProduceFailed()
	m.EventConsumed()
	m.PoisonDropped()
	m.InsertFailed()
	m.DuplicateSuppressed()
	m.EventsBroadcast(3)
	m.ReceiverLagged(44)

	if got := testutil.ToFloat64(m.eventsProduced); got != 2 {
		t.Errorf("eventsProduced = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.produceFailures); got != 1 {
		t.Errorf("produceFailures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.eventsBroadcast); got != 3 {
		t.Errorf("eventsBroadcast = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.eventsLostToLag); got != 44 {
		t.Errorf("eventsLostToLag = %v, want 44", got)
	}
	if got := testutil.ToFloat64(m.receiversLagged); got != 1 {
		t.Errorf("receiversLagged = %v, want 1", got)
	}
}

func TestMetrics_SessionGauge(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	if got := testutil.ToFloat64(m.sessionsActive); got != 1 {
		t.Errorf("sessionsActive = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sessionsTotal); got != 2 {
		t.Errorf("sessionsTotal = %v, want 2", got)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not clash on collector registration
	a := New()
	b := New()

	a.EventProduced()

	if got := testutil.ToFloat64(b.eventsProduced); got != 0 {
		t.Errorf("second instance eventsProduced = %v, want 0", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.EventProduced()
	m.RecordHTTPRequest(http.MethodPost, "/v1/messages", http.StatusCreated)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "chat_events_produced_total 1") {
		t.Errorf("exposition missing produced counter:\n%s", body)
	}
	if !strings.Contains(body, `chat_http_requests_total{method="POST",route="/v1/messages",status="2xx"} 1`) {
		t.Errorf("exposition missing http counter:\n%s", body)
	}
}

func TestMetrics_ObserveGauge(t *testing.T) {
	m := New()

	value := 7.0
	m.ObserveGauge("chat_rooms_active", "Number of active fan-out rooms", func() float64 {
		return value
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "chat_rooms_active 7") {
		t.Errorf("exposition missing gauge func value:\n%s", rec.Body.String())
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		if got := statusClass(tt.status); got != tt.want {
			t.Errorf("statusClass(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
