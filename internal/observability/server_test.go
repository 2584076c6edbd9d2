package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"realtime-stt-gateway/internal/observability/metrics"
)

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Probes(t *testing.T) {
	ready := false
	h := Handler(func() bool { return ready })

	if rec := get(h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d", rec.Code)
	}
	if rec := get(h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d", rec.Code)
	}
	ready = true
	if rec := get(h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("/readyz when ready = %d", rec.Code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	metrics.DefaultMetrics.RecordSeats("cpu", 1, 2)

	rec := get(Handler(nil), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `stt_gateway_pool_seats_available{pool="cpu"} 1`) {
		t.Error("seat gauge missing from /metrics output")
	}
}
