package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func healthzBody(t *testing.T, h *HealthStatus) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_PollerDownGoesUnhealthy(t *testing.T) {
	h := NewHealthStatus()

	code, body := healthzBody(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Fatalf("before first poll: %d %v", code, body["status"])
	}

	h.SetLastPollTime(time.Now())
	code, body = healthzBody(t, h)
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("after poll: %d %v", code, body["status"])
	}

	// sustained poll failures flip the poller back to unhealthy
	h.SetPollerOK(false)
	code, body = healthzBody(t, h)
	if code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Fatalf("after failures: %d %v", code, body["status"])
	}
}

func TestHealthz_ReportsTrackedSymbols(t *testing.T) {
	h := NewHealthStatus()
	h.SetLastPollTime(time.Now())
	h.SetTrackedSymbols(7)
	h.SetBackfillState("completed")

	_, body := healthzBody(t, h)
	if body["tracked_symbols"].(float64) != 7 {
		t.Errorf("tracked_symbols = %v", body["tracked_symbols"])
	}
	if body["backfill_state"] != "completed" {
		t.Errorf("backfill_state = %v", body["backfill_state"])
	}
}
