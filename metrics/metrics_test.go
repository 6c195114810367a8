package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvent(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues("update", "applied"))
	RecordEvent("update", "applied")
	RecordEvent("update", "applied")

	after := testutil.ToFloat64(eventsTotal.WithLabelValues("update", "applied"))
	if after-before != 2 {
		t.Errorf("expected counter to grow by 2, grew by %v", after-before)
	}
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(connectionsActive)
	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()

	if got := testutil.ToFloat64(connectionsActive) - before; got != 1 {
		t.Errorf("expected gauge delta 1, got %v", got)
	}
}

func TestRecordPeerDropped(t *testing.T) {
	before := testutil.ToFloat64(peersDropped)
	RecordPeerDropped()

	if got := testutil.ToFloat64(peersDropped) - before; got != 1 {
		t.Errorf("expected counter delta 1, got %v", got)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/workspaces/{team}/export", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Middleware(mux)

	label := "GET /api/workspaces/{team}/export"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", label, "418"))

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/42/export", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status 418, got %d", rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", label, "418"))
	if after-before != 1 {
		t.Errorf("expected one request recorded under the route pattern, got %v", after-before)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	RecordExport("download", true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "collab_exports_total") {
		t.Error("expected collab_exports_total in scrape output")
	}
}
