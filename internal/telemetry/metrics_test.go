package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentCountsStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))

	if after-before != 1 {
		t.Fatalf("requests_total delta = %v, want 1", after-before)
	}
	if got := testutil.ToFloat64(InFlight.WithLabelValues("test_op")); got != 0 {
		t.Fatalf("in_flight = %v, want 0 after request", got)
	}
}

func TestMetricsHandlerExposesChannelMetrics(t *testing.T) {
	ObserveCommand("discover", "ok")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"feedwire_commands_total", "feedwire_connection_state", "feedwire_uptime_seconds"} {
		if !strings.Contains(body, name) {
			t.Fatalf("/metrics missing %s", name)
		}
	}
}
