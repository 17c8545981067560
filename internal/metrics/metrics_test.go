package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestOutcome(t *testing.T) {
	if got := Outcome(nil); got != OutcomeOK {
		t.Errorf("Outcome(nil) = %q, want %q", got, OutcomeOK)
	}
	if got := Outcome(errors.New("x")); got != OutcomeError {
		t.Errorf("Outcome(err) = %q, want %q", got, OutcomeError)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/accounts/{authority}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/accounts/{authority}", "418"))

	req := httptest.NewRequest(http.MethodGet, "/accounts/alice", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	after := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/accounts/{authority}", "418"))
	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}
