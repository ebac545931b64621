package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/betpay/ledger-engine/internal/metrics"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/accounts/{accountID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/accounts/user1", "/accounts/user2"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %s: got %d", path, w.Code)
		}
	}

	// Both requests land on one series labeled by the route pattern, not
	// one series per concrete id.
	pattern := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/accounts/{accountID}", "200")
	if got := testutil.ToFloat64(pattern); got != 2 {
		t.Errorf("expected 2 requests on the pattern label, got %v", got)
	}
	raw := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/accounts/user1", "200")
	if got := testutil.ToFloat64(raw); got != 0 {
		t.Errorf("expected no requests on the raw-path label, got %v", got)
	}
}
