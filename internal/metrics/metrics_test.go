package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/calendar/{part}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	before := testutil.ToFloat64(httpErrorsTotal.WithLabelValues(http.MethodGet, "/calendar/{part}", "500"))
	req := httptest.NewRequest(http.MethodGet, "/calendar/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpErrorsTotal.WithLabelValues(http.MethodGet, "/calendar/{part}", "500"))
	if after-before != 1 {
		t.Fatalf("expected one error observation on route pattern, got %v", after-before)
	}
}

func TestObserveSyncRecordsSkipsZero(t *testing.T) {
	before := testutil.ToFloat64(syncRecordsTotal.WithLabelValues("reconcile", "created"))
	ObserveSyncRecords("reconcile", "created", 0)
	ObserveSyncRecords("reconcile", "created", 3)
	after := testutil.ToFloat64(syncRecordsTotal.WithLabelValues("reconcile", "created"))
	if after-before != 3 {
		t.Fatalf("expected +3, got %v", after-before)
	}
}

func TestRouteFromContext(t *testing.T) {
	if got := routeFromContext(context.Background()); got != "unknown" {
		t.Fatalf("routeFromContext() = %q", got)
	}
	ctx := WithRoute(context.Background(), "scheduler")
	if got := routeFromContext(ctx); got != "scheduler" {
		t.Fatalf("routeFromContext() = %q", got)
	}
}
