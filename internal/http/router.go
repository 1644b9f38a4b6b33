package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/planner/internal/api"
	"github.com/jw6ventures/planner/internal/auth"
	"github.com/jw6ventures/planner/internal/config"
	"github.com/jw6ventures/planner/internal/http/csrf"
	"github.com/jw6ventures/planner/internal/http/ratelimit"
	"github.com/jw6ventures/planner/internal/logging"
	"github.com/jw6ventures/planner/internal/metrics"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Router is the root handler. Close releases the rate limiters' cleanup goroutines.
type Router struct {
	http.Handler
	limiters []*ratelimit.Limiter
}

func (r *Router) Close() {
	for _, l := range r.limiters {
		l.Close()
	}
}

// NewRouter wires the health, auth and calendar routes.
func NewRouter(cfg *config.Config, health HealthChecker, authService *auth.Service, calendar *api.Handler) *Router {
	r := chi.NewRouter()

	// Auth endpoints: 5 requests per second, burst of 10
	authLimiter := ratelimit.New(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// Calendar reads and saves: the client debounces, so this only stops runaway loops.
	apiLimiter := ratelimit.New(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)
	// Pull-sync and import fan out to the remote provider.
	syncLimiter := ratelimit.New(rate.Every(2*time.Second), 5, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := health.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(authLimiter.Middleware())
		r.With(authService.Identify).Get("/auth/google/link", authService.BeginLink)
		r.With(authService.Identify).Get(cfg.Google.RedirectPath, authService.HandleCallback)
		r.With(authService.RequireSession, csrf.Middleware(cfg)).Post("/auth/google/unlink", authService.Unlink)
		r.With(authService.Identify, csrf.Middleware(cfg)).Post("/auth/logout", authService.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(authService.RequireSession)
		r.Use(csrf.Middleware(cfg))

		r.Group(func(r chi.Router) {
			r.Use(apiLimiter.Middleware())
			r.Get("/calendar", calendar.GetCalendar)
			r.Put("/calendar", calendar.PutCalendar)
			r.Delete("/calendar/events", calendar.ClearEvents)
			r.Get("/calendar.ics", calendar.ExportICS)
			r.Get("/calendar/link", calendar.LinkStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(syncLimiter.Middleware())
			r.Post("/calendar/sync", calendar.Sync)
			r.Post("/calendar/import", calendar.ImportICS)
		})
	})

	return &Router{Handler: r, limiters: []*ratelimit.Limiter{authLimiter, apiLimiter, syncLimiter}}
}

// requestLogger logs one line per request and attaches a request-scoped logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())
		if id := middleware.GetReqID(r.Context()); id != "" {
			logger = logger.With("request_id", id)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), logger)))

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
