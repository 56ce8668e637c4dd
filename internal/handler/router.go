package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ellen/internal/logging"
)

// RouterConfig holds the routing options
type RouterConfig struct {
	// RateLimit is requests per minute per client IP on /savegorilla; 0 disables
	RateLimit int

	// Events serves the live feed; nil leaves /events unrouted
	Events http.Handler
}

// NewRouter wires the webhook handler and supporting endpoints
func NewRouter(h *WebhookHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger())
	r.Use(chimiddleware.Recoverer)

	r.With(rateLimit(cfg.RateLimit)).Post("/savegorilla", h.SaveGorilla)
	r.Get("/healthcheck", h.Healthcheck)
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Events != nil {
		r.Method(http.MethodGet, "/events", cfg.Events)
	}

	return r
}

func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.LimitByIP(perMinute, time.Minute)
}

// RequestIDWithLogging puts the X-Request-ID header, or a fresh id, into
// the request context so every log line of the request carries it.
func RequestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chiRequestID := chimiddleware.RequestID(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(chimiddleware.RequestIDHeader)
			if requestID == "" {
				requestID = logging.GenerateRequestID()
				r.Header.Set(chimiddleware.RequestIDHeader, requestID)
			}
			w.Header().Set(chimiddleware.RequestIDHeader, requestID)

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			chiRequestID.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs method, path, status and duration of each request
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// The event stream stays open for the life of the client
			if r.URL.Path == "/events" {
				return
			}
			logging.Ctx(r.Context()).Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
