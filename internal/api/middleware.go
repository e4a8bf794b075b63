package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/Brownie44l1/hazard-services/internal/config"
	"github.com/Brownie44l1/hazard-services/internal/logging"
	"github.com/Brownie44l1/hazard-services/internal/metrics"
)

// RequestIDHeader is read from and echoed to clients.
const RequestIDHeader = "X-Request-ID"

// Middleware builds the chi middleware shared by both services.
type Middleware struct {
	service string
	sec     config.SecurityConfig
	cors    func(http.Handler) http.Handler
}

// NewMiddleware labels metrics and logs with service.
func NewMiddleware(service string, sec config.SecurityConfig) *Middleware {
	return &Middleware{
		service: service,
		sec:     sec,
		cors: cors.Handler(cors.Options{
			AllowedOrigins:   sec.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	}
}

// Stack installs request id, real ip, access log and metrics, panic
// recovery, CORS and rate limiting on r, in that order. Observe wraps Recover
// so recovered panics are logged and counted as 500s.
func (m *Middleware) Stack(r chi.Router, errs *ErrorHandler) {
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(m.Observe)
	r.Use(errs.Recover)
	r.Use(m.cors)
	r.Use(m.RateLimit())
}

// RateLimit limits per client IP, or passes through when disabled.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	if m.sec.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		m.sec.RateLimitRequests,
		m.sec.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
	)
}

// RequestID reuses the client's X-Request-ID or generates one, and stores it
// in the context for logging and error bodies.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Observe records Prometheus metrics and writes one access log line per request.
func (m *Middleware) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.TrackInFlight(m.service, 1)
		defer metrics.TrackInFlight(m.service, -1)

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		metrics.ObserveRequest(m.service, r.Method, route, strconv.Itoa(status), elapsed)

		logging.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("request")
	})
}

// routePattern keeps metric cardinality bounded by using chi's matched pattern.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
