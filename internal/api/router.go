// Package api exposes the parking service over JSON/HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/rs/cors"

	"nexuspark/internal/logging"
	"nexuspark/internal/observability"
	"nexuspark/internal/services"
)

// RequestIDHeader carries the correlation id in and out of every request.
const RequestIDHeader = "X-Request-ID"

type Option func(*Handler)

func WithLogger(l logging.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithCollector records per-route HTTP metrics and serves /metrics.
func WithCollector(c *observability.Collector) Option {
	return func(h *Handler) { h.metrics = c }
}

func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) { h.origins = origins }
}

// WithPeakZones sets how many zones the analytics report ranks.
func WithPeakZones(n int) Option {
	return func(h *Handler) { h.peakZones = n }
}

type Handler struct {
	svc       *services.ParkingService
	log       logging.Logger
	metrics   *observability.Collector
	origins   []string
	peakZones int
}

// NewRouter builds the HTTP handler tree for svc.
func NewRouter(svc *services.ParkingService, opts ...Option) http.Handler {
	h := &Handler{
		svc:     svc,
		log:     logging.Noop(),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /healthz", h.health},
		{"GET /api/zones", h.listZones},
		{"POST /api/zones", h.createZone},
		{"GET /api/zones/{id}", h.getZone},
		{"GET /api/zones/{id}/reachable", h.reachable},
		{"GET /api/graph", h.graph},
		{"GET /api/vehicles", h.listVehicles},
		{"GET /api/route", h.route},
		{"POST /api/connection/close", h.closeConnection},
		{"POST /api/connection/open", h.openConnection},
		{"PUT /api/connection/distance", h.updateDistance},
		{"POST /api/requests", h.createRequest},
		{"GET /api/requests", h.listRequests},
		{"GET /api/requests/{id}", h.getRequest},
		{"POST /api/requests/{id}/occupy", h.occupy},
		{"POST /api/requests/{id}/release", h.release},
		{"POST /api/requests/{id}/cancel", h.cancel},
		{"POST /api/undo", h.undo},
		{"GET /api/history", h.history},
		{"GET /api/analytics", h.analytics},
	}
	for _, r := range routes {
		mux.Handle(r.pattern, h.metrics.Instrument(r.pattern, r.handler))
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	c := cors.New(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
	})
	return c.Handler(h.withRequestID(mux))
}

// withRequestID propagates or assigns a request id and logs each request.
func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(RequestIDHeader); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		h.log.Debug(ctx, "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Float("duration_ms", float64(time.Since(start).Microseconds())/1000))
	})
}
