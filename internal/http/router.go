package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

const (
	requestsPerMinute = 100
	maxBodyBytes      = 1 << 20
)

func SetupRouter(h *Handlers, logger observability.Logger, rl RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(middleware.RequestSize(maxBodyBytes))

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// The processor retries on its own schedule; it is neither rate limited
	// nor asked for an Idempotency-Key.
	r.Post("/v1/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl, requestsPerMinute, time.Minute))

		r.With(IdempotencyMiddleware).Post("/v1/events/{eventID}/tickets", h.PurchaseTickets)
		r.Get("/v1/tickets/{ticketID}/pdf", h.DownloadTicket)

		r.Post("/v1/companies/{companyID}/events", h.CreateEvent)
		r.Patch("/v1/events/{eventID}", h.UpdateEvent)
		r.Delete("/v1/events/{eventID}", h.RemoveEvent)
		r.Post("/v1/events/{eventID}/promocodes", h.CreatePromocode)
		r.Patch("/v1/events/{eventID}/promocodes/{promocodeID}", h.SetPromocodeActive)
	})

	return r
}
