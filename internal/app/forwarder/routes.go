package forwarder

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teleforward/forwarder-bot/internal/http/handlers/health"
	"github.com/teleforward/forwarder-bot/internal/http/handlers/paymentwebhook"
	subservice "github.com/teleforward/forwarder-bot/internal/services/subscription"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, subscriptionService *subservice.Manager,
	publisher paymentwebhook.NoticePublisher, webhookSecret string) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	healthHandler := health.New(logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.ServeHTTP)
		r.Post("/payments/webhook", paymentwebhook.New(logger, subscriptionService, publisher, webhookSecret).ServeHTTP)
	})

	r.Get("/healthz", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
}
