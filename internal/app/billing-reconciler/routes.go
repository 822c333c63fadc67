// Package billingreconciler собирает HTTP API сервиса сверки биллинга.
package billingreconciler

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	checkouthandler "github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/checkout"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/health"
	productshandler "github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/products"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/subscription/portal"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/sweeps"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/testemail"
	transactionshandler "github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/transactions"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/webhook"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/middlewarectx"
)

// Services - зависимости обработчиков.
type Services struct {
	Webhook      webhook.Parser
	Reconciler   webhook.Reconciler
	Runner       sweeps.Runner
	Sweeper      sweeps.Sweeper
	Transactions transactionshandler.Service
	Checkout     checkouthandler.Service
	Products     productshandler.Service
	Subscription read.Service
	Portal       portal.Service
	Notifier     testemail.Notifier
	Health       map[string]health.Check
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, limiter *rate.Limiter, s Services) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Провайдер повторяет доставку сам, лимит к нему не применяется.
		r.Post("/webhook", webhook.New(logger, s.Webhook, s.Reconciler).ServeHTTP)
		r.Get("/health", health.New(logger, s.Health).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))
			r.Get("/products", productshandler.New(logger, s.Products).ServeHTTP)
			r.Post("/checkout-sessions", checkouthandler.New(logger, s.Checkout).ServeHTTP)
			r.Get("/subscription", read.New(logger, s.Subscription).ServeHTTP)
			r.Post("/portal-sessions", portal.New(logger, s.Portal).ServeHTTP)
			r.Get("/transactions", transactionshandler.New(logger, s.Transactions).ServeHTTP)
			r.Post("/sweeps", sweeps.New(logger, s.Runner, s.Sweeper).ServeHTTP)
			r.Post("/test/emails", testemail.New(logger, s.Notifier).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
