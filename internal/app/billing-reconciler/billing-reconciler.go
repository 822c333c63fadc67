package billingreconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/billing-reconciler/internal/cache"
	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/handlers/health"
	"github.com/magabrotheeeer/billing-reconciler/internal/http/middlewarectx"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/migrations"
	"github.com/magabrotheeeer/billing-reconciler/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/checkout"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/notifier"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/pricing"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/products"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/reconciler"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/scheduler"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/subscription"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/sweeper"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/transactions"
	"github.com/magabrotheeeer/billing-reconciler/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App - HTTP API и ежедневный планировщик в одном процессе.
type App struct {
	server    *http.Server
	logger    *slog.Logger
	db        *repository.Storage
	cache     *cache.Cache
	conn      *amqp.Connection
	ch        *amqp.Channel
	scheduler *scheduler.Scheduler
	schedule  bool
}

// New поднимает зависимости и собирает приложение. При ошибке уже
// открытые соединения закрываются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	const op = "app.billingreconciler.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = repository.CheckDatabaseReady(ctx, db); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = cacheRedis.Close()
		}
	}()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.RabbitMQ.Exchange, rabbitmq.NotificationQueues(cfg.RabbitMQ))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
		}
	}()

	publisher := rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
	notify := notifier.New(logger, publisher, cfg.RabbitMQ.Timeout)
	provider := paymentprovider.New(cfg.Stripe, logger)

	rec := reconciler.New(logger, db, provider, notify, reconciler.OptionsFromConfig(cfg, cacheRedis))
	sw := sweeper.New(logger, db, notify, sweeper.OptionsFromConfig(cfg.Scheduler))
	sched, err := scheduler.New(logger, cfg.Scheduler, func(ctx context.Context) error {
		_, err := sw.Run(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rates := pricing.New(logger, cacheRedis, cfg.Pricing)
	subs := subscription.New(logger, db, provider, cacheRedis, cfg.Stripe.SubscriptionCacheTTL, cfg.Stripe.PortalURL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, middlewarectx.NewLimiter(cfg.HTTPServer), Services{
		Webhook:      provider,
		Reconciler:   rec,
		Runner:       sched,
		Sweeper:      sw,
		Transactions: transactions.New(db),
		Checkout:     checkout.New(logger, db, provider),
		Products:     products.New(logger, provider, rates, provider.Currency()),
		Subscription: subs,
		Portal:       subs,
		Notifier:     notify,
		Health: map[string]health.Check{
			"postgres": db.Ping,
			"redis":    cacheRedis.Ping,
		},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return &App{
		server:    srv,
		logger:    logger,
		db:        db,
		cache:     cacheRedis,
		conn:      conn,
		ch:        ch,
		scheduler: sched,
		schedule:  cfg.Scheduler.Enabled,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливается.
func (a *App) Run(ctx context.Context) error {
	if a.schedule {
		a.scheduler.Start(ctx)
	} else {
		a.logger.Info("daily sweep scheduler disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		runErr = a.server.Shutdown(timeoutCtx)
	}

	a.scheduler.Stop()
	a.close()
	return runErr
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("failed to close redis", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", sl.Err(err))
	}
}
