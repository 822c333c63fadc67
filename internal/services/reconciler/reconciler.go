// Package reconciler применяет проверенные события платёжного провайдера
// к журналу кредитов. Каждая ветка обработки - одна единица работы
// хранилища: изменения пользователя и транзакции фиксируются вместе
// или не фиксируются вовсе.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// SubscriptionValidityDays - срок действия, выставляемый новой подписке.
const SubscriptionValidityDays = 90

// Provider - обращения к платёжному провайдеру, нужные для сверки.
type Provider interface {
	CheckoutLineItems(ctx context.Context, sessionID string) ([]catalog.LineItem, error)
	CustomerEmail(ctx context.Context, customerRef string) (string, error)
	SubscriptionItem(ctx context.Context, subscriptionRef string) (catalog.Item, error)
}

// Notifier отправляет уведомление пользователю.
type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, recipient string, params map[string]string) bool
}

// Deduplicator отмечает обработанные события.
type Deduplicator interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Options настройки сверки.
type Options struct {
	LookupTimeout      time.Duration
	CancellationPolicy string
	GracePeriod        time.Duration
	// Dedup включает отметку обработанных событий. nil - выключено.
	Dedup    Deduplicator
	DedupTTL time.Duration
}

// OptionsFromConfig собирает Options из конфигурации.
func OptionsFromConfig(cfg *config.Config, dedup Deduplicator) Options {
	opts := Options{
		LookupTimeout:      cfg.Stripe.LookupTimeout,
		CancellationPolicy: cfg.Reconciler.CancellationPolicy,
		GracePeriod:        cfg.Reconciler.GracePeriod,
		DedupTTL:           cfg.Reconciler.DedupTTL,
	}
	if cfg.Reconciler.DedupEnabled {
		opts.Dedup = dedup
	}
	return opts
}

// Reconciler обрабатывает события провайдера.
type Reconciler struct {
	log      *slog.Logger
	store    ledger.Store
	provider Provider
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// New создаёт Reconciler.
func New(log *slog.Logger, store ledger.Store, provider Provider, notifier Notifier, opts Options) *Reconciler {
	if opts.CancellationPolicy == "" {
		opts.CancellationPolicy = config.CancellationClearReference
	}
	return &Reconciler{
		log:      log,
		store:    store,
		provider: provider,
		notifier: notifier,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile применяет событие. Неизвестные типы событий игнорируются.
// Ошибка означает, что ничего не записано и событие можно доставить повторно.
func (r *Reconciler) Reconcile(ctx context.Context, ev models.ProviderEvent) error {
	const op = "reconciler.Reconcile"
	log := r.log.With(slog.String("op", op), slog.String("event_id", ev.ID), slog.String("event_type", string(ev.Type)))

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	key := "webhook:" + ev.ID
	if r.opts.Dedup != nil && ev.ID != "" {
		claimed, err := r.opts.Dedup.Claim(ctx, key, r.opts.DedupTTL)
		switch {
		case err != nil:
			log.Warn("dedup store unavailable, processing without claim", sl.Err(err))
		case !claimed:
			log.Info("event already processed")
			metrics.ReconciliationsTotal.WithLabelValues(string(ev.Type), metrics.OutcomeSkipped).Inc()
			return nil
		}
	}

	outcome, err := r.dispatch(ctx, log, ev)
	if err != nil {
		if r.opts.Dedup != nil && ev.ID != "" {
			if relErr := r.opts.Dedup.Release(context.WithoutCancel(ctx), key); relErr != nil {
				log.Warn("failed to release event claim", sl.Err(relErr))
			}
		}
		log.Error("failed to reconcile event", sl.Err(err), slog.String("kind", apperr.KindOf(err).String()))
		metrics.ReconciliationsTotal.WithLabelValues(string(ev.Type), metrics.OutcomeError).Inc()
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.ReconciliationsTotal.WithLabelValues(string(ev.Type), outcome).Inc()
	log.Info("event reconciled", slog.String("outcome", outcome))
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, log *slog.Logger, ev models.ProviderEvent) (string, error) {
	switch {
	case ev.Type == models.EventCheckoutCompleted && ev.Checkout != nil:
		return r.checkoutCompleted(ctx, log, ev.Checkout)
	case ev.Type == models.EventInvoicePaid && ev.Invoice != nil:
		return r.invoicePaid(ctx, log, ev.Invoice)
	case ev.Type == models.EventSubscriptionDeleted && ev.Subscription != nil:
		return r.subscriptionDeleted(ctx, log, ev.Subscription)
	default:
		log.Debug("event type ignored")
		return metrics.OutcomeIgnored, nil
	}
}

// lookupEmail возвращает email из события или запрашивает его у провайдера.
func (r *Reconciler) lookupEmail(ctx context.Context, email, customerRef string) (string, error) {
	const op = "reconciler.lookupEmail"
	if email != "" || customerRef == "" {
		return email, nil
	}
	ctx, cancel := r.lookupContext(ctx)
	defer cancel()

	email, err := r.provider.CustomerEmail(ctx, customerRef)
	if err != nil {
		return "", apperr.External(op, err)
	}
	return email, nil
}

func (r *Reconciler) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.LookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.LookupTimeout)
}

// resolveUser находит пользователя сначала по ссылке на клиента, затем по email.
func resolveUser(ctx context.Context, tx ledger.Tx, customerRef, email string) (*models.User, error) {
	const op = "reconciler.resolveUser"
	if customerRef != "" {
		user, err := tx.UserByCustomerRef(ctx, customerRef)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if email != "" {
		user, err := tx.UserByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil, apperr.Invariant(op, fmt.Sprintf("user not found for customer %q (email %q)", customerRef, email))
}

var errUnknownCustomerRef = errors.New("no user for customer reference")

// atomicForUser выполняет fn в одной транзакции с найденным пользователем.
// Если email неизвестен, пользователь сначала ищется только по ссылке на
// клиента, и провайдер опрашивается лишь когда по ссылке никого нет.
func (r *Reconciler) atomicForUser(ctx context.Context, customerRef, email string, fn func(ctx context.Context, tx ledger.Tx, user *models.User) error) error {
	const op = "reconciler.atomicForUser"
	if email == "" && customerRef != "" {
		err := r.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
			user, err := tx.UserByCustomerRef(ctx, customerRef)
			if errors.Is(err, ledger.ErrNotFound) {
				return errUnknownCustomerRef
			}
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			return fn(ctx, tx, user)
		})
		if !errors.Is(err, errUnknownCustomerRef) {
			return err
		}
		if email, err = r.lookupEmail(ctx, "", customerRef); err != nil {
			return err
		}
	}

	return r.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		user, err := resolveUser(ctx, tx, customerRef, email)
		if err != nil {
			return err
		}
		return fn(ctx, tx, user)
	})
}

// commit проверяет балансы и сохраняет пользователя вместе с транзакциями.
func commit(ctx context.Context, tx ledger.Tx, op string, user *models.User, txs []models.Transaction) error {
	if err := ledger.CheckBalances(op, user); err != nil {
		return err
	}
	if err := tx.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(txs) == 0 {
		return nil
	}
	if err := tx.AppendTransactions(ctx, txs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(models.DateLayout)
}
