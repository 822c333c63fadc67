package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/entitlement"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// subscriptionPath - ветка обработки оплаченного счёта.
type subscriptionPath int

const (
	pathNone subscriptionPath = iota
	pathRenewal
	pathNew
)

// choosePath решает, продление это или новая подписка. Расхождение
// сохранённой ссылки со ссылкой счёта обрабатывается как новая подписка.
func choosePath(user *models.User, inv *models.InvoicePaid) subscriptionPath {
	switch {
	case inv.BillingReason == models.BillingReasonCycle && user.SubscriptionRef == inv.SubscriptionRef:
		return pathRenewal
	case user.SubscriptionRef == "",
		inv.BillingReason == models.BillingReasonCreate,
		user.SubscriptionRef != inv.SubscriptionRef:
		return pathNew
	default:
		return pathNone
	}
}

func (r *Reconciler) invoicePaid(ctx context.Context, log *slog.Logger, inv *models.InvoicePaid) (string, error) {
	const op = "reconciler.invoicePaid"

	if inv.SubscriptionRef == "" {
		log.Debug("invoice without subscription ignored", slog.String("invoice_id", inv.InvoiceID))
		return metrics.OutcomeIgnored, nil
	}

	lookupCtx, cancel := r.lookupContext(ctx)
	item, err := r.provider.SubscriptionItem(lookupCtx, inv.SubscriptionRef)
	cancel()
	if err != nil {
		return "", apperr.External(op, err)
	}
	email, err := r.lookupEmail(ctx, inv.CustomerEmail, inv.CustomerRef)
	if err != nil {
		return "", err
	}
	credits := entitlement.ComputeSubscriptionCredits(item)

	var (
		written   []models.Transaction
		recipient string
		path      subscriptionPath
	)
	err = r.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		user, err := resolveUser(ctx, tx, inv.CustomerRef, email)
		if err != nil {
			return err
		}
		now := r.now()
		user.Unblock()

		var txs []models.Transaction
		path = choosePath(user, inv)
		switch path {
		case pathRenewal:
			txs = grantSubscription(user, inv.SubscriptionRef, credits, "Renewal", now)
		case pathNew:
			if user.HasActiveTrial() {
				resets, err := resetTrialForSubscription(ctx, tx, user, inv.SubscriptionRef, now)
				if err != nil {
					return fmt.Errorf("%s: %w", op, err)
				}
				txs = append(txs, resets...)
			}
			txs = append(txs, grantSubscription(user, inv.SubscriptionRef, credits, "Initial", now)...)
			user.SubscriptionRef = inv.SubscriptionRef
			user.HasUsedTrial = true
			user.TrialEndDate = nil
			user.BenefitsEndDate = nil
			user.ValidityExpiration = models.TimePtr(now.AddDate(0, 0, SubscriptionValidityDays))
		default:
			log.Info("invoice does not grant credits",
				slog.String("billing_reason", inv.BillingReason), slog.String("subscription_ref", inv.SubscriptionRef))
		}

		if err := commit(ctx, tx, op, user, txs); err != nil {
			return err
		}
		written = txs
		recipient = user.Email
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ObserveTransactions(written)
	if path != pathNone {
		r.notifier.Notify(ctx, models.NotifyPaymentSuccess, recipient, map[string]string{
			models.ParamPlanName: item.Name,
			models.ParamAmount:   formatAmount(inv.AmountPaid, inv.Currency),
		})
	}
	return metrics.OutcomeSuccess, nil
}

func grantSubscription(user *models.User, subscriptionRef string, credits models.Balances, label string, now time.Time) []models.Transaction {
	txs := make([]models.Transaction, 0, len(models.Pools))
	for _, pool := range models.Pools {
		value := credits.Get(pool)
		user.Balances.Add(pool, value)
		txs = append(txs, models.Transaction{
			UserID:          user.ID,
			Pool:            pool,
			Source:          models.SourceSubscription,
			Kind:            models.KindReceived,
			Value:           value,
			SubscriptionRef: subscriptionRef,
			Description:     fmt.Sprintf("%s %s credits for subscription", label, pool.Label()),
			CreatedAt:       now,
		})
	}
	return txs
}

// resetTrialForSubscription снимает оставшиеся кредиты пробного плана при
// переходе на подписку. Ключ идемпотентности - ссылка на подписку.
func resetTrialForSubscription(ctx context.Context, tx ledger.Tx, user *models.User, subscriptionRef string, now time.Time) ([]models.Transaction, error) {
	done, err := tx.HasTransaction(ctx, ledger.TransactionQuery{
		UserID:          user.ID,
		Source:          models.SourceTrial,
		Kind:            models.KindReset,
		SubscriptionRef: subscriptionRef,
	})
	if err != nil || done {
		return nil, err
	}

	received, err := tx.SumTransactions(ctx, ledger.TransactionQuery{UserID: user.ID, Source: models.SourceTrial, Kind: models.KindReceived})
	if err != nil {
		return nil, err
	}
	reset, err := tx.SumTransactions(ctx, ledger.TransactionQuery{UserID: user.ID, Source: models.SourceTrial, Kind: models.KindReset})
	if err != nil {
		return nil, err
	}

	var txs []models.Transaction
	for _, pool := range models.Pools {
		amount := min(received.Get(pool)+reset.Get(pool), user.Balances.Get(pool))
		if amount <= 0 {
			continue
		}
		user.Balances.Add(pool, -amount)
		txs = append(txs, models.Transaction{
			UserID:          user.ID,
			Pool:            pool,
			Source:          models.SourceTrial,
			Kind:            models.KindReset,
			Value:           -amount,
			SubscriptionRef: subscriptionRef,
			Description:     fmt.Sprintf("Reset %s credits from trial to subscription", pool.Label()),
			CreatedAt:       now,
		})
	}
	return txs, nil
}

// formatAmount переводит сумму из минимальных единиц: 7500, "gbp" -> "75.00 GBP".
func formatAmount(minor int64, currency string) string {
	amount := decimal.New(minor, -2).StringFixed(2)
	if currency == "" {
		return amount
	}
	return amount + " " + strings.ToUpper(currency)
}
