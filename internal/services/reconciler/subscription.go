package reconciler

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// subscriptionDeleted обрабатывает отмену подписки по настроенной политике:
// clear_reference сразу забывает ссылку, grace_period блокирует пользователя
// и открывает льготный период до очистки плановым проходом.
func (r *Reconciler) subscriptionDeleted(ctx context.Context, log *slog.Logger, ev *models.SubscriptionDeleted) (string, error) {
	const op = "reconciler.subscriptionDeleted"

	var (
		recipient string
		benefits  string
		changed   bool
	)
	err := r.atomicForUser(ctx, ev.CustomerRef, "", func(ctx context.Context, tx ledger.Tx, user *models.User) error {
		if ev.SubscriptionRef != "" && user.SubscriptionRef != ev.SubscriptionRef {
			log.Info("deleted subscription is not the stored one",
				slog.String("stored_ref", user.SubscriptionRef), slog.String("deleted_ref", ev.SubscriptionRef))
			return nil
		}

		now := r.now()
		switch r.opts.CancellationPolicy {
		case config.CancellationGracePeriod:
			if !user.IsDeleted {
				user.IsBlocked = true
			}
			user.BenefitsEndDate = models.TimePtr(now.Add(r.opts.GracePeriod))
			benefits = formatDate(user.BenefitsEndDate)
		default:
			user.SubscriptionRef = ""
			if user.ValidityExpiration != nil {
				benefits = formatDate(user.ValidityExpiration)
			} else {
				benefits = formatDate(&now)
			}
		}

		if err := commit(ctx, tx, op, user, nil); err != nil {
			return err
		}
		recipient = user.Email
		changed = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !changed {
		return metrics.OutcomeIgnored, nil
	}

	r.notifier.Notify(ctx, models.NotifySubscriptionCancelled, recipient, map[string]string{
		models.ParamBenefitsEndDate: benefits,
	})
	return metrics.OutcomeSuccess, nil
}
