package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/entitlement"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// purchase - классифицированный состав оплаченной сессии.
type purchase struct {
	lines           []catalog.LineItem
	hasTrial        bool
	hasRegular      bool
	maxValidityDays int
}

func classify(op string, lines []catalog.LineItem) (purchase, error) {
	p := purchase{lines: lines}
	for _, line := range lines {
		switch line.Item.Type {
		case catalog.TypeTrial:
			p.hasTrial = true
		case catalog.TypeBundle:
			p.hasRegular = true
			p.maxValidityDays = max(p.maxValidityDays, line.Item.ValidityDays)
		default:
			return purchase{}, apperr.Invariant(op,
				fmt.Sprintf("unexpected %s item %s in one-time payment", line.Item.Type, line.Item.ProductID))
		}
		if p.hasTrial && p.hasRegular {
			return purchase{}, apperr.Invariant(op, "checkout mixes trial and regular items")
		}
	}
	return p, nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, log *slog.Logger, ev *models.CheckoutCompleted) (string, error) {
	const op = "reconciler.checkoutCompleted"

	if ev.Mode != models.CheckoutModePayment {
		log.Debug("checkout mode ignored", slog.String("mode", ev.Mode))
		return metrics.OutcomeIgnored, nil
	}

	lookupCtx, cancel := r.lookupContext(ctx)
	lines, err := r.provider.CheckoutLineItems(lookupCtx, ev.SessionID)
	cancel()
	if err != nil {
		return "", apperr.External(op, err)
	}
	email, err := r.lookupEmail(ctx, ev.CustomerEmail, ev.CustomerRef)
	if err != nil {
		return "", err
	}
	p, err := classify(op, lines)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		log.Warn("checkout session has no line items", slog.String("session_id", ev.SessionID))
	}

	var written []models.Transaction
	err = r.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		user, err := resolveUser(ctx, tx, ev.CustomerRef, email)
		if err != nil {
			return err
		}
		now := r.now()
		user.Unblock()

		var resets, grants []models.Transaction
		if p.hasRegular {
			user.ValidityExpiration = models.TimePtr(now.AddDate(0, 0, p.maxValidityDays))
			resets, err = resetTrialCredits(ctx, tx, user, ev.SessionID, now)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		for _, line := range p.lines {
			granted, err := applyLine(user, line, ev.SessionID, now)
			if err != nil {
				return apperr.E(apperr.KindInvariant, op, "cannot grant line item", err)
			}
			grants = append(grants, granted...)
		}
		txs := append(coverResetDeficit(user, resets), grants...)

		if err := commit(ctx, tx, op, user, txs); err != nil {
			return err
		}
		written = txs
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ObserveTransactions(written)
	return metrics.OutcomeSuccess, nil
}

// applyLine начисляет кредиты за позицию и обновляет даты пробного периода.
func applyLine(user *models.User, line catalog.LineItem, sessionID string, now time.Time) ([]models.Transaction, error) {
	grants, err := entitlement.ComputeGrant(line.Item, line.Quantity)
	if err != nil {
		return nil, err
	}

	source := models.SourceBundle
	if line.Item.IsTrial() {
		source = models.SourceTrial
		user.HasUsedTrial = true
		user.TrialEndDate = models.TimePtr(now.AddDate(0, 0, line.Item.ExpirationDays))
	} else {
		user.HasUsedTrial = true
		user.TrialEndDate = nil
	}

	txs := make([]models.Transaction, 0, len(grants))
	for _, g := range grants {
		desc := fmt.Sprintf("Bundle %s credits", g.Pool.Label())
		if source == models.SourceTrial {
			desc = fmt.Sprintf("Trial plan %s credits", g.Pool.Label())
		}
		user.Balances.Add(g.Pool, g.Value)
		txs = append(txs, models.Transaction{
			UserID:      user.ID,
			Pool:        g.Pool,
			Source:      source,
			Kind:        models.KindReceived,
			Value:       g.Value,
			PaymentRef:  sessionID,
			Description: desc,
			CreatedAt:   now,
		})
	}
	return txs, nil
}

// resetTrialCredits снимает все кредиты, полученные по пробному плану:
// по каждому пулу сброс равен сумме начислений. Баланс может временно уйти
// в минус, начисления покупки должны его перекрыть. Выполняется для
// пользователя один раз: наличие сброса с источником trial делает вызов пустым.
func resetTrialCredits(ctx context.Context, tx ledger.Tx, user *models.User, sessionID string, now time.Time) ([]models.Transaction, error) {
	done, err := tx.HasTransaction(ctx, ledger.TransactionQuery{
		UserID: user.ID,
		Source: models.SourceTrial,
		Kind:   models.KindReset,
	})
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}

	received, err := tx.SumTransactions(ctx, ledger.TransactionQuery{
		UserID: user.ID,
		Source: models.SourceTrial,
		Kind:   models.KindReceived,
	})
	if err != nil {
		return nil, err
	}

	var txs []models.Transaction
	for _, pool := range models.Pools {
		amount := received.Get(pool)
		if amount <= 0 {
			continue
		}
		user.Balances.Add(pool, -amount)
		txs = append(txs, models.Transaction{
			UserID:      user.ID,
			Pool:        pool,
			Source:      models.SourceTrial,
			Kind:        models.KindReset,
			Value:       -amount,
			PaymentRef:  sessionID,
			Description: fmt.Sprintf("Reset trial %s credits", pool.Label()),
			CreatedAt:   now,
		})
	}
	return txs, nil
}

// coverResetDeficit уменьшает сброс пула, если после всех начислений покупки
// баланс пула остался отрицательным: пробные кредиты уже потрачены, а пакет
// этот пул не пополняет. Сброс уменьшается ровно на дефицит, нулевые сбросы
// отбрасываются.
func coverResetDeficit(user *models.User, resets []models.Transaction) []models.Transaction {
	kept := resets[:0]
	for _, reset := range resets {
		if deficit := -user.Balances.Get(reset.Pool); deficit > 0 {
			cut := min(deficit, -reset.Value)
			reset.Value += cut
			user.Balances.Add(reset.Pool, cut)
		}
		if reset.Value != 0 {
			kept = append(kept, reset)
		}
	}
	return kept
}
