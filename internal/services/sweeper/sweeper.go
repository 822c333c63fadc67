// Package sweeper продвигает пользователей по жизненному циклу по прошествии
// времени: блокировка после окончания срока действия, очистка кредитов,
// мягкое удаление, окончание пробного и льготного периодов, предупреждения.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

const (
	// CleanupAfter - через сколько после блокировки сгорают кредиты.
	CleanupAfter = 30 * 24 * time.Hour
	// DeleteAfter - через сколько после блокировки аккаунт удаляется.
	DeleteAfter = 180 * 24 * time.Hour
)

// Notifier отправляет уведомление пользователю.
type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, recipient string, params map[string]string) bool
}

// Options настройки проходов.
type Options struct {
	TrialWarningDays    int
	BenefitsWarningDays int
}

// OptionsFromConfig собирает Options из секции планировщика.
func OptionsFromConfig(cfg config.Scheduler) Options {
	return Options{
		TrialWarningDays:    cfg.TrialWarningDays,
		BenefitsWarningDays: cfg.BenefitsWarningDays,
	}
}

// Report - число пользователей, затронутых каждым проходом.
type Report struct {
	NewlyBlocked     int `json:"newly_blocked"`
	CreditsRemoved   int `json:"credits_removed"`
	SoftDeleted      int `json:"soft_deleted"`
	TrialsExpired    int `json:"trials_expired"`
	BenefitsExpired  int `json:"benefits_expired"`
	TrialWarnings    int `json:"trial_warnings"`
	BenefitsWarnings int `json:"benefits_warnings"`
}

// Sweeper выполняет плановые проходы.
type Sweeper struct {
	log      *slog.Logger
	store    ledger.Store
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// New создаёт Sweeper.
func New(log *slog.Logger, store ledger.Store, notifier Notifier, opts Options) *Sweeper {
	return &Sweeper{
		log:      log,
		store:    store,
		notifier: notifier,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет все проходы. Ошибка одного прохода не останавливает
// следующие, ошибки объединяются.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	const op = "sweeper.Run"
	start := time.Now()
	log := s.log.With(slog.String("op", op))

	var report Report
	var errs []error

	lifecycle, err := s.RunLifecycle(ctx)
	report.NewlyBlocked = lifecycle.NewlyBlocked
	report.CreditsRemoved = lifecycle.CreditsRemoved
	report.SoftDeleted = lifecycle.SoftDeleted
	errs = append(errs, err)

	report.TrialsExpired, err = s.ExpireTrials(ctx)
	errs = append(errs, err)

	report.BenefitsExpired, err = s.ExpireBenefits(ctx)
	errs = append(errs, err)

	report.TrialWarnings, report.BenefitsWarnings, err = s.SendWarnings(ctx)
	errs = append(errs, err)

	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err := errors.Join(errs...); err != nil {
		metrics.SweepRunsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		log.Error("sweep finished with errors", sl.Err(err), slog.Any("report", report))
		return report, fmt.Errorf("%s: %w", op, err)
	}
	metrics.SweepRunsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	log.Info("sweep finished", slog.Any("report", report))
	return report, nil
}

// RunLifecycle выполняет проходы блокировки, очистки и удаления строго
// в этом порядке, каждый в своей единице работы.
func (s *Sweeper) RunLifecycle(ctx context.Context) (Report, error) {
	var report Report
	var errs []error

	blocked, err := s.pass(ctx, ledger.SweepBlock, blockUser)
	report.NewlyBlocked = len(blocked)
	errs = append(errs, err)
	for _, u := range blocked {
		s.notifier.Notify(ctx, models.NotifyPaymentBlocked, u.Email, map[string]string{
			models.ParamDueDate: u.CreditCleanupDate.Format(models.DateLayout),
		})
	}

	cleaned, err := s.pass(ctx, ledger.SweepCleanup, func(u *models.User, now time.Time) []models.Transaction {
		return zeroBalances(u, models.SourceSystem, "", "Credits reset after 30 days of account blocking", now)
	})
	report.CreditsRemoved = len(cleaned)
	errs = append(errs, err)

	deleted, err := s.pass(ctx, ledger.SweepDelete, func(u *models.User, _ time.Time) []models.Transaction {
		u.MarkDeleted()
		return nil
	})
	report.SoftDeleted = len(deleted)
	errs = append(errs, err)

	return report, errors.Join(errs...)
}

// ExpireTrials снимает кредиты пользователей с закончившимся пробным периодом.
func (s *Sweeper) ExpireTrials(ctx context.Context) (int, error) {
	users, err := s.pass(ctx, ledger.SweepTrialExpired, func(u *models.User, now time.Time) []models.Transaction {
		txs := zeroBalances(u, models.SourceTrial, "", "Reset credits due to trial expiration", now)
		u.TrialEndDate = nil
		return txs
	})
	return len(users), err
}

// ExpireBenefits закрывает льготный период после отмены подписки.
func (s *Sweeper) ExpireBenefits(ctx context.Context) (int, error) {
	users, err := s.pass(ctx, ledger.SweepBenefitsExpired, func(u *models.User, now time.Time) []models.Transaction {
		txs := zeroBalances(u, models.SourceCancelSubscription, u.SubscriptionRef, "Reset credits due to benefits expiration", now)
		if !u.IsDeleted {
			u.IsBlocked = false
		}
		u.SubscriptionRef = ""
		u.BenefitsEndDate = nil
		return txs
	})
	return len(users), err
}

// SendWarnings предупреждает о скором окончании пробного и льготного
// периодов. Окно - сутки, начиная через заданное число дней.
func (s *Sweeper) SendWarnings(ctx context.Context) (trials, benefits int, err error) {
	now := s.now()
	var errs []error

	trials, err = s.warn(ctx, ledger.SweepTrialEnding, models.NotifyTrialExpiry, s.opts.TrialWarningDays, now)
	errs = append(errs, err)
	benefits, err = s.warn(ctx, ledger.SweepBenefitsEnding, models.NotifyBenefitsExpiring, s.opts.BenefitsWarningDays, now)
	errs = append(errs, err)

	return trials, benefits, errors.Join(errs...)
}

func (s *Sweeper) warn(ctx context.Context, sweep ledger.Sweep, kind models.NotificationKind, days int, now time.Time) (int, error) {
	const op = "sweeper.warn"
	if days <= 0 {
		return 0, nil
	}
	from := now.AddDate(0, 0, days)
	criteria := ledger.Criteria{Sweep: sweep, Now: now, From: from, Until: from.Add(24 * time.Hour)}

	var users []*models.User
	err := s.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		users, err = tx.UsersDue(ctx, criteria)
		return err
	})
	if err != nil {
		s.log.Error("failed to select users for warning", slog.String("sweep", string(sweep)), sl.Err(err))
		return 0, fmt.Errorf("%s %s: %w", op, sweep, err)
	}

	sent := 0
	for _, u := range users {
		if s.notifier.Notify(ctx, kind, u.Email, map[string]string{models.ParamDaysRemaining: strconv.Itoa(days)}) {
			sent++
		}
	}
	metrics.SweepUsersTotal.WithLabelValues(string(sweep)).Add(float64(sent))
	return sent, nil
}

// pass применяет apply ко всем пользователям, подходящим под проход,
// в одной единице работы.
func (s *Sweeper) pass(ctx context.Context, sweep ledger.Sweep,
	apply func(u *models.User, now time.Time) []models.Transaction) ([]*models.User, error) {
	const op = "sweeper.pass"
	log := s.log.With(slog.String("op", op), slog.String("sweep", string(sweep)))

	now := s.now()
	var (
		changed []*models.User
		written []models.Transaction
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		changed, written = nil, nil
		users, err := tx.UsersDue(ctx, ledger.Criteria{Sweep: sweep, Now: now})
		if err != nil {
			return err
		}
		for _, u := range users {
			txs := apply(u, now)
			if err := ledger.CheckBalances(op, u); err != nil {
				return err
			}
			if err := tx.SaveUser(ctx, u); err != nil {
				return err
			}
			if len(txs) > 0 {
				if err := tx.AppendTransactions(ctx, txs...); err != nil {
					return err
				}
			}
			changed = append(changed, u)
			written = append(written, txs...)
		}
		return nil
	})
	if err != nil {
		log.Error("sweep pass failed", sl.Err(err))
		return nil, fmt.Errorf("%s %s: %w", op, sweep, err)
	}

	metrics.SweepUsersTotal.WithLabelValues(string(sweep)).Add(float64(len(changed)))
	metrics.ObserveTransactions(written)
	if len(changed) > 0 {
		log.Info("sweep pass committed", slog.Int("users", len(changed)), slog.Int("transactions", len(written)))
	}
	return changed, nil
}

func blockUser(u *models.User, now time.Time) []models.Transaction {
	u.IsBlocked = true
	u.CreditCleanupDate = models.TimePtr(now.Add(CleanupAfter))
	u.AccountDeletionDate = models.TimePtr(now.Add(DeleteAfter))
	return nil
}

// zeroBalances обнуляет положительные пулы сбросами с источником source.
func zeroBalances(u *models.User, source models.Source, subscriptionRef, description string, now time.Time) []models.Transaction {
	var txs []models.Transaction
	for _, pool := range models.Pools {
		v := u.Balances.Get(pool)
		if v <= 0 {
			continue
		}
		u.Balances.Add(pool, -v)
		txs = append(txs, models.Transaction{
			UserID:          u.ID,
			Pool:            pool,
			Source:          source,
			Kind:            models.KindReset,
			Value:           -v,
			SubscriptionRef: subscriptionRef,
			Description:     description,
			CreatedAt:       now,
		})
	}
	return txs
}
