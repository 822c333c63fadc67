package ledger

import (
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Sweep - вид планового прохода по пользователям.
type Sweep string

const (
	// SweepBlock - срок действия истёк, пользователь ещё не заблокирован.
	SweepBlock Sweep = "block"
	// SweepCleanup - наступила дата очистки, остались положительные балансы.
	SweepCleanup Sweep = "cleanup"
	// SweepDelete - наступила дата удаления.
	SweepDelete Sweep = "delete"
	// SweepTrialExpired - пробный период закончился.
	SweepTrialExpired Sweep = "trial_expired"
	// SweepBenefitsExpired - льготный период после отмены подписки закончился.
	SweepBenefitsExpired Sweep = "benefits_expired"
	// SweepTrialEnding - пробный период заканчивается в окне [From, Until).
	SweepTrialEnding Sweep = "trial_ending"
	// SweepBenefitsEnding - льготный период заканчивается в окне [From, Until).
	SweepBenefitsEnding Sweep = "benefits_ending"
)

// Criteria - условие выборки пользователей для прохода. Now используется
// проходами по истёкшим датам, From/Until - проходами-предупреждениями.
type Criteria struct {
	Sweep Sweep
	Now   time.Time
	From  time.Time
	Until time.Time
}

// Matches - единственное определение предикатов проходов. SQL-хранилище
// повторяет его в запросах, хранилище в памяти вызывает напрямую.
func (c Criteria) Matches(u *models.User) bool {
	switch c.Sweep {
	case SweepBlock:
		return !u.IsDeleted && !u.IsBlocked &&
			before(u.ValidityExpiration, c.Now) && u.CreditCleanupDate == nil
	case SweepCleanup:
		return !u.IsDeleted && before(u.CreditCleanupDate, c.Now) && u.Balances.Positive()
	case SweepDelete:
		return !u.IsDeleted && before(u.AccountDeletionDate, c.Now)
	case SweepTrialExpired:
		return before(u.TrialEndDate, c.Now)
	case SweepBenefitsExpired:
		return u.IsBlocked && before(u.BenefitsEndDate, c.Now)
	case SweepTrialEnding:
		return !u.IsDeleted && within(u.TrialEndDate, c.From, c.Until)
	case SweepBenefitsEnding:
		return !u.IsDeleted && within(u.BenefitsEndDate, c.From, c.Until)
	default:
		return false
	}
}

func before(t *time.Time, now time.Time) bool {
	return t != nil && t.Before(now)
}

func within(t *time.Time, from, until time.Time) bool {
	return t != nil && !t.Before(from) && t.Before(until)
}
