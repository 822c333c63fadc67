package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
	"github.com/magabrotheeeer/billing-reconciler/internal/storage/memory"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, kind models.NotificationKind, recipient string, params map[string]string) bool {
	args := m.Called(ctx, kind, recipient, params)
	return args.Bool(0)
}

// failingStore отказывает в выборке пользователей для заданного прохода.
type failingStore struct {
	ledger.Store
	sweep ledger.Sweep
}

func (s *failingStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.Store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, sweep: s.sweep})
	})
}

type failingTx struct {
	ledger.Tx
	sweep ledger.Sweep
}

func (t *failingTx) UsersDue(ctx context.Context, c ledger.Criteria) ([]*models.User, error) {
	if c.Sweep == t.sweep {
		return nil, errors.New("connection reset")
	}
	return t.Tx.UsersDue(ctx, c)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func seed(t *testing.T, store ledger.Store, users ...*models.User) {
	t.Helper()
	require.NoError(t, store.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		for _, u := range users {
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	}))
}

func newUser(id string, mutate func(u *models.User)) *models.User {
	u := models.NewUser(id, id+"@example.com", testNow.Add(-days(200)))
	mutate(u)
	return u
}

func newSweeper(store ledger.Store, n Notifier, opts Options) *Sweeper {
	s := New(newNoopLogger(), store, n, opts)
	s.now = func() time.Time { return testNow }
	return s
}

func get(t *testing.T, store ledger.Store, id string) *models.User {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestRunLifecycle_BlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	notifier := new(MockNotifier)
	seed(t, store, newUser("lapsed", func(u *models.User) {
		u.ValidityExpiration = models.TimePtr(testNow.Add(-days(91)))
		u.Balances = models.Balances{models.PoolTestCase: 4, models.PoolUserStory: 0}
	}))

	notifier.On("Notify", mock.Anything, models.NotifyPaymentBlocked, "lapsed@example.com", map[string]string{
		models.ParamDueDate: testNow.Add(CleanupAfter).Format(models.DateLayout),
	}).Return(true).Once()

	s := newSweeper(store, notifier, Options{})
	report, err := s.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NewlyBlocked)
	assert.Equal(t, 0, report.CreditsRemoved)

	u := get(t, store, "lapsed")
	assert.True(t, u.IsBlocked)
	assert.True(t, u.CreditCleanupDate.Equal(testNow.Add(days(30))))
	assert.True(t, u.AccountDeletionDate.Equal(testNow.Add(days(180))))
	assert.Equal(t, 4, u.Balances.Get(models.PoolTestCase))

	report, err = s.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	notifier.AssertExpectations(t)
}

func TestRunLifecycle_CleanupAndDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store,
		newUser("cleanup", func(u *models.User) {
			u.IsBlocked = true
			u.CreditCleanupDate = models.TimePtr(testNow.Add(-time.Hour))
			u.AccountDeletionDate = models.TimePtr(testNow.Add(days(150)))
			u.Balances = models.Balances{models.PoolTestCase: 7, models.PoolUserStory: 3}
		}),
		newUser("expired", func(u *models.User) {
			u.IsBlocked = true
			u.CreditCleanupDate = models.TimePtr(testNow.Add(-days(150)))
			u.AccountDeletionDate = models.TimePtr(testNow.Add(-time.Minute))
		}),
	)

	s := newSweeper(store, new(MockNotifier), Options{})
	report, err := s.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CreditsRemoved)
	assert.Equal(t, 1, report.SoftDeleted)

	cleaned := get(t, store, "cleanup")
	assert.False(t, cleaned.Balances.Positive())
	assert.False(t, cleaned.IsDeleted)

	txs, err := store.ListTransactions(ctx, models.TransactionFilter{UserID: "cleanup"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tr := range txs {
		assert.Equal(t, models.SourceSystem, tr.Source)
		assert.Equal(t, models.KindReset, tr.Kind)
	}

	deleted := get(t, store, "expired")
	assert.True(t, deleted.IsDeleted)
	assert.True(t, deleted.IsBlocked)

	// Удаление необратимо: повторные проходы его не трогают.
	_, err = s.RunLifecycle(ctx)
	require.NoError(t, err)
	assert.True(t, get(t, store, "expired").IsDeleted)
}

func TestRunLifecycle_FailedPassKeepsEarlierCommits(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	seed(t, base,
		newUser("lapsed", func(u *models.User) {
			u.ValidityExpiration = models.TimePtr(testNow.Add(-time.Hour))
		}),
		newUser("doomed", func(u *models.User) {
			u.IsBlocked = true
			u.CreditCleanupDate = models.TimePtr(testNow.Add(-days(160)))
			u.AccountDeletionDate = models.TimePtr(testNow.Add(-time.Hour))
		}),
	)
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, models.NotifyPaymentBlocked, "lapsed@example.com", mock.Anything).Return(true).Once()

	s := newSweeper(&failingStore{Store: base, sweep: ledger.SweepCleanup}, notifier, Options{})
	report, err := s.RunLifecycle(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1, report.NewlyBlocked)
	assert.Equal(t, 1, report.SoftDeleted)
	assert.True(t, get(t, base, "lapsed").IsBlocked)
	assert.True(t, get(t, base, "doomed").IsDeleted)
}

func TestExpireTrials(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store,
		newUser("ended", func(u *models.User) {
			u.HasUsedTrial = true
			u.TrialEndDate = models.TimePtr(testNow.Add(-time.Hour))
			u.Balances = models.Balances{models.PoolTestCase: 5, models.PoolUserStory: 2}
		}),
		newUser("running", func(u *models.User) {
			u.HasUsedTrial = true
			u.TrialEndDate = models.TimePtr(testNow.Add(days(2)))
			u.Balances = models.Balances{models.PoolTestCase: 5, models.PoolUserStory: 2}
		}),
	)

	n, err := newSweeper(store, new(MockNotifier), Options{}).ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ended := get(t, store, "ended")
	assert.Nil(t, ended.TrialEndDate)
	assert.True(t, ended.HasUsedTrial)
	assert.False(t, ended.Balances.Positive())

	txs, err := store.ListTransactions(ctx, models.TransactionFilter{UserID: "ended", Source: models.SourceTrial, Kind: models.KindReset})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	assert.Equal(t, 5, get(t, store, "running").Balances.Get(models.PoolTestCase))
}

func TestExpireBenefits(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, newUser("cancelled", func(u *models.User) {
		u.IsBlocked = true
		u.SubscriptionRef = "sub_1"
		u.BenefitsEndDate = models.TimePtr(testNow.Add(-time.Minute))
		u.Balances = models.Balances{models.PoolTestCase: 0, models.PoolUserStory: 9}
	}))

	n, err := newSweeper(store, new(MockNotifier), Options{}).ExpireBenefits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u := get(t, store, "cancelled")
	assert.False(t, u.IsBlocked)
	assert.Empty(t, u.SubscriptionRef)
	assert.Nil(t, u.BenefitsEndDate)
	assert.Equal(t, 0, u.Balances.Get(models.PoolUserStory))

	txs, err := store.ListTransactions(ctx, models.TransactionFilter{UserID: "cancelled"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.SourceCancelSubscription, txs[0].Source)
	assert.Equal(t, "sub_1", txs[0].SubscriptionRef)
	assert.Equal(t, -9, txs[0].Value)
}

func TestSendWarnings(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store,
		newUser("trial", func(u *models.User) {
			u.TrialEndDate = models.TimePtr(testNow.Add(days(3) + 2*time.Hour))
		}),
		newUser("trial-later", func(u *models.User) {
			u.TrialEndDate = models.TimePtr(testNow.Add(days(4) + time.Hour))
		}),
		newUser("benefits", func(u *models.User) {
			u.IsBlocked = true
			u.BenefitsEndDate = models.TimePtr(testNow.Add(days(7)))
		}),
	)

	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, models.NotifyTrialExpiry, "trial@example.com",
		map[string]string{models.ParamDaysRemaining: "3"}).Return(true).Once()
	notifier.On("Notify", mock.Anything, models.NotifyBenefitsExpiring, "benefits@example.com",
		map[string]string{models.ParamDaysRemaining: "7"}).Return(false).Once()

	s := newSweeper(store, notifier, OptionsFromConfig(config.Scheduler{TrialWarningDays: 3, BenefitsWarningDays: 7}))
	trials, benefits, err := s.SendWarnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, trials)
	assert.Equal(t, 0, benefits)
	notifier.AssertExpectations(t)
}

func TestRun_Report(t *testing.T) {
	store := memory.New()
	seed(t, store,
		newUser("lapsed", func(u *models.User) {
			u.ValidityExpiration = models.TimePtr(testNow.Add(-time.Hour))
		}),
		newUser("trial", func(u *models.User) {
			u.TrialEndDate = models.TimePtr(testNow.Add(-time.Hour))
			u.Balances = models.Balances{models.PoolTestCase: 1, models.PoolUserStory: 1}
		}),
	)
	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, models.NotifyPaymentBlocked, "lapsed@example.com", mock.Anything).Return(true).Once()

	report, err := newSweeper(store, notifier, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{NewlyBlocked: 1, TrialsExpired: 1}, report)
}
