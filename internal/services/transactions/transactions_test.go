package transactions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
	"github.com/magabrotheeeer/billing-reconciler/internal/storage/memory"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func seedLedger(t *testing.T) (*memory.Storage, string) {
	t.Helper()
	store := memory.New()
	id := uuid.NewString()

	err := store.Atomic(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		u := models.NewUser(id, "buyer@example.com", base)
		u.Balances = models.Balances{models.PoolTestCase: 12, models.PoolUserStory: 2}
		u.HasUsedTrial = true
		u.SubscriptionRef = "sub_1"
		u.ValidityExpiration = models.TimePtr(base.AddDate(0, 0, 90))
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		return tx.AppendTransactions(ctx,
			models.Transaction{UserID: id, Pool: models.PoolTestCase, Source: models.SourceTrial, Kind: models.KindReceived, Value: 5, CreatedAt: base},
			models.Transaction{UserID: id, Pool: models.PoolUserStory, Source: models.SourceTrial, Kind: models.KindReceived, Value: 2, CreatedAt: base},
			models.Transaction{UserID: id, Pool: models.PoolTestCase, Source: models.SourceTrial, Kind: models.KindReset, Value: -5, CreatedAt: base.Add(time.Hour)},
			models.Transaction{UserID: id, Pool: models.PoolTestCase, Source: models.SourceSubscription, Kind: models.KindReceived, Value: 20, SubscriptionRef: "sub_1", CreatedAt: base.Add(2 * time.Hour)},
			models.Transaction{UserID: id, Pool: models.PoolTestCase, Source: models.SourceSubscription, Kind: models.KindUsed, Value: -8, CreatedAt: base.Add(3 * time.Hour)},
		)
	})
	require.NoError(t, err)
	return store, id
}

func TestList(t *testing.T) {
	store, id := seedLedger(t)
	svc := New(store)

	res, err := svc.List(context.Background(), Query{UserID: id})
	require.NoError(t, err)

	assert.Equal(t, 5, res.TotalCount)
	require.Len(t, res.Transactions, 5)
	assert.Equal(t, models.KindUsed, res.Transactions[0].Kind)
	for i := 1; i < len(res.Transactions); i++ {
		assert.False(t, res.Transactions[i].CreatedAt.After(res.Transactions[i-1].CreatedAt))
	}

	assert.Equal(t, "buyer@example.com", res.User.Email)
	assert.Equal(t, 12, res.User.CurrentTestCase)
	assert.Equal(t, 2, res.User.CurrentUserStory)
	assert.True(t, res.User.IsSubscriptionActive)
	assert.Equal(t, "sub_1", res.User.SubscriptionID)

	assert.Equal(t, 25, res.Summary[models.PoolTestCase][models.KindReceived])
	assert.Equal(t, -8, res.Summary[models.PoolTestCase][models.KindUsed])
	assert.Equal(t, -5, res.Summary[models.PoolTestCase][models.KindReset])
	assert.Equal(t, 2, res.Summary[models.PoolUserStory][models.KindReceived])
	assert.Equal(t, 0, res.Summary[models.PoolUserStory][models.KindUsed])
}

// Сумма всех движений по пулу совпадает с текущим балансом.
func TestList_SummaryMatchesBalances(t *testing.T) {
	store, id := seedLedger(t)

	res, err := New(store).List(context.Background(), Query{UserID: id})
	require.NoError(t, err)

	for _, p := range models.Pools {
		total := 0
		for _, k := range models.Kinds {
			total += res.Summary[p][k]
		}
		want := map[models.Pool]int{models.PoolTestCase: res.User.CurrentTestCase, models.PoolUserStory: res.User.CurrentUserStory}[p]
		assert.Equal(t, want, total, "pool %s", p)
	}
}

func TestList_Filters(t *testing.T) {
	store, id := seedLedger(t)
	svc := New(store)
	ctx := context.Background()

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{name: "by type", query: Query{UserID: id, Type: "received"}, want: 3},
		{name: "by source", query: Query{UserID: id, Source: "trial"}, want: 3},
		{name: "by primary", query: Query{UserID: id, Primary: "user_story"}, want: 1},
		{name: "combined", query: Query{UserID: id, Type: "reset", Source: "trial", Primary: "test_case"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.List(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.TotalCount)
			assert.Equal(t, Filters{Type: tt.query.Type, Source: tt.query.Source, Primary: tt.query.Primary}, res.Filters)
		})
	}
}

func TestList_Errors(t *testing.T) {
	store, id := seedLedger(t)
	svc := New(store)
	ctx := context.Background()

	tests := []struct {
		name     string
		query    Query
		wantKind apperr.Kind
	}{
		{name: "missing user id", query: Query{}, wantKind: apperr.KindValidation},
		{name: "malformed user id", query: Query{UserID: "user-1"}, wantKind: apperr.KindValidation},
		{name: "bad type", query: Query{UserID: id, Type: "refund"}, wantKind: apperr.KindValidation},
		{name: "bad source", query: Query{UserID: id, Source: "gift"}, wantKind: apperr.KindValidation},
		{name: "bad primary", query: Query{UserID: id, Primary: "epic"}, wantKind: apperr.KindValidation},
		{name: "unknown user", query: Query{UserID: uuid.NewString()}, wantKind: apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.List(ctx, tt.query)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *MockStore) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	args := m.Called(ctx, filter)
	txs, _ := args.Get(0).([]models.Transaction)
	return txs, args.Error(1)
}

func TestList_StoreFailure(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	store := new(MockStore)
	store.On("GetUser", ctx, id).Return(models.NewUser(id, "a@example.com", base), nil)
	store.On("ListTransactions", ctx, models.TransactionFilter{UserID: id}).Return(nil, errors.New("connection reset"))

	_, err := New(store).List(ctx, Query{UserID: id})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestList_EmptyLedger(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	store := new(MockStore)
	store.On("GetUser", ctx, id).Return(models.NewUser(id, "a@example.com", base), nil)
	store.On("ListTransactions", ctx, models.TransactionFilter{UserID: id}).Return(nil, nil)

	res, err := New(store).List(ctx, Query{UserID: id})
	require.NoError(t, err)
	assert.NotNil(t, res.Transactions)
	assert.Zero(t, res.TotalCount)
	assert.Len(t, res.Summary, len(models.Pools))
}
