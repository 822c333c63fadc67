// Package memory реализует ledger.Store в памяти процесса. Единицы работы
// сериализуются мьютексом и работают над копиями данных: изменения
// применяются только при успешной фиксации.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Storage - хранилище журнала в памяти.
type Storage struct {
	mu     sync.Mutex
	users  map[string]*models.User
	txs    []models.Transaction
	nextID int64
	now    func() time.Time
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users: make(map[string]*models.User),
		now:   time.Now,
	}
}

// Atomic выполняет fn над копией состояния и применяет её, если fn вернула nil.
func (s *Storage) Atomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	const op = "memory.Atomic"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[string]*models.User, len(s.users))
	for id, u := range s.users {
		users[id] = u.Clone()
	}
	tx := &memTx{store: s, users: users, nextID: s.nextID}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.users = tx.users
	s.txs = append(s.txs, tx.appended...)
	s.nextID = tx.nextID
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "memory.GetUser"
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
	}
	return u.Clone(), nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "memory.GetUserByEmail"
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
}

// ListTransactions возвращает транзакции по фильтру от новых к старым.
func (s *Storage) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for _, t := range s.txs {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

type memTx struct {
	store    *Storage
	users    map[string]*models.User
	appended []models.Transaction
	nextID   int64
}

func (t *memTx) UserByEmail(_ context.Context, email string) (*models.User, error) {
	const op = "memory.UserByEmail"
	for _, u := range t.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
}

func (t *memTx) UserByCustomerRef(_ context.Context, customerRef string) (*models.User, error) {
	const op = "memory.UserByCustomerRef"
	if customerRef == "" {
		return nil, fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
	}
	for _, u := range t.users {
		if u.CustomerRef == customerRef {
			return u.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
}

func (t *memTx) CreateUser(_ context.Context, user *models.User) error {
	const op = "memory.CreateUser"
	if user.ID == "" {
		return fmt.Errorf("%s: empty user id", op)
	}
	if err := t.checkUnique(user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := t.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, ledger.ErrAlreadyExists)
	}
	if user.Balances == nil {
		user.Balances = models.NewBalances()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = t.store.now()
	}
	t.users[user.ID] = user.Clone()
	return nil
}

func (t *memTx) SaveUser(_ context.Context, user *models.User) error {
	const op = "memory.SaveUser"
	if _, ok := t.users[user.ID]; !ok {
		return fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
	}
	if err := t.checkUnique(user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	t.users[user.ID] = user.Clone()
	return nil
}

func (t *memTx) checkUnique(user *models.User) error {
	for id, u := range t.users {
		if id == user.ID {
			continue
		}
		if u.Email == user.Email ||
			(user.CustomerRef != "" && u.CustomerRef == user.CustomerRef) ||
			(user.SubscriptionRef != "" && u.SubscriptionRef == user.SubscriptionRef) {
			return ledger.ErrAlreadyExists
		}
	}
	return nil
}

func (t *memTx) AppendTransactions(_ context.Context, txs ...models.Transaction) error {
	const op = "memory.AppendTransactions"
	for _, tr := range txs {
		if _, ok := t.users[tr.UserID]; !ok {
			return fmt.Errorf("%s: user %s: %w", op, tr.UserID, ledger.ErrNotFound)
		}
		t.nextID++
		tr.ID = t.nextID
		if tr.CreatedAt.IsZero() {
			tr.CreatedAt = t.store.now()
		}
		t.appended = append(t.appended, tr)
	}
	return nil
}

func (t *memTx) all() []models.Transaction {
	out := make([]models.Transaction, 0, len(t.store.txs)+len(t.appended))
	out = append(out, t.store.txs...)
	return append(out, t.appended...)
}

func (t *memTx) HasTransaction(_ context.Context, q ledger.TransactionQuery) (bool, error) {
	for _, tr := range t.all() {
		if q.Match(tr) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) SumTransactions(_ context.Context, q ledger.TransactionQuery) (models.Balances, error) {
	sums := models.NewBalances()
	for _, tr := range t.all() {
		if q.Match(tr) {
			sums.Add(tr.Pool, tr.Value)
		}
	}
	return sums, nil
}

func (t *memTx) UsersDue(_ context.Context, c ledger.Criteria) ([]*models.User, error) {
	var out []*models.User
	for _, u := range t.users {
		if c.Matches(u) {
			out = append(out, u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) ||
			(out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}
