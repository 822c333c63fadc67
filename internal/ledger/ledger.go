// Package ledger описывает контракт хранилища журнала: атомарная единица
// работы над пользователем и его транзакциями, блокировка строк
// пользователя на время сверки и предикаты плановых проходов.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

var (
	// ErrNotFound - пользователь не найден.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists - нарушена уникальность (email, ссылки провайдера).
	ErrAlreadyExists = errors.New("already exists")
)

// Store - хранилище журнала.
type Store interface {
	// Atomic выполняет fn в одной транзакции: фиксирует при nil,
	// откатывает при ошибке или панике.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// ListTransactions возвращает записи от новых к старым.
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
}

// Tx - операции внутри единицы работы. Методы чтения пользователя
// блокируют его строку до конца транзакции.
type Tx interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByCustomerRef(ctx context.Context, customerRef string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	SaveUser(ctx context.Context, user *models.User) error
	AppendTransactions(ctx context.Context, txs ...models.Transaction) error
	HasTransaction(ctx context.Context, q TransactionQuery) (bool, error)
	SumTransactions(ctx context.Context, q TransactionQuery) (models.Balances, error)
	UsersDue(ctx context.Context, c Criteria) ([]*models.User, error)
}

// TransactionQuery выбирает транзакции пользователя по источнику и типу.
// Пустой SubscriptionRef не фильтрует.
type TransactionQuery struct {
	UserID          string
	Source          models.Source
	Kind            models.Kind
	SubscriptionRef string
}

// Match проверяет транзакцию на соответствие запросу.
func (q TransactionQuery) Match(t models.Transaction) bool {
	if t.UserID != q.UserID || t.Source != q.Source || t.Kind != q.Kind {
		return false
	}
	return q.SubscriptionRef == "" || t.SubscriptionRef == q.SubscriptionRef
}

// CheckBalances проверяет, что ни один пул не ушёл в минус к моменту фиксации.
func CheckBalances(op string, user *models.User) error {
	negative := user.Balances.Negative()
	if len(negative) == 0 {
		return nil
	}
	names := make([]string, 0, len(negative))
	for _, p := range negative {
		names = append(names, fmt.Sprintf("%s=%d", p, user.Balances.Get(p)))
	}
	return apperr.Invariant(op, fmt.Sprintf("negative balance for user %s: %s", user.ID, strings.Join(names, ", ")))
}
