// Package transactions отдаёт журнал кредитов пользователя вместе со
// снимком его состояния и сводкой по пулам.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Store - чтение пользователя и журнала.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
}

// Query - параметры запроса. Пустые фильтры не применяются.
type Query struct {
	UserID  string
	Type    string
	Source  string
	Primary string
}

// UserSnapshot - текущее состояние пользователя.
type UserSnapshot struct {
	Email                string     `json:"email"`
	CurrentTestCase      int        `json:"current_test_case"`
	CurrentUserStory     int        `json:"current_user_story"`
	ValidityExpiration   *time.Time `json:"validity_expiration"`
	HasUsedTrial         bool       `json:"has_used_trial"`
	TrialEndDate         *time.Time `json:"trial_end_date"`
	IsSubscriptionActive bool       `json:"is_subscription_active"`
	SubscriptionID       string     `json:"subscription_id,omitempty"`
	IsBlocked            bool       `json:"is_blocked"`
}

// Summary - сумма значений по пулу и типу движения.
type Summary map[models.Pool]map[models.Kind]int

// Filters - применённые фильтры.
type Filters struct {
	Type    string `json:"type,omitempty"`
	Source  string `json:"source,omitempty"`
	Primary string `json:"primary,omitempty"`
}

// Result - ответ запроса журнала.
type Result struct {
	User         UserSnapshot         `json:"user"`
	Transactions []models.Transaction `json:"transactions"`
	Summary      Summary              `json:"summary"`
	Filters      Filters              `json:"filters"`
	TotalCount   int                  `json:"total_count"`
}

// Service читает журнал.
type Service struct {
	store Store
}

// New создаёт сервис журнала.
func New(store Store) *Service {
	return &Service{store: store}
}

// List возвращает журнал пользователя от новых записей к старым.
func (s *Service) List(ctx context.Context, q Query) (Result, error) {
	const op = "transactions.List"

	filter, err := parseQuery(op, q)
	if err != nil {
		return Result{}, err
	}

	user, err := s.store.GetUser(ctx, filter.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{}, apperr.NotFound(op, "User not found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	txs, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}

	return Result{
		User:         snapshot(user),
		Transactions: txs,
		Summary:      Summarize(txs),
		Filters:      Filters{Type: q.Type, Source: q.Source, Primary: q.Primary},
		TotalCount:   len(txs),
	}, nil
}

func parseQuery(op string, q Query) (models.TransactionFilter, error) {
	userID := strings.TrimSpace(q.UserID)
	if userID == "" {
		return models.TransactionFilter{}, apperr.Validation(op, "user_id is required")
	}
	if err := uuid.Validate(userID); err != nil {
		return models.TransactionFilter{}, apperr.Validation(op, "user_id must be a UUID")
	}

	filter := models.TransactionFilter{UserID: userID}
	if q.Type != "" {
		kind := models.Kind(q.Type)
		if !lo.Contains(models.Kinds, kind) {
			return models.TransactionFilter{}, apperr.Validation(op, fmt.Sprintf("invalid type %q", q.Type))
		}
		filter.Kind = kind
	}
	if q.Source != "" {
		source := models.Source(q.Source)
		if !lo.Contains(models.Sources, source) {
			return models.TransactionFilter{}, apperr.Validation(op, fmt.Sprintf("invalid source %q", q.Source))
		}
		filter.Source = source
	}
	if q.Primary != "" {
		pool, ok := models.ParsePool(q.Primary)
		if !ok {
			return models.TransactionFilter{}, apperr.Validation(op, fmt.Sprintf("invalid primary %q", q.Primary))
		}
		filter.Pool = pool
	}
	return filter, nil
}

func snapshot(u *models.User) UserSnapshot {
	return UserSnapshot{
		Email:                u.Email,
		CurrentTestCase:      u.Balances.Get(models.PoolTestCase),
		CurrentUserStory:     u.Balances.Get(models.PoolUserStory),
		ValidityExpiration:   u.ValidityExpiration,
		HasUsedTrial:         u.HasUsedTrial,
		TrialEndDate:         u.TrialEndDate,
		IsSubscriptionActive: u.SubscriptionRef != "",
		SubscriptionID:       u.SubscriptionRef,
		IsBlocked:            u.IsBlocked,
	}
}

// Summarize складывает значения транзакций по пулу и типу движения.
// Каждый пул и тип присутствуют в сводке, даже если записей нет.
func Summarize(txs []models.Transaction) Summary {
	byPool := lo.GroupBy(txs, func(t models.Transaction) models.Pool { return t.Pool })

	summary := make(Summary, len(models.Pools))
	for _, p := range models.Pools {
		byKind := lo.GroupBy(byPool[p], func(t models.Transaction) models.Kind { return t.Kind })
		summary[p] = make(map[models.Kind]int, len(models.Kinds))
		for _, k := range models.Kinds {
			summary[p][k] = lo.SumBy(byKind[k], func(t models.Transaction) int { return t.Value })
		}
	}
	return summary
}
