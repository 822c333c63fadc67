package models

import "time"

// Source - происхождение движения кредитов.
type Source string

const (
	SourceSubscription       Source = "subscription"
	SourceBundle             Source = "bundle"
	SourceTrial              Source = "trial"
	SourceSystem             Source = "system"
	SourceCancelSubscription Source = "cancel_subscription"
)

// Sources перечисляет допустимые значения Source.
var Sources = []Source{SourceSubscription, SourceBundle, SourceTrial, SourceSystem, SourceCancelSubscription}

// Kind - тип движения кредитов.
type Kind string

const (
	KindReceived Kind = "received"
	KindUsed     Kind = "used"
	KindReset    Kind = "reset"
)

// Kinds перечисляет допустимые значения Kind.
var Kinds = []Kind{KindReceived, KindUsed, KindReset}

// Transaction - неизменяемая запись журнала. Создаётся только вместе
// с изменением пользователя, которое она объясняет.
type Transaction struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Pool            Pool      `json:"primary_type"`
	Source          Source    `json:"source_type"`
	Kind            Kind      `json:"transaction_type"`
	Value           int       `json:"value"`
	SubscriptionRef string    `json:"subscription_id,omitempty"`
	PaymentRef      string    `json:"payment_id,omitempty"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
}

// TransactionFilter задаёт выборку журнала. Пустые поля не фильтруют.
type TransactionFilter struct {
	UserID string
	Kind   Kind
	Source Source
	Pool   Pool
}

// Match проверяет транзакцию на соответствие фильтру.
func (f TransactionFilter) Match(t Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.Pool != "" && t.Pool != f.Pool {
		return false
	}
	return true
}
