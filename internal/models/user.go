package models

import "time"

// User - агрегат покупателя: балансы кредитов, ссылки на сущности
// провайдера и даты жизненного цикла.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Balances            Balances   `json:"balances"`
	CustomerRef         string     `json:"customer_ref,omitempty"`
	SubscriptionRef     string     `json:"subscription_ref,omitempty"`
	HasUsedTrial        bool       `json:"has_used_trial"`
	TrialEndDate        *time.Time `json:"trial_end_date,omitempty"`
	ValidityExpiration  *time.Time `json:"validity_expiration,omitempty"`
	CreditCleanupDate   *time.Time `json:"credit_cleanup_date,omitempty"`
	AccountDeletionDate *time.Time `json:"account_deletion_date,omitempty"`
	BenefitsEndDate     *time.Time `json:"benefits_end_date,omitempty"`
	IsBlocked           bool       `json:"is_blocked"`
	IsDeleted           bool       `json:"is_deleted"`
	CreatedAt           time.Time  `json:"created_at"`
}

// NewUser создаёт пользователя с нулевыми балансами.
func NewUser(id, email string, now time.Time) *User {
	return &User{
		ID:        id,
		Email:     email,
		Balances:  NewBalances(),
		CreatedAt: now,
	}
}

// Unblock снимает блокировку вместе с датами очистки и удаления. Льготный
// период после отмены подписки тоже закрывается: без блокировки плановый
// проход его уже не подберёт. Удалённого пользователя не трогает.
// Возвращает true, если что-то изменилось.
func (u *User) Unblock() bool {
	if !u.IsBlocked || u.IsDeleted {
		return false
	}
	u.IsBlocked = false
	u.CreditCleanupDate = nil
	u.AccountDeletionDate = nil
	u.BenefitsEndDate = nil
	return true
}

// MarkDeleted переводит пользователя в терминальное состояние.
func (u *User) MarkDeleted() {
	u.IsDeleted = true
	u.IsBlocked = true
}

// HasActiveTrial сообщает, что пробный период выдан и ещё не снят.
func (u *User) HasActiveTrial() bool {
	return u.HasUsedTrial && u.TrialEndDate != nil
}

// Clone возвращает глубокую копию пользователя.
func (u *User) Clone() *User {
	c := *u
	c.Balances = u.Balances.Clone()
	c.TrialEndDate = cloneTime(u.TrialEndDate)
	c.ValidityExpiration = cloneTime(u.ValidityExpiration)
	c.CreditCleanupDate = cloneTime(u.CreditCleanupDate)
	c.AccountDeletionDate = cloneTime(u.AccountDeletionDate)
	c.BenefitsEndDate = cloneTime(u.BenefitsEndDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr возвращает указатель на t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
