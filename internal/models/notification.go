package models

import "time"

// NotificationKind - тип письма пользователю.
type NotificationKind string

const (
	NotifyTrialExpiry           NotificationKind = "trial_expiry"
	NotifyPaymentBlocked        NotificationKind = "payment_blocked"
	NotifySubscriptionCancelled NotificationKind = "subscription_cancelled"
	NotifyBenefitsExpiring      NotificationKind = "benefits_expiring"
	NotifyPaymentSuccess        NotificationKind = "payment_success"
)

// NotificationKinds перечисляет все поддерживаемые типы писем.
var NotificationKinds = []NotificationKind{
	NotifyTrialExpiry,
	NotifyPaymentBlocked,
	NotifySubscriptionCancelled,
	NotifyBenefitsExpiring,
	NotifyPaymentSuccess,
}

// ParseNotificationKind проверяет строку на принадлежность к известным типам.
func ParseNotificationKind(s string) (NotificationKind, bool) {
	for _, k := range NotificationKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Параметры уведомлений.
const (
	ParamDaysRemaining   = "days_remaining"
	ParamDueDate         = "due_date"
	ParamBenefitsEndDate = "benefits_end_date"
	ParamPlanName        = "plan_name"
	ParamAmount          = "amount"
)

// DateLayout - формат дат в параметрах уведомлений.
const DateLayout = "January 02, 2006"

// Notification - сообщение, которое публикуется в очередь и отправляется
// сервисом рассылки.
type Notification struct {
	Kind      NotificationKind  `json:"kind"`
	Recipient string            `json:"recipient"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
