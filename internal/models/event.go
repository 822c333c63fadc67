package models

// EventType - вид события платёжного провайдера.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventInvoicePaid         EventType = "invoice.paid"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
)

// Значения billing_reason счёта, влияющие на сверку.
const (
	BillingReasonCycle  = "subscription_cycle"
	BillingReasonCreate = "subscription_create"
)

// CheckoutModePayment - разовая оплата.
const CheckoutModePayment = "payment"

// ProviderEvent - проверенное событие провайдера, приведённое к доменным типам.
// Заполнено ровно одно из полей Checkout, Invoice, Subscription.
type ProviderEvent struct {
	ID           string
	Type         EventType
	Checkout     *CheckoutCompleted
	Invoice      *InvoicePaid
	Subscription *SubscriptionDeleted
}

// CheckoutCompleted - завершённая сессия оплаты.
type CheckoutCompleted struct {
	SessionID     string
	Mode          string
	CustomerRef   string
	CustomerEmail string
}

// InvoicePaid - оплаченный счёт подписки.
type InvoicePaid struct {
	InvoiceID       string
	CustomerRef     string
	CustomerEmail   string
	SubscriptionRef string
	BillingReason   string
	AmountPaid      int64
	Currency        string
}

// SubscriptionDeleted - отменённая подписка.
type SubscriptionDeleted struct {
	SubscriptionRef string
	CustomerRef     string
}
