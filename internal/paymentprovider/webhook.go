package paymentprovider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// ref - поле Stripe, которое приходит либо идентификатором, либо
// раскрытым объектом с полем id.
type ref string

func (r *ref) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = ref(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = ref(obj.ID)
	return nil
}

type checkoutObject struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        ref    `json:"customer"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type invoiceObject struct {
	ID            string `json:"id"`
	Customer      ref    `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  ref    `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription ref `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionRef учитывает оба места, где новые версии API хранят подписку.
func (i invoiceObject) subscriptionRef() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

type subscriptionObject struct {
	ID       string `json:"id"`
	Customer ref    `json:"customer"`
}

// ParseWebhook проверяет подпись и приводит событие к models.ProviderEvent.
// Для неизвестных типов заполняются только ID и Type.
func ParseWebhook(payload []byte, signature, secret string) (models.ProviderEvent, error) {
	const op = "paymentprovider.ParseWebhook"

	if strings.TrimSpace(signature) == "" || secret == "" {
		return models.ProviderEvent{}, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return models.ProviderEvent{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}

	out := models.ProviderEvent{ID: event.ID, Type: models.EventType(event.Type)}
	if event.Data == nil {
		return out, nil
	}
	raw := event.Data.Raw

	switch out.Type {
	case models.EventCheckoutCompleted:
		var obj checkoutObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return models.ProviderEvent{}, fmt.Errorf("%s: decode checkout session: %w", op, err)
		}
		email := obj.CustomerEmail
		if obj.CustomerDetails != nil && obj.CustomerDetails.Email != "" {
			email = obj.CustomerDetails.Email
		}
		out.Checkout = &models.CheckoutCompleted{
			SessionID:     obj.ID,
			Mode:          obj.Mode,
			CustomerRef:   string(obj.Customer),
			CustomerEmail: email,
		}
	case models.EventInvoicePaid:
		var obj invoiceObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return models.ProviderEvent{}, fmt.Errorf("%s: decode invoice: %w", op, err)
		}
		out.Invoice = &models.InvoicePaid{
			InvoiceID:       obj.ID,
			CustomerRef:     string(obj.Customer),
			CustomerEmail:   obj.CustomerEmail,
			SubscriptionRef: obj.subscriptionRef(),
			BillingReason:   obj.BillingReason,
			AmountPaid:      obj.AmountPaid,
			Currency:        obj.Currency,
		}
	case models.EventSubscriptionDeleted:
		var obj subscriptionObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return models.ProviderEvent{}, fmt.Errorf("%s: decode subscription: %w", op, err)
		}
		out.Subscription = &models.SubscriptionDeleted{
			SubscriptionRef: obj.ID,
			CustomerRef:     string(obj.Customer),
		}
	}
	return out, nil
}

// ParseWebhook проверяет подпись секретом из настроек.
func (c *Client) ParseWebhook(payload []byte, signature string) (models.ProviderEvent, error) {
	return ParseWebhook(payload, signature, c.webhookSecret)
}
