package paymentprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
)

// Subscription - состояние подписки у провайдера.
type Subscription struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	CurrentPeriodStart   time.Time         `json:"current_period_start"`
	CurrentPeriodEnd     time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd    bool              `json:"cancel_at_period_end"`
	DefaultPaymentMethod string            `json:"default_payment_method,omitempty"`
	Price                SubscriptionPrice `json:"price"`
}

// SubscriptionPrice - цена подписки в основных единицах валюты.
type SubscriptionPrice struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Interval      string          `json:"interval"`
	IntervalCount int64           `json:"interval_count"`
}

// CreateCustomer создаёт клиента провайдера и возвращает его идентификатор.
func (c *Client) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	const op = "paymentprovider.CreateCustomer"

	cus, err := c.sc.V1Customers.Create(ctx, &stripe.CustomerCreateParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{"user_id": userID},
	})
	if err != nil {
		return "", wrap(op, err)
	}
	return cus.ID, nil
}

// CustomerEmail возвращает email клиента провайдера.
func (c *Client) CustomerEmail(ctx context.Context, customerRef string) (string, error) {
	const op = "paymentprovider.CustomerEmail"

	cus, err := c.sc.V1Customers.Retrieve(ctx, customerRef, nil)
	if err != nil {
		return "", wrap(op, err)
	}
	return cus.Email, nil
}

func (c *Client) retrieveSubscription(ctx context.Context, op, ref string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionRetrieveParams{}
	params.AddExpand("items.data.price.product")
	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, ref, params)
	if err != nil {
		return nil, wrap(op, err)
	}
	return sub, nil
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

// RetrieveSubscription возвращает подписку. Если провайдер её не знает -
// ErrNotFound.
func (c *Client) RetrieveSubscription(ctx context.Context, ref string) (Subscription, error) {
	const op = "paymentprovider.RetrieveSubscription"

	sub, err := c.retrieveSubscription(ctx, op, ref)
	if err != nil {
		return Subscription{}, err
	}

	out := Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethod = sub.DefaultPaymentMethod.ID
	}
	if item := firstItem(sub); item != nil {
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		if item.Price != nil {
			out.Price = SubscriptionPrice{
				Amount:   decimal.New(item.Price.UnitAmount, -2),
				Currency: strings.ToUpper(string(item.Price.Currency)),
			}
			if item.Price.Recurring != nil {
				out.Price.Interval = string(item.Price.Recurring.Interval)
				out.Price.IntervalCount = item.Price.Recurring.IntervalCount
			}
		}
	}
	return out, nil
}

// SubscriptionItem возвращает подписочный продукт, на который оформлена
// подписка.
func (c *Client) SubscriptionItem(ctx context.Context, ref string) (catalog.Item, error) {
	const op = "paymentprovider.SubscriptionItem"

	sub, err := c.retrieveSubscription(ctx, op, ref)
	if err != nil {
		return catalog.Item{}, err
	}
	item := firstItem(sub)
	if item == nil || item.Price == nil {
		return catalog.Item{}, fmt.Errorf("%s: subscription %s has no items", op, ref)
	}

	product := item.Price.Product
	if product == nil || product.Metadata == nil {
		productRef := ""
		if product != nil {
			productRef = product.ID
		}
		if product, err = c.sc.V1Products.Retrieve(ctx, productRef, nil); err != nil {
			return catalog.Item{}, wrap(op, err)
		}
	}
	out, err := toItem(product)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	out.Price = toPrice(item.Price)
	return out, nil
}

// CreateBillingPortalSession создаёт сессию портала управления подпиской.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	const op = "paymentprovider.CreateBillingPortalSession"

	s, err := c.sc.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerRef),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", wrap(op, err)
	}
	return s.URL, nil
}
