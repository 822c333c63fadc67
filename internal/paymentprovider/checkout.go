package paymentprovider

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
)

// Режимы оформления заказа.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// CheckoutLine - строка заказа: цена и количество.
type CheckoutLine struct {
	PriceRef string
	Quantity int64
}

// CheckoutRequest - параметры создания сессии оформления.
type CheckoutRequest struct {
	CustomerRef string
	Mode        string
	Lines       []CheckoutLine
	Metadata    map[string]string
}

// Session - созданная сессия оформления.
type Session struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// CreateCheckoutSession создаёт сессию оформления заказа.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	const op = "paymentprovider.CreateCheckoutSession"

	lines := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, &stripe.CheckoutSessionCreateLineItemParams{
			Price:    stripe.String(l.PriceRef),
			Quantity: stripe.Int64(l.Quantity),
		})
	}

	params := &stripe.CheckoutSessionCreateParams{
		Customer:            stripe.String(req.CustomerRef),
		PaymentMethodTypes:  stripe.StringSlice([]string{"card"}),
		LineItems:           lines,
		Mode:                stripe.String(req.Mode),
		Currency:            stripe.String(c.currency),
		SuccessURL:          stripe.String(c.successURL),
		CancelURL:           stripe.String(c.cancelURL),
		AllowPromotionCodes: stripe.Bool(true),
	}
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}

	s, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return Session{}, wrap(op, err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

// CheckoutLineItems возвращает оплаченные позиции сессии с разобранными
// продуктами.
func (c *Client) CheckoutLineItems(ctx context.Context, sessionID string) ([]catalog.LineItem, error) {
	const op = "paymentprovider.CheckoutLineItems"

	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.AddExpand("data.price.product")

	var items []catalog.LineItem
	for li, err := range c.sc.V1CheckoutSessions.ListLineItems(ctx, params) {
		if err != nil {
			return nil, wrap(op, err)
		}
		if li.Price == nil {
			return nil, fmt.Errorf("%s: line item %s without price", op, li.ID)
		}
		product := li.Price.Product
		if product == nil || product.Metadata == nil {
			productRef := ""
			if product != nil {
				productRef = product.ID
			}
			if product, err = c.sc.V1Products.Retrieve(ctx, productRef, nil); err != nil {
				return nil, wrap(op, err)
			}
		}
		item, err := toItem(product)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		item.Price = toPrice(li.Price)
		items = append(items, catalog.LineItem{Item: item, Quantity: int(li.Quantity)})
	}
	return items, nil
}
