package paymentprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/entitlement"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// toPrice переводит цену Stripe в catalog.Price.
func toPrice(p *stripe.Price) catalog.Price {
	if p == nil {
		return catalog.Price{}
	}
	price := catalog.Price{
		ID:         p.ID,
		UnitAmount: p.UnitAmount,
		DivideBy:   1,
		Currency:   strings.ToLower(string(p.Currency)),
	}
	if p.TransformQuantity != nil && p.TransformQuantity.DivideBy > 0 {
		price.DivideBy = p.TransformQuantity.DivideBy
	}
	return price
}

// toItem разбирает продукт Stripe. Ошибка метаданных оборачивает
// catalog.ErrInvalidMetadata.
func toItem(p *stripe.Product) (catalog.Item, error) {
	if p == nil {
		return catalog.Item{}, fmt.Errorf("empty product: %w", catalog.ErrInvalidMetadata)
	}
	item, err := catalog.Parse(p.ID, p.Metadata)
	if err != nil {
		return catalog.Item{}, err
	}
	item.Name = p.Name
	item.Description = p.Description
	item.Active = p.Active
	return item, nil
}

// ActivePrice возвращает первую активную цену продукта.
func (c *Client) ActivePrice(ctx context.Context, productRef string) (catalog.Price, error) {
	const op = "paymentprovider.ActivePrice"
	params := &stripe.PriceListParams{
		Product: stripe.String(productRef),
		Active:  stripe.Bool(true),
	}
	params.Limit = stripe.Int64(1)
	for p, err := range c.sc.V1Prices.List(ctx, params) {
		if err != nil {
			return catalog.Price{}, wrap(op, err)
		}
		return toPrice(p), nil
	}
	return catalog.Price{}, fmt.Errorf("%s: %s: %w", op, productRef, ErrNoActivePrice)
}

// ListPurchasableItems возвращает активные пакеты и, если includeTrials,
// пробные планы вместе с их первой активной ценой. Продукты с
// некорректными метаданными пропускаются.
func (c *Client) ListPurchasableItems(ctx context.Context, includeTrials bool) ([]catalog.Item, error) {
	const op = "paymentprovider.ListPurchasableItems"

	params := &stripe.ProductListParams{Active: stripe.Bool(true)}
	params.Limit = stripe.Int64(100)

	var items []catalog.Item
	for p, err := range c.sc.V1Products.List(ctx, params) {
		if err != nil {
			return nil, wrap(op, err)
		}
		if !p.Active || !purchasable(p.Metadata[catalog.MetaType]) {
			continue
		}
		item, err := toItem(p)
		if err != nil {
			c.log.Warn("skipping product with invalid metadata",
				"product_id", p.ID, sl.Err(err))
			continue
		}
		if item.IsTrial() && !includeTrials {
			continue
		}
		price, err := c.ActivePrice(ctx, p.ID)
		if errors.Is(err, ErrNoActivePrice) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		item.Price = price
		items = append(items, item)
	}
	return items, nil
}

func purchasable(kind string) bool {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case string(catalog.TypeBundle), string(catalog.TypeTrial):
		return true
	default:
		return false
	}
}

// GetItem возвращает продукт по идентификатору вместе с активной ценой.
func (c *Client) GetItem(ctx context.Context, productRef string) (catalog.Item, error) {
	const op = "paymentprovider.GetItem"

	p, err := c.sc.V1Products.Retrieve(ctx, productRef, nil)
	if err != nil {
		return catalog.Item{}, wrap(op, err)
	}
	item, err := toItem(p)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	price, err := c.ActivePrice(ctx, productRef)
	if err != nil && !errors.Is(err, ErrNoActivePrice) {
		return catalog.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	item.Price = price
	return item, nil
}

// ResolvePrice возвращает позицию каталога, к которой относится цена.
func (c *Client) ResolvePrice(ctx context.Context, priceRef string) (catalog.Item, error) {
	const op = "paymentprovider.ResolvePrice"

	params := &stripe.PriceRetrieveParams{}
	params.AddExpand("product")
	p, err := c.sc.V1Prices.Retrieve(ctx, priceRef, params)
	if err != nil {
		return catalog.Item{}, wrap(op, err)
	}
	item, err := toItem(p.Product)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	item.Price = toPrice(p)
	return item, nil
}

// FindSubscriptionProduct ищет активный подписочный продукт с теми же
// количествами кредитов.
func (c *Client) FindSubscriptionProduct(ctx context.Context, quantities models.Balances) (catalog.Item, bool, error) {
	const op = "paymentprovider.FindSubscriptionProduct"

	params := &stripe.ProductListParams{Active: stripe.Bool(true)}
	params.Limit = stripe.Int64(100)
	for p, err := range c.sc.V1Products.List(ctx, params) {
		if err != nil {
			return catalog.Item{}, false, wrap(op, err)
		}
		if !strings.EqualFold(p.Metadata[catalog.MetaType], string(catalog.TypeSubscription)) {
			continue
		}
		item, err := toItem(p)
		if err != nil {
			continue
		}
		if entitlement.MatchesSubscription(item, quantities) {
			return item, true, nil
		}
	}
	return catalog.Item{}, false, nil
}

// CreateSubscriptionProduct создаёт подписочный продукт и его
// ежеквартальную цену amount в валюте currency.
func (c *Client) CreateSubscriptionProduct(ctx context.Context, quantities models.Balances,
	amount int64, currency string) (catalog.Item, error) {
	const op = "paymentprovider.CreateSubscriptionProduct"

	p, err := c.sc.V1Products.Create(ctx, &stripe.ProductCreateParams{
		Name:     stripe.String(entitlement.SubscriptionProductName(quantities)),
		Metadata: catalog.Metadata(quantities),
	})
	if err != nil {
		return catalog.Item{}, wrap(op, err)
	}
	price, err := c.sc.V1Prices.Create(ctx, &stripe.PriceCreateParams{
		Product:    stripe.String(p.ID),
		UnitAmount: stripe.Int64(amount),
		Currency:   stripe.String(strings.ToLower(currency)),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval:      stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			IntervalCount: stripe.Int64(3),
		},
	})
	if err != nil {
		return catalog.Item{}, wrap(op, err)
	}

	item, err := toItem(p)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	item.Price = toPrice(price)
	return item, nil
}
