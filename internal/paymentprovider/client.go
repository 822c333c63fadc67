// Package paymentprovider - адаптер Stripe. Наружу отдаются только
// типизированные позиции каталога (catalog.Item) и нейтральные события
// провайдера (models.ProviderEvent); объекты stripe-go дальше пакета
// не уходят.
package paymentprovider

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
)

var (
	// ErrNotFound - объект у провайдера не найден.
	ErrNotFound = errors.New("payment provider: resource not found")
	// ErrInvalidSignature - подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("payment provider: invalid webhook signature")
	// ErrNoActivePrice - у продукта нет активной цены.
	ErrNoActivePrice = errors.New("payment provider: product has no active price")
)

// Client обращается к API Stripe.
type Client struct {
	sc            *stripe.Client
	log           *slog.Logger
	currency      string
	successURL    string
	cancelURL     string
	webhookSecret string
}

// New создаёт клиента Stripe из настроек.
func New(cfg config.Stripe, log *slog.Logger) *Client {
	return &Client{
		sc:            stripe.NewClient(cfg.SecretKey),
		log:           log,
		currency:      cfg.Currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		webhookSecret: cfg.WebhookSecret,
	}
}

// Currency возвращает валюту оформления по умолчанию.
func (c *Client) Currency() string {
	return c.currency
}

// wrap превращает ошибку Stripe «resource_missing» в ErrNotFound.
func wrap(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, stripeErr.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
