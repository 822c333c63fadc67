// Package checkout открывает сессии оформления заказа у провайдера:
// проверяет состав покупки, заводит пользователя и клиента провайдера
// и выбирает режим оплаты.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/entitlement"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
	"github.com/magabrotheeeer/billing-reconciler/internal/paymentprovider"
)

// Сообщения об ошибках, которые видит клиент.
const (
	MsgEmailRequired      = "Email is required"
	MsgNoItems            = "No items selected"
	MsgTrialSubscription  = "Trial plans cannot be converted to subscriptions."
	MsgActiveSubscription = "You already have an active subscription. Please manage your subscription instead of buying bundles."
	MsgTrialUsed          = "Trial plan has already been used."
	MsgEmptySubscription  = "Subscription requires at least one credit bundle."
	MsgInvalidQuantity    = "Credits must be positive."
)

// Provider - обращения к провайдеру при оформлении.
type Provider interface {
	entitlement.PriceResolver
	Currency() string
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	FindSubscriptionProduct(ctx context.Context, quantities models.Balances) (catalog.Item, bool, error)
	CreateSubscriptionProduct(ctx context.Context, quantities models.Balances, amount int64, currency string) (catalog.Item, error)
	ActivePrice(ctx context.Context, productRef string) (catalog.Price, error)
	CreateCheckoutSession(ctx context.Context, req paymentprovider.CheckoutRequest) (paymentprovider.Session, error)
}

// Request - запрос на оформление.
type Request struct {
	Email          string               `json:"email" validate:"required,email"`
	Items          []entitlement.Intent `json:"items" validate:"required,min=1"`
	IsSubscription bool                 `json:"is_subscription"`
}

// Service оформляет покупки.
type Service struct {
	log      *slog.Logger
	store    ledger.Store
	provider Provider
	now      func() time.Time
}

// New создаёт сервис оформления.
func New(log *slog.Logger, store ledger.Store, provider Provider) *Service {
	return &Service{
		log:      log,
		store:    store,
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession проверяет покупку и открывает сессию оформления.
func (s *Service) CreateSession(ctx context.Context, req Request) (paymentprovider.Session, error) {
	const op = "checkout.CreateSession"

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return paymentprovider.Session{}, apperr.Validation(op, MsgEmailRequired)
	}
	if len(req.Items) == 0 {
		return paymentprovider.Session{}, apperr.Validation(op, MsgNoItems)
	}

	mix, err := entitlement.ValidatePlanMix(ctx, s.provider, req.Items)
	if err != nil {
		return paymentprovider.Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(mix.Items) == 0 {
		return paymentprovider.Session{}, apperr.Validation(op, MsgNoItems)
	}
	if mix.HasTrial && req.IsSubscription {
		return paymentprovider.Session{}, apperr.Validation(op, MsgTrialSubscription)
	}

	user, err := s.prepareUser(ctx, email, mix, req.IsSubscription)
	if err != nil {
		return paymentprovider.Session{}, fmt.Errorf("%s: %w", op, err)
	}
	log := s.log.With(slog.String("op", op), slog.String("user_id", user.ID))

	customerRef, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return paymentprovider.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	checkout := paymentprovider.CheckoutRequest{
		CustomerRef: customerRef,
		Metadata:    map[string]string{"user_id": user.ID, "email": email},
	}
	if req.IsSubscription {
		checkout.Mode = paymentprovider.ModeSubscription
		line, err := s.subscriptionLine(ctx, mix)
		if err != nil {
			return paymentprovider.Session{}, fmt.Errorf("%s: %w", op, err)
		}
		checkout.Lines = []paymentprovider.CheckoutLine{line}
	} else {
		checkout.Mode = paymentprovider.ModePayment
		if checkout.Lines, err = paymentLines(op, mix); err != nil {
			return paymentprovider.Session{}, err
		}
	}

	session, err := s.provider.CreateCheckoutSession(ctx, checkout)
	if err != nil {
		return paymentprovider.Session{}, apperr.External(op, err)
	}
	log.Info("checkout session created",
		slog.String("session_id", session.ID),
		slog.String("mode", checkout.Mode),
		slog.Int("lines", len(checkout.Lines)))
	return session, nil
}

// prepareUser находит или заводит пользователя и проверяет, что покупка
// не противоречит его состоянию.
func (s *Service) prepareUser(ctx context.Context, email string, mix entitlement.PlanMix, subscription bool) (*models.User, error) {
	const op = "checkout.prepareUser"

	var user *models.User
	err := s.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.UserByEmail(ctx, email)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			u = models.NewUser(uuid.NewString(), email, s.now())
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
			s.log.Info("user created for checkout", slog.String("user_id", u.ID))
		case err != nil:
			return err
		}

		if u.SubscriptionRef != "" && !subscription {
			return apperr.Conflict(op, MsgActiveSubscription)
		}
		if mix.HasTrial && u.HasUsedTrial {
			return apperr.Conflict(op, MsgTrialUsed)
		}
		user = u.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ensureCustomer возвращает ссылку на клиента провайдера, создавая его
// при первой покупке.
func (s *Service) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	const op = "checkout.ensureCustomer"

	if user.CustomerRef != "" {
		return user.CustomerRef, nil
	}
	ref, err := s.provider.CreateCustomer(ctx, user.Email, user.ID)
	if err != nil {
		return "", apperr.External(op, err)
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.UserByEmail(ctx, user.Email)
		if err != nil {
			return err
		}
		if u.CustomerRef != "" {
			// параллельный запрос успел раньше
			ref = u.CustomerRef
			return nil
		}
		u.CustomerRef = ref
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return ref, nil
}

// subscriptionLine подбирает или создаёт подписочный продукт с теми же
// количествами кредитов.
func (s *Service) subscriptionLine(ctx context.Context, mix entitlement.PlanMix) (paymentprovider.CheckoutLine, error) {
	const op = "checkout.subscriptionLine"

	quantities := mix.BundleQuantities
	if !quantities.Positive() {
		return paymentprovider.CheckoutLine{}, apperr.Validation(op, MsgEmptySubscription)
	}

	item, found, err := s.provider.FindSubscriptionProduct(ctx, quantities)
	if err != nil {
		return paymentprovider.CheckoutLine{}, apperr.External(op, err)
	}

	var price catalog.Price
	if found {
		if price, err = s.provider.ActivePrice(ctx, item.ProductID); err != nil {
			return paymentprovider.CheckoutLine{}, apperr.External(op, err)
		}
	} else {
		amount := entitlement.SubscriptionPrice(mix.PricedIntents())
		currency := s.provider.Currency()
		if len(mix.Items) > 0 && mix.Items[0].Item.Price.Currency != "" {
			currency = mix.Items[0].Item.Price.Currency
		}
		if item, err = s.provider.CreateSubscriptionProduct(ctx, quantities, amount, currency); err != nil {
			return paymentprovider.CheckoutLine{}, apperr.External(op, err)
		}
		price = item.Price
		s.log.Info("subscription product created",
			slog.String("product_id", item.ProductID),
			slog.Int64("amount", amount),
			slog.String("currency", currency))
	}
	return paymentprovider.CheckoutLine{PriceRef: price.ID, Quantity: 1}, nil
}

// paymentLines - пробный план покупается в одном экземпляре, пакет -
// в количестве кредитов.
func paymentLines(op string, mix entitlement.PlanMix) ([]paymentprovider.CheckoutLine, error) {
	lines := make([]paymentprovider.CheckoutLine, 0, len(mix.Items))
	for _, r := range mix.Items {
		quantity := int64(r.Intent.Quantity)
		if r.Item.IsTrial() {
			quantity = 1
		}
		if quantity <= 0 {
			return nil, apperr.Validation(op, MsgInvalidQuantity)
		}
		lines = append(lines, paymentprovider.CheckoutLine{PriceRef: r.Intent.PriceRef, Quantity: quantity})
	}
	return lines, nil
}
