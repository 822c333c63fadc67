// Package subscription отдаёт состояние подписки пользователя у
// провайдера и открывает портал управления ею.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
	"github.com/magabrotheeeer/billing-reconciler/internal/paymentprovider"
)

// Сообщения об ошибках, которые видит клиент.
const (
	MsgEmailRequired  = "Email is required"
	MsgUserNotFound   = "User not found"
	MsgNoSubscription = "No active subscription found"
)

// Provider - обращения к провайдеру.
type Provider interface {
	RetrieveSubscription(ctx context.Context, ref string) (paymentprovider.Subscription, error)
	CreateBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
}

// Cache описывает методы для кеширования состояния подписки.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(ctx context.Context, key string) error
}

// Service реализует чтение подписки и портал.
type Service struct {
	log              *slog.Logger
	store            ledger.Store
	provider         Provider
	cache            Cache
	cacheTTL         time.Duration
	defaultReturnURL string
}

// New создаёт сервис подписки. cache может быть nil.
func New(log *slog.Logger, store ledger.Store, provider Provider, cache Cache, cacheTTL time.Duration, defaultReturnURL string) *Service {
	return &Service{
		log:              log,
		store:            store,
		provider:         provider,
		cache:            cache,
		cacheTTL:         cacheTTL,
		defaultReturnURL: defaultReturnURL,
	}
}

func cacheKey(ref string) string {
	return "subscription:" + ref
}

// Get возвращает подписку пользователя или nil, если её нет. Если
// провайдер не знает сохранённую подписку, ссылка у пользователя
// очищается.
func (s *Service) Get(ctx context.Context, email string) (*paymentprovider.Subscription, error) {
	const op = "subscription.Get"

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Validation(op, MsgEmailRequired)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.NotFound(op, MsgUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.SubscriptionRef == "" {
		return nil, nil
	}
	ref := user.SubscriptionRef

	if s.cache != nil {
		var cached paymentprovider.Subscription
		found, err := s.cache.Get(ctx, cacheKey(ref), &cached)
		if err != nil {
			s.log.Warn("failed to read cached subscription", sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	sub, err := s.provider.RetrieveSubscription(ctx, ref)
	if errors.Is(err, paymentprovider.ErrNotFound) {
		if err := s.clearReference(ctx, email, ref); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("stale subscription reference cleared",
			slog.String("user_id", user.ID), slog.String("subscription_id", ref))
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External(op, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(ref), sub, s.cacheTTL); err != nil {
			s.log.Warn("failed to cache subscription", sl.Err(err))
		}
	}
	return &sub, nil
}

// clearReference снимает ссылку, только если она не изменилась с момента чтения.
func (s *Service) clearReference(ctx context.Context, email, ref string) error {
	err := s.store.Atomic(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.UserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if u.SubscriptionRef != ref {
			return nil
		}
		u.SubscriptionRef = ""
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cacheKey(ref)); err != nil {
			s.log.Warn("failed to invalidate cached subscription", sl.Err(err))
		}
	}
	return nil
}

// Portal открывает портал управления подпиской и возвращает его адрес.
func (s *Service) Portal(ctx context.Context, email, returnURL string) (string, error) {
	const op = "subscription.Portal"

	email = strings.TrimSpace(email)
	if email == "" {
		return "", apperr.Validation(op, MsgEmailRequired)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", apperr.NotFound(op, MsgUserNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if user.SubscriptionRef == "" || user.CustomerRef == "" {
		return "", apperr.NotFound(op, MsgNoSubscription)
	}

	if returnURL == "" {
		returnURL = s.defaultReturnURL
	}
	url, err := s.provider.CreateBillingPortalSession(ctx, user.CustomerRef, returnURL)
	if err != nil {
		return "", apperr.External(op, err)
	}
	return url, nil
}
