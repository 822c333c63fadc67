// Package pricing переводит цены каталога в другие валюты по курсам
// внешнего API. Курсы кешируются в Redis на заданное время.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
)

// ErrRatesUnavailable - API курсов ответило ошибкой или пустым набором.
var ErrRatesUnavailable = errors.New("exchange rates unavailable")

// Cache - хранилище курсов.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Rates - курсы относительно базовой валюты.
type Rates struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"conversion_rates"`
}

// Service отдаёт курсы и пересчитывает суммы.
type Service struct {
	log    *slog.Logger
	cache  Cache
	client *http.Client
	cfg    config.Pricing
}

// New создаёт сервис курсов. cache может быть nil: тогда курсы
// запрашиваются при каждом пересчёте.
func New(log *slog.Logger, cache Cache, cfg config.Pricing) *Service {
	return &Service{
		log:    log,
		cache:  cache,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (s *Service) cacheKey() string {
	return "pricing:rates:" + strings.ToUpper(s.cfg.BaseCurrency)
}

// Rates возвращает курсы базовой валюты, сначала из кеша.
func (s *Service) Rates(ctx context.Context) (Rates, error) {
	const op = "pricing.Rates"

	var rates Rates
	if s.cache != nil {
		found, err := s.cache.Get(ctx, s.cacheKey(), &rates)
		if err != nil {
			s.log.Warn("failed to read cached rates", sl.Err(err))
		}
		if found && len(rates.Rates) > 0 {
			return rates, nil
		}
	}

	rates, err := s.fetch(ctx)
	if err != nil {
		return Rates{}, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, s.cacheKey(), rates, s.cfg.CacheTTL); err != nil {
			s.log.Warn("failed to cache rates", sl.Err(err))
		}
	}
	return rates, nil
}

func (s *Service) fetch(ctx context.Context) (Rates, error) {
	base := strings.ToUpper(s.cfg.BaseCurrency)
	url := fmt.Sprintf("%s/%s/latest/%s", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.APIKey, base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Rates{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Rates{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Rates{}, fmt.Errorf("%w: status %d: %s", ErrRatesUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Result string                     `json:"result"`
		Rates  map[string]decimal.Decimal `json:"conversion_rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Rates{}, fmt.Errorf("decode rates: %w", err)
	}
	if len(payload.Rates) == 0 {
		return Rates{}, fmt.Errorf("%w: empty response", ErrRatesUnavailable)
	}
	return Rates{Base: base, Rates: payload.Rates}, nil
}

// Convert пересчитывает amount из from в to с округлением до двух
// знаков. Пересчёт возможен только из базовой валюты; при отсутствии
// курса или сбое API сумма возвращается без изменений.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if to == "" || from == to || from != strings.ToUpper(s.cfg.BaseCurrency) {
		return amount.Round(2)
	}

	rates, err := s.Rates(ctx)
	if err != nil {
		s.log.Warn("conversion skipped", slog.String("to", to), sl.Err(err))
		return amount.Round(2)
	}
	rate, ok := rates.Rates[to]
	if !ok {
		return amount.Round(2)
	}
	return amount.Mul(rate).Round(2)
}
