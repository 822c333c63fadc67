// Package products собирает витрину покупаемых планов из каталога
// провайдера: пробные планы с кредитами и пакеты с ценой для каждого
// варианта количества.
package products

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Типы записей витрины.
const (
	EntryTrial   = "trial"
	EntryRegular = "regular"
)

// Catalog - источник покупаемых позиций.
type Catalog interface {
	ListPurchasableItems(ctx context.Context, includeTrials bool) ([]catalog.Item, error)
}

// Converter пересчитывает суммы в другую валюту.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal
}

// Query - параметры запроса витрины.
type Query struct {
	Option        string
	IncludeTrials bool
	Currency      string
	// Country используется, если Currency не задана.
	Country string
}

var countryCurrencies = map[string]string{
	"US": "USD",
	"GB": "GBP",
}

// CurrencyForCountry возвращает валюту витрины для кода страны.
// Неизвестные страны получают USD.
func CurrencyForCountry(code string) string {
	if c, ok := countryCurrencies[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return c
	}
	return "USD"
}

// OptionPrice - цена одного варианта количества кредитов.
type OptionPrice struct {
	Option  string          `json:"option"`
	Credits int             `json:"credits"`
	Amount  decimal.Decimal `json:"amount"`
	PriceID string          `json:"price_id"`
}

// TrialPrice - цена пробного плана.
type TrialPrice struct {
	Amount  decimal.Decimal `json:"amount"`
	PriceID string          `json:"price_id"`
}

// Entry - запись витрины.
type Entry struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	Type           string           `json:"type"`
	ValidityDays   int              `json:"validity_in_days"`
	Credits        models.Balances  `json:"credits,omitempty"`
	Price          *TrialPrice      `json:"price,omitempty"`
	BundleType     models.Pool      `json:"bundle_type,omitempty"`
	CreditOptions  []catalog.Option `json:"credit_options,omitempty"`
	Prices         []OptionPrice    `json:"prices,omitempty"`
	SelectedPrice  *OptionPrice     `json:"selected_price,omitempty"`
	ExpirationDays int              `json:"expiration_in_days,omitempty"`
}

// Filters - применённые параметры запроса.
type Filters struct {
	SelectedOption string `json:"selected_option"`
	IncludeTrials  bool   `json:"include_trials"`
}

// Listing - ответ витрины.
type Listing struct {
	Products []Entry `json:"products"`
	Currency string  `json:"currency"`
	Filters  Filters `json:"filters"`
}

// Service строит витрину.
type Service struct {
	log       *slog.Logger
	catalog   Catalog
	converter Converter
	currency  string
}

// New создаёт сервис витрины. currency - валюта цен каталога.
func New(log *slog.Logger, catalog Catalog, converter Converter, currency string) *Service {
	return &Service{
		log:       log,
		catalog:   catalog,
		converter: converter,
		currency:  strings.ToUpper(currency),
	}
}

// List возвращает покупаемые планы.
func (s *Service) List(ctx context.Context, q Query) (Listing, error) {
	const op = "products.List"

	items, err := s.catalog.ListPurchasableItems(ctx, q.IncludeTrials)
	if err != nil {
		return Listing{}, apperr.External(op, err)
	}

	currency := s.currency
	switch c := strings.ToUpper(strings.TrimSpace(q.Currency)); {
	case c != "":
		currency = c
	case strings.TrimSpace(q.Country) != "":
		currency = CurrencyForCountry(q.Country)
	}

	listing := Listing{
		Products: make([]Entry, 0, len(items)),
		Currency: currency,
		Filters: Filters{
			SelectedOption: lo.Ternary(q.Option == "", "all", q.Option),
			IncludeTrials:  q.IncludeTrials,
		},
	}
	for _, item := range items {
		switch {
		case item.IsTrial():
			listing.Products = append(listing.Products, s.trialEntry(ctx, item, currency))
		case item.IsRegular():
			listing.Products = append(listing.Products, s.regularEntry(ctx, item, currency, q.Option))
		}
	}

	s.log.Debug("products listed", "count", len(listing.Products), "currency", currency)
	return listing, nil
}

func (s *Service) trialEntry(ctx context.Context, item catalog.Item, currency string) Entry {
	return Entry{
		ID:             item.ProductID,
		Name:           item.Name,
		Description:    item.Description,
		Type:           EntryTrial,
		ValidityDays:   item.ValidityDays,
		ExpirationDays: item.ExpirationDays,
		Credits:        item.Credits,
		Price: &TrialPrice{
			Amount:  s.amount(ctx, item.Price, 1, currency),
			PriceID: item.Price.ID,
		},
	}
}

func (s *Service) regularEntry(ctx context.Context, item catalog.Item, currency, option string) Entry {
	entry := Entry{
		ID:            item.ProductID,
		Name:          item.Name,
		Description:   item.Description,
		Type:          EntryRegular,
		ValidityDays:  item.ValidityDays,
		BundleType:    item.BundleType,
		CreditOptions: item.CreditOptions,
		Prices: lo.Map(item.CreditOptions, func(o catalog.Option, _ int) OptionPrice {
			return OptionPrice{
				Option:  o.Key,
				Credits: o.Credits,
				Amount:  s.amount(ctx, item.Price, o.Credits, currency),
				PriceID: item.Price.ID,
			}
		}),
	}
	if option != "" {
		if p, ok := lo.Find(entry.Prices, func(p OptionPrice) bool { return p.Option == option }); ok {
			entry.SelectedPrice = &p
		}
	}
	return entry
}

// amount переводит цену quantity единиц из минимальных единиц в основные.
func (s *Service) amount(ctx context.Context, price catalog.Price, quantity int, currency string) decimal.Decimal {
	major := price.UnitPrice().Mul(decimal.NewFromInt(int64(quantity))).Div(decimal.NewFromInt(100))
	from := lo.Ternary(price.Currency != "", price.Currency, s.currency)
	if s.converter == nil {
		return major.Round(2)
	}
	return s.converter.Convert(ctx, major, from, currency)
}
