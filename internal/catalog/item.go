// Package catalog описывает типизированные позиции каталога провайдера.
// Метаданные продукта разбираются и проверяются один раз на границе
// (Parse), дальше по коду ходит только Item.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Type - тип позиции каталога.
type Type string

const (
	TypeTrial        Type = "trial"
	TypeBundle       Type = "bundle"
	TypeSubscription Type = "subscription"
)

const (
	// DefaultTrialValidityDays - срок, показываемый для пробного плана без явного значения.
	DefaultTrialValidityDays = 14
	// DefaultValidityDays - срок действия обычного пакета без явного значения.
	DefaultValidityDays = 90
	// SubscriptionInterval - период подписочного продукта.
	SubscriptionInterval = "3_month"
)

// Ключи метаданных продукта.
const (
	MetaType           = "type"
	MetaBundleType     = "bundle_type"
	MetaValidityDays   = "validity_in_days"
	MetaExpirationDays = "expiration_in_days"
	MetaInterval       = "interval"
	MetaOptionPrefix   = "option-"
)

// ErrInvalidMetadata возвращается, если метаданные продукта нельзя разобрать.
var ErrInvalidMetadata = errors.New("invalid catalog metadata")

// Option - вариант количества кредитов для обычного пакета.
type Option struct {
	Key     string `json:"key"`
	Credits int    `json:"credits"`
}

// Price - цена позиции в минимальных единицах валюты.
type Price struct {
	ID         string
	UnitAmount int64
	DivideBy   int64
	Currency   string
}

// UnitPrice возвращает цену одной единицы с учётом transform_quantity.divide_by.
func (p Price) UnitPrice() decimal.Decimal {
	divide := p.DivideBy
	if divide <= 0 {
		divide = 1
	}
	return decimal.NewFromInt(p.UnitAmount).Div(decimal.NewFromInt(divide))
}

// Item - проверенная позиция каталога.
type Item struct {
	ProductID      string
	Name           string
	Description    string
	Active         bool
	Type           Type
	BundleType     models.Pool
	Credits        models.Balances
	ValidityDays   int
	ExpirationDays int
	Interval       string
	CreditOptions  []Option
	Price          Price
}

// IsTrial сообщает, что позиция - пробный план.
func (i Item) IsTrial() bool { return i.Type == TypeTrial }

// IsRegular сообщает, что позиция - обычный пакет кредитов.
func (i Item) IsRegular() bool { return i.Type == TypeBundle }

// LineItem - позиция покупки с количеством.
type LineItem struct {
	Item     Item
	Quantity int
}

// Parse разбирает метаданные продукта в Item.
func Parse(productID string, metadata map[string]string) (Item, error) {
	const op = "catalog.Parse"

	item := Item{ProductID: productID, Credits: models.NewBalances()}
	switch strings.ToLower(strings.TrimSpace(metadata[MetaType])) {
	case string(TypeTrial):
		item.Type = TypeTrial
	case string(TypeSubscription):
		item.Type = TypeSubscription
	default:
		item.Type = TypeBundle
	}

	var err error
	switch item.Type {
	case TypeTrial:
		if item.Credits, err = parseCredits(metadata); err != nil {
			return Item{}, fmt.Errorf("%s: %s: %w", op, productID, err)
		}
		if item.ExpirationDays, err = intValue(metadata, MetaExpirationDays, 0); err != nil {
			return Item{}, fmt.Errorf("%s: %s: %w", op, productID, err)
		}
		if item.ValidityDays, err = intValue(metadata, MetaValidityDays, DefaultTrialValidityDays); err != nil {
			return Item{}, fmt.Errorf("%s: %s: %w", op, productID, err)
		}
	case TypeSubscription:
		if item.Credits, err = parseCredits(metadata); err != nil {
			return Item{}, fmt.Errorf("%s: %s: %w", op, productID, err)
		}
		item.Interval = metadata[MetaInterval]
	case TypeBundle:
		pool, ok := models.ParsePool(metadata[MetaBundleType])
		if !ok {
			return Item{}, fmt.Errorf("%s: %s: unknown bundle type %q: %w", op, productID, metadata[MetaBundleType], ErrInvalidMetadata)
		}
		item.BundleType = pool
		if item.ValidityDays, err = intValue(metadata, MetaValidityDays, DefaultValidityDays); err != nil {
			return Item{}, fmt.Errorf("%s: %s: %w", op, productID, err)
		}
		if item.CreditOptions, err = parseOptions(metadata); err != nil {
			return Item{}, fmt.Errorf("%s: %s: %w", op, productID, err)
		}
	}
	return item, nil
}

func parseCredits(metadata map[string]string) (models.Balances, error) {
	credits := models.NewBalances()
	for _, p := range models.Pools {
		v, err := intValue(metadata, string(p), 0)
		if err != nil {
			return nil, err
		}
		credits[p] = v
	}
	return credits, nil
}

func parseOptions(metadata map[string]string) ([]Option, error) {
	entries := lo.Filter(lo.Entries(metadata), func(e lo.Entry[string, string], _ int) bool {
		suffix, ok := strings.CutPrefix(e.Key, MetaOptionPrefix)
		if !ok || suffix == "" {
			return false
		}
		_, err := strconv.Atoi(suffix)
		return err == nil
	})

	options := make([]Option, 0, len(entries))
	for _, e := range entries {
		credits, err := strconv.Atoi(strings.TrimSpace(e.Value))
		if err != nil {
			return nil, fmt.Errorf("%s=%q: %w", e.Key, e.Value, ErrInvalidMetadata)
		}
		options = append(options, Option{Key: e.Key, Credits: credits})
	}
	slices.SortFunc(options, func(a, b Option) int {
		if a.Credits != b.Credits {
			return a.Credits - b.Credits
		}
		return strings.Compare(a.Key, b.Key)
	})
	return options, nil
}

func intValue(metadata map[string]string, key string, def int) (int, error) {
	raw, ok := metadata[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, raw, ErrInvalidMetadata)
	}
	return v, nil
}

// Metadata собирает метаданные подписочного продукта для заданных количеств.
func Metadata(quantities models.Balances) map[string]string {
	meta := map[string]string{
		MetaType:     string(TypeSubscription),
		MetaInterval: SubscriptionInterval,
	}
	for _, p := range models.Pools {
		meta[string(p)] = strconv.Itoa(quantities.Get(p))
	}
	return meta
}
