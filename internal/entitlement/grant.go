// Package entitlement вычисляет начисления кредитов по позициям каталога
// и проверяет допустимость сочетания планов в одной покупке.
// Функции расчёта детерминированы и не выполняют ввода-вывода.
package entitlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// ErrNotGrantable возвращается для позиций, которые нельзя начислить разовой покупкой.
var ErrNotGrantable = errors.New("catalog item is not grantable")

// Grant - начисление в один пул.
type Grant struct {
	Pool  models.Pool
	Value int
}

// ComputeGrant возвращает начисления за позицию пробного плана или пакета.
// Пробный план начисляет каждый пул из метаданных, пакет - quantity единиц
// своего пула.
func ComputeGrant(item catalog.Item, quantity int) ([]Grant, error) {
	const op = "entitlement.ComputeGrant"

	switch item.Type {
	case catalog.TypeTrial:
		grants := make([]Grant, 0, len(models.Pools))
		for _, p := range models.Pools {
			grants = append(grants, Grant{Pool: p, Value: item.Credits.Get(p)})
		}
		return grants, nil
	case catalog.TypeBundle:
		if quantity < 0 {
			return nil, fmt.Errorf("%s: negative quantity %d", op, quantity)
		}
		return []Grant{{Pool: item.BundleType, Value: quantity}}, nil
	default:
		return nil, fmt.Errorf("%s: %s (%s): %w", op, item.ProductID, item.Type, ErrNotGrantable)
	}
}

// ComputeSubscriptionCredits возвращает кредиты за период подписки из метаданных.
func ComputeSubscriptionCredits(item catalog.Item) models.Balances {
	credits := models.NewBalances()
	for _, p := range models.Pools {
		credits[p] = item.Credits.Get(p)
	}
	return credits
}

// PricedIntent - цена позиции и запрошенное количество.
type PricedIntent struct {
	Price    catalog.Price
	Quantity int
}

// SubscriptionPrice считает цену подписки как сумму цен исходных пакетов
// в минимальных единицах валюты, отбрасывая дробную часть.
func SubscriptionPrice(items []PricedIntent) int64 {
	total := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		total = total.Add(it.Price.UnitPrice().Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total.IntPart()
}

// SubscriptionProductName формирует название подписочного продукта.
func SubscriptionProductName(quantities models.Balances) string {
	labels := map[models.Pool]string{
		models.PoolTestCase:  "Test Cases",
		models.PoolUserStory: "User Stories",
	}
	var parts []string
	for _, p := range models.Pools {
		if q := quantities.Get(p); q > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", q, labels[p]))
		}
	}
	return "3-Month Subscription: " + strings.Join(parts, " + ")
}

// MatchesSubscription сообщает, что продукт - подписка с теми же количествами.
func MatchesSubscription(item catalog.Item, quantities models.Balances) bool {
	if item.Type != catalog.TypeSubscription || item.Interval != catalog.SubscriptionInterval {
		return false
	}
	for _, p := range models.Pools {
		if item.Credits.Get(p) != quantities.Get(p) {
			return false
		}
	}
	return true
}
