package entitlement

import (
	"context"
	"errors"
	"strings"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// Intent - позиция намерения покупки.
type Intent struct {
	PriceRef string `json:"price_id"`
	Quantity int    `json:"credits"`
}

// PriceResolver находит позицию каталога по идентификатору цены.
type PriceResolver interface {
	ResolvePrice(ctx context.Context, priceRef string) (catalog.Item, error)
}

// Resolved - позиция намерения вместе с найденной позицией каталога.
type Resolved struct {
	Intent Intent
	Item   catalog.Item
}

// PlanMix - результат проверки состава покупки.
type PlanMix struct {
	HasTrial         bool
	HasRegular       bool
	BundleQuantities models.Balances
	Items            []Resolved
}

// PricedIntents возвращает цены и количества для расчёта стоимости подписки.
func (m PlanMix) PricedIntents() []PricedIntent {
	out := make([]PricedIntent, 0, len(m.Items))
	for _, r := range m.Items {
		out = append(out, PricedIntent{Price: r.Item.Price, Quantity: r.Intent.Quantity})
	}
	return out
}

// ValidatePlanMix разрешает позиции через каталог и отклоняет покупку,
// как только в ней встретились и пробный, и обычный план. Оставшиеся
// позиции после этого не запрашиваются.
func ValidatePlanMix(ctx context.Context, resolver PriceResolver, intents []Intent) (PlanMix, error) {
	const op = "entitlement.ValidatePlanMix"

	mix := PlanMix{BundleQuantities: models.NewBalances()}
	for _, in := range intents {
		if strings.TrimSpace(in.PriceRef) == "" {
			continue
		}
		item, err := resolver.ResolvePrice(ctx, in.PriceRef)
		if err != nil {
			if errors.Is(err, catalog.ErrInvalidMetadata) {
				return PlanMix{}, apperr.E(apperr.KindValidation, op, "invalid catalog item "+in.PriceRef, err)
			}
			return PlanMix{}, apperr.External(op, err)
		}

		if item.IsTrial() {
			mix.HasTrial = true
		} else {
			mix.HasRegular = true
			if item.IsRegular() {
				mix.BundleQuantities.Add(item.BundleType, in.Quantity)
			}
		}
		if mix.HasTrial && mix.HasRegular {
			return PlanMix{}, apperr.MixedPlan(op)
		}
		mix.Items = append(mix.Items, Resolved{Intent: in, Item: item})
	}
	return mix, nil
}
