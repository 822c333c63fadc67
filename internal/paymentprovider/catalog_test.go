package paymentprovider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/billing-reconciler/internal/catalog"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

func TestToPrice(t *testing.T) {
	p := toPrice(&stripe.Price{
		ID:                "price_1",
		UnitAmount:        1500,
		Currency:          "GBP",
		TransformQuantity: &stripe.PriceTransformQuantity{DivideBy: 10},
	})
	assert.Equal(t, catalog.Price{ID: "price_1", UnitAmount: 1500, DivideBy: 10, Currency: "gbp"}, p)
	assert.Equal(t, "150", p.UnitPrice().String())

	p = toPrice(&stripe.Price{ID: "price_2", UnitAmount: 99, Currency: "gbp"})
	assert.Equal(t, int64(1), p.DivideBy)

	assert.Equal(t, catalog.Price{}, toPrice(nil))
}

func TestToItem(t *testing.T) {
	item, err := toItem(&stripe.Product{
		ID:          "prod_1",
		Name:        "Test Case Bundle",
		Description: "Credits for test cases",
		Active:      true,
		Metadata: map[string]string{
			"type":        "bundle",
			"bundle_type": "test_case",
			"option-1":    "50",
			"option-2":    "10",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "prod_1", item.ProductID)
	assert.Equal(t, "Test Case Bundle", item.Name)
	assert.True(t, item.Active)
	assert.Equal(t, models.PoolTestCase, item.BundleType)
	require.Len(t, item.CreditOptions, 2)
	assert.Equal(t, 10, item.CreditOptions[0].Credits)

	_, err = toItem(&stripe.Product{ID: "prod_2", Metadata: map[string]string{"type": "bundle"}})
	require.ErrorIs(t, err, catalog.ErrInvalidMetadata)

	_, err = toItem(nil)
	require.ErrorIs(t, err, catalog.ErrInvalidMetadata)
}

func TestPurchasable(t *testing.T) {
	assert.True(t, purchasable("bundle"))
	assert.True(t, purchasable(" Trial "))
	assert.False(t, purchasable("subscription"))
	assert.False(t, purchasable(""))
}

func TestWrap(t *testing.T) {
	missing := &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "No such subscription: 'sub_1'"}
	err := wrap("op", fmt.Errorf("call: %w", missing))
	require.ErrorIs(t, err, ErrNotFound)

	other := errors.New("connection reset")
	err = wrap("op", other)
	require.ErrorIs(t, err, other)
	require.NotErrorIs(t, err, ErrNotFound)
}
