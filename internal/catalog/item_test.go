package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		check    func(t *testing.T, item Item)
		wantErr  bool
	}{
		{
			name: "trial",
			metadata: map[string]string{
				"type": "Trial", "test_case": "5", "user_story": "2", "expiration_in_days": "14",
			},
			check: func(t *testing.T, item Item) {
				assert.True(t, item.IsTrial())
				assert.Equal(t, 5, item.Credits.Get(models.PoolTestCase))
				assert.Equal(t, 2, item.Credits.Get(models.PoolUserStory))
				assert.Equal(t, 14, item.ExpirationDays)
				assert.Equal(t, DefaultTrialValidityDays, item.ValidityDays)
			},
		},
		{
			name: "bundle with options",
			metadata: map[string]string{
				"type": "bundle", "bundle_type": "test_case", "validity_in_days": "120",
				"option-2": "50", "option-1": "10", "option-x": "7", "other": "1",
			},
			check: func(t *testing.T, item Item) {
				assert.True(t, item.IsRegular())
				assert.Equal(t, models.PoolTestCase, item.BundleType)
				assert.Equal(t, 120, item.ValidityDays)
				assert.Equal(t, []Option{{Key: "option-1", Credits: 10}, {Key: "option-2", Credits: 50}}, item.CreditOptions)
			},
		},
		{
			name:     "bundle defaults validity",
			metadata: map[string]string{"bundle_type": "user_story"},
			check: func(t *testing.T, item Item) {
				assert.Equal(t, TypeBundle, item.Type)
				assert.Equal(t, DefaultValidityDays, item.ValidityDays)
				assert.Empty(t, item.CreditOptions)
			},
		},
		{
			name:     "subscription",
			metadata: map[string]string{"type": "subscription", "test_case": "30", "user_story": "10", "interval": "3_month"},
			check: func(t *testing.T, item Item) {
				assert.Equal(t, TypeSubscription, item.Type)
				assert.Equal(t, 30, item.Credits.Get(models.PoolTestCase))
				assert.Equal(t, SubscriptionInterval, item.Interval)
			},
		},
		{
			name:     "unknown bundle type",
			metadata: map[string]string{"type": "bundle", "bundle_type": "scan"},
			wantErr:  true,
		},
		{
			name:     "non numeric credits",
			metadata: map[string]string{"type": "trial", "test_case": "five"},
			wantErr:  true,
		},
		{
			name:     "non numeric option",
			metadata: map[string]string{"bundle_type": "test_case", "option-1": "ten"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := Parse("prod_1", tt.metadata)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMetadata)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "prod_1", item.ProductID)
			tt.check(t, item)
		})
	}
}

func TestPrice_UnitPrice(t *testing.T) {
	assert.Equal(t, "2.5", Price{UnitAmount: 250, DivideBy: 100}.UnitPrice().String())
	assert.Equal(t, "250", Price{UnitAmount: 250}.UnitPrice().String())
}

func TestMetadata_RoundTrip(t *testing.T) {
	q := models.Balances{models.PoolTestCase: 20, models.PoolUserStory: 5}
	item, err := Parse("prod_sub", Metadata(q))
	require.NoError(t, err)

	assert.Equal(t, TypeSubscription, item.Type)
	assert.Equal(t, q, item.Credits)
	assert.Equal(t, SubscriptionInterval, item.Interval)
}
