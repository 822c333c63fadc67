package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(ReconciliationsTotal.WithLabelValues("invoice.paid", OutcomeSuccess))
	ReconciliationsTotal.WithLabelValues("invoice.paid", OutcomeSuccess).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ReconciliationsTotal.WithLabelValues("invoice.paid", OutcomeSuccess)))

	LedgerTransactionsTotal.WithLabelValues("trial", "reset").Add(2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(LedgerTransactionsTotal.WithLabelValues("trial", "reset")), 2.0)
}

func TestObserveTransactions(t *testing.T) {
	counter := LedgerTransactionsTotal.WithLabelValues("bundle", "received")
	before := testutil.ToFloat64(counter)

	ObserveTransactions([]models.Transaction{
		{Source: models.SourceBundle, Kind: models.KindReceived, Value: 10},
		{Source: models.SourceBundle, Kind: models.KindReceived, Value: 5},
	})

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}
