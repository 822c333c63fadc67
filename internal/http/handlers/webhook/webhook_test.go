package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/metrics"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
	"github.com/magabrotheeeer/billing-reconciler/internal/paymentprovider"
)

type MockParser struct {
	mock.Mock
}

func (m *MockParser) ParseWebhook(payload []byte, signature string) (models.ProviderEvent, error) {
	args := m.Called(payload, signature)
	return args.Get(0).(models.ProviderEvent), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, ev models.ProviderEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var paidEvent = models.ProviderEvent{
	ID:      "evt_1",
	Type:    models.EventInvoicePaid,
	Invoice: &models.InvoicePaid{SubscriptionRef: "sub_1", CustomerRef: "cus_1"},
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name           string
		signature      string
		setupMocks     func(p *MockParser, rec *MockReconciler)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:      "reconciled",
			signature: "t=1,v1=abc",
			setupMocks: func(p *MockParser, rec *MockReconciler) {
				p.On("ParseWebhook", mock.Anything, "t=1,v1=abc").Return(paidEvent, nil)
				rec.On("Reconcile", mock.Anything, paidEvent).Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"received":true`,
		},
		{
			name: "missing signature",
			setupMocks: func(p *MockParser, _ *MockReconciler) {
				p.On("ParseWebhook", mock.Anything, "").
					Return(models.ProviderEvent{}, fmt.Errorf("parse: %w", paymentprovider.ErrInvalidSignature))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid signature"`,
		},
		{
			name:      "undecodable payload",
			signature: "t=1,v1=abc",
			setupMocks: func(p *MockParser, _ *MockReconciler) {
				p.On("ParseWebhook", mock.Anything, "t=1,v1=abc").Return(models.ProviderEvent{}, errors.New("decode invoice"))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid payload"`,
		},
		{
			name:      "provider lookup failed",
			signature: "t=1,v1=abc",
			setupMocks: func(p *MockParser, rec *MockReconciler) {
				p.On("ParseWebhook", mock.Anything, "t=1,v1=abc").Return(paidEvent, nil)
				rec.On("Reconcile", mock.Anything, paidEvent).Return(apperr.External("reconciler", errors.New("timeout")))
			},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `"kind":"external_service"`,
		},
		{
			name:      "invariant violation",
			signature: "t=1,v1=abc",
			setupMocks: func(p *MockParser, rec *MockReconciler) {
				p.On("ParseWebhook", mock.Anything, "t=1,v1=abc").Return(paidEvent, nil)
				rec.On("Reconcile", mock.Anything, paidEvent).Return(apperr.Invariant("reconciler", "unknown customer"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"kind":"invariant_violation"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := new(MockParser)
			rec := new(MockReconciler)
			tt.setupMocks(parser, rec)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", strings.NewReader(`{"id":"evt_1"}`))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			w := httptest.NewRecorder()

			New(newNoopLogger(), parser, rec).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			parser.AssertExpectations(t)
			rec.AssertExpectations(t)
		})
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	parser := new(MockParser)
	rec := new(MockReconciler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewReader(make([]byte, MaxBodyBytes+1)))
	w := httptest.NewRecorder()
	New(newNoopLogger(), parser, rec).ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	parser.AssertNotCalled(t, "ParseWebhook", mock.Anything, mock.Anything)
}

type parserFunc func(payload []byte, signature string) (models.ProviderEvent, error)

func (f parserFunc) ParseWebhook(payload []byte, signature string) (models.ProviderEvent, error) {
	return f(payload, signature)
}

func TestHandler_SignedPayload(t *testing.T) {
	const secret = "whsec_test"
	parser := parserFunc(func(payload []byte, signature string) (models.ProviderEvent, error) {
		return paymentprovider.ParseWebhook(payload, signature, secret)
	})

	payload := []byte(`{"id":"evt_sig","object":"event","type":"product.updated","api_version":"2025-06-30.basil","data":{"object":{"id":"prod_1"}}}`)
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	rec := new(MockReconciler)
	rec.On("Reconcile", mock.Anything, mock.MatchedBy(func(ev models.ProviderEvent) bool {
		return ev.ID == "evt_sig" && ev.Type == "product.updated"
	})).Return(nil)

	before := testutil.ToFloat64(metrics.WebhookRequestsTotal.WithLabelValues("product.updated", "200"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set(SignatureHeader, signed.Header)
	w := httptest.NewRecorder()
	New(newNoopLogger(), parser, rec).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.WebhookRequestsTotal.WithLabelValues("product.updated", "200")))

	tampered := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewReader(append(signed.Payload, ' ')))
	tampered.Header.Set(SignatureHeader, signed.Header)
	w = httptest.NewRecorder()
	New(newNoopLogger(), parser, rec).ServeHTTP(w, tampered)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	rec.AssertNumberOfCalls(t, "Reconcile", 1)
}
