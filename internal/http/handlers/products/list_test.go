package products

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/products"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) List(ctx context.Context, q products.Query) (products.Listing, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(products.Listing), args.Error(1)
}

func TestHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		url            string
		setupMock      func(m *MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "defaults include trials",
			url:  "/api/v1/products",
			setupMock: func(m *MockService) {
				m.On("List", mock.Anything, products.Query{IncludeTrials: true}).
					Return(products.Listing{Currency: "GBP", Products: []products.Entry{}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"currency":"GBP"`,
		},
		{
			name: "all parameters",
			url:  "/api/v1/products?option=option-2&include_trials=false&currency=usd&country=US",
			setupMock: func(m *MockService) {
				m.On("List", mock.Anything, products.Query{Option: "option-2", Currency: "usd", Country: "US"}).
					Return(products.Listing{Currency: "USD"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"currency":"USD"`,
		},
		{
			name:           "bad include_trials",
			url:            "/api/v1/products?include_trials=maybe",
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `include_trials must be true or false`,
		},
		{
			name: "catalog unavailable",
			url:  "/api/v1/products",
			setupMock: func(m *MockService) {
				m.On("List", mock.Anything, products.Query{IncludeTrials: true}).
					Return(products.Listing{}, apperr.External("products.List", errors.New("stripe down")))
			},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `"kind":"external_service"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()
			New(logger, svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}
