package transactions

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/billing-reconciler/internal/apperr"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/transactions"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) List(ctx context.Context, q transactions.Query) (transactions.Result, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(transactions.Result), args.Error(1)
}

func TestHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	const userID = "6f1c2f4e-8a8e-4a53-9d43-0c4b8c1c7a11"

	tests := []struct {
		name           string
		url            string
		setupMock      func(m *MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "filters passed through",
			url:  "/api/v1/transactions?user_id=" + userID + "&type=received&source=trial&primary=test_case",
			setupMock: func(m *MockService) {
				m.On("List", mock.Anything, transactions.Query{UserID: userID, Type: "received", Source: "trial", Primary: "test_case"}).
					Return(transactions.Result{TotalCount: 3, Filters: transactions.Filters{Type: "received"}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"total_count":3`,
		},
		{
			name: "missing user id",
			url:  "/api/v1/transactions",
			setupMock: func(m *MockService) {
				m.On("List", mock.Anything, transactions.Query{}).
					Return(transactions.Result{}, apperr.Validation("transactions.List", "user_id is required"))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"user_id is required"`,
		},
		{
			name: "unknown user",
			url:  "/api/v1/transactions?user_id=" + userID,
			setupMock: func(m *MockService) {
				m.On("List", mock.Anything, transactions.Query{UserID: userID}).
					Return(transactions.Result{}, apperr.NotFound("transactions.List", "User not found"))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"error":"User not found"`,
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
