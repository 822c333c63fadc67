package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name           string
		checks         map[string]Check
		expectedStatus int
		expectedBody   []string
	}{
		{
			name:           "no checks",
			expectedStatus: http.StatusOK,
			expectedBody:   []string{`"status":"ok"`},
		},
		{
			name:           "all up",
			checks:         map[string]Check{"postgres": up, "redis": up},
			expectedStatus: http.StatusOK,
			expectedBody:   []string{`"postgres":"up"`, `"redis":"up"`},
		},
		{
			name:           "redis down",
			checks:         map[string]Check{"postgres": up, "redis": down},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   []string{`"status":"degraded"`, `"redis":"down"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			w := httptest.NewRecorder()
			New(logger, tt.checks).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			for _, s := range tt.expectedBody {
				assert.Contains(t, w.Body.String(), s)
			}
		})
	}
}
