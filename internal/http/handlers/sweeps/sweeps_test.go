package sweeps

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/scheduler"
	"github.com/magabrotheeeer/billing-reconciler/internal/services/sweeper"
)

type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) Run(ctx context.Context) (sweeper.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(sweeper.Report), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(newNoopLogger(), config.Scheduler{RunAt: "00:00", Timezone: "UTC"}, func(context.Context) error { return nil })
	require.NoError(t, err)
	return s
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name           string
		setupMocks     func(m *MockSweeper)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "sweep completed",
			setupMocks: func(m *MockSweeper) {
				m.On("Run", mock.Anything).Return(sweeper.Report{NewlyBlocked: 2, TrialWarnings: 1}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"newly_blocked":2`,
		},
		{
			name: "pass failed",
			setupMocks: func(m *MockSweeper) {
				m.On("Run", mock.Anything).Return(sweeper.Report{NewlyBlocked: 1}, errors.New("cleanup: connection reset"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"sweep finished with errors"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := new(MockSweeper)
			tt.setupMocks(sw)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sweeps", nil)
			w := httptest.NewRecorder()
			New(newNoopLogger(), newScheduler(t), sw).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			sw.AssertExpectations(t)
		})
	}
}

func TestHandler_Busy(t *testing.T) {
	sched := newScheduler(t)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- sched.TryRun(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("running job did not start")
	}

	sw := new(MockSweeper)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sweeps", nil)
	w := httptest.NewRecorder()
	New(newNoopLogger(), sched, sw).ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	sw.AssertNotCalled(t, "Run", mock.Anything)

	close(release)
	require.NoError(t, <-done)
}
