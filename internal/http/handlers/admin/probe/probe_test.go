package probe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockService реализует интерфейс probe.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) Probe(ctx context.Context, accessIdentity, nodeID string) (bool, error) {
	args := m.Called(ctx, accessIdentity, nodeID)
	return args.Bool(0), args.Error(1)
}

func TestProbeHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name           string
		identity       string
		query          string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:     "все узлы, идентичность найдена",
			identity: "id-1",
			setupMock: func(m *MockService) {
				m.On("Probe", mock.Anything, "id-1", "").Return(true, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"exists":true`,
		},
		{
			name:     "конкретный узел, идентичность неизвестна",
			identity: "id-1",
			query:    "?node=london",
			setupMock: func(m *MockService) {
				m.On("Probe", mock.Anything, "id-1", "london").Return(false, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"exists":false`,
		},
		{
			name:     "узлы недоступны",
			identity: "id-1",
			setupMock: func(m *MockService) {
				m.On("Probe", mock.Anything, "id-1", "").
					Return(false, errors.New("connection refused"))
			},
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `nodes unreachable`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodGet, "/admin/probe-access/"+tt.identity+tt.query, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("access_identity", tt.identity)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
