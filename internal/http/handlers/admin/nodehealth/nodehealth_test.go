package nodehealth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockPinger реализует интерфейс nodehealth.Pinger
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Health(ctx context.Context, nodeID string) error {
	return m.Called(ctx, nodeID).Error(0)
}

func TestNodeHealthHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pinger := new(MockPinger)
	pinger.On("Health", mock.Anything, "london").Return(nil).Once()
	pinger.On("Health", mock.Anything, "netherlands").
		Return(errors.New("connection refused")).Once()

	handler := New(logger, pinger, []string{"london", "netherlands"})

	req := httptest.NewRequest(http.MethodGet, "/admin/nodes-health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `"alive":1`), "body: %s", body)
	assert.True(t, strings.Contains(body, `"total":2`), "body: %s", body)
	assert.True(t, strings.Contains(body, `"node_id":"london","alive":true`), "body: %s", body)
	assert.True(t, strings.Contains(body, `"node_id":"netherlands","alive":false`), "body: %s", body)
	pinger.AssertExpectations(t)
}
