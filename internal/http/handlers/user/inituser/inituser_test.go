package inituser

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

	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/services/user"
)

// MockService реализует интерфейс inituser.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) InitUser(ctx context.Context, req models.InitUserRequest) (*user.InitResult, error) {
	args := m.Called(ctx, req)
	if res := args.Get(0); res != nil {
		return res.(*user.InitResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestInitUserHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "успешная регистрация по приглашению",
			body: `{"user_id":"200","username":"newcomer","start_param":"ref_100"}`,
			setupMock: func(m *MockService) {
				m.On("InitUser", mock.Anything, models.InitUserRequest{
					UserID:     "200",
					Username:   "newcomer",
					StartParam: "ref_100",
				}).Return(&user.InitResult{
					UserID:       "200",
					Created:      true,
					IsReferral:   true,
					BonusApplied: true,
					ReferralLink: "https://t.me/vaaaac_bot?startapp=ref_200",
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"bonus_applied":true`,
		},
		{
			name:           "некорректный JSON",
			body:           `{user_id}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `invalid request body`,
		},
		{
			name:           "отсутствует user_id",
			body:           `{"username":"noid"}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `field UserID is a required field`,
		},
		{
			name: "ошибка сервиса",
			body: `{"user_id":"200"}`,
			setupMock: func(m *MockService) {
				m.On("InitUser", mock.Anything, mock.Anything).
					Return(nil, errors.New("db error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `could not init user`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			handler := New(logger, mockService)

			req := httptest.NewRequest(http.MethodPost, "/init-user", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.expectedBody),
				"response body should contain %s, got %s", tt.expectedBody, w.Body.String())

			mockService.AssertExpectations(t)
		})
	}
}
