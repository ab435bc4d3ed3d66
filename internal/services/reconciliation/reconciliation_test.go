package reconciliation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/paymentprovider"
	"github.com/NikitaNevsky/vacvpn/internal/services/ledger"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreatePayment(ctx context.Context, p models.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *RepoMock) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *RepoMock) FindPaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	args := m.Called(ctx, gatewayID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *RepoMock) SetPaymentGatewayID(ctx context.Context, paymentID, gatewayID string) error {
	return m.Called(ctx, paymentID, gatewayID).Error(0)
}

func (m *RepoMock) MarkPaymentTerminal(ctx context.Context, paymentID, status, gatewayID string) (bool, error) {
	args := m.Called(ctx, paymentID, status, gatewayID)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) AdjustBalance(ctx context.Context, userID string, delta float64) error {
	return m.Called(ctx, userID, delta).Error(0)
}

type EntitlementMock struct{ mock.Mock }

func (m *EntitlementMock) Grant(ctx context.Context, userID string, days int, nodeID string) (string, error) {
	args := m.Called(ctx, userID, days, nodeID)
	return args.String(0), args.Error(1)
}

type ReferralMock struct{ mock.Mock }

func (m *ReferralMock) CreditOnce(ctx context.Context, referrerID, referredID string) (bool, error) {
	args := m.Called(ctx, referrerID, referredID)
	return args.Bool(0), args.Error(1)
}

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreatePayment(ctx context.Context, idempotenceKey string, reqParams paymentprovider.CreatePaymentRequest) (*paymentprovider.CreatePaymentResponse, error) {
	args := m.Called(ctx, idempotenceKey, reqParams)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.CreatePaymentResponse), args.Error(1)
}

func (m *GatewayMock) GetPayment(ctx context.Context, gatewayID string) (*paymentprovider.PaymentStatusResponse, error) {
	args := m.Called(ctx, gatewayID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.PaymentStatusResponse), args.Error(1)
}

type mocks struct {
	repo *RepoMock
	ldg  *LedgerMock
	ent  *EntitlementMock
	ref  *ReferralMock
	gw   *GatewayMock
}

func newMocks() *mocks {
	return &mocks{
		repo: &RepoMock{},
		ldg:  &LedgerMock{},
		ent:  &EntitlementMock{},
		ref:  &ReferralMock{},
		gw:   &GatewayMock{},
	}
}

func (m *mocks) service() *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	cfg := config.Gateway{
		ReturnURL: "https://t.me/vaaaac_bot",
		TopUpMin:  10,
		TopUpMax:  50000,
	}
	tariffs := []config.Tariff{
		{ID: "1month", Name: "1 месяц", Price: 150, Days: 30},
		{ID: "1year", Name: "1 год", Price: 1300, Days: 365},
	}
	return New(m.repo, m.ldg, m.ent, m.ref, m.gw, cfg, tariffs, log)
}

func TestService_InitTopUp(t *testing.T) {
	m := newMocks()
	m.repo.On("GetUser", mock.Anything, "u1").Return(&models.User{ID: "u1"}, nil).Once()

	var created models.Payment
	m.repo.On("CreatePayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(models.Payment)
		}).Return(nil).Once()
	m.gw.On("CreatePayment", mock.Anything, mock.Anything,
		mock.MatchedBy(func(req paymentprovider.CreatePaymentRequest) bool {
			return req.Amount.Value == "500.00" &&
				req.Capture &&
				req.Metadata["user_id"] == "u1" &&
				req.Metadata["payment_type"] == models.PaymentTypeBalance
		})).Return(&paymentprovider.CreatePaymentResponse{
		ID:     "gw-1",
		Status: "pending",
		Confirmation: paymentprovider.Confirmation{
			ConfirmationURL: "https://yookassa.ru/pay/gw-1",
		},
	}, nil).Once()
	m.repo.On("SetPaymentGatewayID", mock.Anything, mock.Anything, "gw-1").Return(nil).Once()

	res, err := m.service().InitTopUp(context.Background(), models.TopUpRequest{
		UserID:        "u1",
		Amount:        500,
		PaymentMethod: models.PaymentMethodGateway,
	})

	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, res.Status)
	assert.Equal(t, "https://yookassa.ru/pay/gw-1", res.ConfirmationURL)
	assert.Equal(t, created.ID, res.PaymentID)
	assert.Equal(t, models.PaymentTypeBalance, created.PaymentType)
	m.gw.AssertExpectations(t)
}

func TestService_InitTopUp_AmountOutOfBounds(t *testing.T) {
	for _, amount := range []float64{5, 100000} {
		m := newMocks()
		_, err := m.service().InitTopUp(context.Background(), models.TopUpRequest{
			UserID:        "u1",
			Amount:        amount,
			PaymentMethod: models.PaymentMethodGateway,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		m.repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
	}
}

func TestService_ActivateTariff_FromBalance(t *testing.T) {
	m := newMocks()
	m.repo.On("GetUser", mock.Anything, "u1").
		Return(&models.User{ID: "u1", Balance: 200, ReferredBy: "ref1"}, nil).Twice()
	m.repo.On("CreatePayment", mock.Anything, mock.Anything).Return(nil).Once()
	m.ldg.On("AdjustBalance", mock.Anything, "u1", -150.0).Return(nil).Once()
	m.repo.On("MarkPaymentTerminal", mock.Anything, mock.Anything,
		models.PaymentStatusSucceeded, "").Return(true, nil).Once()
	m.ent.On("Grant", mock.Anything, "u1", 30, "london").Return("id-1", nil).Once()
	m.ref.On("CreditOnce", mock.Anything, "ref1", "u1").Return(true, nil).Once()

	res, err := m.service().ActivateTariff(context.Background(), models.ActivateTariffRequest{
		UserID:        "u1",
		Tariff:        "1month",
		PaymentMethod: models.PaymentMethodBalance,
		SelectedNode:  "london",
	})

	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, res.Status)
	assert.Equal(t, 30, res.Days)
	m.ldg.AssertExpectations(t)
	m.ent.AssertExpectations(t)
	m.ref.AssertExpectations(t)
}

func TestService_ActivateTariff_InsufficientBalance(t *testing.T) {
	m := newMocks()
	m.repo.On("GetUser", mock.Anything, "u1").
		Return(&models.User{ID: "u1", Balance: 20}, nil).Once()
	m.repo.On("CreatePayment", mock.Anything, mock.Anything).Return(nil).Once()
	m.ldg.On("AdjustBalance", mock.Anything, "u1", -150.0).
		Return(ledger.ErrInsufficientBalance).Once()
	m.repo.On("MarkPaymentTerminal", mock.Anything, mock.Anything,
		models.PaymentStatusCanceled, "").Return(true, nil).Once()

	_, err := m.service().ActivateTariff(context.Background(), models.ActivateTariffRequest{
		UserID:        "u1",
		Tariff:        "1month",
		PaymentMethod: models.PaymentMethodBalance,
	})

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	m.ent.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.ref.AssertNotCalled(t, "CreditOnce", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ActivateTariff_UnknownTariff(t *testing.T) {
	m := newMocks()
	_, err := m.service().ActivateTariff(context.Background(), models.ActivateTariffRequest{
		UserID:        "u1",
		Tariff:        "lifetime",
		PaymentMethod: models.PaymentMethodBalance,
	})
	assert.ErrorIs(t, err, ErrInvalidTariff)
}

func TestService_ProcessGatewayEvent_TopUpSucceeded(t *testing.T) {
	m := newMocks()
	payment := &models.Payment{
		ID:          "p1",
		UserID:      "u1",
		Amount:      500,
		PaymentType: models.PaymentTypeBalance,
		Status:      models.PaymentStatusPending,
		GatewayID:   "gw-1",
	}
	m.repo.On("GetPayment", mock.Anything, "p1").Return(payment, nil).Once()
	m.repo.On("MarkPaymentTerminal", mock.Anything, "p1",
		models.PaymentStatusSucceeded, "gw-1").Return(true, nil).Once()
	m.ldg.On("AdjustBalance", mock.Anything, "u1", 500.0).Return(nil).Once()
	m.repo.On("GetUser", mock.Anything, "u1").
		Return(&models.User{ID: "u1"}, nil).Once()

	err := m.service().ProcessGatewayEvent(context.Background(), paymentprovider.PaymentStatusResponse{
		ID:       "gw-1",
		Status:   models.PaymentStatusSucceeded,
		Amount:   paymentprovider.Amount{Value: "500.00", Currency: "RUB"},
		Metadata: map[string]string{"payment_id": "p1", "user_id": "u1"},
	})

	require.NoError(t, err)
	m.ldg.AssertExpectations(t)
	m.ref.AssertNotCalled(t, "CreditOnce", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ProcessGatewayEvent_DuplicateIsNoOp(t *testing.T) {
	m := newMocks()
	payment := &models.Payment{
		ID:          "p1",
		UserID:      "u1",
		Amount:      500,
		PaymentType: models.PaymentTypeBalance,
		Status:      models.PaymentStatusPending,
	}
	m.repo.On("GetPayment", mock.Anything, "p1").Return(payment, nil).Once()
	// Переход уже выигран другим каналом.
	m.repo.On("MarkPaymentTerminal", mock.Anything, "p1",
		models.PaymentStatusSucceeded, "gw-1").Return(false, nil).Once()

	err := m.service().ProcessGatewayEvent(context.Background(), paymentprovider.PaymentStatusResponse{
		ID:       "gw-1",
		Status:   models.PaymentStatusSucceeded,
		Amount:   paymentprovider.Amount{Value: "500.00"},
		Metadata: map[string]string{"payment_id": "p1"},
	})

	require.NoError(t, err)
	m.ldg.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
	m.ent.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ProcessGatewayEvent_AlreadyTerminalLocally(t *testing.T) {
	m := newMocks()
	payment := &models.Payment{
		ID:          "p1",
		UserID:      "u1",
		PaymentType: models.PaymentTypeBalance,
		Status:      models.PaymentStatusSucceeded,
	}
	m.repo.On("GetPayment", mock.Anything, "p1").Return(payment, nil).Once()

	err := m.service().ProcessGatewayEvent(context.Background(), paymentprovider.PaymentStatusResponse{
		ID:       "gw-1",
		Status:   models.PaymentStatusSucceeded,
		Metadata: map[string]string{"payment_id": "p1"},
	})

	require.NoError(t, err)
	m.repo.AssertNotCalled(t, "MarkPaymentTerminal",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ProcessGatewayEvent_PendingStatusIgnored(t *testing.T) {
	m := newMocks()
	payment := &models.Payment{ID: "p1", Status: models.PaymentStatusPending}
	m.repo.On("GetPayment", mock.Anything, "p1").Return(payment, nil).Once()

	err := m.service().ProcessGatewayEvent(context.Background(), paymentprovider.PaymentStatusResponse{
		ID:       "gw-1",
		Status:   "waiting_for_capture",
		Metadata: map[string]string{"payment_id": "p1"},
	})

	require.NoError(t, err)
	m.repo.AssertNotCalled(t, "MarkPaymentTerminal",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ProcessGatewayEvent_SynthesizesMissingPayment(t *testing.T) {
	m := newMocks()
	m.repo.On("GetPayment", mock.Anything, "p-lost").
		Return(nil, repository.ErrPaymentNotFound).Once()
	m.repo.On("FindPaymentByGatewayID", mock.Anything, "gw-1").
		Return(nil, repository.ErrPaymentNotFound).Once()
	m.repo.On("GetUser", mock.Anything, "u1").
		Return(&models.User{ID: "u1"}, nil).Twice()

	var synthesized models.Payment
	m.repo.On("CreatePayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			synthesized = args.Get(1).(models.Payment)
		}).Return(nil).Once()
	m.repo.On("MarkPaymentTerminal", mock.Anything, mock.Anything,
		models.PaymentStatusSucceeded, "gw-1").Return(true, nil).Once()
	m.ldg.On("AdjustBalance", mock.Anything, "u1", 500.0).Return(nil).Once()

	err := m.service().ProcessGatewayEvent(context.Background(), paymentprovider.PaymentStatusResponse{
		ID:     "gw-1",
		Status: models.PaymentStatusSucceeded,
		Amount: paymentprovider.Amount{Value: "500.00", Currency: "RUB"},
		Metadata: map[string]string{
			"payment_id":   "p-lost",
			"user_id":      "u1",
			"payment_type": models.PaymentTypeBalance,
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "gw-1", synthesized.GatewayID)
	assert.Equal(t, 500.0, synthesized.Amount)
	m.ldg.AssertExpectations(t)
}

func TestService_ProcessGatewayEvent_NoMetadataIgnored(t *testing.T) {
	m := newMocks()
	m.repo.On("FindPaymentByGatewayID", mock.Anything, "gw-1").
		Return(nil, repository.ErrPaymentNotFound).Once()

	err := m.service().ProcessGatewayEvent(context.Background(), paymentprovider.PaymentStatusResponse{
		ID:     "gw-1",
		Status: models.PaymentStatusSucceeded,
		Amount: paymentprovider.Amount{Value: "500.00"},
	})

	require.NoError(t, err)
	m.repo.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestService_CheckStatus_AppliesTerminalStatus(t *testing.T) {
	m := newMocks()
	pending := &models.Payment{
		ID:          "p1",
		UserID:      "u1",
		Amount:      150,
		TariffID:    "1month",
		PaymentType: models.PaymentTypeTariff,
		Status:      models.PaymentStatusPending,
		GatewayID:   "gw-1",
	}
	settled := &models.Payment{
		ID:     "p1",
		Status: models.PaymentStatusSucceeded,
	}
	m.repo.On("GetPayment", mock.Anything, "p1").Return(pending, nil).Once()
	m.gw.On("GetPayment", mock.Anything, "gw-1").
		Return(&paymentprovider.PaymentStatusResponse{
			ID:     "gw-1",
			Status: models.PaymentStatusSucceeded,
		}, nil).Once()
	m.repo.On("MarkPaymentTerminal", mock.Anything, "p1",
		models.PaymentStatusSucceeded, "gw-1").Return(true, nil).Once()
	m.ent.On("Grant", mock.Anything, "u1", 30, "").Return("id-1", nil).Once()
	m.repo.On("GetUser", mock.Anything, "u1").
		Return(&models.User{ID: "u1"}, nil).Once()
	m.repo.On("GetPayment", mock.Anything, "p1").Return(settled, nil).Once()

	res, err := m.service().CheckStatus(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, res.Status)
	m.ent.AssertExpectations(t)
}

func TestService_CheckStatus_TerminalSkipsGateway(t *testing.T) {
	m := newMocks()
	m.repo.On("GetPayment", mock.Anything, "p1").
		Return(&models.Payment{ID: "p1", Status: models.PaymentStatusCanceled}, nil).Once()

	res, err := m.service().CheckStatus(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCanceled, res.Status)
	m.gw.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
}
