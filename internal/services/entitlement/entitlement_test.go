package entitlement

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

func (m *RepoMock) GetUserForUpdateTx(ctx context.Context, tx *sql.Tx, userID string) (*models.User, error) {
	args := m.Called(ctx, tx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) UpdateUserEntitlementTx(ctx context.Context, tx *sql.Tx, userID string, upd models.EntitlementUpdate) error {
	args := m.Called(ctx, tx, userID, upd)
	return args.Error(0)
}

func (m *RepoMock) DeactivateUserGrants(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type ProvisionerMock struct{ mock.Mock }

func (m *ProvisionerMock) Propagate(ctx context.Context, accessIdentity, userID string, nodeIDs []string, action string) error {
	args := m.Called(ctx, accessIdentity, userID, nodeIDs, action)
	return args.Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newService(r *RepoMock, p *ProvisionerMock, c *CacheMock) *Service {
	return New(r, p, c, []string{"london", "netherlands"}, newNoopLogger())
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestService_Grant_GeneratesIdentityOnce(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{ID: "u1"}, nil).Once()

	var captured models.EntitlementUpdate
	repo.On("UpdateUserEntitlementTx", mock.Anything, mock.Anything, "u1", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(3).(models.EntitlementUpdate)
		}).Return(nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()
	prov.On("Propagate", mock.Anything, mock.Anything, "u1",
		[]string{"london", "netherlands"}, models.ProvisionActionGrant).Return(nil).Once()

	svc := newService(repo, prov, cch)
	identity, err := svc.Grant(context.Background(), "u1", 30, "")

	require.NoError(t, err)
	assert.NotEmpty(t, identity)
	assert.Equal(t, identity, captured.AccessIdentity)
	assert.Equal(t, 30, captured.SubscriptionDays)
	assert.True(t, captured.HasSubscription)
	assert.NotNil(t, captured.SubscriptionStart)
	repo.AssertExpectations(t)
	prov.AssertExpectations(t)
}

func TestService_Grant_KeepsExistingIdentity(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	start := time.Now().AddDate(0, 0, -10)
	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{
			ID:                "u1",
			HasSubscription:   true,
			SubscriptionDays:  5,
			SubscriptionStart: &start,
			AccessIdentity:    "existing-identity",
		}, nil).Once()

	var captured models.EntitlementUpdate
	repo.On("UpdateUserEntitlementTx", mock.Anything, mock.Anything, "u1", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(3).(models.EntitlementUpdate)
		}).Return(nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()
	prov.On("Propagate", mock.Anything, "existing-identity", "u1",
		[]string{"london"}, models.ProvisionActionGrant).Return(nil).Once()

	svc := newService(repo, prov, cch)
	identity, err := svc.Grant(context.Background(), "u1", 30, "london")

	require.NoError(t, err)
	assert.Equal(t, "existing-identity", identity)
	assert.Equal(t, 35, captured.SubscriptionDays)
	assert.Equal(t, &start, captured.SubscriptionStart)
}

func TestService_Grant_UserNotFound(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "ghost").
		Return(nil, repository.ErrUserNotFound).Once()

	svc := newService(repo, prov, cch)
	_, err := svc.Grant(context.Background(), "ghost", 30, "")

	assert.ErrorIs(t, err, repository.ErrUserNotFound)
	prov.AssertNotCalled(t, "Propagate",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Grant_ProvisioningErrorNotSurfaced(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{ID: "u1"}, nil).Once()
	repo.On("UpdateUserEntitlementTx", mock.Anything, mock.Anything, "u1", mock.Anything).
		Return(nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()
	prov.On("Propagate", mock.Anything, mock.Anything, "u1", mock.Anything, mock.Anything).
		Return(assert.AnError).Once()

	svc := newService(repo, prov, cch)
	_, err := svc.Grant(context.Background(), "u1", 30, "")

	assert.NoError(t, err)
}

func TestService_Decay_FirstObservationOnlyStamps(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	now := time.Now()
	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{
			ID:               "u1",
			HasSubscription:  true,
			SubscriptionDays: 5,
			AccessIdentity:   "id-1",
		}, nil).Once()

	var captured models.EntitlementUpdate
	repo.On("UpdateUserEntitlementTx", mock.Anything, mock.Anything, "u1", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(3).(models.EntitlementUpdate)
		}).Return(nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()

	svc := newService(repo, prov, cch)
	exhausted, err := svc.Decay(context.Background(), "u1", now)

	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, 5, captured.SubscriptionDays)
	assert.True(t, captured.HasSubscription)
	require.NotNil(t, captured.LastEntitlementCheck)
	assert.Equal(t, day(now), *captured.LastEntitlementCheck)
	prov.AssertNotCalled(t, "Propagate",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Decay_SameDayIsNoOp(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	now := time.Now()
	today := day(now)
	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Twice()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{
			ID:                   "u1",
			HasSubscription:      true,
			SubscriptionDays:     5,
			LastEntitlementCheck: &today,
		}, nil).Twice()
	cch.On("Invalidate", "user:u1").Return(nil).Twice()

	svc := newService(repo, prov, cch)
	for range 2 {
		exhausted, err := svc.Decay(context.Background(), "u1", now)
		require.NoError(t, err)
		assert.False(t, exhausted)
	}

	// Дни не списывались и отметка не переписывалась ни одним из вызовов.
	repo.AssertNotCalled(t, "UpdateUserEntitlementTx",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Decay_PartialDecay(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	now := time.Now()
	threeDaysAgo := day(now).AddDate(0, 0, -3)
	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{
			ID:                   "u1",
			HasSubscription:      true,
			SubscriptionDays:     5,
			LastEntitlementCheck: &threeDaysAgo,
			AccessIdentity:       "id-1",
		}, nil).Once()

	var captured models.EntitlementUpdate
	repo.On("UpdateUserEntitlementTx", mock.Anything, mock.Anything, "u1", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(3).(models.EntitlementUpdate)
		}).Return(nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()

	svc := newService(repo, prov, cch)
	exhausted, err := svc.Decay(context.Background(), "u1", now)

	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, 2, captured.SubscriptionDays)
	assert.True(t, captured.HasSubscription)
	assert.Equal(t, day(now), *captured.LastEntitlementCheck)
	prov.AssertNotCalled(t, "Propagate",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Decay_ExhaustionTriggersRevocation(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	now := time.Now()
	yesterday := day(now).AddDate(0, 0, -1)
	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{
			ID:                   "u1",
			HasSubscription:      true,
			SubscriptionDays:     1,
			LastEntitlementCheck: &yesterday,
			AccessIdentity:       "id-1",
		}, nil).Once()

	var captured models.EntitlementUpdate
	repo.On("UpdateUserEntitlementTx", mock.Anything, mock.Anything, "u1", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(3).(models.EntitlementUpdate)
		}).Return(nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()
	repo.On("DeactivateUserGrants", mock.Anything, "u1").Return(nil).Once()
	prov.On("Propagate", mock.Anything, "id-1", "u1",
		[]string{"london", "netherlands"}, models.ProvisionActionRevoke).Return(nil).Once()

	svc := newService(repo, prov, cch)
	exhausted, err := svc.Decay(context.Background(), "u1", now)

	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Equal(t, 0, captured.SubscriptionDays)
	assert.False(t, captured.HasSubscription)
	require.NotNil(t, captured.SubscriptionEnd)
	assert.Equal(t, now, *captured.SubscriptionEnd)
	repo.AssertExpectations(t)
	prov.AssertExpectations(t)
}

func TestService_Decay_UnentitledIsNoOp(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{ID: "u1"}, nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()

	svc := newService(repo, prov, cch)
	exhausted, err := svc.Decay(context.Background(), "u1", time.Now())

	require.NoError(t, err)
	assert.False(t, exhausted)
	repo.AssertNotCalled(t, "UpdateUserEntitlementTx",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Cancel(t *testing.T) {
	repo := &RepoMock{}
	prov := &ProvisionerMock{}
	cch := &CacheMock{}

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.On("WithTx", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("GetUserForUpdateTx", mock.Anything, mock.Anything, "u1").
		Return(&models.User{
			ID:                "u1",
			HasSubscription:   true,
			SubscriptionDays:  42,
			SubscriptionStart: &start,
			AccessIdentity:    "id-1",
		}, nil).Once()

	var captured models.EntitlementUpdate
	repo.On("UpdateUserEntitlementTx", mock.Anything, mock.Anything, "u1", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(3).(models.EntitlementUpdate)
		}).Return(nil).Once()
	cch.On("Invalidate", "user:u1").Return(nil).Once()
	repo.On("DeactivateUserGrants", mock.Anything, "u1").Return(nil).Once()
	prov.On("Propagate", mock.Anything, "id-1", "u1",
		[]string{"london", "netherlands"}, models.ProvisionActionRevoke).Return(nil).Once()

	svc := newService(repo, prov, cch)
	err := svc.Cancel(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, 0, captured.SubscriptionDays)
	assert.False(t, captured.HasSubscription)
	assert.NotNil(t, captured.SubscriptionEnd)
	require.NotNil(t, captured.SubscriptionStart)
	assert.Equal(t, start, *captured.SubscriptionStart)
	repo.AssertExpectations(t)
	prov.AssertExpectations(t)
}
