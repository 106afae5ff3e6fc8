package subscription

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teleforward/forwarder-bot/internal/config"
	"github.com/teleforward/forwarder-bot/internal/lib/userlock"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/paymentprovider"
)

type RepoMock struct {
	mock.Mock
}

func (m *RepoMock) GetOrCreateUser(ctx context.Context, id int64, username string, now time.Time) (*models.User, error) {
	args := m.Called(ctx, id, username, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) GetUser(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) ActivatePremium(ctx context.Context, userID int64, until time.Time) error {
	args := m.Called(ctx, userID, until)
	return args.Error(0)
}

func (m *RepoMock) DowngradeToFree(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *RepoMock) ListExpiredPremium(ctx context.Context, now time.Time) ([]*models.User, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *RepoMock) ListPremiumExpiringSoon(ctx context.Context, now time.Time, within time.Duration) ([]*models.User, error) {
	args := m.Called(ctx, now, within)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *RepoMock) CreateTransaction(ctx context.Context, tx models.Transaction) (int64, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RepoMock) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *RepoMock) HasInitiatedTransaction(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RepoMock) MarkTransactionVerified(ctx context.Context, reference string, verifiedAt time.Time) (int64, error) {
	args := m.Called(ctx, reference, verifiedAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RepoMock) MarkTransactionFailed(ctx context.Context, reference string) (int64, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(int64), args.Error(1)
}

type ProviderMock struct {
	mock.Mock
}

func (m *ProviderMock) InitializeTransaction(ctx context.Context, reqParams paymentprovider.InitializeRequest) (*paymentprovider.InitializeResponse, error) {
	args := m.Called(ctx, reqParams)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.InitializeResponse), args.Error(1)
}

func (m *ProviderMock) VerifyTransaction(ctx context.Context, reference string) (*paymentprovider.VerifyResponse, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.VerifyResponse), args.Error(1)
}

type RulesMock struct {
	mock.Mock
}

func (m *RulesMock) DisableExcess(ctx context.Context, userID int64, keep int) (int64, error) {
	args := m.Called(ctx, userID, keep)
	return args.Get(0).(int64), args.Error(1)
}

type FlagsMock struct {
	mock.Mock
}

func (m *FlagsMock) SetNX(key string, value any, expiration time.Duration) (bool, error) {
	args := m.Called(key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testCfg = config.Paystack{
	SecretKey:     "sk_test",
	MonthlyPrice:  700000,
	Currency:      "NGN",
	PremiumPeriod: 720 * time.Hour,
}

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newManager(repo *RepoMock, provider *ProviderMock, rules *RulesMock, flags *FlagsMock) *Manager {
	m := New(repo, provider, rules, flags, userlock.New(), testCfg, newNoopLogger())
	m.now = func() time.Time { return testNow }
	return m
}

func TestRequestUpgrade(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		repo.On("HasInitiatedTransaction", mock.Anything, int64(42)).Return(false, nil)

		resp := &paymentprovider.InitializeResponse{Status: true}
		resp.Data.AuthorizationURL = "https://checkout.paystack.com/abc"
		provider.On("InitializeTransaction", mock.Anything, mock.MatchedBy(func(req paymentprovider.InitializeRequest) bool {
			return req.Email == "user@example.com" &&
				req.Amount == 700000 &&
				strings.HasPrefix(req.Reference, "SUB_42_")
		})).Return(resp, nil)
		repo.On("CreateTransaction", mock.Anything, mock.MatchedBy(func(tx models.Transaction) bool {
			return tx.UserID == 42 && tx.Status == models.TxInitiated && tx.Amount == 700000
		})).Return(int64(1), nil)

		m := newManager(repo, provider, new(RulesMock), new(FlagsMock))
		url, reference, err := m.RequestUpgrade(context.Background(), 42, "user@example.com")

		require.NoError(t, err)
		assert.Equal(t, "https://checkout.paystack.com/abc", url)
		assert.True(t, strings.HasPrefix(reference, "SUB_42_"))
		repo.AssertExpectations(t)
		provider.AssertExpectations(t)
	})

	t.Run("AlreadyPending", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		repo.On("HasInitiatedTransaction", mock.Anything, int64(42)).Return(true, nil)

		m := newManager(repo, provider, new(RulesMock), new(FlagsMock))
		_, _, err := m.RequestUpgrade(context.Background(), 42, "user@example.com")

		assert.ErrorIs(t, err, models.ErrAlreadyPending)
		provider.AssertNotCalled(t, "InitializeTransaction", mock.Anything, mock.Anything)
	})
}

func TestConfirmPayment(t *testing.T) {
	initiated := &models.Transaction{
		ID: 1, UserID: 42, Reference: "SUB_42_ref",
		Amount: 700000, Currency: "NGN", Status: models.TxInitiated,
	}
	premiumUser := &models.User{ID: 42, Plan: models.TierPremium}

	tests := []struct {
		name        string
		amount      int
		currency    string
		setupMocks  func(repo *RepoMock)
		expectedErr error
	}{
		{
			name:     "Success",
			amount:   700000,
			currency: "NGN",
			setupMocks: func(repo *RepoMock) {
				repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(initiated, nil)
				repo.On("MarkTransactionVerified", mock.Anything, "SUB_42_ref", testNow).Return(int64(1), nil)
				repo.On("ActivatePremium", mock.Anything, int64(42), testNow.Add(720*time.Hour)).Return(nil)
				repo.On("GetUser", mock.Anything, int64(42)).Return(premiumUser, nil)
			},
		},
		{
			name:     "UnknownReference",
			amount:   700000,
			currency: "NGN",
			setupMocks: func(repo *RepoMock) {
				repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").
					Return(nil, models.ErrUnknownReference)
			},
			expectedErr: models.ErrUnknownReference,
		},
		{
			name:     "AlreadyVerified",
			amount:   700000,
			currency: "NGN",
			setupMocks: func(repo *RepoMock) {
				verified := *initiated
				verified.Status = models.TxVerified
				repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(&verified, nil)
			},
			expectedErr: models.ErrAlreadyProcessed,
		},
		{
			name:     "LostConditionalUpdate",
			amount:   700000,
			currency: "NGN",
			setupMocks: func(repo *RepoMock) {
				repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(initiated, nil)
				repo.On("MarkTransactionVerified", mock.Anything, "SUB_42_ref", testNow).Return(int64(0), nil)
			},
			expectedErr: models.ErrAlreadyProcessed,
		},
		{
			name:     "AmountMismatch",
			amount:   100,
			currency: "NGN",
			setupMocks: func(repo *RepoMock) {
				repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(initiated, nil)
			},
			expectedErr: models.ErrAmountMismatch,
		},
		{
			name:     "CurrencyMismatch",
			amount:   700000,
			currency: "USD",
			setupMocks: func(repo *RepoMock) {
				repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(initiated, nil)
			},
			expectedErr: models.ErrAmountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			tt.setupMocks(repo)

			m := newManager(repo, new(ProviderMock), new(RulesMock), new(FlagsMock))
			user, err := m.ConfirmPayment(context.Background(), "SUB_42_ref", tt.amount, tt.currency)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, models.TierPremium, user.Plan)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestVerifyByReference(t *testing.T) {
	initiated := &models.Transaction{
		ID: 1, UserID: 42, Reference: "SUB_42_ref",
		Amount: 700000, Currency: "NGN", Status: models.TxInitiated,
	}

	t.Run("NotOwner", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(initiated, nil)

		m := newManager(repo, provider, new(RulesMock), new(FlagsMock))
		_, err := m.VerifyByReference(context.Background(), 7, "SUB_42_ref")

		assert.ErrorIs(t, err, models.ErrNotOwner)
		provider.AssertNotCalled(t, "VerifyTransaction", mock.Anything, mock.Anything)
	})

	t.Run("SuccessActivatesPremium", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(initiated, nil)

		resp := &paymentprovider.VerifyResponse{Status: true}
		resp.Data.Status = "success"
		resp.Data.Amount = 700000
		resp.Data.Currency = "NGN"
		provider.On("VerifyTransaction", mock.Anything, "SUB_42_ref").Return(resp, nil)
		repo.On("MarkTransactionVerified", mock.Anything, "SUB_42_ref", testNow).Return(int64(1), nil)
		repo.On("ActivatePremium", mock.Anything, int64(42), testNow.Add(720*time.Hour)).Return(nil)
		repo.On("GetUser", mock.Anything, int64(42)).
			Return(&models.User{ID: 42, Plan: models.TierPremium}, nil)

		m := newManager(repo, provider, new(RulesMock), new(FlagsMock))
		user, err := m.VerifyByReference(context.Background(), 42, "SUB_42_ref")

		require.NoError(t, err)
		assert.Equal(t, models.TierPremium, user.Plan)
		repo.AssertExpectations(t)
	})

	t.Run("AbandonedMarksFailed", func(t *testing.T) {
		repo := new(RepoMock)
		provider := new(ProviderMock)
		repo.On("GetTransactionByReference", mock.Anything, "SUB_42_ref").Return(initiated, nil)

		resp := &paymentprovider.VerifyResponse{Status: true}
		resp.Data.Status = "abandoned"
		provider.On("VerifyTransaction", mock.Anything, "SUB_42_ref").Return(resp, nil)
		repo.On("MarkTransactionFailed", mock.Anything, "SUB_42_ref").Return(int64(1), nil)

		m := newManager(repo, provider, new(RulesMock), new(FlagsMock))
		_, err := m.VerifyByReference(context.Background(), 42, "SUB_42_ref")

		assert.ErrorIs(t, err, models.ErrPaymentNotCompleted)
		repo.AssertExpectations(t)
	})
}

func TestExpireSweep(t *testing.T) {
	until := testNow.Add(-time.Hour)
	expired := []*models.User{
		{ID: 42, Plan: models.TierPremium, PremiumUntil: &until},
		{ID: 43, Plan: models.TierPremium, PremiumUntil: &until},
	}

	repo := new(RepoMock)
	rules := new(RulesMock)
	repo.On("ListExpiredPremium", mock.Anything, testNow).Return(expired, nil)
	repo.On("DowngradeToFree", mock.Anything, int64(42)).Return(nil)
	repo.On("DowngradeToFree", mock.Anything, int64(43)).Return(nil)
	rules.On("DisableExcess", mock.Anything, int64(42), 1).Return(int64(2), nil)
	rules.On("DisableExcess", mock.Anything, int64(43), 1).Return(int64(0), nil)

	m := newManager(repo, new(ProviderMock), rules, new(FlagsMock))
	count, notices, err := m.ExpireSweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, notices, 2)
	assert.True(t, notices[0].Expired)
	assert.Equal(t, 2, notices[0].RulesDisabled)
	assert.Equal(t, 0, notices[1].RulesDisabled)
	repo.AssertExpectations(t)
	rules.AssertExpectations(t)
}

func TestExpireSweep_Empty(t *testing.T) {
	repo := new(RepoMock)
	repo.On("ListExpiredPremium", mock.Anything, testNow).Return([]*models.User{}, nil)

	m := newManager(repo, new(ProviderMock), new(RulesMock), new(FlagsMock))
	count, notices, err := m.ExpireSweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, notices)
}

func TestRemindExpiring(t *testing.T) {
	until := testNow.Add(24 * time.Hour)
	expiring := []*models.User{{ID: 42, Plan: models.TierPremium, PremiumUntil: &until}}

	t.Run("FirstReminder", func(t *testing.T) {
		repo := new(RepoMock)
		flags := new(FlagsMock)
		repo.On("ListPremiumExpiringSoon", mock.Anything, testNow, 48*time.Hour).Return(expiring, nil)
		flags.On("SetNX", mock.Anything, mock.Anything, 48*time.Hour).Return(true, nil)

		m := newManager(repo, new(ProviderMock), new(RulesMock), flags)
		notices, err := m.RemindExpiring(context.Background(), 48*time.Hour)

		require.NoError(t, err)
		require.Len(t, notices, 1)
		assert.Equal(t, int64(42), notices[0].UserID)
		assert.False(t, notices[0].Expired)
	})

	t.Run("AlreadyReminded", func(t *testing.T) {
		repo := new(RepoMock)
		flags := new(FlagsMock)
		repo.On("ListPremiumExpiringSoon", mock.Anything, testNow, 48*time.Hour).Return(expiring, nil)
		flags.On("SetNX", mock.Anything, mock.Anything, 48*time.Hour).Return(false, nil)

		m := newManager(repo, new(ProviderMock), new(RulesMock), flags)
		notices, err := m.RemindExpiring(context.Background(), 48*time.Hour)

		require.NoError(t, err)
		assert.Empty(t, notices)
	})
}
