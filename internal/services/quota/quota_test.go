package quota

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teleforward/forwarder-bot/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CountActiveRules(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) ResetDailyCounter(ctx context.Context, userID int64, resetAt time.Time) error {
	return m.Called(ctx, userID, resetAt).Error(0)
}
func (m *RepoMock) IncrementDailyMessages(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTracker(repo *RepoMock, now time.Time) *Tracker {
	t := New(repo, newNoopLogger())
	t.now = func() time.Time { return now }
	return t
}

func TestTracker_CanCreateRule(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	premiumUntil := now.Add(24 * time.Hour)

	tests := []struct {
		name       string
		user       models.User
		setupMocks func(r *RepoMock)
		want       bool
	}{
		{
			name: "free user with no rules",
			user: models.User{ID: 1, Plan: models.TierFree, LastReset: now},
			setupMocks: func(r *RepoMock) {
				r.On("CountActiveRules", mock.Anything, int64(1)).Return(0, nil).Once()
			},
			want: true,
		},
		{
			name: "free user at rule limit",
			user: models.User{ID: 1, Plan: models.TierFree, LastReset: now},
			setupMocks: func(r *RepoMock) {
				r.On("CountActiveRules", mock.Anything, int64(1)).Return(1, nil).Once()
			},
			want: false,
		},
		{
			name:       "premium user never hits rule limit",
			user:       models.User{ID: 1, Plan: models.TierPremium, PremiumUntil: &premiumUntil, LastReset: now},
			setupMocks: func(_ *RepoMock) {},
			want:       true,
		},
		{
			name: "expired premium counts as free",
			user: func() models.User {
				past := now.Add(-time.Hour)
				return models.User{ID: 1, Plan: models.TierPremium, PremiumUntil: &past, LastReset: now}
			}(),
			setupMocks: func(r *RepoMock) {
				r.On("CountActiveRules", mock.Anything, int64(1)).Return(1, nil).Once()
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &RepoMock{}
			tt.setupMocks(repo)
			tracker := newTracker(repo, now)

			user := tt.user
			got, err := tracker.CanCreateRule(context.Background(), &user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			repo.AssertExpectations(t)
		})
	}
}

func TestTracker_CanSendMessage(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	today := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	tests := []struct {
		name        string
		user        models.User
		setupMocks  func(r *RepoMock)
		want        bool
		wantCounter int
	}{
		{
			name:        "free user under limit",
			user:        models.User{ID: 1, Plan: models.TierFree, DailyMessages: 49, LastReset: today},
			setupMocks:  func(_ *RepoMock) {},
			want:        true,
			wantCounter: 49,
		},
		{
			name:        "free user at limit",
			user:        models.User{ID: 1, Plan: models.TierFree, DailyMessages: 50, LastReset: today},
			setupMocks:  func(_ *RepoMock) {},
			want:        false,
			wantCounter: 50,
		},
		{
			name: "counter rolls over on new day",
			user: models.User{ID: 1, Plan: models.TierFree, DailyMessages: 50, LastReset: yesterday},
			setupMocks: func(r *RepoMock) {
				r.On("ResetDailyCounter", mock.Anything, int64(1), today).Return(nil).Once()
			},
			want:        true,
			wantCounter: 0,
		},
		{
			name: "premium user unlimited",
			user: func() models.User {
				until := now.Add(24 * time.Hour)
				return models.User{ID: 1, Plan: models.TierPremium, PremiumUntil: &until, DailyMessages: 9999, LastReset: today}
			}(),
			setupMocks:  func(_ *RepoMock) {},
			want:        true,
			wantCounter: 9999,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &RepoMock{}
			tt.setupMocks(repo)
			tracker := newTracker(repo, now)

			user := tt.user
			got, err := tracker.CanSendMessage(context.Background(), &user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCounter, user.DailyMessages)
			repo.AssertExpectations(t)
		})
	}
}

func TestTracker_CanSendMessage_RollOverIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	today := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	repo := &RepoMock{}
	repo.On("ResetDailyCounter", mock.Anything, int64(1), today).Return(nil).Once()
	tracker := newTracker(repo, now)

	user := models.User{ID: 1, Plan: models.TierFree, DailyMessages: 50, LastReset: today.AddDate(0, 0, -1)}

	// Первый вызов сбрасывает счетчик, второй в те же сутки — нет.
	ok, err := tracker.CanSendMessage(context.Background(), &user)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.CanSendMessage(context.Background(), &user)
	require.NoError(t, err)
	assert.True(t, ok)

	repo.AssertExpectations(t)
}

func TestTracker_RecordMessageSent(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	repo := &RepoMock{}
	repo.On("IncrementDailyMessages", mock.Anything, int64(1)).Return(50, nil).Once()
	tracker := newTracker(repo, now)

	user := models.User{ID: 1, Plan: models.TierFree, DailyMessages: 49}
	require.NoError(t, tracker.RecordMessageSent(context.Background(), &user))
	assert.Equal(t, 50, user.DailyMessages)
	repo.AssertExpectations(t)
}
