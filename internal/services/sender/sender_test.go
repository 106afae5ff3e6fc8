package sender

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teleforward/forwarder-bot/internal/models"
)

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) SendMessage(ctx context.Context, chatID int64, text string) error {
	args := m.Called(ctx, chatID, text)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleLimitNotice(t *testing.T) {
	tg := new(SenderMock)
	tg.On("SendMessage", mock.Anything, int64(42), mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "daily limit of 50")
	})).Return(nil)

	s := New(tg, 0, newNoopLogger())
	body, _ := json.Marshal(models.LimitNotice{UserID: 42, MaxDaily: 50})

	require.NoError(t, s.HandleLimitNotice(body))
	tg.AssertExpectations(t)
}

func TestHandleLimitNotice_BadBody(t *testing.T) {
	s := New(new(SenderMock), 0, newNoopLogger())
	assert.Error(t, s.HandleLimitNotice([]byte("not json")))
}

func TestHandleExpiryNotice(t *testing.T) {
	tests := []struct {
		name     string
		notice   models.ExpiryNotice
		contains string
	}{
		{
			name:     "ExpiredWithDisabledRules",
			notice:   models.ExpiryNotice{UserID: 42, Expired: true, RulesDisabled: 3},
			contains: "3 of your forwarding rules were paused",
		},
		{
			name:     "ExpiredNoRulesTouched",
			notice:   models.ExpiryNotice{UserID: 42, Expired: true},
			contains: "back on the free plan",
		},
		{
			name:     "Reminder",
			notice:   models.ExpiryNotice{UserID: 42, ExpiresAt: "2025-06-12T10:00:00Z"},
			contains: "expires on 12 June 2025 10:00 UTC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := new(SenderMock)
			tg.On("SendMessage", mock.Anything, int64(42), mock.MatchedBy(func(text string) bool {
				return strings.Contains(text, tt.contains)
			})).Return(nil)

			s := New(tg, 0, newNoopLogger())
			body, _ := json.Marshal(tt.notice)

			require.NoError(t, s.HandleExpiryNotice(body))
			tg.AssertExpectations(t)
		})
	}
}

func TestHandleOpsNotice(t *testing.T) {
	t.Run("SentToAdminChat", func(t *testing.T) {
		tg := new(SenderMock)
		tg.On("SendMessage", mock.Anything, int64(-500), mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "SUB_42_ref")
		})).Return(nil)

		s := New(tg, -500, newNoopLogger())
		body, _ := json.Marshal(models.OpsNotice{Reference: "SUB_42_ref", Reason: "amount mismatch"})

		require.NoError(t, s.HandleOpsNotice(body))
		tg.AssertExpectations(t)
	})

	t.Run("NoAdminChatConfigured", func(t *testing.T) {
		tg := new(SenderMock)
		s := New(tg, 0, newNoopLogger())
		body, _ := json.Marshal(models.OpsNotice{Reference: "SUB_42_ref"})

		require.NoError(t, s.HandleOpsNotice(body))
		tg.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	})
}
