package paymentwebhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/rabbitmq"
)

type SubsMock struct {
	mock.Mock
}

func (m *SubsMock) ConfirmPayment(ctx context.Context, reference string, amount int, currency string) (*models.User, error) {
	args := m.Called(ctx, reference, amount, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(routingKey string, message any) error {
	args := m.Called(routingKey, message)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testSecret = "sk_test_secret"

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func doRequest(h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Paystack-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const chargeSuccess = `{"event":"charge.success","data":{"reference":"SUB_42_ref","status":"success","amount":700000,"currency":"NGN"}}`

func TestServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		signed         bool
		setupMocks     func(subs *SubsMock, publisher *PublisherMock)
		expectedStatus int
	}{
		{
			name:   "ChargeSuccessConfirmed",
			body:   chargeSuccess,
			signed: true,
			setupMocks: func(subs *SubsMock, publisher *PublisherMock) {
				subs.On("ConfirmPayment", mock.Anything, "SUB_42_ref", 700000, "NGN").
					Return(&models.User{ID: 42, Plan: models.TierPremium}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "MissingSignature",
			body:           chargeSuccess,
			signed:         false,
			setupMocks:     func(subs *SubsMock, publisher *PublisherMock) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:   "RetryOfProcessedPayment",
			body:   chargeSuccess,
			signed: true,
			setupMocks: func(subs *SubsMock, publisher *PublisherMock) {
				subs.On("ConfirmPayment", mock.Anything, "SUB_42_ref", 700000, "NGN").
					Return(nil, models.ErrAlreadyProcessed)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "AmountMismatchGoesToOps",
			body:   chargeSuccess,
			signed: true,
			setupMocks: func(subs *SubsMock, publisher *PublisherMock) {
				subs.On("ConfirmPayment", mock.Anything, "SUB_42_ref", 700000, "NGN").
					Return(nil, models.ErrAmountMismatch)
				publisher.On("Publish", rabbitmq.RoutingKeyOps, mock.MatchedBy(func(n models.OpsNotice) bool {
					return n.Reference == "SUB_42_ref"
				})).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "IgnoredEvent",
			body:           `{"event":"charge.failed","data":{"reference":"SUB_42_ref"}}`,
			signed:         true,
			setupMocks:     func(subs *SubsMock, publisher *PublisherMock) {},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "MalformedBody",
			body:           "not json",
			signed:         true,
			setupMocks:     func(subs *SubsMock, publisher *PublisherMock) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := new(SubsMock)
			publisher := new(PublisherMock)
			tt.setupMocks(subs, publisher)

			h := New(newNoopLogger(), subs, publisher, testSecret)
			signature := ""
			if tt.signed {
				signature = sign([]byte(tt.body))
			}
			rec := doRequest(h, []byte(tt.body), signature)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			subs.AssertExpectations(t)
			publisher.AssertExpectations(t)
		})
	}
}

func TestServeHTTP_TamperedBody(t *testing.T) {
	subs := new(SubsMock)
	h := New(newNoopLogger(), subs, new(PublisherMock), testSecret)

	signature := sign([]byte(chargeSuccess))
	tampered := []byte(`{"event":"charge.success","data":{"reference":"SUB_42_ref","amount":1,"currency":"NGN"}}`)
	rec := doRequest(h, tampered, signature)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	subs.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
