// Package paymentwebhook принимает webhook-события Paystack.
// Подпись тела проверяется до разбора JSON, событие charge.success
// подтверждает платеж и активирует premium.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/teleforward/forwarder-bot/internal/http/response"
	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/paymentprovider"
	"github.com/teleforward/forwarder-bot/internal/rabbitmq"
)

// Subscriptions подтверждает платеж по данным события.
type Subscriptions interface {
	ConfirmPayment(ctx context.Context, reference string, amount int, currency string) (*models.User, error)
}

// NoticePublisher публикует операторские уведомления о расхождениях.
type NoticePublisher interface {
	Publish(routingKey string, message any) error
}

// Handler обрабатывает POST /payments/webhook.
type Handler struct {
	log       *slog.Logger
	subs      Subscriptions
	publisher NoticePublisher
	secret    string
}

// New создает обработчик webhook. secret — секретный ключ Paystack,
// которым шлюз подписывает тело события.
func New(log *slog.Logger, subs Subscriptions, publisher NoticePublisher, secret string) *Handler {
	return &Handler{
		log:       log,
		subs:      subs,
		publisher: publisher,
		secret:    secret,
	}
}

// verifySignature проверяет заголовок X-Paystack-Signature:
// HMAC-SHA512 от тела запроса в hex.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.paymentwebhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	signature := r.Header.Get("X-Paystack-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Warn("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload paymentprovider.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if payload.Event != "charge.success" {
		log.Info("ignored webhook event", slog.String("event", payload.Event))
		w.WriteHeader(http.StatusOK)
		render.JSON(w, r, response.OK())
		return
	}

	_, err = h.subs.ConfirmPayment(r.Context(), payload.Data.Reference, payload.Data.Amount, payload.Data.Currency)
	switch {
	case err == nil:
		log.Info("payment confirmed via webhook", slog.String("reference", payload.Data.Reference))
	case errors.Is(err, models.ErrAlreadyProcessed):
		// Paystack повторяет доставку событий, повтор не является ошибкой.
		log.Info("webhook retry for processed payment", slog.String("reference", payload.Data.Reference))
	case errors.Is(err, models.ErrAmountMismatch):
		h.reportMismatch(payload.Data.Reference, "paid amount or currency does not match the initiated transaction")
		w.WriteHeader(http.StatusOK)
		render.JSON(w, r, response.OK())
		return
	case errors.Is(err, models.ErrUnknownReference):
		h.reportMismatch(payload.Data.Reference, "webhook for unknown payment reference")
		w.WriteHeader(http.StatusOK)
		render.JSON(w, r, response.OK())
		return
	default:
		log.Error("failed to confirm payment", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to process event"))
		return
	}

	w.WriteHeader(http.StatusOK)
	render.JSON(w, r, response.OK())
}

// reportMismatch отправляет расхождение в операторскую очередь.
// Событие подтверждено подписью, но не может быть применено: деньги
// пришли, подписка не активирована, нужна ручная сверка.
func (h *Handler) reportMismatch(reference, reason string) {
	h.log.Warn("payment requires manual reconciliation",
		slog.String("reference", reference), slog.String("reason", reason))
	notice := models.OpsNotice{Reference: reference, Reason: reason}
	if err := h.publisher.Publish(rabbitmq.RoutingKeyOps, notice); err != nil {
		h.log.Error("failed to publish ops notice", sl.Err(err))
	}
}
