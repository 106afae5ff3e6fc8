// Package sender превращает уведомления из очередей RabbitMQ
// в сообщения Telegram: лимиты и истечение подписки уходят
// пользователям, операторские уведомления — в служебный чат.
package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/teleforward/forwarder-bot/internal/models"
)

// MessageSender отправляет текстовое сообщение в чат Telegram.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Service обрабатывает тела сообщений из очередей уведомлений.
type Service struct {
	tg          MessageSender
	adminChatID int64
	log         *slog.Logger
}

// New создает сервис отправки уведомлений. adminChatID — чат для
// операторских уведомлений; ноль выключает их доставку.
func New(tg MessageSender, adminChatID int64, log *slog.Logger) *Service {
	return &Service{tg: tg, adminChatID: adminChatID, log: log}
}

// HandleLimitNotice обрабатывает уведомление об исчерпании дневного лимита.
func (s *Service) HandleLimitNotice(body []byte) error {
	const op = "services.sender.HandleLimitNotice"

	var notice models.LimitNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	text := fmt.Sprintf(
		"You have reached your daily limit of %d forwarded messages. "+
			"Messages will be forwarded again tomorrow, or upgrade with /subscribe for unlimited forwarding.",
		notice.MaxDaily)
	return s.send(op, notice.UserID, text)
}

// HandleExpiryNotice обрабатывает уведомление об истечении подписки:
// либо напоминание о скором окончании, либо сообщение о понижении тарифа.
func (s *Service) HandleExpiryNotice(body []byte) error {
	const op = "services.sender.HandleExpiryNotice"

	var notice models.ExpiryNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var text string
	switch {
	case notice.Expired && notice.RulesDisabled > 0:
		text = fmt.Sprintf(
			"Your premium subscription has expired. You are back on the free plan, "+
				"and %d of your forwarding rules were paused. Renew with /subscribe to re-enable them.",
			notice.RulesDisabled)
	case notice.Expired:
		text = "Your premium subscription has expired. You are back on the free plan. " +
			"Renew anytime with /subscribe."
	default:
		text = fmt.Sprintf(
			"Your premium subscription expires on %s. Renew with /subscribe to keep unlimited forwarding.",
			formatExpiry(notice.ExpiresAt))
	}
	return s.send(op, notice.UserID, text)
}

// HandleOpsNotice пересылает операторское уведомление в служебный чат.
func (s *Service) HandleOpsNotice(body []byte) error {
	const op = "services.sender.HandleOpsNotice"

	if s.adminChatID == 0 {
		return nil
	}

	var notice models.OpsNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	text := fmt.Sprintf("Payment reconciliation required.\nReference: %s\nReason: %s",
		notice.Reference, notice.Reason)
	return s.send(op, s.adminChatID, text)
}

func (s *Service) send(op string, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.tg.SendMessage(ctx, chatID, text); err != nil {
		s.log.Error("failed to send notification", slog.Int64("chat_id", chatID))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func formatExpiry(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.UTC().Format("2 January 2006 15:04 UTC")
}
