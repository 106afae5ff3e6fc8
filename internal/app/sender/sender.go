// Package sender собирает приложение доставки уведомлений: потребители
// очередей RabbitMQ, отправляющие сообщения в Telegram.
package sender

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/teleforward/forwarder-bot/internal/config"
	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/rabbitmq"
	senderservice "github.com/teleforward/forwarder-bot/internal/services/sender"
	"github.com/teleforward/forwarder-bot/internal/telegram"
)

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.Service
	logger        *slog.Logger
}

func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tg := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.PollTimeout)
	senderService := senderservice.New(tg, cfg.Telegram.AdminChatID, logger)

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		logger:        logger,
	}, nil
}

// Run запускает потребителей всех очередей уведомлений и блокируется
// до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	consumers := []struct {
		queue   string
		handler func([]byte) error
	}{
		{rabbitmq.QueueLimit, a.senderService.HandleLimitNotice},
		{rabbitmq.QueueExpiry, a.senderService.HandleExpiryNotice},
		{rabbitmq.QueueOps, a.senderService.HandleOpsNotice},
	}
	for _, c := range consumers {
		if err := rabbitmq.ConsumerMessage(ctx, a.ch, c.queue, c.handler); err != nil {
			a.logger.Error("failed to start consumer",
				slog.String("queue", c.queue), sl.Err(err))
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("notification sender shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close rabbitmq channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close rabbitmq connection", sl.Err(err))
	}
	return nil
}
