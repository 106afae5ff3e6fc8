// Package sweeper собирает фоновое приложение, которое переводит
// просроченные premium-подписки на free и публикует уведомления.
package sweeper

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/teleforward/forwarder-bot/internal/cache"
	"github.com/teleforward/forwarder-bot/internal/config"
	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/lib/userlock"
	"github.com/teleforward/forwarder-bot/internal/paymentprovider"
	"github.com/teleforward/forwarder-bot/internal/rabbitmq"
	quotaservice "github.com/teleforward/forwarder-bot/internal/services/quota"
	rulesservice "github.com/teleforward/forwarder-bot/internal/services/rules"
	subservice "github.com/teleforward/forwarder-bot/internal/services/subscription"
	sweeperservice "github.com/teleforward/forwarder-bot/internal/services/sweeper"
	"github.com/teleforward/forwarder-bot/internal/storage/repository"
	"github.com/teleforward/forwarder-bot/internal/telegram"
)

type App struct {
	service *sweeperservice.Service
	db      *repository.Storage
	conn    *amqp.Connection
	ch      *amqp.Channel
	logger  *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err := repository.CheckDatabaseReady(db); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher := rabbitmq.NewPublisher(ch, rabbitmq.ExchangeNotifications)

	// Боту в этом процессе ничего не шлется, клиент нужен сервису правил
	// для данных о чатах; проверка прав при понижении не выполняется.
	tg := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.PollTimeout)
	providerClient := paymentprovider.NewClient(cfg.Paystack.SecretKey)

	locks := userlock.New()
	quotaTracker := quotaservice.New(db, logger)
	rulesService := rulesservice.New(db, db, quotaTracker, tg, cacheRedis, locks, 0, logger)
	subscriptionService := subservice.New(db, providerClient, rulesService, cacheRedis, locks, cfg.Paystack, logger)

	service := sweeperservice.New(subscriptionService, publisher,
		cfg.Sweeper.SweepInterval, cfg.Sweeper.RemindBefore, logger)

	return &App{
		service: service,
		db:      db,
		conn:    conn,
		ch:      ch,
		logger:  logger,
	}, nil
}

// Run блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	a.service.Start(ctx)

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close rabbitmq channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close rabbitmq connection", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
	return nil
}
