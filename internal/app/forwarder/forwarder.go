// Package forwarder собирает основное приложение: бот с диспетчером
// пересылки и HTTP-сервер с webhook платежного шлюза.
package forwarder

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/teleforward/forwarder-bot/internal/bot"
	"github.com/teleforward/forwarder-bot/internal/cache"
	"github.com/teleforward/forwarder-bot/internal/config"
	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/lib/userlock"
	"github.com/teleforward/forwarder-bot/internal/migrations"
	"github.com/teleforward/forwarder-bot/internal/paymentprovider"
	"github.com/teleforward/forwarder-bot/internal/rabbitmq"
	dispatcherservice "github.com/teleforward/forwarder-bot/internal/services/dispatcher"
	quotaservice "github.com/teleforward/forwarder-bot/internal/services/quota"
	rulesservice "github.com/teleforward/forwarder-bot/internal/services/rules"
	subservice "github.com/teleforward/forwarder-bot/internal/services/subscription"
	"github.com/teleforward/forwarder-bot/internal/storage/repository"
	"github.com/teleforward/forwarder-bot/internal/telegram"
)

type App struct {
	server *http.Server
	bot    *bot.Bot
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
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

	tg := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.PollTimeout)
	me, err := tg.GetMe(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("authorized in telegram", slog.String("username", me.Username))

	providerClient := paymentprovider.NewClient(cfg.Paystack.SecretKey)

	locks := userlock.New()
	quotaTracker := quotaservice.New(db, logger)
	rulesService := rulesservice.New(db, db, quotaTracker, tg, cacheRedis, locks, me.ID, logger)
	dispatcher := dispatcherservice.New(rulesService, db, quotaTracker, tg, cacheRedis, publisher, locks, logger)
	subscriptionService := subservice.New(db, providerClient, rulesService, cacheRedis, locks, cfg.Paystack, logger)

	tgBot := bot.New(tg, subscriptionService, rulesService, dispatcher, cfg.Telegram.PollTimeout, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, subscriptionService, publisher, cfg.Paystack.SecretKey)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		bot:    tgBot,
		db:     db,
		conn:   conn,
		ch:     ch,
		logger: logger,
	}, nil
}

// Run запускает бота и HTTP-сервер и блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := a.bot.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.shutdown()
		return err
	}

	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown http server", sl.Err(err))
	}
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close rabbitmq channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close rabbitmq connection", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
