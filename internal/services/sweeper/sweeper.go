// Package sweeper периодически переводит пользователей с истекшим
// premium на тариф free и публикует уведомления об истечении подписки.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/rabbitmq"
)

// SubscriptionManager выполняет перевод просроченных подписок и
// собирает напоминания об истекающих.
type SubscriptionManager interface {
	ExpireSweep(ctx context.Context) (int, []models.ExpiryNotice, error)
	RemindExpiring(ctx context.Context, within time.Duration) ([]models.ExpiryNotice, error)
}

// NoticePublisher публикует уведомления в очередь expiry.
type NoticePublisher interface {
	Publish(routingKey string, message any) error
}

// Service запускает проходы по расписанию.
type Service struct {
	subs      SubscriptionManager
	publisher NoticePublisher
	interval  time.Duration
	remindFor time.Duration
	log       *slog.Logger
}

// New создает сервис. interval — период между проходами, remindFor —
// за сколько до истечения подписки отправлять напоминание.
func New(subs SubscriptionManager, publisher NoticePublisher,
	interval, remindFor time.Duration, log *slog.Logger) *Service {
	return &Service{
		subs:      subs,
		publisher: publisher,
		interval:  interval,
		remindFor: remindFor,
		log:       log,
	}
}

// Start выполняет первый проход сразу и далее по тикеру до отмены
// контекста. Ошибки прохода логируются и не останавливают цикл.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("sweeper started", slog.Duration("interval", s.interval))

	s.runOnce(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	count, notices, err := s.subs.ExpireSweep(ctx)
	if err != nil {
		s.log.Error("expire sweep failed", sl.Err(err))
	} else if count > 0 {
		s.log.Info("downgraded expired subscriptions", slog.Int("count", count))
	}
	s.publish(notices)

	reminders, err := s.subs.RemindExpiring(ctx, s.remindFor)
	if err != nil {
		s.log.Error("expiry reminders failed", sl.Err(err))
		return
	}
	s.publish(reminders)
}

func (s *Service) publish(notices []models.ExpiryNotice) {
	for _, notice := range notices {
		if err := s.publisher.Publish(rabbitmq.RoutingKeyExpiry, notice); err != nil {
			s.log.Error("failed to publish expiry notice",
				slog.Int64("user_id", notice.UserID), sl.Err(err))
		}
	}
}
