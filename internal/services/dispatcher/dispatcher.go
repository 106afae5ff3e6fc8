// Package dispatcher содержит горячий путь пересылки: сопоставление
// входящего сообщения с правилами и пересылку каждому назначению
// с учетом дневной квоты владельца.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teleforward/forwarder-bot/internal/lib/day"
	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/lib/userlock"
	"github.com/teleforward/forwarder-bot/internal/metrics"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/plan"
	"github.com/teleforward/forwarder-bot/internal/rabbitmq"
)

// RuleLister возвращает активные правила для чата-источника.
type RuleLister interface {
	ListBySource(ctx context.Context, sourceChatID int64) ([]*models.Rule, error)
}

// UserProvider возвращает владельцев правил.
type UserProvider interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// QuotaTracker проверяет и учитывает дневную квоту сообщений.
type QuotaTracker interface {
	CanSendMessage(ctx context.Context, user *models.User) (bool, error)
	RecordMessageSent(ctx context.Context, user *models.User) error
}

// Forwarder пересылает сообщение в чат-назначение.
type Forwarder interface {
	ForwardMessage(ctx context.Context, destChatID, fromChatID int64, messageID int) error
}

// NoticeFlags ставит одноразовые флаги уведомлений с TTL.
type NoticeFlags interface {
	SetNX(key string, value any, expiration time.Duration) (bool, error)
}

// NoticePublisher публикует уведомления в очередь.
type NoticePublisher interface {
	Publish(routingKey string, message any) error
}

// Dispatcher обрабатывает входящие сообщения из чатов-источников.
type Dispatcher struct {
	rules     RuleLister
	users     UserProvider
	quota     QuotaTracker
	forwarder Forwarder
	flags     NoticeFlags
	publisher NoticePublisher
	locks     *userlock.Registry
	log       *slog.Logger
	now       func() time.Time
}

// New создает диспетчер пересылки.
func New(rules RuleLister, users UserProvider, quota QuotaTracker,
	forwarder Forwarder, flags NoticeFlags, publisher NoticePublisher,
	locks *userlock.Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		rules:     rules,
		users:     users,
		quota:     quota,
		forwarder: forwarder,
		flags:     flags,
		publisher: publisher,
		locks:     locks,
		log:       log,
		now:       time.Now,
	}
}

// Dispatch обрабатывает одно входящее сообщение: находит все активные
// правила с его чатом-источником и пересылает сообщение по каждому.
// Ошибка одного правила не прерывает обработку остальных. Повторная
// доставка не выполняется: сообщение либо переслано, либо потеряно.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.InboundMessage) error {
	const op = "services.dispatcher.Dispatch"

	matched, err := d.rules.ListBySource(ctx, msg.SourceChatID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(matched) == 0 {
		return nil
	}

	for _, rule := range matched {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		d.dispatchRule(ctx, rule, msg)
	}
	return nil
}

// dispatchRule пересылает сообщение по одному правилу. Проверка квоты,
// пересылка и учет выполняются под блокировкой владельца: два
// конкурентных сообщения на счетчике limit-1 не могут пройти оба.
func (d *Dispatcher) dispatchRule(ctx context.Context, rule *models.Rule, msg models.InboundMessage) {
	log := d.log.With(
		slog.Int64("rule_id", rule.ID),
		slog.Int64("user_id", rule.UserID),
		slog.Int64("source_chat_id", msg.SourceChatID),
	)

	d.locks.Lock(rule.UserID)
	defer d.locks.Unlock(rule.UserID)

	// Владелец читается под блокировкой: счетчик в снимке актуален,
	// пока блокировка не отпущена.
	user, err := d.users.GetUser(ctx, rule.UserID)
	if err != nil {
		log.Warn("skipping rule, failed to load owner", sl.Err(err))
		metrics.DispatchTotal.WithLabelValues(metrics.ResultOwnerSkipped).Inc()
		return
	}
	if user.IsDisabled {
		metrics.DispatchTotal.WithLabelValues(metrics.ResultOwnerSkipped).Inc()
		return
	}

	ok, err := d.quota.CanSendMessage(ctx, user)
	if err != nil {
		log.Error("failed to check message quota", sl.Err(err))
		metrics.DispatchTotal.WithLabelValues(metrics.ResultOwnerSkipped).Inc()
		return
	}
	if !ok {
		metrics.DispatchTotal.WithLabelValues(metrics.ResultQuotaDropped).Inc()
		d.notifyLimitReached(user)
		return
	}

	if err := d.forwarder.ForwardMessage(ctx, rule.DestChatID, msg.SourceChatID, msg.MessageID); err != nil {
		log.Warn("failed to forward message", sl.Err(err))
		metrics.DispatchTotal.WithLabelValues(metrics.ResultTransportFailed).Inc()
		return
	}

	if err := d.quota.RecordMessageSent(ctx, user); err != nil {
		// Пересылка уже случилась, откатить ее нельзя. Сообщение
		// не учтено в счетчике, что выгодно пользователю, а не нам.
		log.Error("failed to record sent message", sl.Err(err))
	}
	metrics.DispatchTotal.WithLabelValues(metrics.ResultForwarded).Inc()
}

// notifyLimitReached публикует уведомление об исчерпании лимита не чаще
// одного раза за календарный день UTC. Флаг в Redis живет до конца дня.
func (d *Dispatcher) notifyLimitReached(user *models.User) {
	limits := plan.LimitsFor(user.EffectiveTier(d.now()))

	key := fmt.Sprintf("notice:limit:%d:%s", user.ID, day.Floor(d.now()).Format("2006-01-02"))
	set, err := d.flags.SetNX(key, 1, day.UntilNextDay(d.now()))
	if err != nil {
		d.log.Warn("failed to set limit notice flag", sl.Err(err))
		return
	}
	if !set {
		return
	}

	notice := models.LimitNotice{UserID: user.ID, MaxDaily: limits.MaxMessagesPerDay}
	if err := d.publisher.Publish(rabbitmq.RoutingKeyLimit, notice); err != nil {
		d.log.Warn("failed to publish limit notice", sl.Err(err))
	}
}
