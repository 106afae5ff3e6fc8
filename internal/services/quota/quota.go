// Package quota реализует трекер квот: проверку лимита правил
// и дневного лимита сообщений с ленивым сбросом счетчика на границе
// суток UTC. Фоновый планировщик для сброса не нужен.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teleforward/forwarder-bot/internal/lib/day"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/plan"
)

// UserRepository определяет методы хранилища, нужные трекеру квот.
type UserRepository interface {
	// CountActiveRules считает активные правила пользователя.
	CountActiveRules(ctx context.Context, userID int64) (int, error)
	// ResetDailyCounter обнуляет дневной счетчик, идемпотентно в пределах суток.
	ResetDailyCounter(ctx context.Context, userID int64, resetAt time.Time) error
	// IncrementDailyMessages увеличивает счетчик и возвращает новое значение.
	IncrementDailyMessages(ctx context.Context, userID int64) (int, error)
}

// Tracker проверяет и обновляет квоты пользователя.
// Вызывающая сторона обязана удерживать блокировку пользователя
// (userlock.Registry) на протяжении пары "проверка — запись".
type Tracker struct {
	repo UserRepository
	log  *slog.Logger
	now  func() time.Time
}

// New создает новый трекер квот.
func New(repo UserRepository, log *slog.Logger) *Tracker {
	return &Tracker{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

// CanCreateRule сообщает, может ли пользователь создать еще одно правило
// в рамках своего тарифа.
func (t *Tracker) CanCreateRule(ctx context.Context, user *models.User) (bool, error) {
	limits := plan.LimitsFor(user.EffectiveTier(t.now()))
	if limits.UnlimitedRules {
		return true, nil
	}

	count, err := t.repo.CountActiveRules(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to count rules: %w", err)
	}
	return count < limits.MaxRules, nil
}

// CanSendMessage сначала докатывает счетчик до текущих суток: если с момента
// последнего сброса началась новая дата UTC, счетчик обнуляется. Затем
// сравнивает счетчик с дневным лимитом тарифа.
func (t *Tracker) CanSendMessage(ctx context.Context, user *models.User) (bool, error) {
	now := t.now()
	if day.HasRolledOver(user.LastReset, now) {
		resetAt := day.Floor(now)
		if err := t.repo.ResetDailyCounter(ctx, user.ID, resetAt); err != nil {
			return false, fmt.Errorf("failed to reset daily counter: %w", err)
		}
		user.DailyMessages = 0
		user.LastReset = resetAt
		t.log.Debug("daily counter rolled over", slog.Int64("user_id", user.ID))
	}

	limits := plan.LimitsFor(user.EffectiveTier(now))
	if limits.UnlimitedMessages {
		return true, nil
	}
	return user.DailyMessages < limits.MaxMessagesPerDay, nil
}

// RecordMessageSent увеличивает дневной счетчик на единицу. Вызывается
// только после успешной пересылки, ровно один раз на каждую отправку
// в чат-назначение.
func (t *Tracker) RecordMessageSent(ctx context.Context, user *models.User) error {
	count, err := t.repo.IncrementDailyMessages(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to increment daily counter: %w", err)
	}
	user.DailyMessages = count
	return nil
}
