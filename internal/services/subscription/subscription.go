// Package subscription содержит бизнес-логику платной подписки:
// инициацию платежа, идемпотентное подтверждение, ручную сверку
// и перевод просроченных premium-пользователей обратно на free.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teleforward/forwarder-bot/internal/config"
	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/lib/userlock"
	"github.com/teleforward/forwarder-bot/internal/metrics"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/paymentprovider"
	"github.com/teleforward/forwarder-bot/internal/plan"
)

// Repository определяет методы хранилища для пользователей и платежей.
type Repository interface {
	GetOrCreateUser(ctx context.Context, id int64, username string, now time.Time) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ActivatePremium(ctx context.Context, userID int64, until time.Time) error
	DowngradeToFree(ctx context.Context, userID int64) error
	ListExpiredPremium(ctx context.Context, now time.Time) ([]*models.User, error)
	ListPremiumExpiringSoon(ctx context.Context, now time.Time, within time.Duration) ([]*models.User, error)

	CreateTransaction(ctx context.Context, tx models.Transaction) (int64, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	HasInitiatedTransaction(ctx context.Context, userID int64) (bool, error)
	MarkTransactionVerified(ctx context.Context, reference string, verifiedAt time.Time) (int64, error)
	MarkTransactionFailed(ctx context.Context, reference string) (int64, error)
}

// PaymentProvider определяет вызовы платежного шлюза.
type PaymentProvider interface {
	InitializeTransaction(ctx context.Context, reqParams paymentprovider.InitializeRequest) (*paymentprovider.InitializeResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*paymentprovider.VerifyResponse, error)
}

// RuleDisabler выключает правила сверх лимита тарифа при понижении.
type RuleDisabler interface {
	DisableExcess(ctx context.Context, userID int64, keep int) (int64, error)
}

// NoticeFlags ставит одноразовые флаги уведомлений с TTL.
type NoticeFlags interface {
	SetNX(key string, value any, expiration time.Duration) (bool, error)
}

// Manager реализует жизненный цикл подписки free -> pending -> premium -> free.
type Manager struct {
	repo     Repository
	provider PaymentProvider
	rules    RuleDisabler
	flags    NoticeFlags
	locks    *userlock.Registry
	cfg      config.Paystack
	log      *slog.Logger
	now      func() time.Time
}

// New создает менеджер подписок.
func New(repo Repository, provider PaymentProvider, rules RuleDisabler,
	flags NoticeFlags, locks *userlock.Registry, cfg config.Paystack, log *slog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		provider: provider,
		rules:    rules,
		flags:    flags,
		locks:    locks,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// GetOrCreateUser возвращает пользователя, создавая запись с тарифом free
// при первом обращении.
func (m *Manager) GetOrCreateUser(ctx context.Context, id int64, username string) (*models.User, error) {
	return m.repo.GetOrCreateUser(ctx, id, username, m.now())
}

// RequestUpgrade инициирует платеж за месяц premium. Пока у пользователя
// есть незавершенный платеж, новый не создается. Возвращает ссылку на
// оплату и reference для последующей сверки.
func (m *Manager) RequestUpgrade(ctx context.Context, userID int64, email string) (paymentURL, reference string, err error) {
	const op = "services.subscription.RequestUpgrade"

	m.locks.Lock(userID)
	defer m.locks.Unlock(userID)

	pending, err := m.repo.HasInitiatedTransaction(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	if pending {
		return "", "", models.ErrAlreadyPending
	}

	reference = fmt.Sprintf("SUB_%d_%s", userID, uuid.New().String())
	resp, err := m.provider.InitializeTransaction(ctx, paymentprovider.InitializeRequest{
		Email:     email,
		Amount:    m.cfg.MonthlyPrice,
		Reference: reference,
		Currency:  m.cfg.Currency,
		Metadata:  map[string]string{"user_id": fmt.Sprintf("%d", userID)},
	})
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	_, err = m.repo.CreateTransaction(ctx, models.Transaction{
		UserID:    userID,
		Reference: reference,
		Email:     email,
		Amount:    m.cfg.MonthlyPrice,
		Currency:  m.cfg.Currency,
		Status:    models.TxInitiated,
		CreatedAt: m.now(),
	})
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	m.log.Info("initiated subscription payment",
		slog.Int64("user_id", userID), slog.String("reference", reference))
	metrics.PaymentEventsTotal.WithLabelValues("initiated").Inc()

	return resp.Data.AuthorizationURL, reference, nil
}

// ConfirmPayment подтверждает платеж и активирует premium на оплаченный
// период. Повторный вызов с тем же reference возвращает
// models.ErrAlreadyProcessed и не продлевает подписку второй раз:
// перевод initiated -> verified выполняется условным UPDATE в хранилище.
func (m *Manager) ConfirmPayment(ctx context.Context, reference string, amount int, currency string) (*models.User, error) {
	const op = "services.subscription.ConfirmPayment"

	tx, err := m.repo.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tx.Status != models.TxInitiated {
		return nil, models.ErrAlreadyProcessed
	}
	if amount != tx.Amount || currency != tx.Currency {
		m.log.Warn("payment amount mismatch",
			slog.String("reference", reference),
			slog.Int("expected", tx.Amount), slog.Int("got", amount))
		metrics.PaymentEventsTotal.WithLabelValues("amount_mismatch").Inc()
		return nil, models.ErrAmountMismatch
	}

	m.locks.Lock(tx.UserID)
	defer m.locks.Unlock(tx.UserID)

	now := m.now()
	updated, err := m.repo.MarkTransactionVerified(ctx, reference, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if updated == 0 {
		return nil, models.ErrAlreadyProcessed
	}

	until := now.Add(m.cfg.PremiumPeriod)
	if err := m.repo.ActivatePremium(ctx, tx.UserID, until); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.log.Info("activated premium",
		slog.Int64("user_id", tx.UserID),
		slog.String("reference", reference),
		slog.Time("until", until))
	metrics.PaymentEventsTotal.WithLabelValues("confirmed").Inc()

	return m.repo.GetUser(ctx, tx.UserID)
}

// VerifyByReference сверяет платеж с платежным шлюзом по запросу
// пользователя. Чужой reference отклоняется до обращения к шлюзу.
func (m *Manager) VerifyByReference(ctx context.Context, userID int64, reference string) (*models.User, error) {
	const op = "services.subscription.VerifyByReference"

	tx, err := m.repo.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tx.UserID != userID {
		return nil, models.ErrNotOwner
	}
	if tx.Status == models.TxVerified {
		return nil, models.ErrAlreadyProcessed
	}

	resp, err := m.provider.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch resp.Data.Status {
	case "success":
		return m.ConfirmPayment(ctx, reference, resp.Data.Amount, resp.Data.Currency)
	case "failed", "abandoned":
		if _, err := m.repo.MarkTransactionFailed(ctx, reference); err != nil {
			m.log.Error("failed to mark transaction failed", sl.Err(err))
		}
		metrics.PaymentEventsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: payment %s: %w", op, resp.Data.Status, models.ErrPaymentNotCompleted)
	default:
		return nil, fmt.Errorf("%s: payment still pending: %w", op, models.ErrPaymentNotCompleted)
	}
}

// ExpireSweep переводит пользователей с истекшим premium на free и
// выключает правила сверх лимита бесплатного тарифа. Правила не
// удаляются: после новой оплаты их можно включить обратно.
// Возвращает уведомления для очереди expiry.
func (m *Manager) ExpireSweep(ctx context.Context) (int, []models.ExpiryNotice, error) {
	const op = "services.subscription.ExpireSweep"

	now := m.now()
	expired, err := m.repo.ListExpiredPremium(ctx, now)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}

	freeLimits := plan.LimitsFor(models.TierFree)
	notices := make([]models.ExpiryNotice, 0, len(expired))
	downgraded := 0
	for _, user := range expired {
		select {
		case <-ctx.Done():
			return downgraded, notices, ctx.Err()
		default:
		}

		if err := m.downgradeUser(ctx, user, freeLimits.MaxRules, &notices); err != nil {
			m.log.Error("failed to downgrade expired user",
				slog.Int64("user_id", user.ID), sl.Err(err))
			continue
		}
		downgraded++
	}

	if downgraded > 0 {
		m.log.Info("expire sweep finished", slog.Int("downgraded", downgraded))
	}
	return downgraded, notices, nil
}

func (m *Manager) downgradeUser(ctx context.Context, user *models.User, keep int, notices *[]models.ExpiryNotice) error {
	m.locks.Lock(user.ID)
	defer m.locks.Unlock(user.ID)

	if err := m.repo.DowngradeToFree(ctx, user.ID); err != nil {
		return err
	}
	disabled, err := m.rules.DisableExcess(ctx, user.ID, keep)
	if err != nil {
		return err
	}
	*notices = append(*notices, models.ExpiryNotice{
		UserID:        user.ID,
		Expired:       true,
		RulesDisabled: int(disabled),
	})
	return nil
}

// RemindExpiring возвращает напоминания о подписках, истекающих в
// ближайшие within. Каждому пользователю напоминание отправляется не
// чаще одного раза: флаг в Redis живет до конца периода напоминания.
func (m *Manager) RemindExpiring(ctx context.Context, within time.Duration) ([]models.ExpiryNotice, error) {
	const op = "services.subscription.RemindExpiring"

	expiring, err := m.repo.ListPremiumExpiringSoon(ctx, m.now(), within)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	notices := make([]models.ExpiryNotice, 0, len(expiring))
	for _, user := range expiring {
		if user.PremiumUntil == nil {
			continue
		}
		key := fmt.Sprintf("notice:expiry:%d:%s", user.ID, user.PremiumUntil.UTC().Format(time.RFC3339))
		set, err := m.flags.SetNX(key, 1, within)
		if err != nil {
			m.log.Warn("failed to set expiry notice flag", sl.Err(err))
			continue
		}
		if !set {
			continue
		}
		notices = append(notices, models.ExpiryNotice{
			UserID:    user.ID,
			ExpiresAt: user.PremiumUntil.UTC().Format(time.RFC3339),
		})
	}
	return notices, nil
}
