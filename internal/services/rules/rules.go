// Package rules содержит бизнес-логику правил пересылки: создание
// с проверкой квоты и уникальности, выборку по чату-источнику с кешем,
// удаление и переключение активности.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/lib/userlock"
	"github.com/teleforward/forwarder-bot/internal/models"
)

// RuleRepository определяет методы для работы с правилами в хранилище.
type RuleRepository interface {
	// CreateRule добавляет новое правило и возвращает его ID.
	CreateRule(ctx context.Context, rule models.Rule) (int64, error)
	// FindRule ищет правило по тройке (владелец, источник, назначение).
	FindRule(ctx context.Context, userID, sourceChatID, destChatID int64) (*models.Rule, error)
	// GetRule возвращает правило по ID.
	GetRule(ctx context.Context, id int64) (*models.Rule, error)
	// ListRulesBySource возвращает активные правила для чата-источника.
	ListRulesBySource(ctx context.Context, sourceChatID int64) ([]*models.Rule, error)
	// ListRulesByOwner возвращает все правила пользователя.
	ListRulesByOwner(ctx context.Context, userID int64) ([]*models.Rule, error)
	// DeleteRule удаляет правило и возвращает количество удаленных строк.
	DeleteRule(ctx context.Context, id int64) (int64, error)
	// SetRuleActive переключает флаг активности.
	SetRuleActive(ctx context.Context, id int64, active bool) error
	// DisableExcessRules выключает активные правила сверх первых keep.
	DisableExcessRules(ctx context.Context, userID int64, keep int) (int64, error)
}

// UserProvider возвращает пользователей для проверки квоты.
type UserProvider interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// QuotaChecker проверяет лимит правил тарифа.
type QuotaChecker interface {
	CanCreateRule(ctx context.Context, user *models.User) (bool, error)
}

// ChatGateway проверяет права администратора и возвращает названия чатов.
type ChatGateway interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	GetChatTitle(ctx context.Context, chatID int64) (string, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует бизнес-логику работы с правилами пересылки.
type Service struct {
	repo  RuleRepository
	users UserProvider
	quota QuotaChecker
	chats ChatGateway
	cache Cache
	locks *userlock.Registry
	botID int64
	log   *slog.Logger
}

// New создает новый сервис правил. botID — идентификатор самого бота,
// который должен быть администратором обоих чатов правила.
func New(repo RuleRepository, users UserProvider, quota QuotaChecker,
	chats ChatGateway, cache Cache, locks *userlock.Registry, botID int64, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		users: users,
		quota: quota,
		chats: chats,
		cache: cache,
		locks: locks,
		botID: botID,
		log:   log,
	}
}

func sourceCacheKey(sourceChatID int64) string {
	return fmt.Sprintf("rules:source:%d", sourceChatID)
}

// Create создает новое правило пересылки. Проверка квоты и вставка
// выполняются под блокировкой владельца, поэтому два конкурентных
// создания не могут превысить лимит тарифа.
func (s *Service) Create(ctx context.Context, userID int64, req models.DummyRule) (*models.Rule, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.verifyChatRights(ctx, userID, req); err != nil {
		return nil, err
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	ok, err := s.quota.CanCreateRule(ctx, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrQuotaExceeded
	}

	_, err = s.repo.FindRule(ctx, userID, req.SourceChatID, req.DestChatID)
	if err == nil {
		return nil, models.ErrDuplicateRule
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	rule := models.Rule{
		UserID:          userID,
		SourceChatID:    req.SourceChatID,
		SourceChatTitle: s.chatTitle(ctx, req.SourceChatID),
		DestChatID:      req.DestChatID,
		DestChatTitle:   s.chatTitle(ctx, req.DestChatID),
		IsActive:        true,
	}
	id, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return nil, err
	}
	rule.ID = id

	s.log.Info("created forwarding rule",
		slog.Int64("rule_id", id), slog.Int64("user_id", userID))
	s.invalidateSource(req.SourceChatID)

	return &rule, nil
}

// ListBySource возвращает активные правила для чата-источника,
// используя кеш или репозиторий. Горячий путь диспетчера.
func (s *Service) ListBySource(ctx context.Context, sourceChatID int64) ([]*models.Rule, error) {
	var cached []*models.Rule
	cacheKey := sourceCacheKey(sourceChatID)
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read rules cache", slog.String("key", cacheKey), sl.Err(err))
	}
	if found {
		return cached, nil
	}

	result, err := s.repo.ListRulesBySource(ctx, sourceChatID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(cacheKey, result, time.Minute); err != nil {
		s.log.Warn("failed to cache rules", slog.String("key", cacheKey), sl.Err(err))
	}
	return result, nil
}

// ListByOwner возвращает все правила пользователя.
func (s *Service) ListByOwner(ctx context.Context, userID int64) ([]*models.Rule, error) {
	return s.repo.ListRulesByOwner(ctx, userID)
}

// Delete удаляет правило по ID. Удалить правило может только его владелец.
func (s *Service) Delete(ctx context.Context, ruleID, requesterID int64) error {
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.UserID != requesterID {
		return models.ErrNotOwner
	}

	s.locks.Lock(requesterID)
	defer s.locks.Unlock(requesterID)

	count, err := s.repo.DeleteRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if count == 0 {
		return models.ErrNotFound
	}

	s.log.Info("deleted forwarding rule",
		slog.Int64("rule_id", ruleID), slog.Int64("user_id", requesterID))
	s.invalidateSource(rule.SourceChatID)
	return nil
}

// SetActive переключает активность правила. Включение проходит ту же
// проверку квоты, что и создание: нельзя вернуть сверхлимитное правило
// в строй на тарифе free.
func (s *Service) SetActive(ctx context.Context, ruleID, requesterID int64, active bool) error {
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.UserID != requesterID {
		return models.ErrNotOwner
	}

	s.locks.Lock(requesterID)
	defer s.locks.Unlock(requesterID)

	if active && !rule.IsActive {
		user, err := s.users.GetUser(ctx, requesterID)
		if err != nil {
			return err
		}
		ok, err := s.quota.CanCreateRule(ctx, user)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrQuotaExceeded
		}
	}

	if err := s.repo.SetRuleActive(ctx, ruleID, active); err != nil {
		return err
	}
	s.invalidateSource(rule.SourceChatID)
	return nil
}

// DisableExcess выключает активные правила пользователя сверх первых keep
// по времени создания. Используется менеджером подписок при понижении
// тарифа. Возвращает количество выключенных правил.
func (s *Service) DisableExcess(ctx context.Context, userID int64, keep int) (int64, error) {
	owned, err := s.repo.ListRulesByOwner(ctx, userID)
	if err != nil {
		return 0, err
	}

	count, err := s.repo.DisableExcessRules(ctx, userID, keep)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		for _, r := range owned {
			s.invalidateSource(r.SourceChatID)
		}
		s.log.Info("disabled excess rules",
			slog.Int64("user_id", userID), slog.Int64("count", count))
	}
	return count, nil
}

// verifyChatRights проверяет, что и владелец, и бот являются
// администраторами чата-источника и чата-назначения. Проверка выполняется
// один раз при создании правила и не повторяется на горячем пути.
func (s *Service) verifyChatRights(ctx context.Context, userID int64, req models.DummyRule) error {
	for _, chatID := range []int64{req.SourceChatID, req.DestChatID} {
		for _, memberID := range []int64{userID, s.botID} {
			ok, err := s.chats.IsChatAdmin(ctx, chatID, memberID)
			if err != nil {
				return fmt.Errorf("failed to check admin rights in chat %d: %w", chatID, err)
			}
			if !ok {
				return fmt.Errorf("chat %d: %w", chatID, models.ErrNotChatAdmin)
			}
		}
	}
	return nil
}

// chatTitle возвращает название чата для сохранения в правиле.
// Название декоративное, ошибка его получения не срывает создание.
func (s *Service) chatTitle(ctx context.Context, chatID int64) string {
	title, err := s.chats.GetChatTitle(ctx, chatID)
	if err != nil {
		s.log.Warn("failed to resolve chat title", slog.Int64("chat_id", chatID), sl.Err(err))
		return ""
	}
	return title
}

func (s *Service) invalidateSource(sourceChatID int64) {
	cacheKey := sourceCacheKey(sourceChatID)
	if err := s.cache.Invalidate(cacheKey); err != nil {
		s.log.Warn("failed to invalidate rules cache", slog.String("key", cacheKey), sl.Err(err))
	}
}
