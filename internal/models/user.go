// Package models содержит доменные структуры бота-пересыльщика:
// пользователей, правила пересылки, платежные транзакции и события.
// Структуры используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Tier обозначает тарифный план пользователя.
type Tier string

// Поддерживаемые тарифы.
const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// User представляет аккаунт Telegram, взаимодействовавший с ботом.
// Создается при первом обращении и никогда не удаляется физически,
// только помечается отключенным.
type User struct {
	ID            int64      // Telegram user id, стабильный идентификатор аккаунта
	Username      string     // Telegram username, может быть пустым
	Plan          Tier       // Текущий тариф: free или premium
	PremiumUntil  *time.Time // Дата окончания premium, nil для free
	DailyMessages int        // Счетчик пересланных сегодня сообщений
	LastReset     time.Time  // Начало текущих квотных суток (UTC)
	IsDisabled    bool       // Мягкое отключение аккаунта
	CreatedAt     time.Time
}

// EffectiveTier возвращает фактический тариф на момент now.
// Premium с истекшей датой окончания считается free еще до того,
// как фоновая очистка успеет записать понижение в хранилище.
func (u *User) EffectiveTier(now time.Time) Tier {
	if u.Plan == TierPremium && u.PremiumUntil != nil && u.PremiumUntil.After(now) {
		return TierPremium
	}
	return TierFree
}
