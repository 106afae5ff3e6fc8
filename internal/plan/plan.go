// Package plan содержит таблицу тарифов: чистое соответствие
// тариф -> лимиты. Добавление нового тарифа сводится к правке таблицы,
// побочных эффектов и ошибок у функций пакета нет.
package plan

import "github.com/teleforward/forwarder-bot/internal/models"

// Limits описывает квоты одного тарифа.
type Limits struct {
	MaxRules          int
	MaxMessagesPerDay int
	UnlimitedRules    bool
	UnlimitedMessages bool
}

// limits — единственное место в системе, где заданы числа тарифов.
// Трекер квот и менеджер подписок потребляют таблицу только через LimitsFor.
var limits = map[models.Tier]Limits{
	models.TierFree: {
		MaxRules:          1,
		MaxMessagesPerDay: 50,
	},
	models.TierPremium: {
		UnlimitedRules:    true,
		UnlimitedMessages: true,
	},
}

// LimitsFor возвращает лимиты тарифа. Неизвестный тариф трактуется
// как free: безопаснее занизить квоту, чем снять ограничения.
func LimitsFor(tier models.Tier) Limits {
	l, ok := limits[tier]
	if !ok {
		return limits[models.TierFree]
	}
	return l
}
