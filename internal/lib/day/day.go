// Package day содержит функции для работы с границей квотного дня.
// Квотный день всегда считается по UTC, чтобы сброс счетчиков
// не зависел от часового пояса пользователя или сервера.
package day

import (
	"time"
)

// Floor возвращает начало календарных суток UTC для переданного момента.
func Floor(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// HasRolledOver сообщает, наступили ли новые сутки UTC после lastReset.
// Используется для ленивого сброса дневного счетчика сообщений.
func HasRolledOver(lastReset, now time.Time) bool {
	return Floor(now).After(Floor(lastReset))
}

// UntilNextDay возвращает время до начала следующих суток UTC.
// Используется как TTL для флагов вида "уведомление уже отправлено сегодня".
func UntilNextDay(now time.Time) time.Duration {
	next := Floor(now).AddDate(0, 0, 1)
	return next.Sub(now.UTC())
}
