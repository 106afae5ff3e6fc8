package models

import "time"

// Rule представляет правило пересылки: постоянное указание ретранслировать
// сообщения из одного чата в другой от имени владельца правила.
// Тройка (UserID, SourceChatID, DestChatID) уникальна.
type Rule struct {
	ID              int64
	UserID          int64  // Владелец правила
	SourceChatID    int64  // Чат-источник
	SourceChatTitle string // Название источника на момент создания
	DestChatID      int64  // Чат-назначение
	DestChatTitle   string // Название назначения на момент создания
	IsActive        bool   // Выключенные правила не участвуют в пересылке
	CreatedAt       time.Time
}

// DummyRule используется для приёма данных команды /add_forward,
// прежде чем конвертировать их в Rule.
type DummyRule struct {
	SourceChatID int64 `validate:"required"`
	DestChatID   int64 `validate:"required"`
}
