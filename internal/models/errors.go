package models

import "errors"

// Ошибки доменного уровня. Сервисы возвращают их обернутыми через %w,
// обработчики команд сравнивают через errors.Is и превращают
// в сообщения пользователю.
var (
	// ErrQuotaExceeded — достигнут лимит правил или дневной лимит сообщений.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrDuplicateRule — правило с той же тройкой (владелец, источник, назначение) уже есть.
	ErrDuplicateRule = errors.New("duplicate rule")
	// ErrNotFound — запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner — попытка изменить чужое правило.
	ErrNotOwner = errors.New("not owner")
	// ErrAlreadyPending — у пользователя уже есть неоплаченная транзакция.
	ErrAlreadyPending = errors.New("upgrade already pending")
	// ErrAlreadyProcessed — транзакция уже переведена в конечный статус.
	ErrAlreadyProcessed = errors.New("transaction already processed")
	// ErrUnknownReference — платеж с таким reference не создавался.
	ErrUnknownReference = errors.New("unknown payment reference")
	// ErrAmountMismatch — подтвержденная сумма не совпадает с ожидаемой.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrNotChatAdmin — бот не является администратором чата из правила.
	ErrNotChatAdmin = errors.New("bot is not an admin of the chat")
	// ErrPaymentNotCompleted — шлюз сообщил, что платеж не завершен успешно.
	ErrPaymentNotCompleted = errors.New("payment not completed")
)
