package models

import "time"

// Статусы платежной транзакции. Переход initiated -> verified или
// initiated -> failed выполняется ровно один раз.
const (
	TxInitiated = "initiated"
	TxVerified  = "verified"
	TxFailed    = "failed"
)

// Transaction представляет попытку оплаты подписки через Paystack.
// Reference уникален и служит внешним идентификатором платежа.
type Transaction struct {
	ID         int64
	UserID     int64
	Reference  string // Paystack reference, например SUB_42_9f1c...
	Email      string // Email плательщика, требуется Paystack
	Amount     int    // Сумма в кобо
	Currency   string
	Status     string // initiated | verified | failed
	CreatedAt  time.Time
	VerifiedAt *time.Time
}
