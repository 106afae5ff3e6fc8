package models

// InboundMessage описывает событие входящего сообщения из чата-источника,
// поступившее от транспорта в диспетчер пересылки.
type InboundMessage struct {
	SourceChatID int64
	MessageID    int
	SenderID     int64
}

// LimitNotice публикуется в очередь уведомлений, когда владелец правила
// исчерпал дневной лимит сообщений.
type LimitNotice struct {
	UserID   int64 `json:"user_id"`
	MaxDaily int   `json:"max_daily"`
}

// ExpiryNotice публикуется при понижении тарифа после окончания premium
// или как напоминание о скором окончании подписки.
type ExpiryNotice struct {
	UserID        int64  `json:"user_id"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	Expired       bool   `json:"expired"`
	RulesDisabled int    `json:"rules_disabled,omitempty"`
}

// OpsNotice публикуется в операторскую очередь при расхождениях,
// требующих ручной сверки (например, несовпадение суммы платежа).
type OpsNotice struct {
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}
