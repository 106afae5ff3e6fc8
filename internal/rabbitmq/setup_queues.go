package rabbitmq

// QueueConfig описывает очередь и ключ маршрутизации в exchange "notifications".
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// ExchangeNotifications — exchange, через который идут все уведомления.
const ExchangeNotifications = "notifications"

// Ключи маршрутизации очередей уведомлений.
const (
	RoutingKeyLimit  = "limit"
	RoutingKeyExpiry = "expiry"
	RoutingKeyOps    = "ops"
)

// Имена очередей уведомлений.
const (
	QueueLimit  = "notifications.limit"
	QueueExpiry = "notifications.expiry"
	QueueOps    = "notifications.ops"
)

// GetNotificationQueues возвращает конфигурацию всех очередей уведомлений:
// дневной лимит, окончание подписки и операторские расхождения.
func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueLimit, RoutingKey: RoutingKeyLimit},
		{QueueName: QueueExpiry, RoutingKey: RoutingKeyExpiry},
		{QueueName: QueueOps, RoutingKey: RoutingKeyOps},
	}
}
