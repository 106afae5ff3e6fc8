// Package bot связывает Telegram с сервисами: длинный опрос обновлений,
// маршрутизация команд из личных чатов и передача сообщений из
// чатов-источников в диспетчер пересылки.
package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator"

	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/telegram"
)

// Gateway определяет вызовы Telegram Bot API, нужные боту.
type Gateway interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Subscriptions определяет операции подписки, доступные из команд.
type Subscriptions interface {
	GetOrCreateUser(ctx context.Context, id int64, username string) (*models.User, error)
	RequestUpgrade(ctx context.Context, userID int64, email string) (paymentURL, reference string, err error)
	VerifyByReference(ctx context.Context, userID int64, reference string) (*models.User, error)
}

// Rules определяет операции с правилами, доступные из команд.
type Rules interface {
	Create(ctx context.Context, userID int64, req models.DummyRule) (*models.Rule, error)
	ListByOwner(ctx context.Context, userID int64) ([]*models.Rule, error)
	Delete(ctx context.Context, ruleID, requesterID int64) error
	SetActive(ctx context.Context, ruleID, requesterID int64, active bool) error
}

// Dispatcher обрабатывает входящие сообщения из чатов-источников.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.InboundMessage) error
}

// Bot принимает обновления Telegram и раскладывает их по обработчикам.
type Bot struct {
	tg          Gateway
	subs        Subscriptions
	rules       Rules
	dispatcher  Dispatcher
	validate    *validator.Validate
	pollTimeout time.Duration
	// Ограничивает число одновременно обрабатываемых входящих сообщений,
	// по образцу потребителя очередей.
	sem chan struct{}
	log *slog.Logger
}

// New создает бота.
func New(tg Gateway, subs Subscriptions, rules Rules, dispatcher Dispatcher,
	pollTimeout time.Duration, log *slog.Logger) *Bot {
	return &Bot{
		tg:          tg,
		subs:        subs,
		rules:       rules,
		dispatcher:  dispatcher,
		validate:    validator.New(),
		pollTimeout: pollTimeout,
		sem:         make(chan struct{}, 10),
		log:         log,
	}
}

// Run крутит длинный опрос getUpdates до отмены контекста. Ошибки
// опроса логируются, цикл продолжается после паузы.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("bot polling started")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot polling stopped")
			return ctx.Err()
		default:
		}

		updates, err := b.tg.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Error("failed to get updates", sl.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update telegram.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		return
	}

	if msg.Chat.Type == "private" {
		if msg.From == nil || msg.From.IsBot {
			return
		}
		b.handleCommand(ctx, msg)
		return
	}

	// Сообщения, отправленные ботами (включая пересланные нами самими),
	// не ретранслируются, иначе пара встречных правил образует петлю.
	if msg.From != nil && msg.From.IsBot {
		return
	}

	inbound := models.InboundMessage{
		SourceChatID: msg.Chat.ID,
		MessageID:    msg.MessageID,
	}
	if msg.From != nil {
		inbound.SenderID = msg.From.ID
	}

	// Пересылка не блокирует цикл опроса: события разных чатов
	// обрабатываются параллельно, порядок внутри одного владельца
	// обеспечивает его блокировка в диспетчере.
	b.sem <- struct{}{}
	go func() {
		defer func() { <-b.sem }()
		if err := b.dispatcher.Dispatch(ctx, inbound); err != nil {
			b.log.Error("failed to dispatch message",
				slog.Int64("source_chat_id", msg.Chat.ID), sl.Err(err))
		}
	}()
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.tg.SendMessage(ctx, chatID, text); err != nil {
		b.log.Error("failed to send reply", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}
