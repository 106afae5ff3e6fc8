package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/teleforward/forwarder-bot/internal/lib/sl"
	"github.com/teleforward/forwarder-bot/internal/models"
	"github.com/teleforward/forwarder-bot/internal/telegram"
)

const helpText = `Available commands:
/start - register and show your plan
/subscribe - see premium plan details
/pay <email> - get a payment link for premium
/verify <reference> - confirm a payment manually
/add_forward <source_chat_id> <dest_chat_id> - create a forwarding rule
/my_forwards - list your forwarding rules
/pause_forward <rule_id> - pause a rule
/resume_forward <rule_id> - resume a paused rule
/delete_forward <rule_id> - delete a rule
/help - show this message`

// handleCommand разбирает команду из личного чата и выполняет ее.
// Каждая команда начинается с регистрации пользователя: первая же
// команда создает запись с тарифом free.
func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		b.reply(ctx, msg.Chat.ID, "Send a command, see /help.")
		return
	}
	command, args := fields[0], fields[1:]
	// Команда в личном чате может приходить как /start@BotName.
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}

	user, err := b.subs.GetOrCreateUser(ctx, msg.From.ID, msg.From.Username)
	if err != nil {
		b.log.Error("failed to get or create user",
			slog.Int64("user_id", msg.From.ID), sl.Err(err))
		b.reply(ctx, msg.Chat.ID, "Something went wrong, please try again later.")
		return
	}

	switch command {
	case "/start":
		b.handleStart(ctx, msg, user)
	case "/help":
		b.reply(ctx, msg.Chat.ID, helpText)
	case "/subscribe":
		b.handleSubscribe(ctx, msg)
	case "/pay":
		b.handlePay(ctx, msg, args)
	case "/verify":
		b.handleVerify(ctx, msg, args)
	case "/add_forward":
		b.handleAddForward(ctx, msg, args)
	case "/my_forwards":
		b.handleMyForwards(ctx, msg)
	case "/pause_forward":
		b.handleSetActive(ctx, msg, args, false)
	case "/resume_forward":
		b.handleSetActive(ctx, msg, args, true)
	case "/delete_forward":
		b.handleDeleteForward(ctx, msg, args)
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command, see /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *telegram.Message, user *models.User) {
	text := fmt.Sprintf("Welcome! I forward messages between chats for you.\n"+
		"Your plan: %s.\nSet up your first rule with /add_forward, see /help for details.",
		user.Plan)
	b.reply(ctx, msg.Chat.ID, text)
}

func (b *Bot) handleSubscribe(ctx context.Context, msg *telegram.Message) {
	text := "Free plan: 1 forwarding rule, 50 forwarded messages per day.\n" +
		"Premium plan: unlimited rules and messages for 30 days.\n\n" +
		"To upgrade, send /pay <your email> and follow the payment link."
	b.reply(ctx, msg.Chat.ID, text)
}

func (b *Bot) handlePay(ctx context.Context, msg *telegram.Message, args []string) {
	if len(args) != 1 {
		b.reply(ctx, msg.Chat.ID, "Usage: /pay <your email>")
		return
	}
	email := args[0]
	if err := b.validate.Var(email, "required,email"); err != nil {
		b.reply(ctx, msg.Chat.ID, "That does not look like an email address. Usage: /pay <your email>")
		return
	}

	url, reference, err := b.subs.RequestUpgrade(ctx, msg.From.ID, email)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyPending) {
			b.reply(ctx, msg.Chat.ID,
				"You already have a pending payment. Finish it, or confirm it with /verify <reference>.")
			return
		}
		b.log.Error("failed to request upgrade",
			slog.Int64("user_id", msg.From.ID), sl.Err(err))
		b.reply(ctx, msg.Chat.ID, "Could not start the payment, please try again later.")
		return
	}

	text := fmt.Sprintf("Pay here: %s\n\n"+
		"Your payment reference: %s\n"+
		"Premium activates automatically after payment. If it does not, send /verify %s",
		url, reference, reference)
	b.reply(ctx, msg.Chat.ID, text)
}

func (b *Bot) handleVerify(ctx context.Context, msg *telegram.Message, args []string) {
	if len(args) != 1 {
		b.reply(ctx, msg.Chat.ID, "Usage: /verify <reference>")
		return
	}

	user, err := b.subs.VerifyByReference(ctx, msg.From.ID, args[0])
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownReference), errors.Is(err, models.ErrNotOwner):
			b.reply(ctx, msg.Chat.ID, "Unknown payment reference.")
		case errors.Is(err, models.ErrAlreadyProcessed):
			b.reply(ctx, msg.Chat.ID, "This payment is already confirmed, your premium is active.")
		case errors.Is(err, models.ErrPaymentNotCompleted):
			b.reply(ctx, msg.Chat.ID, "The payment is not completed yet. Finish it and try /verify again.")
		case errors.Is(err, models.ErrAmountMismatch):
			b.reply(ctx, msg.Chat.ID, "The paid amount does not match. Our team will review it shortly.")
		default:
			b.log.Error("failed to verify payment",
				slog.Int64("user_id", msg.From.ID), sl.Err(err))
			b.reply(ctx, msg.Chat.ID, "Could not verify the payment, please try again later.")
		}
		return
	}

	text := "Payment confirmed, premium is active!"
	if user.PremiumUntil != nil {
		text = fmt.Sprintf("Payment confirmed, premium is active until %s.",
			user.PremiumUntil.UTC().Format("2 January 2006"))
	}
	b.reply(ctx, msg.Chat.ID, text)
}

func (b *Bot) handleAddForward(ctx context.Context, msg *telegram.Message, args []string) {
	if len(args) != 2 {
		b.reply(ctx, msg.Chat.ID,
			"Usage: /add_forward <source_chat_id> <dest_chat_id>\n"+
				"Add me as an admin to both chats first.")
		return
	}
	sourceID, err1 := strconv.ParseInt(args[0], 10, 64)
	destID, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		b.reply(ctx, msg.Chat.ID, "Chat ids must be numbers, e.g. /add_forward -1001111 -1002222")
		return
	}

	req := models.DummyRule{SourceChatID: sourceID, DestChatID: destID}
	if err := b.validate.Struct(req); err != nil {
		b.reply(ctx, msg.Chat.ID, "Both chat ids are required.")
		return
	}

	rule, err := b.rules.Create(ctx, msg.From.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrQuotaExceeded):
			b.reply(ctx, msg.Chat.ID,
				"The free plan allows only 1 forwarding rule. Upgrade with /subscribe for unlimited rules.")
		case errors.Is(err, models.ErrDuplicateRule):
			b.reply(ctx, msg.Chat.ID, "You already have a rule between these chats.")
		case errors.Is(err, models.ErrNotChatAdmin):
			b.reply(ctx, msg.Chat.ID,
				"Both you and I must be admins of both chats. Check the permissions and try again.")
		default:
			b.log.Error("failed to create rule",
				slog.Int64("user_id", msg.From.ID), sl.Err(err))
			b.reply(ctx, msg.Chat.ID, "Could not create the rule, please try again later.")
		}
		return
	}

	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Rule #%d created: %d -> %d", rule.ID, sourceID, destID))
}

func (b *Bot) handleMyForwards(ctx context.Context, msg *telegram.Message) {
	owned, err := b.rules.ListByOwner(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("failed to list rules",
			slog.Int64("user_id", msg.From.ID), sl.Err(err))
		b.reply(ctx, msg.Chat.ID, "Could not load your rules, please try again later.")
		return
	}
	if len(owned) == 0 {
		b.reply(ctx, msg.Chat.ID, "You have no forwarding rules yet. Create one with /add_forward.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your forwarding rules:\n")
	for _, rule := range owned {
		state := "active"
		if !rule.IsActive {
			state = "paused"
		}
		sb.WriteString(fmt.Sprintf("#%d: %s -> %s (%s)\n",
			rule.ID, chatLabel(rule.SourceChatTitle, rule.SourceChatID),
			chatLabel(rule.DestChatTitle, rule.DestChatID), state))
	}
	b.reply(ctx, msg.Chat.ID, sb.String())
}

func (b *Bot) handleSetActive(ctx context.Context, msg *telegram.Message, args []string, active bool) {
	usage := "Usage: /pause_forward <rule_id>"
	if active {
		usage = "Usage: /resume_forward <rule_id>"
	}
	ruleID, ok := parseRuleID(args)
	if !ok {
		b.reply(ctx, msg.Chat.ID, usage)
		return
	}

	if err := b.rules.SetActive(ctx, ruleID, msg.From.ID, active); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNotOwner):
			b.reply(ctx, msg.Chat.ID, "You have no rule with that id, see /my_forwards.")
		case errors.Is(err, models.ErrQuotaExceeded):
			b.reply(ctx, msg.Chat.ID,
				"The free plan allows only 1 active rule. Upgrade with /subscribe to resume this one.")
		default:
			b.log.Error("failed to toggle rule",
				slog.Int64("user_id", msg.From.ID), sl.Err(err))
			b.reply(ctx, msg.Chat.ID, "Could not update the rule, please try again later.")
		}
		return
	}

	if active {
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Rule #%d resumed.", ruleID))
	} else {
		b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Rule #%d paused.", ruleID))
	}
}

func (b *Bot) handleDeleteForward(ctx context.Context, msg *telegram.Message, args []string) {
	ruleID, ok := parseRuleID(args)
	if !ok {
		b.reply(ctx, msg.Chat.ID, "Usage: /delete_forward <rule_id>")
		return
	}

	if err := b.rules.Delete(ctx, ruleID, msg.From.ID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNotOwner):
			b.reply(ctx, msg.Chat.ID, "You have no rule with that id, see /my_forwards.")
		default:
			b.log.Error("failed to delete rule",
				slog.Int64("user_id", msg.From.ID), sl.Err(err))
			b.reply(ctx, msg.Chat.ID, "Could not delete the rule, please try again later.")
		}
		return
	}

	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Rule #%d deleted.", ruleID))
}

func parseRuleID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func chatLabel(title string, id int64) string {
	if title != "" {
		return title
	}
	return strconv.FormatInt(id, 10)
}
