package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

const (
	callbackApprove = "approve"
	callbackDeny    = "deny"
)

// Notifier is the operator channel over Telegram. Outbound it delivers step
// notifications and approval requests with inline Approve/Deny buttons;
// inbound it handles button callbacks plus a few operator commands, routing
// approval decisions back through the resolver.
type Notifier struct {
	logger   *slog.Logger
	bot      *bot.Bot
	chatID   int64
	resolver ports.Resolver
	store    ports.JobStore
	usage    ports.UsageLog
}

var _ ports.Notifier = (*Notifier)(nil)

// New creates the notifier. The resolver is where operator decisions land;
// it is set after construction to break the wiring cycle with the engine.
func New(logger *slog.Logger, token string, chatID int64, store ports.JobStore, usage ports.UsageLog) (*Notifier, error) {
	n := &Notifier{
		logger: logger,
		chatID: chatID,
		store:  store,
		usage:  usage,
	}

	tgBot, err := bot.New(token, bot.WithDefaultHandler(n.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	n.bot = tgBot
	return n, nil
}

func (n *Notifier) SetResolver(r ports.Resolver) { n.resolver = r }

// Start begins long polling. Blocks until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	n.logger.Info("telegram notifier started", "chat_id", n.chatID)
	n.bot.Start(ctx)
}

func (n *Notifier) Notify(ctx context.Context, message string, urgency ports.Urgency) error {
	prefix := "ℹ️"
	if urgency == ports.UrgencyError {
		prefix = "🚨"
	}
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   prefix + " " + message,
	})
	return err
}

func (n *Notifier) AskApproval(ctx context.Context, req domain.ApprovalRequest) error {
	text := fmt.Sprintf("⚠️ Approval required\n\nJob: %s\nStep: %s", req.JobID, req.Step)
	if req.Payload != "" {
		text += "\n\n" + req.Payload
	}

	keyboard := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Approve", CallbackData: callbackApprove + ":" + string(req.ID)},
				{Text: "❌ Deny", CallbackData: callbackDeny + ":" + string(req.ID)},
			},
		},
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      n.chatID,
		Text:        text,
		ReplyMarkup: keyboard,
	})
	return err
}

func (n *Notifier) handleUpdate(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery != nil {
		n.handleCallback(ctx, tgBot, update.CallbackQuery)
		return
	}
	if update.Message != nil {
		n.handleCommand(ctx, update.Message)
	}
}

func (n *Notifier) handleCallback(ctx context.Context, tgBot *bot.Bot, callback *models.CallbackQuery) {
	chatID, messageID, ok := callbackOrigin(callback)
	if !ok {
		n.logger.Warn("callback without a recoverable chat, dropping", "data", callback.Data)
		return
	}
	if chatID != n.chatID {
		n.logger.Warn("callback from unauthorized chat", "chat_id", chatID)
		return
	}

	// Answer first so the client drops its loading spinner.
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
	})

	id, decision, err := parseCallback(callback.Data)
	if err != nil {
		n.logger.Warn("unparseable callback", "data", callback.Data, "error", err)
		return
	}

	if n.resolver != nil {
		n.resolver.Resolve(id, decision)
	}

	verdict := "approved ✅"
	if decision == domain.DecisionRejected {
		verdict = "denied ❌"
	}
	tgBot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      fmt.Sprintf("Request %s %s", id, verdict),
	})
}

// callbackOrigin recovers the chat and message behind a callback. Buttons
// stay pressable after Telegram stops serving the message content (48h), in
// which case only the inaccessible stub carries the ids.
func callbackOrigin(callback *models.CallbackQuery) (chatID int64, messageID int, ok bool) {
	if m := callback.Message.Message; m != nil {
		return m.Chat.ID, m.ID, true
	}
	if m := callback.Message.InaccessibleMessage; m != nil {
		return m.Chat.ID, m.MessageID, true
	}
	return 0, 0, false
}

// parseCallback decodes "approve:<id>" / "deny:<id>" button data.
func parseCallback(data string) (domain.ApprovalID, domain.Decision, error) {
	action, id, found := strings.Cut(data, ":")
	if !found || id == "" {
		return "", "", fmt.Errorf("malformed callback data %q", data)
	}
	switch action {
	case callbackApprove:
		return domain.ApprovalID(id), domain.DecisionApproved, nil
	case callbackDeny:
		return domain.ApprovalID(id), domain.DecisionRejected, nil
	}
	return "", "", fmt.Errorf("unknown callback action %q", action)
}

func (n *Notifier) handleCommand(ctx context.Context, message *models.Message) {
	if message.Chat.ID != n.chatID {
		n.logger.Warn("message from unauthorized chat", "chat_id", message.Chat.ID)
		return
	}

	cmd, arg, _ := strings.Cut(strings.TrimSpace(message.Text), " ")
	switch cmd {
	case "/status":
		n.replyStatus(ctx)
	case "/stats":
		n.replyStats(ctx)
	case "/cancel":
		n.replyCancel(ctx, strings.TrimSpace(arg))
	}
}

func (n *Notifier) replyStatus(ctx context.Context) {
	jobs, err := n.store.ListJobs(ctx, 10)
	if err != nil {
		n.reply(ctx, "Failed to list jobs: "+err.Error())
		return
	}
	if len(jobs) == 0 {
		n.reply(ctx, "No jobs yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Recent jobs:\n")
	for _, j := range jobs {
		fmt.Fprintf(&sb, "%s  %s  %s (%s)\n", j.ID, j.Status, j.Skill, j.Target)
	}
	n.reply(ctx, sb.String())
}

func (n *Notifier) replyStats(ctx context.Context) {
	summaries, err := n.usage.UsageReport(ctx)
	if err != nil {
		n.reply(ctx, "Failed to read usage: "+err.Error())
		return
	}
	if len(summaries) == 0 {
		n.reply(ctx, "No usage recorded yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Token usage:\n")
	for _, s := range summaries {
		fmt.Fprintf(&sb, "%s/%s  calls=%d  in=%d  out=%d  cost=$%.4f\n",
			s.Tier, s.Provider, s.Calls, s.TokensIn, s.TokensOut, s.Cost)
	}
	n.reply(ctx, sb.String())
}

func (n *Notifier) replyCancel(ctx context.Context, id string) {
	if id == "" {
		n.reply(ctx, "Usage: /cancel <job-id>")
		return
	}
	if err := n.store.CancelJob(ctx, domain.JobID(id)); err != nil {
		n.reply(ctx, "Cancel failed: "+err.Error())
		return
	}
	n.reply(ctx, "Job "+id+" cancelled.")
}

func (n *Notifier) reply(ctx context.Context, text string) {
	if _, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	}); err != nil {
		n.logger.Warn("telegram reply failed", "error", err)
	}
}
