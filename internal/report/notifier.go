package report

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/go-steward/internal/restclient"
	"github.com/basket/go-steward/internal/shared"
	"github.com/basket/go-steward/internal/state"
)

// Notifier delivers a report to one destination.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier sends reports to one or more Telegram chats.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	logger  *slog.Logger
}

func NewTelegramNotifier(token string, chatIDs []int64, logger *slog.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	logger.Info("telegram notifier ready", "bot", bot.Self.UserName, "chats", len(chatIDs))
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs, logger: logger}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	var lastErr error
	for _, id := range n.chatIDs {
		msg := tgbotapi.NewMessage(id, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error("telegram send failed", "chat", id, "error", shared.Redact(err.Error()))
			lastErr = err
		}
	}
	return lastErr
}

// DiscordNotifier posts reports to a Discord webhook through the shared
// retrying client.
type DiscordNotifier struct {
	rc         *restclient.Client
	webhookURL string
}

func NewDiscordNotifier(rc *restclient.Client, webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{rc: rc, webhookURL: webhookURL}
}

func (n *DiscordNotifier) Notify(ctx context.Context, text string) error {
	// Discord caps message content at 2000 characters.
	if len(text) > 1990 {
		text = text[:1990] + "..."
	}
	_, err := n.rc.Do(ctx, restclient.Request{
		Method: "POST",
		URL:    n.webhookURL,
		Body:   map[string]string{"content": text},
	})
	return err
}

// Dispatcher fans a report out to every configured notifier and guards
// the once-only sends via state flags.
type Dispatcher struct {
	notifiers []Notifier
	store     *state.Store
	logger    *slog.Logger
}

func NewDispatcher(store *state.Store, logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifiers: notifiers, store: store, logger: logger}
}

// Send delivers the text to every notifier. Per-notifier failures are
// logged; the send succeeds if any destination accepted it.
func (d *Dispatcher) Send(ctx context.Context, text string) error {
	if len(d.notifiers) == 0 {
		d.logger.Debug("no notifiers configured, report dropped")
		return nil
	}
	delivered := false
	var lastErr error
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, text); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		return fmt.Errorf("report delivery failed everywhere: %w", lastErr)
	}
	return nil
}

// SendStartup delivers the startup announcement at most once for the
// lifetime of the state file.
func (d *Dispatcher) SendStartup(ctx context.Context, text string) error {
	first, err := d.store.MarkOnce("startup_report")
	if err != nil {
		return err
	}
	if !first {
		d.logger.Debug("startup report already sent")
		return nil
	}
	return d.Send(ctx, text)
}

// SendDaily delivers the daily report at most once per UTC day.
func (d *Dispatcher) SendDaily(ctx context.Context, text string) error {
	first, err := d.store.MarkOncePerDay("daily_report")
	if err != nil {
		return err
	}
	if !first {
		d.logger.Debug("daily report already sent today")
		return nil
	}
	return d.Send(ctx, text)
}
