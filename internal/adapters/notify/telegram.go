package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"github.com/stargazecap/optimus/internal/domain"
	"github.com/stargazecap/optimus/internal/ports"
)

// Telegram pushes trade and risk events to a chat. Cycle summaries are
// skipped: one message per cycle would drown the channel, and the console
// already renders them.
type Telegram struct {
	bot     *bot.Bot
	chatID  string
	limiter *rate.Limiter
}

// NewTelegram creates the notifier. Telegram allows ~20 messages per
// minute per chat; the limiter stays well under that.
func NewTelegram(token, chatID string) (*Telegram, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	return &Telegram{
		bot:     b,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 5),
	}, nil
}

// Notify sends one message per event. Errors bubble up; the engine logs
// and swallows them so delivery can never affect a cycle. Over the rate
// limit the message is dropped rather than waited on: blocking here
// would stall the cycle goroutine during event bursts.
func (t *Telegram) Notify(ctx context.Context, ev domain.Event) error {
	if ev.Kind == domain.EventCycleSummary {
		return nil
	}
	if !t.limiter.Allow() {
		slog.Warn("notify: telegram rate limited, message dropped", "kind", string(ev.Kind), "title", ev.Title)
		return nil
	}
	if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   formatMessage(ev),
	}); err != nil {
		return fmt.Errorf("notify.Telegram: send: %w", err)
	}
	return nil
}

func formatMessage(ev domain.Event) string {
	icon := "·"
	switch ev.Severity {
	case "critical":
		icon = "🚨"
	case "warn":
		icon = "⚠️"
	}
	msg := fmt.Sprintf("%s %s", icon, ev.Title)
	if ev.Asset != "" {
		msg += fmt.Sprintf(" [%s]", ev.Asset)
	}
	if ev.Detail != "" {
		msg += "\n" + ev.Detail
	}
	return msg
}

// Multi fans one event out to several notifiers. The first error is
// returned after every notifier has seen the event.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, ev domain.Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
