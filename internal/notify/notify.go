// Package notify sends best-effort order-fill and liquidation alerts
// over Telegram (spec.md's Live Trading Execution Core has no
// notification channel; this is a supplemented feature). Grounded on
// the Notifier/Manager fan-out shape in the sibling pack repo
// koshedutech-binance-trading-app's internal/notification package, but
// wired to the actual go-telegram-bot-api/telegram-bot-api/v5 client
// the teacher carries in its own go.mod instead of a hand-rolled
// net/http POST.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// EventKind classifies a quick-trade lifecycle event worth notifying on.
type EventKind string

const (
	EventFilled     EventKind = "filled"
	EventFailed     EventKind = "failed"
	EventLiquidated EventKind = "liquidated"
)

// Event is one notifiable quick-trade outcome.
type Event struct {
	Kind     EventKind
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	Reason   string
}

func (e Event) message() string {
	switch e.Kind {
	case EventFilled:
		return fmt.Sprintf("Order filled: %s %s qty=%.6f @ %.4f", e.Side, e.Symbol, e.Quantity, e.Price)
	case EventFailed:
		return fmt.Sprintf("Order failed: %s %s (%s)", e.Side, e.Symbol, e.Reason)
	case EventLiquidated:
		return fmt.Sprintf("Position liquidated: %s %s qty=%.6f @ %.4f", e.Side, e.Symbol, e.Quantity, e.Price)
	default:
		return fmt.Sprintf("%s %s %s", e.Kind, e.Side, e.Symbol)
	}
}

// Notifier pushes a quick-trade Event somewhere. Never returns an error
// to the caller's critical path; errors are for logging only.
type Notifier interface {
	Notify(e Event) error
	Enabled() bool
}

// TelegramNotifier sends Event messages through a Telegram bot, wiring
// go-telegram-bot-api/telegram-bot-api/v5's BotAPI client.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier authenticates against the Telegram Bot API.
// A disabled (zero-value chatID or empty token) notifier is still
// returned so callers can treat "not configured" uniformly with
// "configured but quiet" rather than branching on nil.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return &TelegramNotifier{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: authenticating telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Enabled reports whether a bot token and chat id were configured.
func (n *TelegramNotifier) Enabled() bool {
	return n != nil && n.bot != nil && n.chatID != 0
}

// Notify sends e as a plain-text Telegram message.
func (n *TelegramNotifier) Notify(e Event) error {
	if !n.Enabled() {
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, e.message())
	_, err := n.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("notify: sending telegram message: %w", err)
	}
	return nil
}

// Manager best-effort fans Event out to every configured Notifier,
// mirroring koshedutech's notification.Manager — a failure in one
// channel never blocks the others, and Manager itself never fails the
// caller's trade path.
type Manager struct {
	notifiers []Notifier
}

// NewManager builds a Manager over zero or more notifiers; disabled
// notifiers are kept but skipped at send time.
func NewManager(notifiers ...Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// Notify dispatches e to every enabled notifier, collecting (not
// stopping on) individual failures.
func (m *Manager) Notify(e Event) []error {
	var errs []error
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		if err := n.Notify(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
