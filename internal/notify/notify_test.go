package notify

import (
	"errors"
	"testing"
)

type fakeNotifier struct {
	enabled bool
	err     error
	sent    []Event
}

func (f *fakeNotifier) Enabled() bool { return f.enabled }
func (f *fakeNotifier) Notify(e Event) error {
	f.sent = append(f.sent, e)
	return f.err
}

func TestManagerSkipsDisabledNotifiers(t *testing.T) {
	on := &fakeNotifier{enabled: true}
	off := &fakeNotifier{enabled: false}
	m := NewManager(on, off)

	errs := m.Notify(Event{Kind: EventFilled, Symbol: "BTCUSDT"})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(on.sent) != 1 {
		t.Fatal("expected the enabled notifier to receive the event")
	}
	if len(off.sent) != 0 {
		t.Fatal("expected the disabled notifier to be skipped")
	}
}

func TestManagerCollectsErrorsWithoutStopping(t *testing.T) {
	failing := &fakeNotifier{enabled: true, err: errors.New("boom")}
	working := &fakeNotifier{enabled: true}
	m := NewManager(failing, working)

	errs := m.Notify(Event{Kind: EventLiquidated, Symbol: "ETHUSDT"})
	if len(errs) != 1 {
		t.Fatalf("expected exactly one collected error, got %v", errs)
	}
	if len(working.sent) != 1 {
		t.Fatal("expected the second notifier to still run after the first failed")
	}
}

func TestUnconfiguredTelegramNotifierIsDisabled(t *testing.T) {
	n, err := NewTelegramNotifier("", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Enabled() {
		t.Fatal("expected an unconfigured notifier to report disabled")
	}
	if err := n.Notify(Event{Kind: EventFilled}); err != nil {
		t.Fatalf("expected Notify on a disabled notifier to be a no-op, got %v", err)
	}
}

func TestEventMessageFormatting(t *testing.T) {
	e := Event{Kind: EventFailed, Symbol: "BTCUSDT", Side: "open_long", Reason: "insufficient_funds"}
	msg := e.message()
	if msg == "" {
		t.Fatal("expected a non-empty message")
	}
}
