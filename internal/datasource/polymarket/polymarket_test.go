package polymarket

import "testing"

func TestToEventParsesOutcomesAndStatus(t *testing.T) {
	raw := gammaEvent{
		ID:       "123",
		Title:    "Will it rain tomorrow?",
		Category: "weather",
		Active:   true,
		Markets: []gammaMarket{
			{Outcomes: `["Yes","No"]`, OutcomePrices: `["0.65","0.35"]`},
		},
	}
	ev := raw.toEvent()
	if ev.MarketID != "123" || ev.Question != raw.Title {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Status != "open" {
		t.Fatalf("expected status open for active+not closed, got %s", ev.Status)
	}
	if ev.CurrentProbability != 0.65 {
		t.Fatalf("expected Yes-outcome probability 0.65, got %v", ev.CurrentProbability)
	}
	if ev.OutcomeTokens["No"].Price != 0.35 {
		t.Fatalf("expected No-outcome price 0.35, got %+v", ev.OutcomeTokens)
	}
}

func TestToEventClosedStatus(t *testing.T) {
	raw := gammaEvent{ID: "1", Closed: true}
	ev := raw.toEvent()
	if ev.Status != "closed" {
		t.Fatalf("expected closed status, got %s", ev.Status)
	}
}

func TestToEventInactiveStatus(t *testing.T) {
	raw := gammaEvent{ID: "1", Active: false, Closed: false}
	ev := raw.toEvent()
	if ev.Status != "inactive" {
		t.Fatalf("expected inactive status, got %s", ev.Status)
	}
}

func TestParseOutcomesHandlesEmptyMarkets(t *testing.T) {
	tokens, prob := parseOutcomes(nil)
	if len(tokens) != 0 || prob != 0 {
		t.Fatalf("expected zero-value result for no markets, got %+v %v", tokens, prob)
	}
}
