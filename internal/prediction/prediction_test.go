package prediction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"quantcore/internal/collector"
	"quantcore/internal/datasource"
	"quantcore/internal/indicator"
)

type fakeCollector struct {
	rec *collector.Record
	err error
}

func (f *fakeCollector) CollectAll(ctx context.Context, market datasource.Market, symbol, timeframe string, includeMacro, includeNews, includePolymarket bool, timeout time.Duration) (*collector.Record, error) {
	if includePolymarket {
		panic("related-asset lookups must never request polymarket data (would recurse)")
	}
	return f.rec, f.err
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) CallWithMessages(systemPrompt, userPrompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type memStore struct {
	saved map[string]*Analysis
}

func newMemStore() *memStore { return &memStore{saved: map[string]*Analysis{}} }

func (m *memStore) GetCached(ctx context.Context, marketID string, maxAge time.Duration) (*Analysis, bool, error) {
	a, ok := m.saved[marketID]
	if !ok || time.Since(a.AnalyzedAt) > maxAge {
		return nil, false, nil
	}
	return a, true, nil
}

func (m *memStore) Save(ctx context.Context, a *Analysis) error {
	m.saved[a.MarketID] = a
	return nil
}

func testEvent() Event {
	return Event{
		MarketID:           "m1",
		Question:           "Will Bitcoin reach $150k by year end?",
		Category:           "crypto",
		CurrentProbability: 30,
		Volume24h:          50000,
		Liquidity:          20000,
		EndDate:            time.Now().Add(90 * 24 * time.Hour),
		Slug:               "btc-150k-2026",
	}
}

func TestAnalyzeMarketComputesDivergenceAndRecommendation(t *testing.T) {
	coll := &fakeCollector{rec: &collector.Record{Price: 95000, Indicators: indicator.Snapshot{Trend: "uptrend", RSI: 60}}}
	llm := &fakeLLM{response: `{"predicted_probability":45,"confidence":75,"reasoning":"momentum favors YES","key_factors":["strong uptrend"],"risk_factors":["macro shock"]}`}
	store := newMemStore()
	analyzer := New(coll, map[string]LLMCaller{"m": llm}, "m", store)

	result, err := analyzer.AnalyzeMarket(context.Background(), testEvent(), "user-1", "m", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Divergence != 15 {
		t.Fatalf("expected divergence of 15, got %v", result.Divergence)
	}
	if result.Recommendation != RecommendYes {
		t.Fatalf("expected YES recommendation (div>5, conf>60), got %s", result.Recommendation)
	}
	wantScore := opportunityScore(15, 75)
	if result.OpportunityScore != wantScore {
		t.Fatalf("expected opportunity score %v, got %v", wantScore, result.OpportunityScore)
	}
	if len(store.saved) != 1 {
		t.Fatal("expected the analysis to be persisted")
	}
}

func TestAnalyzeMarketHoldWhenDivergenceOrConfidenceTooLow(t *testing.T) {
	coll := &fakeCollector{rec: &collector.Record{Price: 1}}
	llm := &fakeLLM{response: `{"predicted_probability":32,"confidence":55,"reasoning":"unclear"}`}
	analyzer := New(coll, map[string]LLMCaller{"m": llm}, "m", nil)

	result, err := analyzer.AnalyzeMarket(context.Background(), testEvent(), "", "m", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation != RecommendHold {
		t.Fatalf("expected HOLD for low divergence/confidence, got %s", result.Recommendation)
	}
}

func TestAnalyzeMarketUsesCacheWithinTTL(t *testing.T) {
	coll := &fakeCollector{}
	llm := &fakeLLM{err: fmt.Errorf("must not be called")}
	store := newMemStore()
	store.saved["m1"] = &Analysis{MarketID: "m1", AnalyzedAt: time.Now()}
	analyzer := New(coll, map[string]LLMCaller{"m": llm}, "m", store)

	result, err := analyzer.AnalyzeMarket(context.Background(), testEvent(), "", "m", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MarketID != "m1" {
		t.Fatalf("expected the cached record to be returned, got %+v", result)
	}
}

func TestEventURLFallsBackForNumericSlug(t *testing.T) {
	e := Event{MarketID: "42", Slug: "12345"}
	if e.URL() != "https://polymarket.com/markets/42" {
		t.Fatalf("expected fallback URL for numeric slug, got %s", e.URL())
	}

	e2 := Event{MarketID: "42", Slug: "btc-150k"}
	if e2.URL() != "https://polymarket.com/event/btc-150k" {
		t.Fatalf("expected slug URL, got %s", e2.URL())
	}
}

func TestBatchAnalyzeMarketsRanksAndFallsBack(t *testing.T) {
	events := []Event{
		{MarketID: "a", CurrentProbability: 20, Volume24h: 20000},
		{MarketID: "b", CurrentProbability: 50, Volume24h: 20000},
	}
	llm := &fakeLLM{err: fmt.Errorf("llm unavailable")}
	analyzer := New(&fakeCollector{}, map[string]LLMCaller{"m": llm}, "m", nil)

	opps, err := analyzer.BatchAnalyzeMarkets(context.Background(), events, 10, "m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opps) != 2 {
		t.Fatalf("expected 2 opportunities even with a failed LLM call, got %d", len(opps))
	}
	// market "a": volume>10000, |20-50|=30>10 => scored via fallback.
	// market "b": |50-50|=0, not > 10 => zero score, sorts last.
	if opps[0].MarketID != "a" {
		t.Fatalf("expected market 'a' to rank first via the fallback rule, got %s", opps[0].MarketID)
	}
}
