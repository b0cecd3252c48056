package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"quantcore/internal/collector"
	"quantcore/internal/datasource"
	"quantcore/internal/venue"
)

// fakeVenue implements venue.Trader + venue.KlineSource with only GetKline
// and GetMarketPrice behaving realistically, mirroring the fake built for
// internal/collector's own tests.
type fakeVenue struct {
	bars  []venue.Bar
	price float64
}

func (f *fakeVenue) ID() string  { return "fake" }
func (f *fakeVenue) Ping() error { return nil }
func (f *fakeVenue) GetKline(symbol, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	return f.bars, nil
}
func (f *fakeVenue) GetMarketPrice(symbol string) (float64, error) { return f.price, nil }
func (f *fakeVenue) GetBalance() (venue.Balance, error)            { return venue.Balance{}, nil }
func (f *fakeVenue) GetPositions() ([]venue.Position, error)       { return nil, nil }
func (f *fakeVenue) PlaceLimitOrder(symbol, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeVenue) PlaceMarketOrder(symbol, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeVenue) CancelOrder(symbol, orderID string) error                        { return nil }
func (f *fakeVenue) GetOrder(symbol, orderID string) (*venue.LiveOrderResult, error) { return nil, nil }
func (f *fakeVenue) WaitForFill(symbol, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeVenue) SetLeverage(symbol string, leverage int) error         { return nil }
func (f *fakeVenue) GetOpenOrders(symbol string) ([]venue.OpenOrder, error) { return nil, nil }
func (f *fakeVenue) CancelAllOrders(symbol string) error                   { return nil }
func (f *fakeVenue) FormatQuantity(symbol string, quantity float64) (string, error) {
	return fmt.Sprintf("%.4f", quantity), nil
}
func (f *fakeVenue) FormatPrice(symbol string, price float64) (string, error) {
	return fmt.Sprintf("%.2f", price), nil
}

func bars(n int, base float64) []venue.Bar {
	out := make([]venue.Bar, n)
	for i := 0; i < n; i++ {
		p := base + float64(i)
		out[i] = venue.Bar{Time: int64(i) * 3600, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 100}
	}
	return out
}

func newTestCollector(price float64) *collector.Collector {
	fv := &fakeVenue{bars: bars(60, price-30), price: price}
	factory := datasource.NewFactory(map[string]venue.KlineSource{"binance": fv}, "binance", nil, nil)
	return collector.New(factory, nil, nil, nil, nil, nil, nil)
}

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) CallWithMessages(systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeMemory struct {
	stored *Result
	id     string
}

func (f *fakeMemory) Store(ctx context.Context, result *Result) (string, error) {
	f.stored = result
	return f.id, nil
}

const validResponse = `{
  "decision": "buy",
  "confidence": 70,
  "summary": "momentum looks constructive",
  "analysis": {"technical": "uptrend", "fundamental": "stable", "sentiment": "neutral"},
  "entry": %.2f,
  "stop_loss": %.2f,
  "take_profit": %.2f,
  "position_size_pct": 15,
  "timeframe": "medium",
  "key_reasons": ["higher highs", "RSI not overbought"],
  "risks": ["macro shock"],
  "scores": {"technical": 80, "fundamental": 60, "sentiment": 55}
}`

func TestAnalyzeEndToEndSuccess(t *testing.T) {
	coll := newTestCollector(100)
	resp := fmt.Sprintf(validResponse, 100.0, 97.0, 104.0)
	llm := &fakeLLM{response: "```json\n" + resp + "\n```"}
	mem := &fakeMemory{id: "mem-1"}

	engine := New(coll, map[string]LLMCaller{"deepseek-chat": llm}, "deepseek-chat", mem)

	result, err := engine.Analyze(context.Background(), datasource.MarketCrypto, "BTCUSDT", LangEnglish, "", "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != DecisionBuy {
		t.Fatalf("expected BUY, got %s", result.Decision)
	}
	if result.MemoryID != "mem-1" {
		t.Fatalf("expected memory id to be set, got %q", result.MemoryID)
	}
	if mem.stored == nil {
		t.Fatal("expected result to be persisted to memory")
	}
	if result.Scores.Overall <= 0 {
		t.Fatalf("expected a positive overall score for BUY, got %v", result.Scores.Overall)
	}
}

func TestAnalyzeClampsOutOfCorridorPrices(t *testing.T) {
	coll := newTestCollector(100)
	// stop_loss and take_profit both far outside the ±10% corridor.
	resp := fmt.Sprintf(validResponse, 100.0, 10.0, 500.0)
	llm := &fakeLLM{response: resp}

	engine := New(coll, map[string]LLMCaller{"m": llm}, "m", nil)
	result, err := engine.Analyze(context.Background(), datasource.MarketCrypto, "BTCUSDT", LangEnglish, "m", "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TradingPlan.StopLoss != 100.0*0.95 {
		t.Fatalf("expected stop_loss clamped to 95%%, got %v", result.TradingPlan.StopLoss)
	}
	if result.TradingPlan.TakeProfit != 100.0*1.05 {
		t.Fatalf("expected take_profit clamped to 105%%, got %v", result.TradingPlan.TakeProfit)
	}
}

func TestAnalyzeNormalizesUnknownDecisionToHold(t *testing.T) {
	coll := newTestCollector(100)
	llm := &fakeLLM{response: `{"decision":"MAYBE","confidence":50,"entry":100,"stop_loss":97,"take_profit":104,"scores":{"technical":50,"fundamental":50,"sentiment":50}}`}

	engine := New(coll, map[string]LLMCaller{"m": llm}, "m", nil)
	result, err := engine.Analyze(context.Background(), datasource.MarketCrypto, "BTCUSDT", LangEnglish, "m", "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != DecisionHold {
		t.Fatalf("expected unrecognized decision to normalize to HOLD, got %s", result.Decision)
	}
	if result.Scores.Overall != result.Scores.Overall {
		t.Fatal("overall score should never be NaN")
	}
}

func TestAnalyzeRejectsInvalidLanguage(t *testing.T) {
	coll := newTestCollector(100)
	engine := New(coll, map[string]LLMCaller{"m": &fakeLLM{}}, "m", nil)

	_, err := engine.Analyze(context.Background(), datasource.MarketCrypto, "BTCUSDT", Language("fr-FR"), "m", "1h")
	if err == nil {
		t.Fatal("expected an error for an unsupported language")
	}
	verr, ok := err.(*venue.Error)
	if !ok || verr.Kind != venue.KindInvalidLanguage {
		t.Fatalf("expected KindInvalidLanguage, got %v", err)
	}
}

func TestAnalyzeReturnsSafeDefaultOnLLMFailure(t *testing.T) {
	coll := newTestCollector(100)
	llm := &fakeLLM{err: fmt.Errorf("upstream exploded")}

	engine := New(coll, map[string]LLMCaller{"m": llm}, "m", nil)
	result, err := engine.Analyze(context.Background(), datasource.MarketCrypto, "BTCUSDT", LangEnglish, "m", "1h")
	if err == nil {
		t.Fatal("expected an error to be returned alongside the safe default")
	}
	verr, ok := err.(*venue.Error)
	if !ok || verr.Kind != venue.KindLLMInvocationFailed {
		t.Fatalf("expected KindLLMInvocationFailed, got %v", err)
	}
	if result == nil || result.Decision != DecisionHold {
		t.Fatalf("expected a safe-default HOLD result, got %+v", result)
	}
	if result.MarketData.CurrentPrice != 100 {
		t.Fatalf("expected safe default to carry the collected price, got %v", result.MarketData.CurrentPrice)
	}
}

func TestAnalyzeUnknownModelIsRejected(t *testing.T) {
	coll := newTestCollector(100)
	engine := New(coll, map[string]LLMCaller{"known": &fakeLLM{}}, "known", nil)

	_, err := engine.Analyze(context.Background(), datasource.MarketCrypto, "BTCUSDT", LangEnglish, "does-not-exist", "1h")
	if err == nil {
		t.Fatal("expected an error for an unconfigured model")
	}
}

func TestOverallScoreSignByDecision(t *testing.T) {
	buy := overallScore(80, 80, 80, 100, DecisionBuy)
	sell := overallScore(80, 80, 80, 100, DecisionSell)
	hold := overallScore(80, 80, 80, 100, DecisionHold)

	if buy <= hold {
		t.Fatalf("expected BUY overall score to exceed HOLD's: buy=%v hold=%v", buy, hold)
	}
	if sell >= hold {
		t.Fatalf("expected SELL overall score to be below HOLD's: sell=%v hold=%v", sell, hold)
	}
}
