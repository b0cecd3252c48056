package memory

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quantcore/internal/analysis"
	"quantcore/internal/indicator"
)

func newTestStore(t *testing.T, prices PriceFetcher) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	store, err := New(db, prices)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func resultFor(symbol string, decision analysis.Decision, price, rsi, macdHist float64) *analysis.Result {
	return &analysis.Result{
		Market:     "crypto",
		Symbol:     symbol,
		Decision:   decision,
		MarketData: analysis.MarketDataSummary{CurrentPrice: price},
		Indicators: indicator.Snapshot{RSI: rsi, MACD: indicator.MACD{Histogram: macdHist}},
	}
}

func resultAt(decision analysis.Decision, price, rsi, macdHist float64) *analysis.Result {
	return resultFor("BTCUSDT", decision, price, rsi, macdHist)
}

func TestStoreAndGetRecent(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	id, err := s.Store(ctx, resultAt(analysis.DecisionBuy, 100, 55, 0.5))
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty id")
	}

	recent, err := s.GetRecent(ctx, "crypto", "BTCUSDT", 7, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != id {
		t.Fatalf("expected 1 recent record with id %s, got %+v", id, recent)
	}
}

func TestGetSimilarPatternsFiltersByRSIAndMACDSign(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	s.Store(ctx, resultAt(analysis.DecisionBuy, 100, 60, 1.0))  // similar RSI, bullish
	s.Store(ctx, resultAt(analysis.DecisionSell, 100, 20, 1.0)) // RSI too far
	s.Store(ctx, resultAt(analysis.DecisionSell, 100, 58, -1.0)) // bearish, RSI close

	current := indicator.Snapshot{RSI: 55, MACD: indicator.MACD{Histogram: 0.8}}
	similar, err := s.GetSimilarPatterns(ctx, "crypto", "BTCUSDT", current, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(similar) != 1 {
		t.Fatalf("expected exactly 1 similar pattern, got %d", len(similar))
	}
	if similar[0].Result.Decision != analysis.DecisionBuy {
		t.Fatalf("expected the bullish BUY record to match, got %s", similar[0].Result.Decision)
	}
}

type fixedPrice struct{ price float64 }

func (f fixedPrice) CurrentPrice(ctx context.Context, market, symbol string) (float64, error) {
	return f.price, nil
}

func TestValidatePastDecisionsAppliesExactRule(t *testing.T) {
	s := newTestStore(t, fixedPrice{price: 104})
	ctx := context.Background()

	id, _ := s.Store(ctx, resultAt(analysis.DecisionBuy, 100, 50, 0))
	// backdate so it is eligible for validation.
	old := time.Now().UTC().AddDate(0, 0, -10)
	if err := s.db.Model(&recordDB{}).Where("id = ?", id).Update("created_at", old).Error; err != nil {
		t.Fatalf("failed to backdate record: %v", err)
	}

	results, err := s.ValidatePastDecisions(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 validated record, got %d", len(results))
	}
	// BUY at 100, now 104 => +4%% return > 2 => correct.
	if !results[0].WasCorrect {
		t.Fatalf("expected BUY with +4%% return to be marked correct")
	}

	stats, err := s.GetPerformanceStats(ctx, "crypto", "BTCUSDT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalValidated != 1 || stats.CorrectCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type priceBySymbol map[string]float64

func (p priceBySymbol) CurrentPrice(ctx context.Context, market, symbol string) (float64, error) {
	return p[symbol], nil
}

func TestValidatePastDecisionsWorkedExample(t *testing.T) {
	// Mirrors the spec's worked example: BUY 100->104 (+4%, correct),
	// SELL 200->210 (+5%, wrong), HOLD 50->52 (+4%, correct).
	prices := priceBySymbol{"BTCUSDT": 104, "ETHUSDT": 210, "SOLUSDT": 52}
	s := newTestStore(t, prices)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10)
	for _, r := range []*analysis.Result{
		resultFor("BTCUSDT", analysis.DecisionBuy, 100, 50, 0),
		resultFor("ETHUSDT", analysis.DecisionSell, 200, 50, 0),
		resultFor("SOLUSDT", analysis.DecisionHold, 50, 50, 0),
	} {
		id, _ := s.Store(ctx, r)
		s.db.Model(&recordDB{}).Where("id = ?", id).Update("created_at", old)
	}

	results, err := s.ValidatePastDecisions(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected all 3 eligible records validated, got %d", len(results))
	}
	correct := 0
	for _, r := range results {
		if r.WasCorrect {
			correct++
		}
	}
	if correct != 2 {
		t.Fatalf("expected 2 correct decisions (BUY ok, HOLD ok), got %d of %d", correct, len(results))
	}
}
