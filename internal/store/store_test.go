package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quantcore/internal/prediction"
	"quantcore/internal/quicktrade"
	"quantcore/internal/venue"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	return db
}

func TestQuickTradeLedgerRecordsAndListsInDescOrder(t *testing.T) {
	db := newTestDB(t)
	ledger, err := NewQuickTradeLedger(db)
	if err != nil {
		t.Fatalf("unexpected error building ledger: %v", err)
	}
	ctx := context.Background()

	first := quicktrade.Order{
		ClientOrderID: "a", Symbol: "BTCUSDT", Side: quicktrade.SideOpenLong,
		MarketType: quicktrade.MarketPerpetual, Quantity: 0.01, Leverage: 5,
		Result:   &venue.LiveOrderResult{ExchangeOrderID: "ex1", Status: "FILLED"},
		PlacedAt: time.Now().Add(-time.Minute),
	}
	second := quicktrade.Order{
		ClientOrderID: "b", Symbol: "ETHUSDT", Side: quicktrade.SideCloseShort,
		MarketType: quicktrade.MarketPerpetual, Quantity: 1, Leverage: 3,
		Result:   &venue.LiveOrderResult{ExchangeOrderID: "ex2", Status: "FILLED"},
		PlacedAt: time.Now(),
	}

	if err := ledger.RecordOrder(ctx, "u1", first); err != nil {
		t.Fatalf("unexpected error recording first order: %v", err)
	}
	if err := ledger.RecordOrder(ctx, "u1", second); err != nil {
		t.Fatalf("unexpected error recording second order: %v", err)
	}

	history, err := ledger.History(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error reading history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(history))
	}
	if history[0].ClientOrderID != "b" {
		t.Fatalf("expected most recent order first, got %s", history[0].ClientOrderID)
	}
	if history[0].Result.ExchangeOrderID != "ex2" {
		t.Fatalf("expected exchange order id to round-trip, got %+v", history[0].Result)
	}
}

func TestQuickTradeLedgerRecordOrderDefaultsToFailedWithoutResult(t *testing.T) {
	db := newTestDB(t)
	ledger, err := NewQuickTradeLedger(db)
	if err != nil {
		t.Fatalf("unexpected error building ledger: %v", err)
	}
	ctx := context.Background()

	order := quicktrade.Order{ClientOrderID: "c", Symbol: "BTCUSDT", Side: quicktrade.SideOpenLong, PlacedAt: time.Now()}
	if err := ledger.RecordOrder(ctx, "u2", order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history, err := ledger.History(ctx, "u2", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 || history[0].Result.Status != "failed" {
		t.Fatalf("expected a failed placeholder result, got %+v", history)
	}
}

func TestQuickTradeLedgerHistoryFiltersByUser(t *testing.T) {
	db := newTestDB(t)
	ledger, err := NewQuickTradeLedger(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	_ = ledger.RecordOrder(ctx, "u1", quicktrade.Order{ClientOrderID: "a", Symbol: "BTCUSDT", PlacedAt: time.Now()})
	_ = ledger.RecordOrder(ctx, "u2", quicktrade.Order{ClientOrderID: "b", Symbol: "ETHUSDT", PlacedAt: time.Now()})

	history, err := ledger.History(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 || history[0].ClientOrderID != "a" {
		t.Fatalf("expected only u1's order, got %+v", history)
	}
}

func TestPredictionStoreSaveAndGetCachedHonorsMaxAge(t *testing.T) {
	db := newTestDB(t)
	ps, err := NewPredictionStore(db)
	if err != nil {
		t.Fatalf("unexpected error building prediction store: %v", err)
	}
	ctx := context.Background()

	analysis := &prediction.Analysis{
		MarketID:          "m1",
		MarketProbability: 0.4,
		Recommendation:    prediction.RecommendYes,
		AnalyzedAt:        time.Now(),
	}
	if err := ps.Save(ctx, analysis); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	cached, ok, err := ps.GetCached(ctx, "m1", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit within maxAge")
	}
	if cached.Recommendation != prediction.RecommendYes {
		t.Fatalf("expected recommendation to round-trip, got %s", cached.Recommendation)
	}

	_, stale, err := ps.GetCached(ctx, "m1", time.Nanosecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stale {
		t.Fatal("expected a cache miss once maxAge has elapsed")
	}
}

func TestPredictionStoreGetCachedMissForUnknownMarket(t *testing.T) {
	db := newTestDB(t)
	ps, err := NewPredictionStore(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, err := ps.GetCached(context.Background(), "unknown", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no cached analysis for an unknown market")
	}
}
