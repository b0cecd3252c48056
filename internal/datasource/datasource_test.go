package datasource

import (
	"testing"

	"quantcore/internal/venue"
)

// fakeSource serves bars from a fixed in-memory series, paging backward
// from endTime the way a real venue's kline endpoint would.
type fakeSource struct {
	bars []venue.Bar
}

func (f *fakeSource) ID() string { return "fake" }

func (f *fakeSource) GetKline(symbol, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	if symbol != "BTCUSDT" {
		return nil, venue.NewError(venue.KindSymbolNotFound, "fake", symbol, "not found", "")
	}
	end := len(f.bars)
	if endTime > 0 {
		end = 0
		for i, b := range f.bars {
			if b.Time > endTime {
				break
			}
			end = i + 1
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return f.bars[start:end], nil
}

func seriesOf(n int) []venue.Bar {
	bars := make([]venue.Bar, n)
	for i := range bars {
		bars[i] = venue.Bar{Time: int64(i) * 3600, Close: float64(i)}
	}
	return bars
}

func TestGetKlineSingleBatch(t *testing.T) {
	src := &fakeSource{bars: seriesOf(500)}
	f := NewFactory(map[string]venue.KlineSource{"binance": src}, "binance", nil, nil)

	bars, err := f.GetKline(MarketCrypto, "binance", "BTCUSDT", "1h", 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 100 {
		t.Fatalf("got %d bars, want 100", len(bars))
	}
}

func TestGetKlinePaginatesPastMaxBatch(t *testing.T) {
	src := &fakeSource{bars: seriesOf(1000)}
	f := NewFactory(map[string]venue.KlineSource{"binance": src}, "binance", nil, nil)

	bars, err := f.GetKline(MarketCrypto, "binance", "BTCUSDT", "1h", 700, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 700 {
		t.Fatalf("got %d bars, want 700", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			t.Fatalf("bars not strictly ascending at index %d: %d <= %d", i, bars[i].Time, bars[i-1].Time)
		}
	}
}

func TestGetKlineUnknownVenueFallsBackToDefault(t *testing.T) {
	src := &fakeSource{bars: seriesOf(10)}
	f := NewFactory(map[string]venue.KlineSource{"binance": src}, "binance", nil, nil)

	bars, err := f.GetKline(MarketCrypto, "not-a-real-venue", "BTCUSDT", "1h", 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("got %d bars, want 5", len(bars))
	}
}
