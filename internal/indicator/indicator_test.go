package indicator

import (
	"testing"

	"quantcore/internal/venue"
)

// uptrendBars builds a steadily rising series so the trend classifier and
// moving averages have an unambiguous answer to check against.
func uptrendBars(n int) []venue.Bar {
	bars := make([]venue.Bar, n)
	price := 100.0
	for i := range bars {
		price += 1.0
		bars[i] = venue.Bar{
			Time:   int64(i) * 3600,
			Open:   price - 0.5,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 1000,
		}
	}
	return bars
}

func flatBars(n int) []venue.Bar {
	bars := make([]venue.Bar, n)
	for i := range bars {
		bars[i] = venue.Bar{Time: int64(i) * 3600, Open: 100, High: 101, Low: 99, Close: 100, Volume: 500}
	}
	return bars
}

func TestComputeEmptyInput(t *testing.T) {
	snap := Compute(nil)
	if snap.RSI != 0 || snap.Trend != "" {
		t.Fatalf("expected zero snapshot for empty input, got %+v", snap)
	}
}

func TestComputeStrongUptrendClassification(t *testing.T) {
	snap := Compute(uptrendBars(60))
	if snap.Trend != TrendStrongUptrend {
		t.Fatalf("expected strong_uptrend, got %s (MA5=%.2f MA10=%.2f MA20=%.2f)", snap.Trend, snap.MA.MA5, snap.MA.MA10, snap.MA.MA20)
	}
	if snap.RSI <= 50 {
		t.Fatalf("expected RSI above 50 in a steady uptrend, got %.2f", snap.RSI)
	}
}

func TestComputeFlatMarketIsSideways(t *testing.T) {
	snap := Compute(flatBars(60))
	if snap.Trend != TrendSideways {
		t.Fatalf("expected sideways on a flat series, got %s", snap.Trend)
	}
	if snap.ATR != 2 {
		t.Fatalf("expected ATR of 2 (every bar's high-low range is 2), got %.4f", snap.ATR)
	}
}

func TestTradingLevelsRiskReward(t *testing.T) {
	bars := uptrendBars(60)
	snap := Compute(bars)
	current := bars[len(bars)-1].Close

	wantStop := current - 2*snap.ATR
	if snap.Support*0.99 > wantStop {
		wantStop = snap.Support * 0.99
	}
	if snap.TradingLevels.SuggestedStopLoss != wantStop {
		t.Fatalf("stop loss mismatch: got %.4f want %.4f", snap.TradingLevels.SuggestedStopLoss, wantStop)
	}
	if snap.TradingLevels.SuggestedTakeProfit <= current {
		t.Fatalf("take profit should exceed current price in an uptrend, got %.4f vs current %.4f", snap.TradingLevels.SuggestedTakeProfit, current)
	}
}

func TestPricePositionBounds(t *testing.T) {
	snap := Compute(uptrendBars(30))
	if snap.PricePosition < 0 || snap.PricePosition > 100 {
		t.Fatalf("price position out of [0,100] bounds: %.2f", snap.PricePosition)
	}
}

func TestPivotLevelsOrdering(t *testing.T) {
	snap := Compute(uptrendBars(30))
	if snap.Pivot.S1 >= snap.Pivot.Pivot || snap.Pivot.Pivot >= snap.Pivot.R1 {
		t.Fatalf("expected s1 < pivot < r1, got s1=%.2f pivot=%.2f r1=%.2f", snap.Pivot.S1, snap.Pivot.Pivot, snap.Pivot.R1)
	}
}
