package backtest

import (
	"math"
	"testing"
)

func baseConfig() Config {
	return Config{
		Symbol:         "BTCUSDT",
		Market:         "crypto",
		StartTS:        86400,
		EndTS:          172800,
		InitialCapital: 1000,
		Leverage:       1,
		FillPolicy:     FillNextBarOpen,
		PositionMode:   ModeBoth,
	}
}

func TestValidateRejectsMutuallyExclusiveScaling(t *testing.T) {
	cfg := baseConfig()
	cfg.TrendAdd.Enabled = true
	cfg.DCAAdd.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for trend-add + DCA-add together")
	}
}

func TestValidateDefaultsFillPolicyAndTrailingActivation(t *testing.T) {
	cfg := baseConfig()
	cfg.FillPolicy = ""
	cfg.TrailingEnabled = true
	cfg.TakeProfitPct = 8
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FillPolicy != FillNextBarOpen {
		t.Fatalf("expected default fill policy, got %s", cfg.FillPolicy)
	}
	if cfg.TrailingActivationPct != 8 {
		t.Fatalf("expected trailing activation to reuse take_profit_pct, got %v", cfg.TrailingActivationPct)
	}
}

func TestExecutionTimeframeSelection(t *testing.T) {
	if tf, mtf := executionTimeframe("crypto", 10); tf != "1m" || !mtf {
		t.Fatalf("expected 1m for a 10-day crypto window, got %s/%v", tf, mtf)
	}
	if tf, mtf := executionTimeframe("crypto", 200); tf != "5m" || !mtf {
		t.Fatalf("expected 5m for a 200-day crypto window, got %s/%v", tf, mtf)
	}
	if tf, mtf := executionTimeframe("crypto", 1000); tf != "" || mtf {
		t.Fatalf("expected no multi-timeframe override beyond 365 days, got %s/%v", tf, mtf)
	}
	if tf, mtf := executionTimeframe("stock", 5); tf != "" || mtf {
		t.Fatalf("expected no override for non-crypto markets, got %s/%v", tf, mtf)
	}
}

func TestLiquidationPriceFormulas(t *testing.T) {
	if got := liquidationPrice(100, 10, long); math.Abs(got-90) > 1e-9 {
		t.Fatalf("expected long liquidation at 90, got %v", got)
	}
	if got := liquidationPrice(100, 10, short); math.Abs(got-110) > 1e-9 {
		t.Fatalf("expected short liquidation at 110, got %v", got)
	}
}

func TestRunOpensAndClosesLongOnSignal(t *testing.T) {
	cfg := baseConfig()
	bars := []Bar{
		{TimestampMS: 0, Open: 100, High: 101, Low: 99, Close: 100},
		{TimestampMS: 60000, Open: 100, High: 110, Low: 100, Close: 108},
		{TimestampMS: 120000, Open: 108, High: 109, Low: 107, Close: 108},
	}
	signals := map[int]Signal{0: {Buy: true}, 2: {Sell: true}}
	res := Run(cfg, bars, func(i int) (Signal, bool) { s, ok := signals[i]; return s, ok })

	// ModeBoth: the sell closes the long and then opens a short.
	if len(res.Trades) != 3 {
		t.Fatalf("expected open_long, close_long and open_short, got %d: %+v", len(res.Trades), res.Trades)
	}
	if res.Trades[0].Action != "open_long" {
		t.Fatalf("expected open_long first, got %s", res.Trades[0].Action)
	}
	if res.FinalCapital <= cfg.InitialCapital {
		t.Fatalf("expected a profit from a rising close, got final capital %v", res.FinalCapital)
	}
}

func TestRunStopLossTakesPriorityOverSignal(t *testing.T) {
	cfg := baseConfig()
	cfg.Leverage = 5
	cfg.StopLossPct = 10 // 10% margin PnL => 2% price move at 5x
	bars := []Bar{
		{TimestampMS: 0, Open: 100, High: 100, Low: 100, Close: 100},
		// bearish bar: path is open->high->low->close, low hits the stop before close.
		{TimestampMS: 60000, Open: 100, High: 101, Low: 97, Close: 99},
	}
	// bar 1 also carries a close signal; the stop-loss exit must win.
	signals := map[int]Signal{0: {Buy: true}, 1: {CloseLong: true}}
	res := Run(cfg, bars, func(i int) (Signal, bool) { s, ok := signals[i]; return s, ok })

	if len(res.Trades) != 2 {
		t.Fatalf("expected open + stop-loss close, got %d: %+v", len(res.Trades), res.Trades)
	}
	if res.Trades[1].Note != "stop_loss" {
		t.Fatalf("expected the exit to be tagged stop_loss, got %s", res.Trades[1].Note)
	}
}

func TestRunLiquidatesWhenPriceCrossesLiquidationLevel(t *testing.T) {
	cfg := baseConfig()
	cfg.Leverage = 10 // liquidation at entry*0.9
	bars := []Bar{
		{TimestampMS: 0, Open: 100, High: 100, Low: 100, Close: 100},
		{TimestampMS: 60000, Open: 100, High: 100, Low: 85, Close: 95},
	}
	signals := map[int]Signal{0: {Buy: true}}
	res := Run(cfg, bars, func(i int) (Signal, bool) { s, ok := signals[i]; return s, ok })

	if !res.Liquidated {
		t.Fatal("expected the position to be liquidated")
	}
	last := res.Trades[len(res.Trades)-1]
	if last.Action != "liquidation" {
		t.Fatalf("expected the final trade to be a liquidation, got %s", last.Action)
	}
}

func TestTrendAddScalesInOnceStepIsCrossed(t *testing.T) {
	cfg := baseConfig()
	cfg.TrendAdd = ScalingLadder{Enabled: true, StepPct: 5, SizePct: 10, MaxTimes: 3}
	bars := []Bar{
		{TimestampMS: 0, Open: 100, High: 100, Low: 100, Close: 100},
		{TimestampMS: 60000, Open: 100, High: 106, Low: 100, Close: 106},
		{TimestampMS: 120000, Open: 106, High: 106, Low: 106, Close: 106},
	}
	signals := map[int]Signal{0: {Buy: true}}
	res := Run(cfg, bars, func(i int) (Signal, bool) { s, ok := signals[i]; return s, ok })

	found := false
	for _, tr := range res.Trades {
		if tr.Action == "scale_in" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a trend-add scale-in once PnL crossed the step, trades: %+v", res.Trades)
	}
}

func TestMetricsScrubNaNAndInf(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialCapital = 0 // forces the degenerate early-return path
	m := computeMetrics(cfg, Result{})
	if m.TotalReturnPct != 0 || m.SharpeRatio != 0 || m.MaxDrawdownPct != 0 {
		t.Fatalf("expected all-zero metrics for a degenerate config, got %+v", m)
	}
}

func TestMetricsWinRateAndProfitFactor(t *testing.T) {
	cfg := baseConfig()
	res := Result{
		Equity: []EquityPoint{{Equity: 1000}, {Equity: 1100}, {Equity: 1050}},
		Trades: []Trade{
			{RealizedPnL: 100},
			{RealizedPnL: -50},
			{RealizedPnL: 0}, // unrealized/open marker, excluded from win/loss counts
		},
		FinalCapital: 1050,
	}
	m := computeMetrics(cfg, res)
	if m.TotalTrades != 2 {
		t.Fatalf("expected 2 counted trades, got %d", m.TotalTrades)
	}
	if math.Abs(m.WinRatePct-50) > 1e-9 {
		t.Fatalf("expected a 50%% win rate, got %v", m.WinRatePct)
	}
	if math.Abs(m.ProfitFactor-2) > 1e-9 {
		t.Fatalf("expected a profit factor of 2 (100/50), got %v", m.ProfitFactor)
	}
}
