package backtest

import "math"

// Metrics is the scrubbed performance summary (spec §4.10): every field
// that could come out NaN or +/-Inf from a degenerate run (zero trades,
// zero variance, zero initial capital) is clamped to 0.
type Metrics struct {
	TotalReturnPct  float64
	AnnualReturnPct float64
	MaxDrawdownPct  float64
	SharpeRatio     float64
	WinRatePct      float64
	ProfitFactor    float64
	TotalTrades     int
}

// barsPerYear gives the Sharpe annualization factor per execution
// timeframe, mirroring common crypto-backtest conventions (365 trading
// days, no weekend gap).
var barsPerYear = map[string]float64{
	"1m":  365 * 24 * 60,
	"5m":  365 * 24 * 12,
	"15m": 365 * 24 * 4,
	"1h":  365 * 24,
	"4h":  365 * 6,
	"1d":  365,
}

func computeMetrics(cfg Config, res Result) Metrics {
	m := Metrics{}
	if cfg.InitialCapital <= 0 || len(res.Equity) == 0 {
		return m
	}

	m.TotalReturnPct = scrub((res.FinalCapital - cfg.InitialCapital) / cfg.InitialCapital * 100)

	durationSec := float64(cfg.EndTS - cfg.StartTS)
	years := durationSec / (365.25 * 24 * 3600)
	if years > 0 {
		m.AnnualReturnPct = scrub(m.TotalReturnPct / years)
	}

	maxDD := 0.0
	for _, p := range res.Equity {
		if p.DrawdownPct > maxDD {
			maxDD = p.DrawdownPct
		}
	}
	m.MaxDrawdownPct = scrub(maxDD)

	m.SharpeRatio = scrub(sharpe(cfg, res.Equity))

	wins, losses := 0, 0
	grossProfit, grossLoss := 0.0, 0.0
	for _, t := range res.Trades {
		if t.RealizedPnL == 0 {
			continue
		}
		if t.RealizedPnL > 0 {
			wins++
			grossProfit += t.RealizedPnL
		} else {
			losses++
			grossLoss += -t.RealizedPnL
		}
	}
	m.TotalTrades = wins + losses
	if m.TotalTrades > 0 {
		m.WinRatePct = scrub(float64(wins) / float64(m.TotalTrades) * 100)
	}
	if grossLoss > 0 {
		m.ProfitFactor = scrub(grossProfit / grossLoss)
	} else if grossProfit > 0 {
		m.ProfitFactor = scrub(math.Inf(1))
	}
	return m
}

func sharpe(cfg Config, points []EquityPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(points)-1)
	prev := points[0].Equity
	for _, p := range points[1:] {
		if prev != 0 {
			returns = append(returns, (p.Equity-prev)/prev)
		}
		prev = p.Equity
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}

	annualization := barsPerYear["1d"]
	if tf, ok := barsPerYear[cfg.StrategyTimeframe]; ok {
		annualization = tf
	}
	return mean / stddev * math.Sqrt(annualization)
}

// scrub clamps a NaN or infinite metric to 0, per spec §4.10's
// "metrics are scrubbed to 0 on NaN/Inf" rule.
func scrub(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
