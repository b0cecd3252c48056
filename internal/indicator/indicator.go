// Package indicator computes the Indicator Snapshot (spec §3, §4.5): a
// pure function over a k-line array. Grounded on market/data.go's
// calculateEMA/calculateMACD/calculateRSI/calculateATR/calculateBOLL in the
// teacher repo, extended with the pivot S/R, swing high/low, trend
// classification, price-position percentile, and trading-level suggestions
// spec §4.5 adds on top.
package indicator

import (
	"math"

	"quantcore/internal/venue"
)

// MACD is the {line, signal, histogram} triple.
type MACD struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MovingAverages holds the simple moving averages spec §4.5 names.
type MovingAverages struct {
	MA5  float64
	MA10 float64
	MA20 float64
}

// Bollinger is a Bollinger Band reading with its width.
type Bollinger struct {
	Upper  float64
	Middle float64
	Lower  float64
	Width  float64
}

// PivotLevels are the classic floor-trader pivot support/resistance levels
// derived from the prior bar, plus the last-20-bar swing extremes.
type PivotLevels struct {
	Pivot     float64
	R1        float64
	S1        float64
	R2        float64
	S2        float64
	SwingHigh float64
	SwingLow  float64
}

// Volatility summarizes how wide the recent range is relative to price.
type Volatility struct {
	Level string // "low", "normal", "high"
	Pct   float64
	ATR   float64
}

// TradingLevels are the suggested risk-management levels spec §3 defines:
// stop = max(current − 2·ATR, support·0.99), take = min(current + 3·ATR,
// resistance·1.01), risk_reward = (take − current)/(current − stop).
type TradingLevels struct {
	SuggestedStopLoss   float64
	SuggestedTakeProfit float64
	RiskRewardRatio     float64
}

// Trend is the coarse trend classification table from spec §4.5.
type Trend string

const (
	TrendStrongUptrend   Trend = "strong_uptrend"
	TrendUptrend         Trend = "uptrend"
	TrendStrongDowntrend Trend = "strong_downtrend"
	TrendDowntrend       Trend = "downtrend"
	TrendSideways        Trend = "sideways"
)

// Snapshot is the full Indicator Snapshot entity (spec §3).
type Snapshot struct {
	RSI           float64
	MACD          MACD
	MA            MovingAverages
	Bollinger     Bollinger
	ATR           float64
	Pivot         PivotLevels
	Volatility    Volatility
	TradingLevels TradingLevels
	PricePosition float64
	Trend         Trend
	Support       float64
	Resistance    float64
}

const (
	rsiPeriod        = 14
	atrPeriod        = 14
	bollPeriod       = 20
	bollMultiplier   = 2.0
	macdFast         = 12
	macdSlow         = 26
	macdSignal       = 9
	swingLookback    = 20
	priceRangeLookback = 20
)

// Compute is the pure function required by spec §4.5: compute(klines) →
// IndicatorSnapshot. Returns the zero Snapshot if there aren't enough bars
// to compute anything meaningful.
func Compute(bars []venue.Bar) Snapshot {
	if len(bars) == 0 {
		return Snapshot{}
	}

	closes := closesOf(bars)
	current := closes[len(closes)-1]

	snap := Snapshot{
		RSI: wilderRSI(closes, rsiPeriod),
		MA: MovingAverages{
			MA5:  sma(closes, 5),
			MA10: sma(closes, 10),
			MA20: sma(closes, 20),
		},
		ATR: averageTrueRange(bars, atrPeriod),
	}
	snap.MACD = macd(closes)
	snap.Bollinger = bollinger(closes, bollPeriod, bollMultiplier)
	snap.Pivot = pivotLevels(bars)
	snap.Support, snap.Resistance = supportResistance(snap.Pivot, snap.Bollinger)
	snap.Volatility = volatility(snap.ATR, current)
	snap.TradingLevels = tradingLevels(current, snap.ATR, snap.Support, snap.Resistance)
	snap.PricePosition = pricePosition(bars, current)
	snap.Trend = classifyTrend(current, snap.MA)
	return snap
}

func closesOf(bars []venue.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func sma(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

// ema mirrors market/data.go's calculateEMA: seed with the SMA of the first
// `period` closes, then roll the EMA multiplier forward over the rest.
func ema(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	e := sum / float64(period)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		e = (closes[i]-e)*mult + e
	}
	return e
}

// emaSeries returns the EMA value at every index from period-1 onward, used
// to build the MACD signal line (an EMA of the MACD line itself).
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	e := sum / float64(period)
	out = append(out, e)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		e = (values[i]-e)*mult + e
		out = append(out, e)
	}
	return out
}

// macd computes the full {line, signal, histogram} triple. The line is
// EMA12 − EMA26 as in market/data.go's calculateMACD; the signal is a
// 9-period EMA of the line series, which the teacher's single-value helper
// never builds.
func macd(closes []float64) MACD {
	if len(closes) < macdSlow {
		return MACD{}
	}
	lineSeries := make([]float64, 0, len(closes)-macdSlow+1)
	for end := macdSlow; end <= len(closes); end++ {
		window := closes[:end]
		lineSeries = append(lineSeries, ema(window, macdFast)-ema(window, macdSlow))
	}
	line := lineSeries[len(lineSeries)-1]
	signalSeries := emaSeries(lineSeries, macdSignal)
	var signal float64
	if len(signalSeries) > 0 {
		signal = signalSeries[len(signalSeries)-1]
	}
	return MACD{Line: line, Signal: signal, Histogram: line - signal}
}

// wilderRSI implements Wilder's smoothing exactly as market/data.go's
// calculateRSI.
func wilderRSI(closes []float64, period int) float64 {
	if len(closes) <= period {
		return 0
	}
	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + (-change)) / float64(period)
		}
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// averageTrueRange mirrors market/data.go's calculateATR (Wilder smoothing
// after a simple-average seed).
func averageTrueRange(bars []venue.Bar, period int) float64 {
	if len(bars) <= period {
		return 0
	}
	trs := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		high, low, prevClose := bars[i].High, bars[i].Low, bars[i-1].Close
		tr1 := high - low
		tr2 := math.Abs(high - prevClose)
		tr3 := math.Abs(low - prevClose)
		trs[i] = math.Max(tr1, math.Max(tr2, tr3))
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trs[i]
	}
	atr := sum / float64(period)
	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr
}

func bollinger(closes []float64, period int, multiplier float64) Bollinger {
	if len(closes) < period {
		return Bollinger{}
	}
	window := closes[len(closes)-period:]
	sum := 0.0
	for _, c := range window {
		sum += c
	}
	mid := sum / float64(period)
	variance := 0.0
	for _, c := range window {
		d := c - mid
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(period))
	upper := mid + multiplier*stdDev
	lower := mid - multiplier*stdDev
	width := 0.0
	if mid != 0 {
		width = (upper - lower) / mid
	}
	return Bollinger{Upper: upper, Middle: mid, Lower: lower, Width: width}
}

// pivotLevels uses the prior completed bar per spec §4.5: pivot =
// (H+L+C)/3, r1 = 2·pivot − L, s1 = 2·pivot − H, r2 = pivot + (H−L),
// s2 = pivot − (H−L); swing high/low over the last 20 bars.
func pivotLevels(bars []venue.Bar) PivotLevels {
	if len(bars) < 2 {
		return PivotLevels{}
	}
	prior := bars[len(bars)-2]
	pivot := (prior.High + prior.Low + prior.Close) / 3
	r1 := 2*pivot - prior.Low
	s1 := 2*pivot - prior.High
	r2 := pivot + (prior.High - prior.Low)
	s2 := pivot - (prior.High - prior.Low)

	lookback := bars
	if len(lookback) > swingLookback {
		lookback = lookback[len(lookback)-swingLookback:]
	}
	high, low := lookback[0].High, lookback[0].Low
	for _, b := range lookback[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return PivotLevels{Pivot: pivot, R1: r1, S1: s1, R2: r2, S2: s2, SwingHigh: high, SwingLow: low}
}

// supportResistance averages pivot + swing + (optional) Bollinger band per
// spec §4.5, so support ≤ resistance holds in well-formed markets.
func supportResistance(p PivotLevels, b Bollinger) (support, resistance float64) {
	supportLevels := []float64{p.S1, p.SwingLow}
	resistLevels := []float64{p.R1, p.SwingHigh}
	if b.Lower > 0 {
		supportLevels = append(supportLevels, b.Lower)
	}
	if b.Upper > 0 {
		resistLevels = append(resistLevels, b.Upper)
	}
	return average(supportLevels), average(resistLevels)
}

func average(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func volatility(atr, price float64) Volatility {
	if price == 0 {
		return Volatility{Level: "normal"}
	}
	pct := atr / price * 100
	level := "normal"
	switch {
	case pct < 0.5:
		level = "low"
	case pct > 2.5:
		level = "high"
	}
	return Volatility{Level: level, Pct: pct, ATR: atr}
}

// tradingLevels implements spec §3's exact formulas: stop = max(current −
// 2·ATR, support·0.99), take = min(current + 3·ATR, resistance·1.01),
// risk_reward = (take − current)/(current − stop).
func tradingLevels(current, atr, support, resistance float64) TradingLevels {
	stop := math.Max(current-2*atr, support*0.99)
	take := math.Min(current+3*atr, resistance*1.01)
	var rr float64
	if denom := current - stop; denom != 0 {
		rr = (take - current) / denom
	}
	return TradingLevels{SuggestedStopLoss: stop, SuggestedTakeProfit: take, RiskRewardRatio: rr}
}

// pricePosition is the percentile of current close within the last 20
// bars' [low, high] range.
func pricePosition(bars []venue.Bar, current float64) float64 {
	lookback := bars
	if len(lookback) > priceRangeLookback {
		lookback = lookback[len(lookback)-priceRangeLookback:]
	}
	if len(lookback) == 0 {
		return 0
	}
	high, low := lookback[0].High, lookback[0].Low
	for _, b := range lookback[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	if high == low {
		return 50
	}
	return (current - low) / (high - low) * 100
}

// classifyTrend applies spec §4.5's trend table: current > MA5 > MA10 >
// MA20 ⇒ strong_uptrend; current > MA20 ⇒ uptrend; mirror for downtrend;
// else sideways.
func classifyTrend(current float64, ma MovingAverages) Trend {
	switch {
	case current > ma.MA5 && ma.MA5 > ma.MA10 && ma.MA10 > ma.MA20:
		return TrendStrongUptrend
	case current < ma.MA5 && ma.MA5 < ma.MA10 && ma.MA10 < ma.MA20:
		return TrendStrongDowntrend
	case current > ma.MA20:
		return TrendUptrend
	case current < ma.MA20:
		return TrendDowntrend
	default:
		return TrendSideways
	}
}
