package backtest

import "math"

// Bar is one OHLCV candle on the execution timeframe.
type Bar struct {
	TimestampMS int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// Signal is the strategy's verdict for a single strategy-timeframe bar.
// Two input shapes are supported (spec §4.10): a 4-way boolean set, or a
// simple buy/sell pair interpreted against the active PositionMode.
type Signal struct {
	TimestampMS int64

	// 4-way form.
	OpenLong   bool
	CloseLong  bool
	OpenShort  bool
	CloseShort bool

	// simple form, used only when none of the 4-way fields are set.
	Buy  bool
	Sell bool
}

func (s Signal) fourWay() (openLong, closeLong, openShort, closeShort bool) {
	if s.OpenLong || s.CloseLong || s.OpenShort || s.CloseShort {
		return s.OpenLong, s.CloseLong, s.OpenShort, s.CloseShort
	}
	// simple buy/sell: "both" mode auto-closes the opposite side first.
	if s.Buy {
		return true, false, false, true
	}
	if s.Sell {
		return false, true, true, false
	}
	return false, false, false, false
}

type side int

const (
	flat side = iota
	long
	short
)

// state is the simulator's running position, mutated bar by bar.
type state struct {
	capital           float64
	position          float64 // base-asset quantity, always positive; side tracked separately
	side              side
	entryPrice        float64
	highestSinceEntry float64
	lowestSinceEntry  float64
	liquidationPrice  float64
	isLiquidated      bool
	trendAddCount     int
	dcaAddCount       int
	trendReduceCount  int
	adverseReduceCount int
}

// Trade is one realized fill recorded by the simulator.
type Trade struct {
	TimestampMS int64
	Action      string // "open_long", "close_long", "open_short", "close_short", "scale_in", "scale_out", "liquidation"
	Price       float64
	Quantity    float64
	Fee         float64
	RealizedPnL float64
	Note        string
}

// EquityPoint is one capital snapshot, emitted once per execution bar.
type EquityPoint struct {
	TimestampMS int64
	Equity      float64
	DrawdownPct float64
}

// Result is the full output of a Run.
type Result struct {
	Trades       []Trade
	Equity       []EquityPoint
	FinalCapital float64
	Liquidated   bool
	Metrics      Metrics
}

func liquidationPrice(entry float64, leverage int, s side) float64 {
	lev := float64(leverage)
	if s == long {
		return entry * (1 - 1/lev)
	}
	return entry * (1 + 1/lev)
}

// pricePath infers the intra-bar traversal order (spec §4.10): a
// bullish bar is assumed to have moved open->low->high->close, a
// bearish bar open->high->low->close, since OHLC alone does not record
// the true path.
func pricePath(b Bar) []float64 {
	if b.Close >= b.Open {
		return []float64{b.Open, b.Low, b.High, b.Close}
	}
	return []float64{b.Open, b.High, b.Low, b.Close}
}

// marginPnLPct returns the position's PnL as a percentage of margin
// (i.e. leveraged), the unit spec §4.10 uses for stop_loss_pct /
// take_profit_pct / trailing thresholds.
func marginPnLPct(entry, price float64, leverage int, s side) float64 {
	raw := (price - entry) / entry
	if s == short {
		raw = -raw
	}
	return raw * float64(leverage) * 100
}

// priceForMarginPct inverts marginPnLPct: the price at which a given
// leveraged PnL percentage is reached.
func priceForMarginPct(entry float64, pct float64, leverage int, s side) float64 {
	raw := pct / 100 / float64(leverage)
	if s == short {
		raw = -raw
	}
	return entry * (1 + raw)
}

// Run simulates the strategy described by cfg over bars (execution
// timeframe) driven by signals (one per strategy-timeframe bar, already
// mapped onto an execution-bar index by the caller via signalAt).
func Run(cfg Config, bars []Bar, signalAt func(execIdx int) (Signal, bool)) Result {
	st := &state{capital: cfg.InitialCapital}
	res := Result{}
	peakEquity := cfg.InitialCapital

	fee := cfg.FeeBps / 10000
	slip := cfg.SlippageBps / 10000

	for i, bar := range bars {
		sig, hasSignal := signalAt(i)
		execPrice := bar.Open
		if cfg.FillPolicy == FillBarClose {
			execPrice = bar.Close
		}

		// 1. Check stop/trailing/take-profit/liquidation exits by walking
		// the inferred intra-bar path, before applying this bar's signal.
		// A position closed here may still be reopened by this bar's
		// signal in step 3.
		if st.side != flat {
			processExits(cfg, st, bar, fee, slip, &res)
		}

		// 2. Scaling ladders run on bars with no new directional signal.
		if st.side != flat && !hasSignal && !st.isLiquidated {
			applyScaling(cfg, st, bar.Close, fee, &res, bar.TimestampMS)
		}

		// 3. Apply the strategy signal.
		if hasSignal && !st.isLiquidated {
			applySignal(cfg, st, sig, execPrice, fee, slip, &res, bar.TimestampMS)
		}

		equity := markToMarket(st, bar.Close)
		if equity > peakEquity {
			peakEquity = equity
		}
		dd := 0.0
		if peakEquity > 0 {
			dd = (peakEquity - equity) / peakEquity * 100
		}
		res.Equity = append(res.Equity, EquityPoint{TimestampMS: bar.TimestampMS, Equity: equity, DrawdownPct: dd})
	}

	res.FinalCapital = markToMarket(st, bars[len(bars)-1].Close)
	res.Liquidated = st.isLiquidated
	res.Metrics = computeMetrics(cfg, res)
	return res
}

func markToMarket(st *state, price float64) float64 {
	if st.side == flat || st.isLiquidated {
		return st.capital
	}
	unrealized := (price - st.entryPrice) * st.position
	if st.side == short {
		unrealized = -unrealized
	}
	return st.capital + unrealized
}

// processExits applies stop_loss > trailing_stop > take_profit priority
// across the bar's inferred price path, plus the liquidation tiebreak.
// Returns true if the position was closed.
func processExits(cfg Config, st *state, bar Bar, fee, slip float64, res *Result) bool {
	path := pricePath(bar)
	for _, p := range path {
		if st.side == flat {
			return false
		}
		if st.side == long {
			st.highestSinceEntry = math.Max(st.highestSinceEntry, p)
		} else {
			st.lowestSinceEntry = math.Min(orElse(st.lowestSinceEntry, p), p)
		}

		liqHit := (st.side == long && p <= st.liquidationPrice) || (st.side == short && p >= st.liquidationPrice)
		slHit := cfg.StopLossPct > 0 && marginPnLPct(st.entryPrice, p, cfg.Leverage, st.side) <= -cfg.StopLossPct

		// Same-bar SL-vs-liquidation tiebreak: SL wins only if it is the
		// less adverse (closer to entry) of the two prices.
		if liqHit && slHit {
			slPrice := priceForMarginPct(st.entryPrice, -cfg.StopLossPct, cfg.Leverage, st.side)
			slLessAdverse := (st.side == long && slPrice > st.liquidationPrice) || (st.side == short && slPrice < st.liquidationPrice)
			if !slLessAdverse {
				closePosition(st, bar.TimestampMS, st.liquidationPrice, 0, "liquidation", res)
				st.isLiquidated = true
				return true
			}
			closePosition(st, bar.TimestampMS, slPrice, fee, "stop_loss", res)
			return true
		}
		if liqHit {
			closePosition(st, bar.TimestampMS, st.liquidationPrice, 0, "liquidation", res)
			st.isLiquidated = true
			return true
		}
		if slHit {
			slPrice := priceForMarginPct(st.entryPrice, -cfg.StopLossPct, cfg.Leverage, st.side)
			closePosition(st, bar.TimestampMS, slPrice, fee, "stop_loss", res)
			return true
		}

		if cfg.TrailingEnabled && trailingHit(cfg, st, p) {
			closePosition(st, bar.TimestampMS, p, fee+slip, "trailing_stop", res)
			return true
		}
		if !cfg.TrailingEnabled && cfg.TakeProfitPct > 0 {
			tpHit := marginPnLPct(st.entryPrice, p, cfg.Leverage, st.side) >= cfg.TakeProfitPct
			if tpHit {
				tpPrice := priceForMarginPct(st.entryPrice, cfg.TakeProfitPct, cfg.Leverage, st.side)
				closePosition(st, bar.TimestampMS, tpPrice, fee, "take_profit", res)
				return true
			}
		}
	}
	return false
}

func orElse(current, fallback float64) float64 {
	if current == 0 {
		return fallback
	}
	return current
}

func trailingHit(cfg Config, st *state, price float64) bool {
	activated := marginPnLPct(st.entryPrice, orPeak(st), cfg.Leverage, st.side) >= cfg.TrailingActivationPct
	if !activated {
		return false
	}
	if st.side == long {
		retrace := (st.highestSinceEntry - price) / st.highestSinceEntry * 100 * float64(cfg.Leverage)
		return retrace >= cfg.TrailingActivationPct
	}
	retrace := (price - st.lowestSinceEntry) / st.lowestSinceEntry * 100 * float64(cfg.Leverage)
	return retrace >= cfg.TrailingActivationPct
}

func orPeak(st *state) float64 {
	if st.side == long {
		return st.highestSinceEntry
	}
	return st.lowestSinceEntry
}

func applySignal(cfg Config, st *state, sig Signal, price, fee, slip float64, res *Result, ts int64) {
	openLong, closeLong, openShort, closeShort := sig.fourWay()

	if st.side == long && closeLong {
		closePosition(st, ts, price*(1-slip), fee, "close_long", res)
	}
	if st.side == short && closeShort {
		closePosition(st, ts, price*(1+slip), fee, "close_short", res)
	}

	if st.side == flat && openLong && modeAllows(cfg.PositionMode, long) {
		openPosition(st, cfg, ts, price*(1+slip), fee, long, res)
	}
	if st.side == flat && openShort && modeAllows(cfg.PositionMode, short) {
		openPosition(st, cfg, ts, price*(1-slip), fee, short, res)
	}
}

func modeAllows(mode PositionMode, s side) bool {
	switch mode {
	case ModeLongOnly:
		return s == long
	case ModeShortOnly:
		return s == short
	default:
		return true
	}
}

func openPosition(st *state, cfg Config, ts int64, price, fee float64, s side, res *Result) {
	notional := st.capital * float64(cfg.Leverage)
	qty := notional / price
	st.position = qty
	st.side = s
	st.entryPrice = price
	st.highestSinceEntry = price
	st.lowestSinceEntry = price
	st.liquidationPrice = liquidationPrice(price, cfg.Leverage, s)
	st.capital -= notional * fee
	st.trendAddCount, st.dcaAddCount, st.trendReduceCount, st.adverseReduceCount = 0, 0, 0, 0

	action := "open_long"
	if s == short {
		action = "open_short"
	}
	res.Trades = append(res.Trades, Trade{TimestampMS: ts, Action: action, Price: price, Quantity: qty, Fee: notional * fee})
}

// closePosition realizes PnL and flattens the position. reason is a
// plain note, not a typed enum, matching the teacher's TradeEvent.note
// free-text field in store/backtest.go.
func closePosition(st *state, ts int64, price float64, fee float64, reason string, res *Result) {
	pnl := (price - st.entryPrice) * st.position
	if st.side == short {
		pnl = -pnl
	}
	notional := price * st.position
	feeAmt := notional * fee
	st.capital += pnl - feeAmt

	action := "close_long"
	if st.side == short {
		action = "close_short"
	}
	if reason == "liquidation" {
		action = "liquidation"
	}
	res.Trades = append(res.Trades, Trade{TimestampMS: ts, Action: action, Price: price, Quantity: st.position, Fee: feeAmt, RealizedPnL: pnl, Note: reason})

	st.side = flat
	st.position = 0
	st.entryPrice = 0
	st.highestSinceEntry = 0
	st.lowestSinceEntry = 0
	st.liquidationPrice = 0
}

// applyScaling runs the four scaling ladders. trend-add and DCA-add are
// mutually exclusive (enforced in Config.Validate); scaling never runs
// on a bar carrying a fresh directional signal (the caller only invokes
// this when !hasSignal).
func applyScaling(cfg Config, st *state, price float64, fee float64, res *Result, ts int64) {
	pnlPct := marginPnLPct(st.entryPrice, price, cfg.Leverage, st.side)

	if cfg.TrendAdd.Enabled && st.trendAddCount < cfg.TrendAdd.MaxTimes && pnlPct >= cfg.TrendAdd.StepPct*float64(st.trendAddCount+1) {
		scaleIn(st, cfg.TrendAdd.SizePct, price, fee, res, ts, "trend_add")
		st.trendAddCount++
		return
	}
	if cfg.DCAAdd.Enabled && st.dcaAddCount < cfg.DCAAdd.MaxTimes && pnlPct <= -cfg.DCAAdd.StepPct*float64(st.dcaAddCount+1) {
		scaleIn(st, cfg.DCAAdd.SizePct, price, fee, res, ts, "dca_add")
		st.dcaAddCount++
		return
	}
	if cfg.TrendReduce.Enabled && st.trendReduceCount < cfg.TrendReduce.MaxTimes && pnlPct >= cfg.TrendReduce.StepPct*float64(st.trendReduceCount+1) {
		scaleOut(st, cfg.TrendReduce.SizePct, price, fee, res, ts, "trend_reduce")
		st.trendReduceCount++
		return
	}
	if cfg.AdverseReduce.Enabled && st.adverseReduceCount < cfg.AdverseReduce.MaxTimes && pnlPct <= -cfg.AdverseReduce.StepPct*float64(st.adverseReduceCount+1) {
		scaleOut(st, cfg.AdverseReduce.SizePct, price, fee, res, ts, "adverse_reduce")
		st.adverseReduceCount++
	}
}

func scaleIn(st *state, sizePct, price, fee float64, res *Result, ts int64, note string) {
	addNotional := st.capital * sizePct / 100
	addQty := addNotional / price
	st.entryPrice = (st.entryPrice*st.position + price*addQty) / (st.position + addQty)
	st.position += addQty
	st.capital -= addNotional * fee
	res.Trades = append(res.Trades, Trade{TimestampMS: ts, Action: "scale_in", Price: price, Quantity: addQty, Fee: addNotional * fee, Note: note})
}

func scaleOut(st *state, sizePct, price, fee float64, res *Result, ts int64, note string) {
	qty := st.position * sizePct / 100
	pnl := (price - st.entryPrice) * qty
	if st.side == short {
		pnl = -pnl
	}
	notional := price * qty
	feeAmt := notional * fee
	st.capital += pnl - feeAmt
	st.position -= qty
	res.Trades = append(res.Trades, Trade{TimestampMS: ts, Action: "scale_out", Price: price, Quantity: qty, Fee: feeAmt, RealizedPnL: pnl, Note: note})
}
