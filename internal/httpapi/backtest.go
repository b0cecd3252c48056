package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quantcore/internal/backtest"
	"quantcore/internal/datasource"
	"quantcore/internal/venue"
)

type backtestRunRequest struct {
	IndicatorCode  string         `json:"indicator_code" binding:"required"`
	Market         string         `json:"market"`
	Symbol         string         `json:"symbol" binding:"required"`
	Timeframe      string         `json:"timeframe" binding:"required"`
	Start          int64          `json:"start" binding:"required"`
	End            int64          `json:"end" binding:"required"`
	InitialCapital float64        `json:"initial_capital"`
	Commission     float64        `json:"commission"`
	Slippage       float64        `json:"slippage"`
	Leverage       int            `json:"leverage"`
	TradeDirection string         `json:"trade_direction"`
	StrategyConfig StrategyConfig `json:"strategy_config"`
}

// handleBacktestRun returns a gin.HandlerFunc closed over enableMTF so
// POST /backtest/run and POST /backtest/run-mtf share one implementation
// while only the latter honors Config's multi-timeframe execution path.
func (s *Server) handleBacktestRun(enableMTF bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Backtest == nil {
			backtestFail(c, "setup", unsupportedOp("backtest kline source not configured"))
			return
		}
		var req backtestRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "invalid request body: " + err.Error(), Data: nil})
			return
		}

		cfg := backtest.Config{
			Symbol:            req.Symbol,
			Market:            req.Market,
			StrategyTimeframe: req.Timeframe,
			StartTS:           req.Start,
			EndTS:             req.End,
			InitialCapital:    req.InitialCapital,
			FeeBps:            req.Commission,
			SlippageBps:       req.Slippage,
			Leverage:          req.Leverage,
			PositionMode:      positionModeFor(req.TradeDirection),
		}
		if err := req.StrategyConfig.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "invalid strategy_config: " + err.Error(), Data: nil})
			return
		}
		req.StrategyConfig.ApplyTo(&cfg)
		if err := cfg.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: err.Error(), Data: nil})
			return
		}
		if !enableMTF {
			cfg.Market = "non-crypto" // forces executionTimeframe's single-timeframe path
		}

		generator, err := resolveSignalGenerator(req.IndicatorCode)
		if err != nil {
			c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: err.Error(), Data: nil})
			return
		}

		bars, err := s.fetchBars(datasource.Market(req.Market), req.Symbol, req.Timeframe, req.Start, req.End)
		if err != nil {
			backtestFail(c, "data fetch", err)
			return
		}
		if len(bars) == 0 {
			c.JSON(http.StatusUnprocessableEntity, envelope{Code: 0, Msg: "no historical bars available for the requested range", Data: nil})
			return
		}

		result := backtest.Run(cfg, bars, generator(bars))

		runID := uuid.NewString()
		if s.deps.BacktestRuns != nil {
			if saveErr := s.deps.BacktestRuns.SaveRun(c.Request.Context(), runID, cfg, result); saveErr != nil {
				// persisting the run is best-effort: the computed result is
				// still returned to the caller even if it can't be replayed later.
				_ = saveErr
			}
		}

		ok(c, gin.H{"run_id": runID, "result": result})
	}
}

func positionModeFor(direction string) backtest.PositionMode {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "long", "long_only":
		return backtest.ModeLongOnly
	case "short", "short_only":
		return backtest.ModeShortOnly
	default:
		return backtest.ModeBoth
	}
}

// fetchBars pages backward from endMS using KlineSource's limit/beforeTime
// cursor until it has covered [startMS, endMS], since Factory.GetKline
// has no direct start/end-range query.
func (s *Server) fetchBars(market datasource.Market, symbol, timeframe string, startMS, endMS int64) ([]backtest.Bar, error) {
	step, err := timeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	wantBars := int((endMS-startMS)/step.Milliseconds()) + 2
	if wantBars <= 0 {
		wantBars = 1
	}
	const maxPerPage = 1000
	var collected []venue.Bar
	cursor := endMS

	for len(collected) < wantBars {
		limit := wantBars - len(collected)
		if limit > maxPerPage {
			limit = maxPerPage
		}
		before := cursor
		page, err := s.deps.Backtest.GetKline(market, "", symbol, timeframe, limit, &before)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		collected = append(page, collected...)
		cursor = page[0].Time
		if cursor <= startMS || len(page) < limit {
			break
		}
	}

	out := make([]backtest.Bar, 0, len(collected))
	for _, b := range collected {
		if b.Time >= startMS && b.Time <= endMS {
			out = append(out, backtest.Bar{
				TimestampMS: b.Time,
				Open:        b.Open,
				High:        b.High,
				Low:         b.Low,
				Close:       b.Close,
				Volume:      b.Volume,
			})
		}
	}
	return out, nil
}

func timeframeDuration(tf string) (time.Duration, error) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		return 0, fmt.Errorf("timeframe is required")
	}
	unit := tf[len(tf)-1]
	var n int
	if _, err := fmt.Sscanf(tf[:len(tf)-1], "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
}
