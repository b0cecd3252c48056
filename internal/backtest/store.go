package backtest

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// RunState mirrors store/backtest.go's RunState enum.
type RunState string

const (
	RunCreated   RunState = "created"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// runDB is the GORM model for a backtest run, grounded on
// store/backtest.go's BacktestRun table.
type runDB struct {
	ID             string `gorm:"primaryKey"`
	Symbol         string `gorm:"index"`
	State          RunState
	TotalReturnPct float64
	MaxDrawdownPct float64
	SharpeRatio    float64
	WinRatePct     float64
	ProfitFactor   float64
	TotalTrades    int
	Liquidated     bool
	CreatedAt      time.Time
}

func (runDB) TableName() string { return "qd_backtest_runs" }

// equityDB mirrors store/backtest.go's BacktestEquity table.
type equityDB struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index"`
	TimestampMS int64
	Equity      float64
	DrawdownPct float64
}

func (equityDB) TableName() string { return "qd_backtest_equity" }

// tradeDB mirrors store/backtest.go's BacktestTrade table.
type tradeDB struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"index"`
	TimestampMS int64
	Action      string
	Price       float64
	Quantity    float64
	Fee         float64
	RealizedPnL float64
	Note        string
}

func (tradeDB) TableName() string { return "qd_backtest_trade" }

// Store persists backtest runs, equity curves and trade events, grounded
// on store/backtest.go's BacktestStore (AppendEquityPoint/LoadEquityPoints/
// AppendTradeEvent/LoadTradeEvents).
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&runDB{}, &equityDB{}, &tradeDB{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// SaveRun persists a completed run's metrics and full equity/trade
// history in one transaction, matching the teacher's pattern of writing
// run metadata and its child rows together.
func (s *Store) SaveRun(ctx context.Context, runID string, cfg Config, res Result) error {
	row := runDB{
		ID:             runID,
		Symbol:         cfg.Symbol,
		State:          RunCompleted,
		TotalReturnPct: res.Metrics.TotalReturnPct,
		MaxDrawdownPct: res.Metrics.MaxDrawdownPct,
		SharpeRatio:    res.Metrics.SharpeRatio,
		WinRatePct:     res.Metrics.WinRatePct,
		ProfitFactor:   res.Metrics.ProfitFactor,
		TotalTrades:    res.Metrics.TotalTrades,
		Liquidated:     res.Liquidated,
		CreatedAt:      time.Now().UTC(),
	}
	if res.Liquidated {
		row.State = RunFailed
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, p := range res.Equity {
			if err := tx.Create(&equityDB{RunID: runID, TimestampMS: p.TimestampMS, Equity: p.Equity, DrawdownPct: p.DrawdownPct}).Error; err != nil {
				return err
			}
		}
		for _, t := range res.Trades {
			if err := tx.Create(&tradeDB{RunID: runID, TimestampMS: t.TimestampMS, Action: t.Action, Price: t.Price, Quantity: t.Quantity, Fee: t.Fee, RealizedPnL: t.RealizedPnL, Note: t.Note}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) LoadEquityPoints(ctx context.Context, runID string) ([]EquityPoint, error) {
	var rows []equityDB
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("timestamp_ms ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	points := make([]EquityPoint, len(rows))
	for i, r := range rows {
		points[i] = EquityPoint{TimestampMS: r.TimestampMS, Equity: r.Equity, DrawdownPct: r.DrawdownPct}
	}
	return points, nil
}

func (s *Store) LoadTradeEvents(ctx context.Context, runID string) ([]Trade, error) {
	var rows []tradeDB
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("timestamp_ms ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	trades := make([]Trade, len(rows))
	for i, r := range rows {
		trades[i] = Trade{TimestampMS: r.TimestampMS, Action: r.Action, Price: r.Price, Quantity: r.Quantity, Fee: r.Fee, RealizedPnL: r.RealizedPnL, Note: r.Note}
	}
	return trades, nil
}
