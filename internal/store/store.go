// Package store owns the process's one GORM connection (SQLite or
// Postgres) and the concrete persistence adapters — quick-trade ledger
// and Polymarket analysis cache — that the rest of internal/ only
// consumes through narrow interfaces. Grounded on store/gorm.go's
// InitGorm/InitGormPostgres/InitGormWithConfig dual-driver setup and
// store/driver.go's DBConfig shape.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"quantcore/internal/prediction"
	"quantcore/internal/quicktrade"
	"quantcore/internal/venue"
)

// DBType selects the SQL driver, mirroring store/driver.go's DBConfig.Type.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// DBConfig is the connection configuration for InitGormWithConfig.
type DBConfig struct {
	Type     DBType
	Path     string // sqlite file path, or ":memory:"
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// InitGorm opens a SQLite-backed GORM connection with the teacher's
// pragmas (single connection, durable journaling).
func InitGorm(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = DELETE")
	db.Exec("PRAGMA synchronous = FULL")
	db.Exec("PRAGMA busy_timeout = 5000")

	return db, nil
}

// InitGormPostgres opens a Postgres-backed GORM connection.
func InitGormPostgres(host string, port int, user, password, dbname, sslmode string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", host, port, user, password, dbname, sslmode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	return db, nil
}

// InitGormWithConfig dispatches to the driver named in cfg.Type.
func InitGormWithConfig(cfg DBConfig) (*gorm.DB, error) {
	switch cfg.Type {
	case DBTypeSQLite:
		return InitGorm(cfg.Path)
	case DBTypePostgres:
		return InitGormPostgres(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	default:
		return nil, fmt.Errorf("unsupported db type %q (use 'sqlite' or 'postgres')", cfg.Type)
	}
}

// quickTradeDB is the qd_quick_trades ledger row (spec §6 "Persisted
// state layout").
type quickTradeDB struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"index"`
	Symbol          string
	Side            string
	MarketType      string
	Quantity        float64
	Leverage        int
	ExchangeOrderID string
	Status          string
	CreatedAt       time.Time
}

func (quickTradeDB) TableName() string { return "qd_quick_trades" }

// QuickTradeLedger persists every quick-trade fill, implementing
// quicktrade.Ledger.
type QuickTradeLedger struct {
	db *gorm.DB
}

// NewQuickTradeLedger migrates and returns the ledger.
func NewQuickTradeLedger(db *gorm.DB) (*QuickTradeLedger, error) {
	if err := db.AutoMigrate(&quickTradeDB{}); err != nil {
		return nil, err
	}
	return &QuickTradeLedger{db: db}, nil
}

// RecordOrder implements quicktrade.Ledger.
func (l *QuickTradeLedger) RecordOrder(ctx context.Context, userID string, o quicktrade.Order) error {
	row := quickTradeDB{
		ID:         o.ClientOrderID,
		UserID:     userID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		MarketType: string(o.MarketType),
		Quantity:   o.Quantity,
		Leverage:   o.Leverage,
		Status:     "failed",
		CreatedAt:  o.PlacedAt,
	}
	if o.Result != nil {
		row.ExchangeOrderID = o.Result.ExchangeOrderID
		row.Status = o.Result.Status
	}
	return l.db.WithContext(ctx).Create(&row).Error
}

// History returns the most recent quick-trade ledger rows for a user
// (spec §6 "GET /quick-trade/history").
func (l *QuickTradeLedger) History(ctx context.Context, userID string, limit, offset int) ([]quicktrade.Order, error) {
	var rows []quickTradeDB
	q := l.db.WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if limit <= 0 {
		limit = 50
	}
	if err := q.Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]quicktrade.Order, len(rows))
	for i, r := range rows {
		out[i] = quicktrade.Order{
			ClientOrderID: r.ID,
			Symbol:        r.Symbol,
			Side:          quicktrade.Side(r.Side),
			MarketType:    quicktrade.MarketType(r.MarketType),
			Quantity:      r.Quantity,
			Leverage:      r.Leverage,
			Result:        &venue.LiveOrderResult{ExchangeOrderID: r.ExchangeOrderID, Status: r.Status},
			PlacedAt:      r.CreatedAt,
		}
	}
	return out, nil
}

// predictionAnalysisDB is the qd_polymarket_ai_analysis row.
type predictionAnalysisDB struct {
	MarketID     string `gorm:"primaryKey"`
	AnalysisJSON string
	AnalyzedAt   time.Time
}

func (predictionAnalysisDB) TableName() string { return "qd_polymarket_ai_analysis" }

// PredictionStore implements prediction.Store over GORM.
type PredictionStore struct {
	db *gorm.DB
}

func NewPredictionStore(db *gorm.DB) (*PredictionStore, error) {
	if err := db.AutoMigrate(&predictionAnalysisDB{}); err != nil {
		return nil, err
	}
	return &PredictionStore{db: db}, nil
}

// GetCached implements prediction.Store: returns the cached analysis
// only when it is younger than maxAge (the caller, prediction.Analyzer,
// additionally gates this on the 30-minute TTL spec §4.8 specifies).
func (s *PredictionStore) GetCached(ctx context.Context, marketID string, maxAge time.Duration) (*prediction.Analysis, bool, error) {
	var row predictionAnalysisDB
	err := s.db.WithContext(ctx).Where("market_id = ?", marketID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	if time.Since(row.AnalyzedAt) > maxAge {
		return nil, false, nil
	}
	var a prediction.Analysis
	if err := json.Unmarshal([]byte(row.AnalysisJSON), &a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

// Save implements prediction.Store.
func (s *PredictionStore) Save(ctx context.Context, a *prediction.Analysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	row := predictionAnalysisDB{MarketID: a.MarketID, AnalysisJSON: string(raw), AnalyzedAt: a.AnalyzedAt}
	return s.db.WithContext(ctx).Save(&row).Error
}
