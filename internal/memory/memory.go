// Package memory implements the Analysis Memory (spec §4.7): a
// persistence layer over every Analysis Result, with cheap heuristic
// similarity retrieval and a batch job that scores past decisions against
// realized price movement. Grounded on store/decision.go's GORM-backed
// store shape in the teacher repo (DecisionRecordDB + JSON blob columns
// for the nested structures, external-facing struct reassembled on read),
// adapted from the teacher's portfolio decision log to this spec's
// single-symbol Memory Record.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"quantcore/internal/analysis"
	"quantcore/internal/indicator"
)

// Record is the Memory Record entity (spec §3): a persisted Analysis
// Result plus validation/feedback columns, write-once for its primary
// content and write-many for validation fields.
type Record struct {
	ID              string          `json:"id"`
	Result          analysis.Result `json:"result"`
	CreatedAt       time.Time       `json:"created_at"`
	ValidatedAt     *time.Time      `json:"validated_at,omitempty"`
	ActualReturnPct *float64        `json:"actual_return_pct,omitempty"`
	WasCorrect      *bool           `json:"was_correct,omitempty"`
	UserFeedback    string          `json:"user_feedback,omitempty"`
}

// recordDB is the GORM table model, mirroring store.DecisionRecordDB's
// pattern of queryable top-level columns alongside a JSON blob for the
// nested analysis payload.
type recordDB struct {
	ID              string     `gorm:"primaryKey"`
	Market          string     `gorm:"column:market;index:idx_memory_market_symbol"`
	Symbol          string     `gorm:"column:symbol;index:idx_memory_market_symbol"`
	Decision        string     `gorm:"column:decision"`
	PriceAtAnalysis float64    `gorm:"column:price_at_analysis"`
	RSI             float64    `gorm:"column:rsi"`
	MACDHistogram   float64    `gorm:"column:macd_histogram"`
	ResultJSON      string     `gorm:"column:result_json"`
	CreatedAt       time.Time  `gorm:"column:created_at;index:idx_memory_created_at"`
	ValidatedAt     *time.Time `gorm:"column:validated_at"`
	ActualReturnPct *float64   `gorm:"column:actual_return_pct"`
	WasCorrect      *bool      `gorm:"column:was_correct"`
	UserFeedback    string     `gorm:"column:user_feedback;default:''"`
}

func (recordDB) TableName() string { return "qd_analysis_memory" }

func (r *recordDB) toRecord() (*Record, error) {
	var result analysis.Result
	if err := json.Unmarshal([]byte(r.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored analysis: %w", err)
	}
	return &Record{
		ID:              r.ID,
		Result:          result,
		CreatedAt:       r.CreatedAt,
		ValidatedAt:     r.ValidatedAt,
		ActualReturnPct: r.ActualReturnPct,
		WasCorrect:      r.WasCorrect,
		UserFeedback:    r.UserFeedback,
	}, nil
}

// PriceFetcher resolves the current price for a symbol, used by
// validate_past_decisions to compute realized return.
type PriceFetcher interface {
	CurrentPrice(ctx context.Context, market, symbol string) (float64, error)
}

// Store implements every Analysis Memory operation from spec §4.7.
type Store struct {
	db     *gorm.DB
	prices PriceFetcher
}

func New(db *gorm.DB, prices PriceFetcher) (*Store, error) {
	if err := db.AutoMigrate(&recordDB{}); err != nil {
		return nil, fmt.Errorf("failed to migrate analysis memory table: %w", err)
	}
	return &Store{db: db, prices: prices}, nil
}

// Store persists one completed analysis and returns its id, satisfying
// analysis.MemoryStore so the Fast Analysis Engine can call it directly.
func (s *Store) Store(ctx context.Context, result *analysis.Result) (string, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode analysis: %w", err)
	}
	id := fmt.Sprintf("%s-%s-%d", result.Market, result.Symbol, time.Now().UTC().UnixNano())

	row := &recordDB{
		ID:              id,
		Market:          result.Market,
		Symbol:          result.Symbol,
		Decision:        string(result.Decision),
		PriceAtAnalysis: result.MarketData.CurrentPrice,
		RSI:             result.Indicators.RSI,
		MACDHistogram:   result.Indicators.MACD.Histogram,
		ResultJSON:      string(payload),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("failed to insert memory record: %w", err)
	}
	return id, nil
}

// GetRecent returns the most recent records for a symbol within the last
// `days` days, newest first, capped at limit.
func (s *Store) GetRecent(ctx context.Context, market, symbol string, days, limit int) ([]*Record, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var rows []recordDB
	err := s.db.WithContext(ctx).
		Where("market = ? AND symbol = ? AND created_at >= ?", market, symbol, cutoff).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent memory records: %w", err)
	}
	return toRecords(rows)
}

// GetAllHistory pages through every stored record, newest first.
func (s *Store) GetAllHistory(ctx context.Context, page, pageSize int) ([]*Record, error) {
	if page < 1 {
		page = 1
	}
	var rows []recordDB
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query memory history: %w", err)
	}
	return toRecords(rows)
}

// Delete removes a single memory record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&recordDB{}, "id = ?", id).Error
}

// GetSimilarPatterns ranks past records by a cheap heuristic: same
// market+symbol, RSI within ±15 of the current snapshot, and a matching
// MACD signal (same sign of histogram — bullish vs bearish momentum),
// with validated-and-correct records ranked first.
func (s *Store) GetSimilarPatterns(ctx context.Context, market, symbol string, current indicator.Snapshot, limit int) ([]*Record, error) {
	var rows []recordDB
	err := s.db.WithContext(ctx).
		Where("market = ? AND symbol = ? AND rsi BETWEEN ? AND ?", market, symbol, current.RSI-15, current.RSI+15).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query similar patterns: %w", err)
	}

	bullish := current.MACD.Histogram >= 0
	var matched []recordDB
	for _, r := range rows {
		if (r.MACDHistogram >= 0) == bullish {
			matched = append(matched, r)
		}
	}

	sortSimilar(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return toRecords(matched)
}

// sortSimilar ranks validated-and-correct records first, then newest
// first, matching spec §4.7's "validated-and-correct records ranked
// first" ordering rule.
func sortSimilar(rows []recordDB) {
	rank := func(r recordDB) int {
		if r.WasCorrect != nil && *r.WasCorrect {
			return 0
		}
		return 1
	}
	for i := 1; i < len(rows); i++ {
		j := i
		for j > 0 {
			a, b := rows[j-1], rows[j]
			if rank(a) > rank(b) || (rank(a) == rank(b) && a.CreatedAt.Before(b.CreatedAt)) {
				rows[j-1], rows[j] = rows[j], rows[j-1]
				j--
				continue
			}
			break
		}
	}
}

// RecordFeedback attaches free-form user feedback to a stored record.
func (s *Store) RecordFeedback(ctx context.Context, id, feedback string) error {
	return s.db.WithContext(ctx).Model(&recordDB{}).
		Where("id = ?", id).
		Update("user_feedback", feedback).Error
}

// ValidateResult is the per-record outcome of a validate_past_decisions
// pass, named for the worked example in spec §4.7 (BUY/SELL/HOLD scored
// against realized return).
type ValidateResult struct {
	ID         string
	ReturnPct  float64
	WasCorrect bool
}

// ValidatePastDecisions scores every record at least daysAgo days old
// whose validated_at is still unset, against the realized price move
// since analysis. was_correct per spec §4.7's exact rule: BUY ∧ return >
// 2, SELL ∧ return < −2, or HOLD ∧ |return| ≤ 5.
func (s *Store) ValidatePastDecisions(ctx context.Context, daysAgo int) ([]ValidateResult, error) {
	if s.prices == nil {
		return nil, fmt.Errorf("no price fetcher configured for validation")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysAgo)

	var rows []recordDB
	err := s.db.WithContext(ctx).
		Where("created_at <= ? AND validated_at IS NULL", cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query unvalidated records: %w", err)
	}

	results := make([]ValidateResult, 0, len(rows))
	for _, row := range rows {
		current, err := s.prices.CurrentPrice(ctx, row.Market, row.Symbol)
		if err != nil || row.PriceAtAnalysis == 0 {
			continue
		}
		returnPct := (current - row.PriceAtAnalysis) / row.PriceAtAnalysis * 100
		correct := decisionWasCorrect(row.Decision, returnPct)

		now := time.Now().UTC()
		err = s.db.WithContext(ctx).Model(&recordDB{}).Where("id = ?", row.ID).Updates(map[string]any{
			"validated_at":      now,
			"actual_return_pct": returnPct,
			"was_correct":       correct,
		}).Error
		if err != nil {
			continue
		}
		results = append(results, ValidateResult{ID: row.ID, ReturnPct: returnPct, WasCorrect: correct})
	}
	return results, nil
}

func decisionWasCorrect(decision string, returnPct float64) bool {
	switch analysis.Decision(decision) {
	case analysis.DecisionBuy:
		return returnPct > 2
	case analysis.DecisionSell:
		return returnPct < -2
	default:
		return math.Abs(returnPct) <= 5
	}
}

// PerformanceStats is the get_performance_stats aggregate (spec §4.7).
type PerformanceStats struct {
	TotalValidated int
	CorrectCount   int
	IncorrectCount int
	AccuracyPct    float64
}

// GetPerformanceStats aggregates validated records, optionally scoped to
// a market/symbol, over the last `days` days.
func (s *Store) GetPerformanceStats(ctx context.Context, market, symbol string, days int) (*PerformanceStats, error) {
	scope := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&recordDB{}).Where("validated_at IS NOT NULL")
		if days > 0 {
			q = q.Where("created_at >= ?", time.Now().UTC().AddDate(0, 0, -days))
		}
		if market != "" {
			q = q.Where("market = ?", market)
		}
		if symbol != "" {
			q = q.Where("symbol = ?", symbol)
		}
		return q
	}

	var total, correct int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count validated records: %w", err)
	}
	if err := scope().Where("was_correct = ?", true).Count(&correct).Error; err != nil {
		return nil, fmt.Errorf("failed to count correct records: %w", err)
	}

	stats := &PerformanceStats{
		TotalValidated: int(total),
		CorrectCount:   int(correct),
		IncorrectCount: int(total) - int(correct),
	}
	if total > 0 {
		stats.AccuracyPct = float64(correct) / float64(total) * 100
	}
	return stats, nil
}

func toRecords(rows []recordDB) ([]*Record, error) {
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
