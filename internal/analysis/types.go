// Package analysis implements the Fast Analysis Engine (spec §4.6): a
// deterministic indicator layer combined with exactly one constrained LLM
// call, whose output is validated, clamped, and scored before being
// persisted as a memory record. Grounded on kernel/engine.go,
// kernel/prompt_builder.go, and kernel/formatter.go in the teacher repo,
// generalized from the teacher's portfolio-rebalancing decision array into
// this spec's single-symbol BUY/SELL/HOLD contract.
package analysis

import (
	"context"
	"strings"
	"time"

	"quantcore/internal/indicator"
)

// Decision is the closed set of trading calls the engine ever emits.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// normalizeDecision uppercases and collapses anything unrecognized to HOLD,
// per spec §4.6 rule 4.
func normalizeDecision(raw string) Decision {
	switch Decision(strings.ToUpper(strings.TrimSpace(raw))) {
	case DecisionBuy:
		return DecisionBuy
	case DecisionSell:
		return DecisionSell
	default:
		return DecisionHold
	}
}

// Language is the closed set of output languages the prompt builder
// supports (spec §4.6).
type Language string

const (
	LangSimplifiedChinese  Language = "zh-CN"
	LangTraditionalChinese Language = "zh-TW"
	LangEnglish            Language = "en-US"
	LangJapanese           Language = "ja-JP"
)

func (l Language) valid() bool {
	switch l {
	case LangSimplifiedChinese, LangTraditionalChinese, LangEnglish, LangJapanese:
		return true
	}
	return false
}

// DetailedAnalysis is the three-pillar narrative the LLM produces.
type DetailedAnalysis struct {
	Technical   string `json:"technical"`
	Fundamental string `json:"fundamental"`
	Sentiment   string `json:"sentiment"`
}

// TradingPlan is the concrete, price-level trading recommendation.
type TradingPlan struct {
	EntryPrice      float64 `json:"entry_price"`
	StopLoss        float64 `json:"stop_loss"`
	TakeProfit      float64 `json:"take_profit"`
	PositionSizePct float64 `json:"position_size_pct"`
	Timeframe       string  `json:"timeframe"`
}

// Scores are the per-pillar and overall 0-100 confidence scores.
type Scores struct {
	Technical   float64 `json:"technical"`
	Fundamental float64 `json:"fundamental"`
	Sentiment   float64 `json:"sentiment"`
	Overall     float64 `json:"overall"`
}

// MarketDataSummary is the compact price/S-R context attached to the
// result for display without re-fetching the full Collected Market Record.
type MarketDataSummary struct {
	CurrentPrice float64 `json:"current_price"`
	Change24h    float64 `json:"change_24h"`
	Support      float64 `json:"support"`
	Resistance   float64 `json:"resistance"`
}

// Timings records how long each stage of one analysis took, for
// observability, not behavior.
type Timings struct {
	CollectMS int64 `json:"collect_ms"`
	LLMMS     int64 `json:"llm_ms"`
	TotalMS   int64 `json:"total_ms"`
}

// Result is the Analysis Result entity (spec §3).
type Result struct {
	Market     string   `json:"market"`
	Symbol     string   `json:"symbol"`
	Timeframe  string   `json:"timeframe"`
	Decision   Decision `json:"decision"`
	Confidence float64  `json:"confidence"`
	Summary    string   `json:"summary"`

	DetailedAnalysis DetailedAnalysis `json:"detailed_analysis"`
	TradingPlan      TradingPlan      `json:"trading_plan"`

	Reasons []string `json:"reasons"`
	Risks   []string `json:"risks"`

	Scores     Scores             `json:"scores"`
	MarketData MarketDataSummary  `json:"market_data"`
	Indicators indicator.Snapshot `json:"indicators"`
	Timings    Timings            `json:"timings"`

	MemoryID string `json:"memory_id,omitempty"`
}

// MemoryStore persists a completed analysis and returns its id, satisfied
// by internal/memory.
type MemoryStore interface {
	Store(ctx context.Context, result *Result) (string, error)
}

// LLMCaller is the single method the engine needs from internal/llm,
// narrowed so tests can fake it without a real HTTP round trip.
type LLMCaller interface {
	CallWithMessages(systemPrompt, userPrompt string) (string, error)
}

// rawLLMResponse is the JSON shape the system prompt's schema instructs
// the model to emit.
type rawLLMResponse struct {
	Decision        string           `json:"decision"`
	Confidence      float64          `json:"confidence"`
	Summary         string           `json:"summary"`
	Analysis        DetailedAnalysis `json:"analysis"`
	Entry           float64          `json:"entry"`
	StopLoss        float64          `json:"stop_loss"`
	TakeProfit      float64          `json:"take_profit"`
	PositionSizePct float64          `json:"position_size_pct"`
	Timeframe       string           `json:"timeframe"`
	KeyReasons      []string         `json:"key_reasons"`
	Risks           []string         `json:"risks"`
	Scores          rawScores        `json:"scores"`
}

type rawScores struct {
	Technical   float64 `json:"technical"`
	Fundamental float64 `json:"fundamental"`
	Sentiment   float64 `json:"sentiment"`
}

func nowMS() int64 { return time.Now().UnixMilli() }
