package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"quantcore/internal/collector"
	"quantcore/internal/datasource"
	"quantcore/internal/venue"
)

// jsonFence and jsonObject mirror kernel/engine.go's extraction regexes
// (reJSONFence/reJSONArray there), adapted from an array-of-decisions shape
// to this spec's single JSON object.
var (
	jsonFence      = regexp.MustCompile(`(?is)` + "```(?:json)?\\s*(\\{.*?\\})\\s*```")
	jsonObject     = regexp.MustCompile(`(?is)\{.*\}`)
	invisibleRunes = regexp.MustCompile("[​‌‍﻿]")
)

// Engine implements analyze (spec §4.6).
type Engine struct {
	collector    *collector.Collector
	models       map[string]LLMCaller
	defaultModel string
	memory       MemoryStore
}

func New(coll *collector.Collector, models map[string]LLMCaller, defaultModel string, memory MemoryStore) *Engine {
	return &Engine{collector: coll, models: models, defaultModel: defaultModel, memory: memory}
}

const collectTimeout = 35 * time.Second

// Analyze implements the contract: analyze(market, symbol, language,
// model, timeframe) → AnalysisResult. Exactly one LLM call.
func (e *Engine) Analyze(ctx context.Context, market datasource.Market, symbol string, language Language, model, timeframe string) (*Result, error) {
	start := time.Now()

	if !language.valid() {
		return nil, venue.NewError(venue.KindInvalidLanguage, "", symbol, fmt.Sprintf("unsupported language %q", language), "")
	}

	caller, err := e.resolveModel(model)
	if err != nil {
		return nil, err
	}

	collectStart := time.Now()
	rec, err := e.collector.CollectAll(ctx, market, symbol, timeframe, true, true, true, collectTimeout)
	collectMS := time.Since(collectStart).Milliseconds()
	if err != nil {
		// price_unavailable propagates as-is; the collector only returns a
		// hard error for the "no price" invariant, per spec §4.4.
		return nil, err
	}

	pb := newPromptBuilder(language)
	systemPrompt := pb.buildSystemPrompt(rec)
	userPrompt := pb.buildUserPrompt(rec)

	llmStart := time.Now()
	raw, err := caller.CallWithMessages(systemPrompt, userPrompt)
	llmMS := time.Since(llmStart).Milliseconds()
	if err != nil {
		result := safeDefault(rec, timeframe, collectMS, llmMS, start)
		return result, venue.NewError(venue.KindLLMInvocationFailed, "", symbol, err.Error(), "")
	}

	parsed, err := parseLLMResponse(raw)
	if err != nil {
		result := safeDefault(rec, timeframe, collectMS, llmMS, start)
		return result, venue.NewError(venue.KindLLMInvocationFailed, "", symbol, "malformed LLM output: "+err.Error(), raw)
	}

	result := buildResult(rec, parsed, timeframe)
	result.Timings = Timings{CollectMS: collectMS, LLMMS: llmMS, TotalMS: time.Since(start).Milliseconds()}

	if e.memory != nil {
		id, err := e.memory.Store(ctx, result)
		if err == nil {
			result.MemoryID = id
		}
	}

	return result, nil
}

func (e *Engine) resolveModel(model string) (LLMCaller, error) {
	if model == "" {
		model = e.defaultModel
	}
	if caller, ok := e.models[model]; ok {
		return caller, nil
	}
	return nil, venue.NewError(venue.KindUnsupportedOp, "", "", fmt.Sprintf("no LLM configured for model %q", model), "")
}

// parseLLMResponse strips markdown fences and invisible runes the way
// kernel/engine.go's validateJSONFormat/removeInvisibleRunes do, then
// decodes the single JSON object.
func parseLLMResponse(raw string) (*rawLLMResponse, error) {
	cleaned := invisibleRunes.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(cleaned)

	var jsonText string
	if m := jsonFence.FindStringSubmatch(cleaned); m != nil {
		jsonText = m[1]
	} else if m := jsonObject.FindString(cleaned); m != "" {
		jsonText = m
	} else {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var parsed rawLLMResponse
	if err := json.Unmarshal([]byte(jsonText), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return &parsed, nil
}

// buildResult applies spec §4.6's validation/clamping rules, then computes
// the overall score.
func buildResult(rec *collector.Record, raw *rawLLMResponse, timeframe string) *Result {
	current := rec.Price
	decision := normalizeDecision(raw.Decision)

	entry := clampToCorridor(raw.Entry, current)
	stop := clampToCorridor(raw.StopLoss, current)
	take := clampToCorridor(raw.TakeProfit, current)

	// Rule 1's defaults when outside ±10%: entry→current,
	// stop_loss→current·0.95, take_profit→current·1.05.
	if outsideCorridor(raw.Entry, current) {
		entry = current
	}
	if outsideCorridor(raw.StopLoss, current) {
		stop = current * 0.95
	}
	if outsideCorridor(raw.TakeProfit, current) {
		take = current * 1.05
	}

	// Rule 2: stop_loss ≤ current ≤ take_profit, enforced by reassignment.
	if stop > current {
		stop = current * 0.95
	}
	if take < current {
		take = current * 1.05
	}

	confidence := clampScore(raw.Confidence)
	techScore := clampScore(raw.Scores.Technical)
	fundScore := clampScore(raw.Scores.Fundamental)
	sentScore := clampScore(raw.Scores.Sentiment)

	positionPct := raw.PositionSizePct
	if positionPct < 1 {
		positionPct = 1
	} else if positionPct > 100 {
		positionPct = 100
	}

	timeframeClass := raw.Timeframe
	switch timeframeClass {
	case "short", "medium", "long":
	default:
		timeframeClass = "medium"
	}

	overall := overallScore(techScore, fundScore, sentScore, confidence, decision)

	change24h := 0.0
	if len(rec.Kline) >= 2 {
		prev := rec.Kline[len(rec.Kline)-2].Close
		if prev != 0 {
			change24h = (current - prev) / prev * 100
		}
	}

	return &Result{
		Market:     rec.Market,
		Symbol:     rec.Symbol,
		Timeframe:  rec.Timeframe,
		Decision:   decision,
		Confidence: confidence,
		Summary:    raw.Summary,
		DetailedAnalysis: DetailedAnalysis{
			Technical:   raw.Analysis.Technical,
			Fundamental: raw.Analysis.Fundamental,
			Sentiment:   raw.Analysis.Sentiment,
		},
		TradingPlan: TradingPlan{
			EntryPrice:      entry,
			StopLoss:        stop,
			TakeProfit:      take,
			PositionSizePct: positionPct,
			Timeframe:       timeframeClass,
		},
		Reasons: raw.KeyReasons,
		Risks:   raw.Risks,
		Scores: Scores{
			Technical:   techScore,
			Fundamental: fundScore,
			Sentiment:   sentScore,
			Overall:     overall,
		},
		MarketData: MarketDataSummary{
			CurrentPrice: current,
			Change24h:    change24h,
			Support:      rec.Indicators.Support,
			Resistance:   rec.Indicators.Resistance,
		},
		Indicators: rec.Indicators,
	}
}

func outsideCorridor(price, current float64) bool {
	if current == 0 {
		return true
	}
	ratio := price / current
	return ratio < 0.90 || ratio > 1.10
}

func clampToCorridor(price, current float64) float64 {
	if outsideCorridor(price, current) {
		return current
	}
	return price
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Round(v)
}

// overallScore implements spec §4.6's exact formula: overall =
// round(0.6·(0.40·tech + 0.35·fund + 0.25·sent) + 0.4·(50 ± 0.5·confidence))
// with + for BUY, − for SELL, and the ±0.5·confidence part dropped for
// HOLD (directional term 50), clamped to [0,100].
func overallScore(tech, fund, sent, confidence float64, decision Decision) float64 {
	pillars := 0.40*tech + 0.35*fund + 0.25*sent
	var directional float64
	switch decision {
	case DecisionBuy:
		directional = 50 + 0.5*confidence
	case DecisionSell:
		directional = 50 - 0.5*confidence
	default:
		directional = 50
	}
	overall := 0.6*pillars + 0.4*directional
	return clampScore(math.Round(overall))
}

// safeDefault builds the degraded-but-present AnalysisResult spec §4.6
// requires on llm_invocation_failed: a HOLD decision, zero confidence, and
// whatever market context the collector did manage to gather.
func safeDefault(rec *collector.Record, timeframe string, collectMS, llmMS int64, start time.Time) *Result {
	return &Result{
		Market:    rec.Market,
		Symbol:    rec.Symbol,
		Timeframe: rec.Timeframe,
		Decision:  DecisionHold,
		Summary:   "analysis unavailable: the language model call failed",
		TradingPlan: TradingPlan{
			EntryPrice: rec.Price,
			StopLoss:   rec.Price * 0.95,
			TakeProfit: rec.Price * 1.05,
			Timeframe:  "medium",
		},
		MarketData: MarketDataSummary{
			CurrentPrice: rec.Price,
			Support:      rec.Indicators.Support,
			Resistance:   rec.Indicators.Resistance,
		},
		Indicators: rec.Indicators,
		Timings:    Timings{CollectMS: collectMS, LLMMS: llmMS, TotalMS: time.Since(start).Milliseconds()},
	}
}
