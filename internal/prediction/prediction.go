// Package prediction implements the Prediction-Market Analyzer (spec
// §4.8): single-market and batch divergence-based opportunity ranking
// over Polymarket-style event markets. The teacher repo has no
// prediction-market feature, so this is built in the house idiom of
// kernel/engine.go — one constrained LLM call, JSON extraction, then
// rule-based post-processing — applied to a new domain, and reuses
// internal/collector for the "related asset" market context every
// prediction prompt embeds.
package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/collector"
	"quantcore/internal/datasource"
)

// OutcomeToken is one side (YES/NO) of a binary event market.
type OutcomeToken struct {
	Price  float64
	Volume float64
}

// Event is the Prediction Market Event entity (spec §3).
type Event struct {
	MarketID           string
	Question           string
	Category           string
	CurrentProbability float64
	Volume24h          float64
	Liquidity          float64
	EndDate            time.Time
	Status             string
	OutcomeTokens      map[string]OutcomeToken
	Slug               string
}

// isValidSlug rejects empty or purely numeric slugs — spec requires the
// URL fall back to /markets/{id} rather than embed a bare numeric id.
func isValidSlug(slug string) bool {
	if slug == "" {
		return false
	}
	if _, err := strconv.ParseInt(slug, 10, 64); err == nil {
		return false
	}
	return true
}

// URL builds the Polymarket URL, falling back to /markets/{id} when no
// valid slug is known.
func (e Event) URL() string {
	if isValidSlug(e.Slug) {
		return "https://polymarket.com/event/" + e.Slug
	}
	return "https://polymarket.com/markets/" + e.MarketID
}

// Recommendation is the closed set of single-market calls.
type Recommendation string

const (
	RecommendYes  Recommendation = "YES"
	RecommendNo   Recommendation = "NO"
	RecommendHold Recommendation = "HOLD"
)

// Analysis is the Prediction Analysis entity (spec §3).
type Analysis struct {
	MarketID               string         `json:"market_id"`
	AIPredictedProbability float64        `json:"ai_predicted_probability"`
	MarketProbability      float64        `json:"market_probability"`
	Divergence             float64        `json:"divergence"`
	Recommendation         Recommendation `json:"recommendation"`
	Confidence             float64        `json:"confidence"`
	OpportunityScore       float64        `json:"opportunity_score"`
	Reasoning              string         `json:"reasoning"`
	KeyFactors             []string       `json:"key_factors"`
	RelatedAssets          []string       `json:"related_assets"`
	AnalyzedAt             time.Time      `json:"analyzed_at"`
}

// opportunityScore implements spec §3's exact formula.
func opportunityScore(divergence, confidence float64) float64 {
	return math.Min(math.Abs(divergence)*2, 40) + confidence*0.6
}

// recommendationFor implements spec §4.8's exact rule: |div| > 5 ∧ conf >
// 60 ⇒ YES/NO (sign of divergence), else HOLD.
func recommendationFor(divergence, confidence float64) Recommendation {
	if math.Abs(divergence) > 5 && confidence > 60 {
		if divergence > 0 {
			return RecommendYes
		}
		return RecommendNo
	}
	return RecommendHold
}

// CollectorClient is the subset of internal/collector's Collector this
// package needs, narrowed for testability.
type CollectorClient interface {
	CollectAll(ctx context.Context, market datasource.Market, symbol, timeframe string, includeMacro, includeNews, includePolymarket bool, timeout time.Duration) (*collector.Record, error)
}

// LLMCaller is the single method needed from internal/llm.
type LLMCaller interface {
	CallWithMessages(systemPrompt, userPrompt string) (string, error)
}

// Store persists prediction analyses and serves the 30-minute cache
// check in analyze_market.
type Store interface {
	GetCached(ctx context.Context, marketID string, maxAge time.Duration) (*Analysis, bool, error)
	Save(ctx context.Context, a *Analysis) error
}

// knownAssets maps common tickers to full names, the same keyword-table
// idiom internal/collector's predictionKeywords uses in reverse.
var knownAssets = map[string]string{
	"BTC":  "Bitcoin",
	"ETH":  "Ethereum",
	"SOL":  "Solana",
	"XRP":  "Ripple",
	"DOGE": "Dogecoin",
}

// Analyzer implements both analyze_market and batch_analyze_markets.
type Analyzer struct {
	collector    CollectorClient
	models       map[string]LLMCaller
	defaultModel string
	store        Store
}

func New(coll CollectorClient, models map[string]LLMCaller, defaultModel string, store Store) *Analyzer {
	return &Analyzer{collector: coll, models: models, defaultModel: defaultModel, store: store}
}

const cacheTTL = 30 * time.Minute

var (
	fenceRe  = regexp.MustCompile(`(?is)` + "```(?:json)?\\s*(\\{.*?\\})\\s*```")
	objectRe = regexp.MustCompile(`(?is)\{.*\}`)
)

type rawSingleAnalysis struct {
	PredictedProbability float64  `json:"predicted_probability"`
	Confidence           float64  `json:"confidence"`
	Reasoning            string   `json:"reasoning"`
	KeyFactors           []string `json:"key_factors"`
	RiskFactors          []string `json:"risk_factors"`
}

// AnalyzeMarket implements analyze_market (spec §4.8).
func (a *Analyzer) AnalyzeMarket(ctx context.Context, event Event, userID, model string, useCache bool) (*Analysis, error) {
	if useCache && a.store != nil {
		if cached, ok, err := a.store.GetCached(ctx, event.MarketID, cacheTTL); err == nil && ok {
			return cached, nil
		}
	}

	caller, err := a.resolveModel(model)
	if err != nil {
		return nil, err
	}

	related := relatedAssetKeywords(event.Question)
	assetSummaries := a.collectRelatedAssets(ctx, related)

	systemPrompt := "You are a prediction-market analyst. Estimate the true probability of the event resolving YES, independent of the current market price, using the news and related-asset context provided. Respond with a single JSON object: {\"predicted_probability\":0,\"confidence\":0,\"reasoning\":\"\",\"key_factors\":[\"\"],\"risk_factors\":[\"\"]}."
	userPrompt := buildSingleUserPrompt(event, assetSummaries)

	raw, err := caller.CallWithMessages(systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("prediction LLM call failed: %w", err)
	}

	parsed, err := parseJSONObject[rawSingleAnalysis](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prediction response: %w", err)
	}

	divergence := parsed.PredictedProbability - event.CurrentProbability
	analysis := &Analysis{
		MarketID:               event.MarketID,
		AIPredictedProbability: clampProbability(parsed.PredictedProbability),
		MarketProbability:      event.CurrentProbability,
		Divergence:             divergence,
		Recommendation:         recommendationFor(divergence, parsed.Confidence),
		Confidence:             clampProbability(parsed.Confidence),
		OpportunityScore:       opportunityScore(divergence, parsed.Confidence),
		Reasoning:              parsed.Reasoning,
		KeyFactors:             parsed.KeyFactors,
		RelatedAssets:          related,
		AnalyzedAt:             time.Now().UTC(),
	}

	if a.store != nil {
		_ = a.store.Save(ctx, analysis)
	}
	return analysis, nil
}

func (a *Analyzer) resolveModel(model string) (LLMCaller, error) {
	if model == "" {
		model = a.defaultModel
	}
	caller, ok := a.models[model]
	if !ok {
		return nil, fmt.Errorf("no LLM configured for model %q", model)
	}
	return caller, nil
}

// relatedAssetKeywords extracts ticker-like tokens from a market question
// and expands each to its full asset name via knownAssets.
func relatedAssetKeywords(question string) []string {
	var out []string
	for ticker, name := range knownAssets {
		if strings.Contains(strings.ToUpper(question), ticker) || strings.Contains(strings.ToUpper(question), strings.ToUpper(name)) {
			out = append(out, ticker)
		}
	}
	sort.Strings(out)
	return out
}

// collectRelatedAssets fetches a short market summary for each related
// ticker, always with includePolymarket=false to break the cycle back
// into this package's own domain (the collector's phase 5 already covers
// the "does this symbol have a live prediction market" leg; asking it
// again here would recurse).
func (a *Analyzer) collectRelatedAssets(ctx context.Context, tickers []string) []string {
	var summaries []string
	for _, ticker := range tickers {
		rec, err := a.collector.CollectAll(ctx, datasource.MarketCrypto, ticker+"USDT", "1d", false, true, false, 8*time.Second)
		if err != nil || rec == nil {
			continue
		}
		summaries = append(summaries, fmt.Sprintf("%s: price=%.4f trend=%s rsi=%.1f", ticker, rec.Price, rec.Indicators.Trend, rec.Indicators.RSI))
	}
	return summaries
}

func buildSingleUserPrompt(event Event, assetSummaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", event.Question)
	fmt.Fprintf(&b, "Category: %s\n", event.Category)
	fmt.Fprintf(&b, "Current market-implied probability: %.1f%%\n", event.CurrentProbability)
	fmt.Fprintf(&b, "24h volume: %.0f, liquidity: %.0f, ends: %s\n\n", event.Volume24h, event.Liquidity, event.EndDate.Format(time.RFC3339))
	if len(assetSummaries) > 0 {
		b.WriteString("Related asset context:\n")
		for _, s := range assetSummaries {
			b.WriteString("- " + s + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Output your estimate as a single JSON object, nothing else.")
	return b.String()
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// parseJSONObject extracts and decodes a single JSON object from raw LLM
// text, fenced or bare — the same extraction idiom internal/analysis's
// engine.go uses, duplicated here since the two packages decode into
// different shapes and neither should import the other for it.
func parseJSONObject[T any](raw string) (*T, error) {
	cleaned := strings.TrimSpace(raw)
	var jsonText string
	if m := fenceRe.FindStringSubmatch(cleaned); m != nil {
		jsonText = m[1]
	} else if m := objectRe.FindString(cleaned); m != "" {
		jsonText = m
	} else {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	var out T
	if err := json.Unmarshal([]byte(jsonText), &out); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return &out, nil
}

// Opportunity is one ranked result from batch_analyze_markets.
type Opportunity struct {
	MarketID         string         `json:"market_id"`
	OpportunityScore float64        `json:"opportunity_score"`
	Recommendation   Recommendation `json:"recommendation"`
	Confidence       float64        `json:"confidence"`
	KeyFactors       []string       `json:"key_factors"`
}

type rawBatchItem struct {
	MarketID       string   `json:"market_id"`
	Score          float64  `json:"opportunity_score"`
	Recommendation string   `json:"recommendation"`
	Confidence     float64  `json:"confidence"`
	KeyFactors     []string `json:"key_factors"`
}

type rawBatchResponse struct {
	Opportunities []rawBatchItem `json:"opportunities"`
}

// BatchAnalyzeMarkets implements batch_analyze_markets (spec §4.8):
// ships up to 50 markets in one prompt and ranks the top
// maxOpportunities by score. Markets the LLM's response is silent on, or
// whose response fails to parse at all, fall back to the volume/
// divergence heuristic so a malformed response never drops every market.
func (a *Analyzer) BatchAnalyzeMarkets(ctx context.Context, events []Event, maxOpportunities int, model string) ([]Opportunity, error) {
	caller, err := a.resolveModel(model)
	if err != nil {
		return nil, err
	}

	batch := events
	if len(batch) > 50 {
		batch = batch[:50]
	}

	systemPrompt := "You rank prediction markets by trading opportunity. Respond with a single JSON object: {\"opportunities\":[{\"market_id\":\"\",\"opportunity_score\":0,\"recommendation\":\"YES|NO|HOLD\",\"confidence\":0,\"key_factors\":[\"\"]}]}."
	userPrompt := buildBatchUserPrompt(batch)

	raw, err := caller.CallWithMessages(systemPrompt, userPrompt)
	byMarket := map[string]rawBatchItem{}
	if err == nil {
		if parsed, perr := parseJSONObject[rawBatchResponse](raw); perr == nil {
			for _, item := range parsed.Opportunities {
				byMarket[item.MarketID] = item
			}
		}
	}

	opportunities := make([]Opportunity, 0, len(batch))
	for _, event := range batch {
		if item, ok := byMarket[event.MarketID]; ok {
			opportunities = append(opportunities, Opportunity{
				MarketID:         event.MarketID,
				OpportunityScore: item.Score,
				Recommendation:   Recommendation(item.Recommendation),
				Confidence:       item.Confidence,
				KeyFactors:       item.KeyFactors,
			})
			continue
		}
		opportunities = append(opportunities, fallbackOpportunity(event))
	}

	sort.Slice(opportunities, func(i, j int) bool { return opportunities[i].OpportunityScore > opportunities[j].OpportunityScore })
	if maxOpportunities > 0 && len(opportunities) > maxOpportunities {
		opportunities = opportunities[:maxOpportunities]
	}
	return opportunities, nil
}

// fallbackOpportunity implements spec §4.8's malformed-output fallback
// rule: volume_24h > 10000 ∧ |p - 50| > 10 ⇒ score = min(60 +
// |p-50|·0.5, 90). Markets not meeting that bar score zero and sort last.
func fallbackOpportunity(event Event) Opportunity {
	deviation := math.Abs(event.CurrentProbability - 50)
	if event.Volume24h > 10000 && deviation > 10 {
		return Opportunity{
			MarketID:         event.MarketID,
			OpportunityScore: math.Min(60+deviation*0.5, 90),
			Recommendation:   RecommendHold,
		}
	}
	return Opportunity{MarketID: event.MarketID, Recommendation: RecommendHold}
}

func buildBatchUserPrompt(events []Event) string {
	var b strings.Builder
	b.WriteString("Markets:\n")
	for _, e := range events {
		fmt.Fprintf(&b, "- id=%s probability=%.1f%% volume_24h=%.0f question=%q\n", e.MarketID, e.CurrentProbability, e.Volume24h, e.Question)
	}
	return b.String()
}
