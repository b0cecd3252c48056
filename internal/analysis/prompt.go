package analysis

import (
	"fmt"
	"strings"

	"quantcore/internal/collector"
)

// promptBuilder constructs the system and user prompts for one analysis
// call, grounded on kernel/prompt_builder.go's language-branching shape —
// generalized from the teacher's Chinese/English portfolio-decision
// prompts to this spec's four-language single-symbol schema.
type promptBuilder struct {
	lang Language
}

func newPromptBuilder(lang Language) *promptBuilder {
	return &promptBuilder{lang: lang}
}

// buildSystemPrompt declares the analyst role, the rigid output schema,
// and the pre-computed price corridors spec §4.6 requires in the prompt
// itself (not just in post-hoc validation) so the model has a chance to
// stay inside them unprompted.
func (pb *promptBuilder) buildSystemPrompt(rec *collector.Record) string {
	current := rec.Price
	priceLow, priceHigh := current*0.90, current*1.10
	entryLow, entryHigh := current*0.98, current*1.02

	role := pb.localize(map[Language]string{
		LangSimplifiedChinese:  "你是一位专业的量化交易分析师，负责基于提供的市场数据做出单一交易决策。",
		LangTraditionalChinese: "你是一位專業的量化交易分析師，負責基於提供的市場數據做出單一交易決策。",
		LangEnglish:            "You are a professional quantitative trading analyst producing a single trading decision from the market data provided.",
		LangJapanese:           "あなたは提供された市場データに基づいて単一の取引判断を下す専門のクオンツトレーディングアナリストです。",
	})

	langInstruction := pb.localize(map[Language]string{
		LangSimplifiedChinese:  "请使用简体中文撰写summary、analysis、key_reasons、risks字段。",
		LangTraditionalChinese: "請使用繁體中文撰寫summary、analysis、key_reasons、risks欄位。",
		LangEnglish:            "Write the summary, analysis, key_reasons, and risks fields in English.",
		LangJapanese:           "summary、analysis、key_reasons、risksフィールドは日本語で記述してください。",
	})

	return fmt.Sprintf(`%s

%s

## Pre-computed context (do not recompute — use these)
- Current price: %.6f
- Suggested support: %.6f, resistance: %.6f
- ATR: %.6f
- Suggested stop loss: %.6f, take profit: %.6f, risk/reward: %.2f
- Valid price corridor (entry/SL/TP must all fall within): [%.6f, %.6f]
- Valid entry-price corridor: [%.6f, %.6f]

## Required output — a single JSON object, nothing else

`+"```json"+`
{
  "decision": "BUY|SELL|HOLD",
  "confidence": 0,
  "summary": "",
  "analysis": {"technical": "", "fundamental": "", "sentiment": ""},
  "entry": 0,
  "stop_loss": 0,
  "take_profit": 0,
  "position_size_pct": 0,
  "timeframe": "short|medium|long",
  "key_reasons": [""],
  "risks": [""],
  "scores": {"technical": 0, "fundamental": 0, "sentiment": 0}
}
`+"```"+`

All numeric fields must be precise single values, never ranges. position_size_pct is an integer percentage between 1 and 100.`,
		role, langInstruction,
		current, rec.Indicators.Support, rec.Indicators.Resistance,
		rec.Indicators.ATR,
		rec.Indicators.TradingLevels.SuggestedStopLoss, rec.Indicators.TradingLevels.SuggestedTakeProfit, rec.Indicators.TradingLevels.RiskRewardRatio,
		priceLow, priceHigh, entryLow, entryHigh)
}

// buildUserPrompt carries the concrete indicator readings, a macro
// summary with qualitative captions, up to 5 news items, and the
// fundamentals block, per spec §4.6.
func (pb *promptBuilder) buildUserPrompt(rec *collector.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Symbol: %s (%s, %s timeframe)\n", rec.Symbol, rec.Market, rec.Timeframe)
	fmt.Fprintf(&b, "Current price: %.6f\n\n", rec.Price)

	fmt.Fprintf(&b, "## Technical indicators\n")
	fmt.Fprintf(&b, "RSI(14): %.2f\n", rec.Indicators.RSI)
	fmt.Fprintf(&b, "MACD: line=%.4f signal=%.4f histogram=%.4f\n", rec.Indicators.MACD.Line, rec.Indicators.MACD.Signal, rec.Indicators.MACD.Histogram)
	fmt.Fprintf(&b, "MA5/10/20: %.4f / %.4f / %.4f\n", rec.Indicators.MA.MA5, rec.Indicators.MA.MA10, rec.Indicators.MA.MA20)
	fmt.Fprintf(&b, "Bollinger: upper=%.4f mid=%.4f lower=%.4f\n", rec.Indicators.Bollinger.Upper, rec.Indicators.Bollinger.Middle, rec.Indicators.Bollinger.Lower)
	fmt.Fprintf(&b, "Pivot: pivot=%.4f r1=%.4f s1=%.4f\n", rec.Indicators.Pivot.Pivot, rec.Indicators.Pivot.R1, rec.Indicators.Pivot.S1)
	fmt.Fprintf(&b, "Trend: %s, price position: %.1f%%, volatility: %s (%.2f%%)\n\n",
		rec.Indicators.Trend, rec.Indicators.PricePosition, rec.Indicators.Volatility.Level, rec.Indicators.Volatility.Pct)

	if rec.Macro != (collector.MacroSnapshot{}) {
		fmt.Fprintf(&b, "## Macro backdrop\n%s\n\n", macroSummary(rec.Macro))
	}

	if len(rec.Fundamental) > 0 {
		fmt.Fprintf(&b, "## Fundamentals\n")
		for k, v := range rec.Fundamental {
			fmt.Fprintf(&b, "%s: %v\n", k, v)
		}
		b.WriteString("\n")
	}

	if len(rec.News) > 0 {
		fmt.Fprintf(&b, "## Recent news\n")
		n := rec.News
		if len(n) > 5 {
			n = n[:5]
		}
		for _, item := range n {
			fmt.Fprintf(&b, "- %s (%s)\n", item.Title, item.Source)
		}
		b.WriteString("\n")
	}

	b.WriteString(pb.localize(map[Language]string{
		LangSimplifiedChinese:  "现在请输出你的决策（仅JSON，不含其他文字）：",
		LangTraditionalChinese: "現在請輸出你的決策（僅JSON，不含其他文字）：",
		LangEnglish:            "Now output your decision (JSON only, no other text):",
		LangJapanese:           "それでは判断結果を出力してください（JSONのみ、他のテキストは不要）：",
	}))

	return b.String()
}

func (pb *promptBuilder) localize(variants map[Language]string) string {
	if s, ok := variants[pb.lang]; ok {
		return s
	}
	return variants[LangEnglish]
}

// macroSummary formats the collector's macro dict with the qualitative
// captions spec §4.6 calls for ("strong USD → bearish crypto", "VIX > 30
// = panic"), grounded on the interpretation-string idiom spec §4.11 names
// for the macro aggregator itself.
func macroSummary(m collector.MacroSnapshot) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("VIX: %.2f (%s)", m.VIX, vixCaption(m.VIX)))
	lines = append(lines, fmt.Sprintf("DXY: %.2f (%s)", m.DXY, dxyCaption(m.DXY)))
	lines = append(lines, fmt.Sprintf("10Y yield: %.2f%%", m.TenYear))
	lines = append(lines, fmt.Sprintf("Fear & Greed: %.0f (%s)", m.FearGreed, fearGreedCaption(m.FearGreed)))
	return strings.Join(lines, "\n")
}

func vixCaption(v float64) string {
	switch {
	case v > 30:
		return "VIX > 30 = panic"
	case v > 20:
		return "elevated volatility"
	default:
		return "calm"
	}
}

func dxyCaption(v float64) string {
	switch {
	case v > 105:
		return "DXY > 105 — bearish EM/commodities, bearish crypto"
	case v > 100:
		return "strong USD → bearish crypto"
	default:
		return "weak-to-neutral USD"
	}
}

func fearGreedCaption(v float64) string {
	switch {
	case v >= 75:
		return "extreme greed"
	case v >= 55:
		return "greed"
	case v <= 25:
		return "extreme fear"
	case v <= 45:
		return "fear"
	default:
		return "neutral"
	}
}
