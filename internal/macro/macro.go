// Package macro implements the Macro & Sentiment Aggregator (spec
// §4.11): a multi-metric composite (VIX, DXY, 10-year yield, the
// yield-curve spread, VXN, GVZ, the VIX term structure, and the Fear &
// Greed index), each metric pulled through a provider fallback chain
// and translated into a level/interpretation string.
//
// There is no direct teacher analogue — the teacher repo has no macro
// index aggregator — so this is grounded on the provider fan-out/
// fallback idiom of provider/nofxos/client.go's authenticated HTTP
// client and on internal/cache.TTL for the 6-hour composite cache spec
// §5 requires (mirroring market/data.go's FundingRateCache TTL pattern,
// generalized to the explicit-construction cache the rest of this
// module uses instead of package-level sync.Map globals).
package macro

import (
	"context"
	"fmt"
	"time"

	"quantcore/internal/cache"
)

// Metric names, fixed by spec §4.11.
const (
	MetricVIX          = "vix"
	MetricDXY          = "dxy"
	MetricUS10Y        = "us10y"
	MetricYieldSpread  = "yield_curve_spread"
	MetricVXN          = "vxn"
	MetricGVZ          = "gvz"
	MetricVIXTermSlope = "vix_term_structure"
	MetricFearGreed    = "fear_greed"
)

// Reading is one metric's value with its interpretation.
type Reading struct {
	Metric         string
	Value          float64
	Level          string // e.g. "low", "elevated", "extreme"
	Interpretation string
	Source         string
	AsOf           time.Time
}

// Composite is the full macro snapshot spec §4.11 returns.
type Composite struct {
	Readings    map[string]Reading
	Errors      map[string]string // metric -> fetch error, when a provider chain was exhausted
	GeneratedAt time.Time
}

// Provider fetches one metric's raw value. Implementations wrap a single
// upstream (yfinance-equivalent, akshare-equivalent, etc); Aggregator
// tries providers for a metric in order until one succeeds, mirroring
// spec §4.11's "provider chain (primary -> fallback)" requirement.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, metric string) (float64, time.Time, error)
}

// Aggregator computes the macro composite, caching it for 6 hours (spec
// §5 "macro cache TTL 6h").
type Aggregator struct {
	chains map[string][]Provider
	cache  *cache.TTL[string, Composite]
}

const compositeCacheTTL = 6 * time.Hour
const compositeCacheKey = "composite"

// New builds an Aggregator from a metric -> ordered-provider-chain map.
// A metric absent from chains is simply never fetched (reported via
// Errors, not a panic), so callers can wire a partial set of metrics.
func New(chains map[string][]Provider) *Aggregator {
	return &Aggregator{
		chains: chains,
		cache:  cache.NewTTL[string, Composite](compositeCacheTTL),
	}
}

// GetComposite returns the full macro snapshot, serving the 6-hour
// cache when warm.
func (a *Aggregator) GetComposite(ctx context.Context) (Composite, error) {
	if cached, ok := a.cache.Get(compositeCacheKey); ok {
		return cached, nil
	}

	comp := Composite{
		Readings:    map[string]Reading{},
		Errors:      map[string]string{},
		GeneratedAt: time.Now().UTC(),
	}

	for _, metric := range []string{
		MetricVIX, MetricDXY, MetricUS10Y, MetricYieldSpread,
		MetricVXN, MetricGVZ, MetricVIXTermSlope, MetricFearGreed,
	} {
		reading, err := a.fetchMetric(ctx, metric)
		if err != nil {
			comp.Errors[metric] = err.Error()
			continue
		}
		comp.Readings[metric] = reading
	}

	if len(comp.Readings) > 0 {
		a.cache.Set(compositeCacheKey, comp)
	}
	return comp, nil
}

// fetchMetric walks the provider chain for one metric, returning the
// first successful fetch.
func (a *Aggregator) fetchMetric(ctx context.Context, metric string) (Reading, error) {
	providers := a.chains[metric]
	if len(providers) == 0 {
		return Reading{}, fmt.Errorf("no provider configured for metric %q", metric)
	}

	var lastErr error
	for _, p := range providers {
		value, asOf, err := p.Fetch(ctx, metric)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}
		level, interp := interpret(metric, value)
		return Reading{Metric: metric, Value: value, Level: level, Interpretation: interp, Source: p.Name(), AsOf: asOf}, nil
	}
	return Reading{}, fmt.Errorf("all providers exhausted for metric %q: %w", metric, lastErr)
}

// interpret classifies a metric's raw value into a level and a short
// human-readable interpretation, per spec §4.11's level thresholds.
func interpret(metric string, value float64) (level, interpretation string) {
	switch metric {
	case MetricVIX, MetricVXN, MetricGVZ:
		switch {
		case value < 15:
			return "low", "low volatility, complacent market"
		case value < 25:
			return "normal", "typical volatility regime"
		case value < 35:
			return "elevated", "heightened uncertainty"
		default:
			return "extreme", "panic-level volatility"
		}
	case MetricYieldSpread:
		switch {
		case value < 0:
			return "inverted", "yield curve inverted, recession risk signal"
		case value < 0.5:
			return "flat", "flattening yield curve"
		default:
			return "normal", "normal positively-sloped curve"
		}
	case MetricVIXTermSlope:
		if value < 0 {
			return "backwardated", "near-term fear exceeds longer-term, stress signal"
		}
		return "contango", "normal upward-sloping term structure"
	case MetricFearGreed:
		switch {
		case value < 25:
			return "extreme_fear", "market sentiment extremely fearful"
		case value < 45:
			return "fear", "market sentiment fearful"
		case value < 55:
			return "neutral", "market sentiment neutral"
		case value < 75:
			return "greed", "market sentiment greedy"
		default:
			return "extreme_greed", "market sentiment extremely greedy"
		}
	case MetricDXY:
		switch {
		case value < 95:
			return "weak", "dollar weak against major currencies"
		case value < 105:
			return "normal", "dollar in its typical range"
		default:
			return "strong", "dollar strong against major currencies"
		}
	case MetricUS10Y:
		switch {
		case value < 2:
			return "low", "low long-term rate environment"
		case value < 4.5:
			return "normal", "typical long-term rate environment"
		default:
			return "high", "elevated long-term rates"
		}
	default:
		return "unknown", ""
	}
}
