// Package collector implements the Market Data Collector (spec §4.4): a
// fan-out/fan-in aggregator over price, kline, fundamentals, macro, news,
// and prediction-market legs, with per-phase timeouts and graceful
// degradation. Grounded on market/data.go's Get() fan-out-with-fallback
// shape in the teacher repo, generalized from one hardcoded fetch sequence
// into the spec's five explicit phases and promoted from the teacher's
// bare goroutine+channel idiom to golang.org/x/sync/errgroup, which the
// teacher's own go.mod already pulls in transitively.
package collector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quantcore/internal/datasource"
	"quantcore/internal/indicator"
	"quantcore/internal/venue"
)

// CompanyProfile is the equity-leg company fundamentals blob (spec §4.4's
// "company profile" fetch); left loosely typed since its shape varies by
// market and this layer only ever passes it through to the prompt builder.
type CompanyProfile map[string]any

// Fundamentals is the market-dependent fundamentals blob (funding rate and
// open interest for crypto, EPS/PE/market-cap for equities, etc).
type Fundamentals map[string]any

// MacroSnapshot is the composite macro reading: VIX, DXY, 10-year yield,
// and the Fear & Greed index, cached together under one TTL key.
type MacroSnapshot struct {
	VIX       float64
	DXY       float64
	TenYear   float64
	FearGreed float64
}

// NewsItem is a single deduplicated headline.
type NewsItem struct {
	Title     string
	Source    string
	URL       string
	PublishedAt time.Time
}

// PredictionEvent is a single Polymarket-style prediction-market result.
type PredictionEvent struct {
	Question string
	Price    float64
	URL      string
}

// Meta records partial-failure bookkeeping per spec §3: `_meta` is
// authoritative for which legs succeeded/failed and how long collection
// took.
type Meta struct {
	SuccessItems []string
	FailedItems  []string
	DurationMS   int64
}

// Record is the Collected Market Record entity (spec §3).
type Record struct {
	Market      string
	Symbol      string
	Timeframe   string
	CollectedAt time.Time
	Price       float64
	Kline       []venue.Bar
	Indicators  indicator.Snapshot
	Fundamental Fundamentals
	Company     CompanyProfile
	Macro       MacroSnapshot
	News        []NewsItem
	Sentiment   string
	Polymarket  []PredictionEvent
	Meta        Meta
}

// FundamentalsProvider fetches the market-dependent fundamentals leg.
type FundamentalsProvider interface {
	GetFundamentals(ctx context.Context, market, symbol string) (Fundamentals, error)
}

// CompanyProvider fetches the equity company-profile leg; crypto/forex
// markets simply have no implementation wired and this phase is skipped.
type CompanyProvider interface {
	GetCompanyProfile(ctx context.Context, symbol string) (CompanyProfile, error)
}

// MacroProvider fetches the four-way macro composite.
type MacroProvider interface {
	GetMacro(ctx context.Context) (MacroSnapshot, error)
}

// NewsProvider fetches and deduplicates headlines for a symbol.
type NewsProvider interface {
	GetNews(ctx context.Context, symbol string) ([]NewsItem, error)
}

// PredictionProvider searches prediction markets for keyword matches.
type PredictionProvider interface {
	Search(ctx context.Context, keywords []string) ([]PredictionEvent, error)
}

// sentimentCache is the shared "market_sentiment" cache keyed by the TTL
// cache's single key space; spec §4.4 names a 6-hour TTL.
type sentimentCache interface {
	Get(key string) (MacroSnapshot, bool)
	Set(key string, value MacroSnapshot)
}

const sentimentCacheKey = "market_sentiment"

// Collector implements collect_all (spec §4.4).
type Collector struct {
	data         *datasource.Factory
	fundamentals FundamentalsProvider
	company      CompanyProvider
	macro        MacroProvider
	news         NewsProvider
	prediction   PredictionProvider
	sentiment    sentimentCache
}

func New(data *datasource.Factory, fundamentals FundamentalsProvider, company CompanyProvider, macro MacroProvider, news NewsProvider, prediction PredictionProvider, sentiment sentimentCache) *Collector {
	return &Collector{
		data:         data,
		fundamentals: fundamentals,
		company:      company,
		macro:        macro,
		news:         news,
		prediction:   prediction,
		sentiment:    sentiment,
	}
}

const (
	phase1Timeout     = 15 * time.Second
	phase1SubTimeout  = 3 * time.Second
	phase3Timeout     = 10 * time.Second
	phase4Timeout     = 8 * time.Second
	klineLimit        = 100
)

// CollectAll never returns an error for a single failed leg: every failure
// is recorded under Meta.FailedItems and the record is returned with
// whatever succeeded. It returns a hard error only when the record would
// fail the "price present" invariant (spec §3).
func (c *Collector) CollectAll(ctx context.Context, market datasource.Market, symbol, timeframe string, includeMacro, includeNews, includePolymarket bool, timeout time.Duration) (*Record, error) {
	start := time.Now()
	rec := &Record{Market: string(market), Symbol: symbol, Timeframe: timeframe}
	var meta Meta
	var metaMu sync.Mutex
	record := func(name string, err error) {
		metaMu.Lock()
		defer metaMu.Unlock()
		if err != nil {
			meta.FailedItems = append(meta.FailedItems, name)
		} else {
			meta.SuccessItems = append(meta.SuccessItems, name)
		}
	}

	overallCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		overallCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.phase1(overallCtx, market, symbol, timeframe, rec, record)
	rec.Indicators = indicator.Compute(rec.Kline)

	if rec.Price == 0 && len(rec.Kline) > 0 {
		rec.Price = rec.Kline[len(rec.Kline)-1].Close
	}

	var wg sync.WaitGroup
	if includeMacro {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.phase3(overallCtx, rec, record)
		}()
	}
	if includeNews {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.phase4(overallCtx, symbol, rec, record)
		}()
	}
	wg.Wait()

	if includePolymarket {
		c.phase5(overallCtx, symbol, rec, record)
	}

	meta.DurationMS = time.Since(start).Milliseconds()
	rec.Meta = meta
	rec.CollectedAt = time.Now()

	if rec.Price == 0 {
		return rec, venue.NewError(venue.KindPriceUnavailable, "", symbol, "no price or recoverable kline close available", "")
	}
	return rec, nil
}

// phase1 fans out price/kline/fundamentals/company within a 15s budget,
// each future individually bounded to 3s, per spec §4.4. A join barrier
// (the errgroup.Wait) gates indicator computation and everything after.
func (c *Collector) phase1(ctx context.Context, market datasource.Market, symbol, timeframe string, rec *Record, record func(string, error)) {
	ctx, cancel := context.WithTimeout(ctx, phase1Timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sub, cancel := context.WithTimeout(gctx, phase1SubTimeout)
		defer cancel()
		ticker, err := c.fetchTicker(sub, market, symbol)
		record("price", err)
		if err == nil {
			rec.Price = ticker
		}
		return nil
	})

	g.Go(func() error {
		sub, cancel := context.WithTimeout(gctx, phase1SubTimeout)
		defer cancel()
		bars, err := c.fetchKline(sub, market, symbol, timeframe)
		record("kline", err)
		if err == nil {
			rec.Kline = bars
		}
		return nil
	})

	if c.fundamentals != nil {
		g.Go(func() error {
			sub, cancel := context.WithTimeout(gctx, phase1SubTimeout)
			defer cancel()
			f, err := c.fundamentals.GetFundamentals(sub, string(market), symbol)
			record("fundamentals", err)
			if err == nil {
				rec.Fundamental = f
			}
			return nil
		})
	}

	if c.company != nil && market == datasource.MarketEquity {
		g.Go(func() error {
			sub, cancel := context.WithTimeout(gctx, phase1SubTimeout)
			defer cancel()
			p, err := c.company.GetCompanyProfile(sub, symbol)
			record("company", err)
			if err == nil {
				rec.Company = p
			}
			return nil
		})
	}

	_ = g.Wait() // every leg swallows its own error into record(); g never returns one
}

func (c *Collector) fetchTicker(ctx context.Context, market datasource.Market, symbol string) (float64, error) {
	type result struct {
		price float64
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := c.data.GetTicker(market, "", symbol)
		ch <- result{t.Last, err}
	}()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		return r.price, r.err
	}
}

func (c *Collector) fetchKline(ctx context.Context, market datasource.Market, symbol, timeframe string) ([]venue.Bar, error) {
	type result struct {
		bars []venue.Bar
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		bars, err := c.data.GetKline(market, "", symbol, timeframe, klineLimit, nil)
		ch <- result{bars, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.bars, r.err
	}
}

// phase3 fetches the macro composite, checking the shared 6-hour
// "market_sentiment" cache before any network call.
func (c *Collector) phase3(ctx context.Context, rec *Record, record func(string, error)) {
	ctx, cancel := context.WithTimeout(ctx, phase3Timeout)
	defer cancel()

	if c.sentiment != nil {
		if cached, ok := c.sentiment.Get(sentimentCacheKey); ok {
			rec.Macro = cached
			record("macro", nil)
			return
		}
	}

	if c.macro == nil {
		record("macro", venue.NewError(venue.KindUnsupportedOp, "", "", "no macro provider configured", ""))
		return
	}

	m, err := c.macro.GetMacro(ctx)
	record("macro", err)
	if err != nil {
		return
	}
	rec.Macro = m
	if c.sentiment != nil {
		c.sentiment.Set(sentimentCacheKey, m)
	}
}

// phase4 fetches news for the symbol from the configured news provider,
// deduplicating by title with newest-first ordering, capped at 15. No
// separate global-events query is issued.
func (c *Collector) phase4(ctx context.Context, symbol string, rec *Record, record func(string, error)) {
	ctx, cancel := context.WithTimeout(ctx, phase4Timeout)
	defer cancel()

	if c.news == nil {
		record("news", venue.NewError(venue.KindUnsupportedOp, "", "", "no news provider configured", ""))
		return
	}

	items, err := c.news.GetNews(ctx, symbol)
	record("news", err)
	if err != nil {
		return
	}
	rec.News = dedupeAndCapNews(items, 15)
}

func dedupeAndCapNews(items []NewsItem, max int) []NewsItem {
	seen := make(map[string]bool, len(items))
	out := make([]NewsItem, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it.Title))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// phase5 is best-effort: its errors are recorded but never block the
// record from being returned, and it runs with no overall sub-timeout of
// its own beyond the outer collection deadline.
func (c *Collector) phase5(ctx context.Context, symbol string, rec *Record, record func(string, error)) {
	if c.prediction == nil {
		record("polymarket", venue.NewError(venue.KindUnsupportedOp, "", "", "no prediction provider configured", ""))
		return
	}
	keywords := predictionKeywords(symbol)
	events, err := c.prediction.Search(ctx, keywords)
	record("polymarket", err)
	if err != nil {
		return
	}
	rec.Polymarket = events
}

// knownCryptoNames maps the most common tickers to their full names, since
// prediction-market questions are usually phrased in prose ("will Bitcoin
// reach...") rather than by ticker.
var knownCryptoNames = map[string]string{
	"BTC": "Bitcoin",
	"ETH": "Ethereum",
	"SOL": "Solana",
	"XRP": "Ripple",
	"DOGE": "Dogecoin",
}

func predictionKeywords(symbol string) []string {
	base := strings.ToUpper(symbol)
	for _, suffix := range []string{"USDT", "USD", "USDC", "BUSD"} {
		base = strings.TrimSuffix(base, suffix)
	}
	keywords := []string{base}
	if name, ok := knownCryptoNames[base]; ok {
		keywords = append(keywords, name)
	}
	return keywords
}
