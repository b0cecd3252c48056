// Package datasource implements the data-source factory (spec §4.3): a
// single GetKline/GetTicker entry point that dispatches on market to the
// right concrete fetcher, grounded on market/api_client.go's Binance REST
// client in the teacher repo, generalized from one hardcoded venue to the
// full venue roster plus an equities/forex leg.
package datasource

import (
	"strings"

	"quantcore/internal/datasource/equity"
	"quantcore/internal/symbol"
	"quantcore/internal/venue"
)

// Market identifies which fetcher family a symbol belongs to.
type Market string

const (
	MarketCrypto Market = "crypto"
	MarketEquity Market = "equity"
	MarketForex  Market = "forex"
	MarketMetal  Market = "metal"
)

// maxBatch is the per-request bar cap crypto venues enforce; pagination
// walks multiple batches to satisfy a request larger than this.
const maxBatch = 300

// Ticker is the minimal live-price read every market exposes.
type Ticker struct {
	Last float64
}

// Factory dispatches GetKline/GetTicker calls to the venue client or
// equity provider appropriate for the requested market (spec §4.3).
type Factory struct {
	crypto        map[string]venue.KlineSource
	defaultVenue  string
	equityClient  *equity.Provider
	symbols       *symbol.Registry
}

// NewFactory builds a factory over the live venue clients (crypto) and an
// equity provider (stocks/forex/metals). defaultVenue picks which crypto
// client serves a bare symbol with no venue hint.
func NewFactory(crypto map[string]venue.KlineSource, defaultVenue string, equityClient *equity.Provider, symbols *symbol.Registry) *Factory {
	return &Factory{crypto: crypto, defaultVenue: defaultVenue, equityClient: equityClient, symbols: symbols}
}

// GetKline returns up to limit crypto bars ending at beforeTime (the latest
// bars when beforeTime is nil): a limit of at most 300 is one fetch, a
// larger limit walks batches of ≤300 bars backward. Unknown symbols fall back to scanning the
// common-quote priority list for an alternative BASE/QUOTE before failing.
func (f *Factory) GetKline(market Market, venueHint, sym, timeframe string, limit int, beforeTime *int64) ([]venue.Bar, error) {
	if market != MarketCrypto {
		return f.equityClient.GetKline(market == MarketForex, market == MarketMetal, sym, timeframe, limit)
	}

	src, err := f.cryptoSource(venueHint)
	if err != nil {
		return nil, err
	}

	resolved, err := f.resolveCryptoSymbol(src, sym)
	if err != nil {
		return nil, err
	}

	var endTime int64
	if beforeTime != nil {
		endTime = *beforeTime
	}
	if limit <= maxBatch {
		return src.GetKline(resolved, timeframe, limit, endTime)
	}
	return f.paginate(src, resolved, timeframe, limit, endTime)
}

// GetTicker returns the current last-traded price for a symbol.
func (f *Factory) GetTicker(market Market, venueHint, sym string) (Ticker, error) {
	if market != MarketCrypto {
		price, err := f.equityClient.GetTicker(market == MarketForex, market == MarketMetal, sym)
		return Ticker{Last: price}, err
	}
	name := pickVenue(f.crypto, venueHint, f.defaultVenue)
	trader, ok := f.crypto[name].(venue.Trader)
	if !ok {
		return Ticker{}, venue.NewError(venue.KindVenueHTTPError, venueHint, sym, "venue does not support ticker reads", "")
	}
	resolved, err := f.resolveCryptoSymbol(f.crypto[name], sym)
	if err != nil {
		return Ticker{}, err
	}
	price, err := trader.GetMarketPrice(resolved)
	return Ticker{Last: price}, err
}

func (f *Factory) cryptoSource(venueHint string) (venue.KlineSource, error) {
	name := pickVenue(f.crypto, venueHint, f.defaultVenue)
	src, ok := f.crypto[name]
	if !ok {
		return nil, venue.NewError(venue.KindVenueHTTPError, venueHint, "", "no crypto kline source registered for "+name, "")
	}
	return src, nil
}

func pickVenue(crypto map[string]venue.KlineSource, hint, fallback string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint != "" {
		if _, ok := crypto[hint]; ok {
			return hint
		}
	}
	return fallback
}

// resolveCryptoSymbol tries the requested symbol as-is; on a not-found
// error it bisects the canonical base and retries every common quote in
// priority order (spec §4.3 "market-wide scan for an alternative
// BASE/QUOTE combination").
func (f *Factory) resolveCryptoSymbol(src venue.KlineSource, sym string) (string, error) {
	if _, err := src.GetKline(sym, "1h", 1, 0); err == nil {
		return sym, nil
	}
	canon := symbol.Normalize(sym)
	if canon.IsZero() {
		return sym, nil
	}
	for _, quote := range []string{"USDT", "USD", "BUSD", "USDC"} {
		if quote == canon.Quote {
			continue
		}
		candidate := canon.Base + quote
		if _, err := src.GetKline(candidate, "1h", 1, 0); err == nil {
			return candidate, nil
		}
	}
	return sym, venue.NewError(venue.KindSymbolNotFound, "", sym, "no BASE/QUOTE combination found for "+sym, "")
}

// paginate walks batches of ≤maxBatch bars backward from a moving cursor,
// prepending each older batch until `limit` bars are collected or a batch
// comes back empty (spec §4.3 crypto k-line pagination).
func (f *Factory) paginate(src venue.KlineSource, sym, timeframe string, limit int, beforeTime int64) ([]venue.Bar, error) {
	var all []venue.Bar
	cursor := beforeTime

	for len(all) < limit {
		batchSize := limit - len(all)
		if batchSize > maxBatch {
			batchSize = maxBatch
		}
		batch, err := src.GetKline(sym, timeframe, batchSize, cursor)
		if err != nil {
			if len(all) > 0 {
				break
			}
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(batch, all...)
		oldest := batch[0].Time
		if cursor != 0 && oldest >= cursor {
			break
		}
		cursor = oldest - 1
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func timeframeSeconds(tf string) int64 {
	switch strings.ToLower(tf) {
	case "1m":
		return 60
	case "5m":
		return 5 * 60
	case "15m":
		return 15 * 60
	case "30m":
		return 30 * 60
	case "1h":
		return 3600
	case "4h":
		return 4 * 3600
	case "1d":
		return 24 * 3600
	case "1w":
		return 7 * 24 * 3600
	default:
		return 3600
	}
}
