package equity

import (
	"context"

	"quantcore/internal/venue"
)

// Provider routes the non-crypto leg of the data-source factory: US
// equities to Alpaca, forex/metals to Twelve Data.
type Provider struct {
	alpaca     *AlpacaClient
	twelveData *TwelveDataClient
}

func NewProvider(alpacaKey, alpacaSecret, twelveDataKey string) *Provider {
	return &Provider{
		alpaca:     NewAlpacaClient(alpacaKey, alpacaSecret),
		twelveData: NewTwelveDataClient(twelveDataKey),
	}
}

func (p *Provider) GetKline(forex, metal bool, symbol, timeframe string, limit int) ([]venue.Bar, error) {
	if forex || metal {
		return p.twelveData.GetTimeSeries(context.Background(), symbol, timeframe, limit)
	}
	return p.alpaca.GetBars(context.Background(), symbol, timeframe, limit)
}

func (p *Provider) GetTicker(forex, metal bool, symbol string) (float64, error) {
	if forex || metal {
		return p.twelveData.GetQuote(context.Background(), symbol)
	}
	return p.alpaca.GetQuote(context.Background(), symbol)
}
