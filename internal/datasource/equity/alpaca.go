// Package equity serves the non-crypto leg of the data-source factory
// (spec §4.3): US equities via Alpaca, forex/metals via Twelve Data,
// grounded on provider/alpaca and provider/twelvedata in the teacher repo.
package equity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"quantcore/internal/venue"
)

const alpacaDataURL = "https://data.alpaca.markets/v2"

// AlpacaClient fetches US-equity bars, grounded on provider/alpaca/kline.go.
type AlpacaClient struct {
	apiKey, secretKey string
	client            *http.Client
}

func NewAlpacaClient(apiKey, secretKey string) *AlpacaClient {
	return &AlpacaClient{apiKey: apiKey, secretKey: secretKey, client: &http.Client{Timeout: 30 * time.Second}}
}

type alpacaBar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type alpacaBarsResponse struct {
	Bars []alpacaBar `json:"bars"`
}

// GetBars fetches historical bars for a US-equity symbol. timeframe uses
// Alpaca's vocabulary (1Min, 5Min, 15Min, 1Hour, 1Day, ...).
func (c *AlpacaClient) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]venue.Bar, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return nil, venue.NewError(venue.KindMissingCredential, "alpaca", symbol, "alpaca API keys not configured", "")
	}

	endpoint := fmt.Sprintf("%s/stocks/%s/bars", alpacaDataURL, symbol)
	params := url.Values{}
	params.Set("timeframe", alpacaTimeframe(timeframe))
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("adjustment", "raw")
	params.Set("feed", "iex")

	now := time.Now()
	var start time.Time
	switch timeframe {
	case "1d", "1w", "1mo":
		start = now.AddDate(-2, 0, 0)
	default:
		start = now.AddDate(0, 0, -30)
	}
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", now.Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "alpaca", symbol, err.Error(), "")
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "alpaca", symbol, err.Error(), "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "alpaca", symbol, err.Error(), "")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, venue.NewError(venue.KindVenueHTTPError, "alpaca", symbol, fmt.Sprintf("status %d", resp.StatusCode), string(body))
	}

	var parsed alpacaBarsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "alpaca", symbol, "malformed response: "+err.Error(), string(body))
	}
	out := make([]venue.Bar, 0, len(parsed.Bars))
	for _, b := range parsed.Bars {
		out = append(out, venue.Bar{
			Time: b.Timestamp.Unix(), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		})
	}
	return out, nil
}

// GetQuote returns the latest trade price for an equity symbol.
func (c *AlpacaClient) GetQuote(ctx context.Context, symbol string) (float64, error) {
	bars, err := c.GetBars(ctx, symbol, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, venue.NewError(venue.KindSymbolNotFound, "alpaca", symbol, "no recent bar", "")
	}
	return bars[len(bars)-1].Close, nil
}

func alpacaTimeframe(tf string) string {
	switch tf {
	case "1m":
		return "1Min"
	case "5m":
		return "5Min"
	case "15m":
		return "15Min"
	case "30m":
		return "30Min"
	case "1h":
		return "1Hour"
	case "4h":
		return "4Hour"
	case "1d":
		return "1Day"
	case "1w":
		return "1Week"
	default:
		return tf
	}
}
