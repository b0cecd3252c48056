package equity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/venue"
)

const twelveDataBaseURL = "https://api.twelvedata.com"

// TwelveDataClient fetches forex/metal bars, grounded on
// provider/twelvedata/kline.go.
type TwelveDataClient struct {
	apiKey string
	client *http.Client
}

func NewTwelveDataClient(apiKey string) *TwelveDataClient {
	return &TwelveDataClient{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

type twelveDataBar struct {
	Datetime string `json:"datetime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume,omitempty"`
}

type twelveDataTimeSeries struct {
	Values  []twelveDataBar `json:"values"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
}

// GetTimeSeries fetches historical bars for a forex pair or metal spot
// symbol (e.g. "EUR/USD", "XAU/USD").
func (c *TwelveDataClient) GetTimeSeries(ctx context.Context, symbol, interval string, limit int) ([]venue.Bar, error) {
	if c.apiKey == "" {
		return nil, venue.NewError(venue.KindMissingCredential, "twelvedata", symbol, "twelve data API key not configured", "")
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", twelveDataInterval(interval))
	params.Set("outputsize", fmt.Sprintf("%d", limit))
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", twelveDataBaseURL+"/time_series?"+params.Encode(), nil)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "twelvedata", symbol, err.Error(), "")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "twelvedata", symbol, err.Error(), "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "twelvedata", symbol, err.Error(), "")
	}

	var parsed twelveDataTimeSeries
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "twelvedata", symbol, "malformed response: "+err.Error(), string(body))
	}
	if parsed.Status == "error" {
		return nil, venue.NewError(venue.KindVenueBusinessError, "twelvedata", symbol, parsed.Message, string(body))
	}

	out := make([]venue.Bar, 0, len(parsed.Values))
	for i := len(parsed.Values) - 1; i >= 0; i-- {
		v := parsed.Values[i]
		ts := parseTwelveDataTime(v.Datetime)
		open, _ := strconv.ParseFloat(v.Open, 64)
		high, _ := strconv.ParseFloat(v.High, 64)
		low, _ := strconv.ParseFloat(v.Low, 64)
		cls, _ := strconv.ParseFloat(v.Close, 64)
		vol, _ := strconv.ParseFloat(v.Volume, 64)
		out = append(out, venue.Bar{Time: ts, Open: open, High: high, Low: low, Close: cls, Volume: vol})
	}
	return out, nil
}

// GetQuote returns the latest close for a forex/metal symbol.
func (c *TwelveDataClient) GetQuote(ctx context.Context, symbol string) (float64, error) {
	bars, err := c.GetTimeSeries(ctx, symbol, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, venue.NewError(venue.KindSymbolNotFound, "twelvedata", symbol, "no recent bar", "")
	}
	return bars[len(bars)-1].Close, nil
}

func parseTwelveDataTime(s string) int64 {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func twelveDataInterval(tf string) string {
	switch strings.ToLower(tf) {
	case "1m":
		return "1min"
	case "5m":
		return "5min"
	case "15m":
		return "15min"
	case "30m":
		return "30min"
	case "1h":
		return "1h"
	case "4h":
		return "4h"
	case "1d":
		return "1day"
	case "1w":
		return "1week"
	default:
		return tf
	}
}
