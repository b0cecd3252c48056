// Package polymarket fetches event markets from Polymarket's public
// Gamma REST API, backing the prediction-market endpoints (spec.md §6
// "GET /polymarket/markets..."). No Polymarket SDK exists anywhere in
// the example pack, so this is grounded on
// internal/datasource/equity's AlpacaClient net/http+json REST-client
// shape (itself grounded on provider/alpaca/kline.go) applied to a new
// upstream.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quantcore/internal/prediction"
)

const gammaBaseURL = "https://gamma-api.polymarket.com"

// Client fetches Polymarket events over the public Gamma API.
type Client struct {
	client *http.Client
}

func NewClient() *Client {
	return &Client{client: &http.Client{Timeout: 15 * time.Second}}
}

type gammaEvent struct {
	ID         string        `json:"id"`
	Slug       string        `json:"slug"`
	Title      string        `json:"title"`
	Category   string        `json:"category"`
	Volume24hr float64       `json:"volume24hr"`
	Liquidity  float64       `json:"liquidity"`
	Active     bool          `json:"active"`
	Closed     bool          `json:"closed"`
	EndDate    string        `json:"endDate"`
	Markets    []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	OutcomePrices string `json:"outcomePrices"` // JSON-encoded array of string prices, e.g. "[\"0.4\",\"0.6\"]"
	Outcomes      string `json:"outcomes"`       // JSON-encoded array of outcome names
}

func (e gammaEvent) toEvent() prediction.Event {
	status := "open"
	if e.Closed {
		status = "closed"
	} else if !e.Active {
		status = "inactive"
	}
	ev := prediction.Event{
		MarketID:  e.ID,
		Question:  e.Title,
		Category:  e.Category,
		Volume24h: e.Volume24hr,
		Liquidity: e.Liquidity,
		Status:    status,
		Slug:      e.Slug,
	}
	if t, err := time.Parse(time.RFC3339, e.EndDate); err == nil {
		ev.EndDate = t
	}
	ev.OutcomeTokens, ev.CurrentProbability = parseOutcomes(e.Markets)
	return ev
}

func parseOutcomes(markets []gammaMarket) (map[string]prediction.OutcomeToken, float64) {
	tokens := map[string]prediction.OutcomeToken{}
	if len(markets) == 0 {
		return tokens, 0
	}
	var names, prices []string
	_ = json.Unmarshal([]byte(markets[0].Outcomes), &names)
	_ = json.Unmarshal([]byte(markets[0].OutcomePrices), &prices)

	yesProbability := 0.0
	for i, name := range names {
		if i >= len(prices) {
			break
		}
		price, err := strconv.ParseFloat(prices[i], 64)
		if err != nil {
			continue
		}
		tokens[name] = prediction.OutcomeToken{Price: price}
		if name == "Yes" {
			yesProbability = price
		}
	}
	return tokens, yesProbability
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := gammaBaseURL + path
	if params != nil {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		return nil, fmt.Errorf("polymarket: upstream returned %d: %s", resp.StatusCode, snippet)
	}
	return body, nil
}

// ListMarkets returns active events, optionally filtered by category.
func (c *Client) ListMarkets(ctx context.Context, category string, limit int) ([]prediction.Event, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("limit", strconv.Itoa(limit))
	if category != "" {
		params.Set("tag", category)
	}
	body, err := c.get(ctx, "/events", params)
	if err != nil {
		return nil, err
	}
	var raw []gammaEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket: decoding events: %w", err)
	}
	out := make([]prediction.Event, len(raw))
	for i, e := range raw {
		out[i] = e.toEvent()
	}
	return out, nil
}

// GetMarket fetches one event by id.
func (c *Client) GetMarket(ctx context.Context, id string) (prediction.Event, error) {
	body, err := c.get(ctx, "/events/"+url.PathEscape(id), nil)
	if err != nil {
		return prediction.Event{}, err
	}
	var raw gammaEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return prediction.Event{}, fmt.Errorf("polymarket: decoding event: %w", err)
	}
	return raw.toEvent(), nil
}

// SearchMarkets searches events by free-text query.
func (c *Client) SearchMarkets(ctx context.Context, q string, limit int) ([]prediction.Event, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(limit))
	body, err := c.get(ctx, "/public-search", params)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Events []gammaEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket: decoding search results: %w", err)
	}
	out := make([]prediction.Event, len(raw.Events))
	for i, e := range raw.Events {
		out[i] = e.toEvent()
	}
	return out, nil
}
