// Package bitget implements the venue.Trader contract against Bitget USDT
// perpetual futures, grounded on trader/bitget_trader.go in the teacher
// repo: ACCESS-* HMAC-SHA256/base64 signed REST calls against the
// mix/v1 contract API, with the same sign(timestamp+method+path+body)
// construction as the teacher's OKX client.
package bitget

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"quantcore/internal/cache"
	"quantcore/internal/venue"
	"quantcore/internal/venue/precision"
)

const baseURL = "https://api.bitget.com"

type Client struct {
	apiKey, secretKey, passphrase string
	httpClient                    *http.Client
	stepCache                     *cache.TTL[string, precision.Step]
}

func New(apiKey, secretKey, passphrase string) *Client {
	return &Client{
		apiKey: apiKey, secretKey: secretKey, passphrase: passphrase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stepCache:  cache.NewTTL[string, precision.Step](300 * time.Second),
	}
}

func (c *Client) ID() string { return "bitget" }

func (c *Client) Ping() error {
	_, err := c.doRequest("GET", "/api/mix/v1/market/contracts", map[string]interface{}{"productType": "umcbl"})
	return err
}

type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) doRequest(method, path string, body interface{}) ([]byte, error) {
	var bodyBytes []byte
	reqPath := path
	if body != nil {
		if method == "GET" {
			if params, ok := body.(map[string]interface{}); ok && len(params) > 0 {
				reqPath = path + "?" + encodeQuery(params)
			}
		} else {
			var err error
			bodyBytes, err = json.Marshal(body)
			if err != nil {
				return nil, err
			}
		}
	}

	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	signBody := ""
	if method != "GET" {
		signBody = string(bodyBytes)
	}
	sig := c.sign(ts, method, reqPath, signBody)

	req, err := http.NewRequest(method, baseURL+reqPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("ACCESS-KEY", c.apiKey)
	req.Header.Set("ACCESS-SIGN", sig)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bitget", "", err.Error(), "")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bitget", "", err.Error(), "")
	}
	var env bitgetEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bitget", "", "malformed response: "+err.Error(), string(raw))
	}
	if env.Code != "00000" {
		return nil, venue.NewError(venue.KindVenueBusinessError, "bitget", "", env.Msg, string(raw))
	}
	return env.Data, nil
}

func encodeQuery(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, "&")
}

func wire(sym string) string { return strings.ToUpper(sym) + "_UMCBL" }

func (c *Client) GetBalance() (venue.Balance, error) {
	data, err := c.doRequest("GET", "/api/mix/v1/account/accounts", map[string]interface{}{"productType": "umcbl"})
	if err != nil {
		return venue.Balance{}, err
	}
	var accounts []struct {
		MarginCoin    string `json:"marginCoin"`
		Available     string `json:"available"`
		AccountEquity string `json:"accountEquity"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return venue.Balance{}, venue.NewError(venue.KindVenueHTTPError, "bitget", "", err.Error(), "")
	}
	for _, a := range accounts {
		if a.MarginCoin == "USDT" {
			avail, _ := strconv.ParseFloat(a.Available, 64)
			eq, _ := strconv.ParseFloat(a.AccountEquity, 64)
			return venue.Balance{Available: avail, Total: eq, Currency: "USDT"}, nil
		}
	}
	return venue.Balance{Currency: "USDT"}, nil
}

func (c *Client) GetPositions() ([]venue.Position, error) {
	data, err := c.doRequest("GET", "/api/mix/v1/position/allPosition", map[string]interface{}{"productType": "umcbl"})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		HoldSide         string `json:"holdSide"`
		Total            string `json:"total"`
		AverageOpenPrice string `json:"averageOpenPrice"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		Leverage         string `json:"leverage"`
		UnrealizedPL     string `json:"unrealizedPL"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bitget", "", err.Error(), "")
	}
	out := make([]venue.Position, 0, len(raw))
	for _, p := range raw {
		qty, _ := strconv.ParseFloat(p.Total, 64)
		if qty == 0 {
			continue
		}
		side := "long"
		if strings.EqualFold(p.HoldSide, "short") {
			side = "short"
		}
		entry, _ := strconv.ParseFloat(p.AverageOpenPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		liq, _ := strconv.ParseFloat(p.LiquidationPrice, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealizedPL, 64)
		out = append(out, venue.Position{
			Symbol: strings.TrimSuffix(p.Symbol, "_UMCBL"), Side: side, Quantity: qty,
			EntryPrice: entry, MarkPrice: mark, LiquidationPrice: liq,
			Leverage: int(lev), UnrealizedPnL: upnl,
		})
	}
	return out, nil
}

func (c *Client) stepFor(sym string) (precision.Step, error) {
	return c.stepCache.GetOrLoad(sym, func() (precision.Step, error) {
		data, err := c.doRequest("GET", "/api/mix/v1/market/contracts", map[string]interface{}{"productType": "umcbl"})
		if err != nil {
			return precision.Step{}, err
		}
		var contracts []struct {
			Symbol        string `json:"symbol"`
			VolumePlace   string `json:"volumePlace"`
			MinTradeNum   string `json:"minTradeNum"`
			SizeMultiplier string `json:"sizeMultiplier"`
		}
		if err := json.Unmarshal(data, &contracts); err != nil {
			return precision.Step{}, err
		}
		target := wire(sym)
		for _, ct := range contracts {
			if ct.Symbol != target {
				continue
			}
			vp, _ := strconv.Atoi(ct.VolumePlace)
			min, _ := strconv.ParseFloat(ct.MinTradeNum, 64)
			inc := 1.0
			for i := 0; i < vp; i++ {
				inc /= 10
			}
			return precision.Step{Increment: inc, Min: min}, nil
		}
		return precision.Step{}, fmt.Errorf("contract %s not found", target)
	})
}

func (c *Client) FormatQuantity(sym string, quantity float64) (string, error) {
	step, err := c.stepFor(sym)
	if err != nil {
		return "", venue.NewError(venue.KindSymbolNotFound, "bitget", sym, err.Error(), "")
	}
	s, err := precision.Format(quantity, step)
	if err != nil {
		return "", venue.NewError(venue.KindInvalidQuantity, "bitget", sym, err.Error(), "")
	}
	return s, nil
}

func (c *Client) FormatPrice(sym string, price float64) (string, error) {
	return strconv.FormatFloat(price, 'f', 4, 64), nil
}

func (c *Client) placeOrder(sym, side, orderType, size, price string, reduceOnly bool) (*venue.LiveOrderResult, error) {
	body := map[string]interface{}{
		"symbol": wire(sym), "marginCoin": "USDT", "size": size,
		"side": side, "orderType": orderType, "clientOid": newClientOID(),
	}
	if price != "" {
		body["price"] = price
	}
	if reduceOnly {
		body["reduceOnly"] = "true"
	}
	data, err := c.doRequest("POST", "/api/mix/v1/order/placeOrder", body)
	if err != nil {
		return nil, err
	}
	var result struct {
		OrderId string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bitget", sym, err.Error(), string(data))
	}
	return &venue.LiveOrderResult{ExchangeID: "bitget", ExchangeOrderID: result.OrderId, Status: "submitted"}, nil
}

// toOrderSide maps buy/sell + reduceOnly to Bitget's open_long / open_short
// / close_long / close_short vocabulary (one-way hedge mode).
func toOrderSide(side string, reduceOnly bool) (string, error) {
	switch {
	case strings.EqualFold(side, "buy") && !reduceOnly:
		return "open_long", nil
	case strings.EqualFold(side, "sell") && !reduceOnly:
		return "open_short", nil
	case strings.EqualFold(side, "sell") && reduceOnly:
		return "close_long", nil
	case strings.EqualFold(side, "buy") && reduceOnly:
		return "close_short", nil
	default:
		return "", venue.NewError(venue.KindInvalidSide, "bitget", "", fmt.Sprintf("side %q is not buy/sell", side), "")
	}
}

func (c *Client) PlaceMarketOrder(sym, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	sd, err := toOrderSide(side, reduceOnly)
	if err != nil {
		return nil, err
	}
	sz, err := c.FormatQuantity(sym, quantity)
	if err != nil {
		return nil, err
	}
	return c.placeOrder(sym, sd, "market", sz, "", reduceOnly)
}

func (c *Client) PlaceLimitOrder(sym, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	sd, err := toOrderSide(side, reduceOnly)
	if err != nil {
		return nil, err
	}
	sz, err := c.FormatQuantity(sym, quantity)
	if err != nil {
		return nil, err
	}
	px, err := c.FormatPrice(sym, price)
	if err != nil {
		return nil, err
	}
	return c.placeOrder(sym, sd, "limit", sz, px, reduceOnly)
}

func (c *Client) CancelOrder(sym, orderID string) error {
	_, err := c.doRequest("POST", "/api/mix/v1/order/cancel-order", map[string]interface{}{
		"symbol": wire(sym), "marginCoin": "USDT", "orderId": orderID,
	})
	return err
}

func (c *Client) CancelAllOrders(sym string) error {
	_, err := c.doRequest("POST", "/api/mix/v1/order/cancel-all-orders", map[string]interface{}{
		"symbol": wire(sym), "marginCoin": "USDT", "productType": "umcbl",
	})
	return err
}

func (c *Client) GetOrder(sym, orderID string) (*venue.LiveOrderResult, error) {
	data, err := c.doRequest("GET", "/api/mix/v1/order/detail", map[string]interface{}{
		"symbol": wire(sym), "orderId": orderID,
	})
	if err != nil {
		return nil, err
	}
	var o struct {
		OrderId    string `json:"orderId"`
		State      string `json:"state"`
		FilledQty  string `json:"filledQty"`
		PriceAvg   string `json:"priceAvg"`
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, venue.NewError(venue.KindOrderNotFound, "bitget", sym, "order "+orderID+" not found", "")
	}
	filled, _ := strconv.ParseFloat(o.FilledQty, 64)
	avg, _ := strconv.ParseFloat(o.PriceAvg, 64)
	return &venue.LiveOrderResult{ExchangeID: "bitget", ExchangeOrderID: o.OrderId, Filled: filled, AvgPrice: avg, Status: o.State}, nil
}

func (c *Client) WaitForFill(sym, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	deadline := time.Now().Add(maxWait)
	for {
		res, err := c.GetOrder(sym, orderID)
		if err != nil {
			return nil, err
		}
		if res.Status == "full_fill" || res.Status == "canceled" {
			return res, nil
		}
		if time.Now().After(deadline) {
			return res, nil
		}
		time.Sleep(pollInterval)
	}
}

func (c *Client) SetLeverage(sym string, leverage int) error {
	_, err := c.doRequest("POST", "/api/mix/v1/account/setLeverage", map[string]interface{}{
		"symbol": wire(sym), "marginCoin": "USDT", "leverage": strconv.Itoa(leverage),
	})
	return err
}

func (c *Client) GetMarketPrice(sym string) (float64, error) {
	data, err := c.doRequest("GET", "/api/mix/v1/market/ticker", map[string]interface{}{"symbol": wire(sym)})
	if err != nil {
		return 0, err
	}
	var t struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return 0, venue.NewError(venue.KindSymbolNotFound, "bitget", sym, "ticker not found", "")
	}
	price, _ := strconv.ParseFloat(t.Last, 64)
	return price, nil
}

func (c *Client) GetOpenOrders(sym string) ([]venue.OpenOrder, error) {
	data, err := c.doRequest("GET", "/api/mix/v1/order/current", map[string]interface{}{"symbol": wire(sym)})
	if err != nil {
		return nil, err
	}
	var orders []struct {
		OrderId   string `json:"orderId"`
		Side      string `json:"side"`
		OrderType string `json:"orderType"`
		Price     string `json:"price"`
		Size      string `json:"size"`
		State     string `json:"state"`
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bitget", sym, err.Error(), "")
	}
	out := make([]venue.OpenOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.Size, 64)
		out = append(out, venue.OpenOrder{
			OrderID: o.OrderId, Symbol: sym, Side: o.Side, Type: o.OrderType,
			Price: price, Quantity: qty, Status: o.State,
		})
	}
	return out, nil
}

// GetKline fetches public candle data from the mix/v1 market API.
func (c *Client) GetKline(sym, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	params := map[string]interface{}{
		"symbol": wire(sym), "granularity": bitgetGranularity(interval), "limit": limit,
	}
	if endTime > 0 {
		params["endTime"] = endTime * 1000
	}
	data, err := c.doRequest("GET", "/api/mix/v1/market/candles", params)
	if err != nil {
		return nil, err
	}
	var rows [][]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bitget", sym, err.Error(), string(data))
	}
	out := make([]venue.Bar, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		ts := int64(toFloat(r[0])) / 1000
		out = append(out, venue.Bar{
			Time: ts, Open: toFloat(r[1]), High: toFloat(r[2]), Low: toFloat(r[3]),
			Close: toFloat(r[4]), Volume: toFloat(r[5]),
		})
	}
	return out, nil
}

func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func bitgetGranularity(tf string) string {
	switch strings.ToLower(tf) {
	case "1m":
		return "60"
	case "5m":
		return "300"
	case "15m":
		return "900"
	case "30m":
		return "1800"
	case "1h":
		return "3600"
	case "4h":
		return "14400"
	case "1d":
		return "86400"
	case "1w":
		return "604800"
	default:
		return tf
	}
}

func newClientOID() string {
	ts := time.Now().Unix() % 1000000
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("q%06d%s", ts, hex.EncodeToString(b))
}
