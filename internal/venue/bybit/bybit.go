// Package bybit implements the venue.Trader contract against Bybit's
// unified-account linear perpetuals, grounded on trader/bybit_trader.go in
// the teacher repo (NewUtaBybitServiceWithParams map-based param style,
// RetCode/RetMsg envelope checking, qtyStep precision fetch).
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"quantcore/internal/cache"
	"quantcore/internal/venue"
	"quantcore/internal/venue/precision"
)

const category = "linear"

type Client struct {
	client    *bybit.Client
	stepCache *cache.TTL[string, precision.Step]
}

func New(apiKey, secretKey string) *Client {
	return &Client{
		client:    bybit.NewBybitHttpClient(apiKey, secretKey, bybit.WithBaseURL(bybit.MAINNET)),
		stepCache: cache.NewTTL[string, precision.Step](300 * time.Second),
	}
}

func (c *Client) ID() string { return "bybit" }

func (c *Client) Ping() error {
	_, err := c.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": category, "symbol": "BTCUSDT",
	}).GetMarketTickers(context.Background())
	return err
}

func (c *Client) call(method string, params map[string]interface{}) (*bybit.ServerResponse, error) {
	svc := c.client.NewUtaBybitServiceWithParams(params)
	var result *bybit.ServerResponse
	var err error
	switch method {
	case "GetAccountWallet":
		result, err = svc.GetAccountWallet(context.Background())
	case "GetPositionList":
		result, err = svc.GetPositionList(context.Background())
	case "PlaceOrder":
		result, err = svc.PlaceOrder(context.Background())
	case "SetPositionLeverage":
		result, err = svc.SetPositionLeverage(context.Background())
	case "GetMarketTickers":
		result, err = svc.GetMarketTickers(context.Background())
	case "CancelAllOrders":
		result, err = svc.CancelAllOrders(context.Background())
	case "GetOpenOrders":
		result, err = svc.GetOpenOrders(context.Background())
	case "CancelOrder":
		result, err = svc.CancelOrder(context.Background())
	case "GetOrderHistory":
		result, err = svc.GetOrderHistory(context.Background())
	default:
		return nil, fmt.Errorf("bybit: unknown method %s", method)
	}
	if err != nil {
		return nil, wrapHTTP(params["symbol"], err)
	}
	if result.RetCode != 0 {
		return result, venue.NewError(venue.KindVenueBusinessError, "bybit", fmt.Sprint(params["symbol"]), result.RetMsg, result.RetMsg)
	}
	return result, nil
}

func (c *Client) GetBalance() (venue.Balance, error) {
	res, err := c.call("GetAccountWallet", map[string]interface{}{"accountType": "UNIFIED"})
	if err != nil {
		return venue.Balance{}, err
	}
	data, _ := res.Result.(map[string]interface{})
	list, _ := data["list"].([]interface{})
	var avail, total float64
	if len(list) > 0 {
		acc, _ := list[0].(map[string]interface{})
		if s, ok := acc["totalAvailableBalance"].(string); ok {
			avail, _ = strconv.ParseFloat(s, 64)
		}
		if s, ok := acc["totalEquity"].(string); ok {
			total, _ = strconv.ParseFloat(s, 64)
		}
	}
	return venue.Balance{Available: avail, Total: total, Currency: "USDT"}, nil
}

func (c *Client) GetPositions() ([]venue.Position, error) {
	res, err := c.call("GetPositionList", map[string]interface{}{"category": category, "settleCoin": "USDT"})
	if err != nil {
		return nil, err
	}
	data, _ := res.Result.(map[string]interface{})
	list, _ := data["list"].([]interface{})
	out := make([]venue.Position, 0, len(list))
	for _, item := range list {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sizeStr, _ := p["size"].(string)
		size, _ := strconv.ParseFloat(sizeStr, 64)
		if size == 0 {
			continue
		}
		side := "long"
		if s, _ := p["side"].(string); strings.EqualFold(s, "sell") {
			side = "short"
		}
		entry, _ := strconv.ParseFloat(fmt.Sprint(p["avgPrice"]), 64)
		mark, _ := strconv.ParseFloat(fmt.Sprint(p["markPrice"]), 64)
		liq, _ := strconv.ParseFloat(fmt.Sprint(p["liqPrice"]), 64)
		lev, _ := strconv.ParseFloat(fmt.Sprint(p["leverage"]), 64)
		upnl, _ := strconv.ParseFloat(fmt.Sprint(p["unrealisedPnl"]), 64)
		out = append(out, venue.Position{
			Symbol: fmt.Sprint(p["symbol"]), Side: side, Quantity: size,
			EntryPrice: entry, MarkPrice: mark, LiquidationPrice: liq,
			Leverage: int(lev), UnrealizedPnL: upnl,
		})
	}
	return out, nil
}

func (c *Client) stepFor(symbol string) (precision.Step, error) {
	return c.stepCache.GetOrLoad(symbol, func() (precision.Step, error) {
		url := fmt.Sprintf("https://api.bybit.com/v5/market/instruments-info?category=%s&symbol=%s", category, symbol)
		resp, err := http.Get(url)
		if err != nil {
			return precision.Step{}, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return precision.Step{}, err
		}
		var parsed struct {
			RetCode int `json:"retCode"`
			Result  struct {
				List []struct {
					LotSizeFilter struct {
						QtyStep string `json:"qtyStep"`
						MinQty  string `json:"minOrderQty"`
					} `json:"lotSizeFilter"`
					PriceFilter struct {
						TickSize string `json:"tickSize"`
					} `json:"priceFilter"`
				} `json:"list"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return precision.Step{}, err
		}
		if parsed.RetCode != 0 || len(parsed.Result.List) == 0 {
			return precision.Step{}, fmt.Errorf("symbol %s not found", symbol)
		}
		step, _ := strconv.ParseFloat(parsed.Result.List[0].LotSizeFilter.QtyStep, 64)
		min, _ := strconv.ParseFloat(parsed.Result.List[0].LotSizeFilter.MinQty, 64)
		return precision.Step{Increment: step, Min: min}, nil
	})
}

func (c *Client) FormatQuantity(symbol string, quantity float64) (string, error) {
	step, err := c.stepFor(symbol)
	if err != nil {
		return "", venue.NewError(venue.KindSymbolNotFound, "bybit", symbol, err.Error(), "")
	}
	s, err := precision.Format(quantity, step)
	if err != nil {
		return "", venue.NewError(venue.KindInvalidQuantity, "bybit", symbol, err.Error(), "")
	}
	return s, nil
}

func (c *Client) FormatPrice(symbol string, price float64) (string, error) {
	// stepFor reads priceFilter.tickSize but does not keep it, so prices are
	// always rendered with two decimals, rounded to nearest; no tick or
	// minimum price is checked.
	return strconv.FormatFloat(price, 'f', 2, 64), nil
}

func (c *Client) PlaceMarketOrder(symbol, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	sd, err := toSide(side)
	if err != nil {
		return nil, err
	}
	qtyStr, err := c.FormatQuantity(symbol, quantity)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"category": category, "symbol": symbol, "side": sd, "orderType": "Market",
		"qty": qtyStr, "positionIdx": 0,
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}
	res, err := c.call("PlaceOrder", params)
	if err != nil {
		return nil, err
	}
	return toOrderResult(res), nil
}

func (c *Client) PlaceLimitOrder(symbol, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	sd, err := toSide(side)
	if err != nil {
		return nil, err
	}
	qtyStr, err := c.FormatQuantity(symbol, quantity)
	if err != nil {
		return nil, err
	}
	priceStr, err := c.FormatPrice(symbol, price)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{
		"category": category, "symbol": symbol, "side": sd, "orderType": "Limit",
		"qty": qtyStr, "price": priceStr, "timeInForce": "GTC", "positionIdx": 0,
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}
	res, err := c.call("PlaceOrder", params)
	if err != nil {
		return nil, err
	}
	return toOrderResult(res), nil
}

func (c *Client) CancelOrder(symbol, orderID string) error {
	_, err := c.call("CancelOrder", map[string]interface{}{
		"category": category, "symbol": symbol, "orderId": orderID,
	})
	return err
}

func (c *Client) CancelAllOrders(symbol string) error {
	_, err := c.call("CancelAllOrders", map[string]interface{}{"category": category, "symbol": symbol})
	return err
}

func (c *Client) GetOrder(symbol, orderID string) (*venue.LiveOrderResult, error) {
	res, err := c.call("GetOrderHistory", map[string]interface{}{
		"category": category, "symbol": symbol, "orderId": orderID,
	})
	if err != nil {
		return nil, err
	}
	data, _ := res.Result.(map[string]interface{})
	list, _ := data["list"].([]interface{})
	if len(list) == 0 {
		return nil, venue.NewError(venue.KindOrderNotFound, "bybit", symbol, "order "+orderID+" not found", "")
	}
	o, _ := list[0].(map[string]interface{})
	filled, _ := strconv.ParseFloat(fmt.Sprint(o["cumExecQty"]), 64)
	avg, _ := strconv.ParseFloat(fmt.Sprint(o["avgPrice"]), 64)
	return &venue.LiveOrderResult{
		ExchangeID: "bybit", ExchangeOrderID: orderID, Filled: filled, AvgPrice: avg,
		Status: fmt.Sprint(o["orderStatus"]),
	}, nil
}

func (c *Client) WaitForFill(symbol, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	deadline := time.Now().Add(maxWait)
	for {
		res, err := c.GetOrder(symbol, orderID)
		if err != nil {
			return nil, err
		}
		switch res.Status {
		case "Filled", "Cancelled", "Rejected":
			return res, nil
		}
		if time.Now().After(deadline) {
			return res, nil
		}
		time.Sleep(pollInterval)
	}
}

func (c *Client) SetLeverage(symbol string, leverage int) error {
	_, err := c.call("SetPositionLeverage", map[string]interface{}{
		"category": category, "symbol": symbol,
		"buyLeverage": fmt.Sprintf("%d", leverage), "sellLeverage": fmt.Sprintf("%d", leverage),
	})
	if verr, ok := err.(*venue.Error); ok && strings.Contains(verr.Message, "not modified") {
		return nil
	}
	return err
}

func (c *Client) GetMarketPrice(symbol string) (float64, error) {
	res, err := c.call("GetMarketTickers", map[string]interface{}{"category": category, "symbol": symbol})
	if err != nil {
		return 0, err
	}
	data, _ := res.Result.(map[string]interface{})
	list, _ := data["list"].([]interface{})
	if len(list) == 0 {
		return 0, venue.NewError(venue.KindSymbolNotFound, "bybit", symbol, "ticker not found", "")
	}
	t, _ := list[0].(map[string]interface{})
	price, _ := strconv.ParseFloat(fmt.Sprint(t["lastPrice"]), 64)
	return price, nil
}

func (c *Client) GetOpenOrders(symbol string) ([]venue.OpenOrder, error) {
	res, err := c.call("GetOpenOrders", map[string]interface{}{"category": category, "symbol": symbol})
	if err != nil {
		return nil, err
	}
	data, _ := res.Result.(map[string]interface{})
	list, _ := data["list"].([]interface{})
	out := make([]venue.OpenOrder, 0, len(list))
	for _, item := range list {
		o, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		price, _ := strconv.ParseFloat(fmt.Sprint(o["price"]), 64)
		stop, _ := strconv.ParseFloat(fmt.Sprint(o["triggerPrice"]), 64)
		qty, _ := strconv.ParseFloat(fmt.Sprint(o["qty"]), 64)
		out = append(out, venue.OpenOrder{
			OrderID: fmt.Sprint(o["orderId"]), Symbol: fmt.Sprint(o["symbol"]),
			Side: fmt.Sprint(o["side"]), Type: fmt.Sprint(o["orderType"]),
			Price: price, StopPrice: stop, Quantity: qty, Status: fmt.Sprint(o["orderStatus"]),
		})
	}
	return out, nil
}

// GetKline fetches public linear-perpetual candles. Grounded on the same
// plain http.Get pattern stepFor uses against Bybit's public REST surface;
// the kline endpoint needs no signing.
func (c *Client) GetKline(symbol, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	url := fmt.Sprintf("https://api.bybit.com/v5/market/kline?category=%s&symbol=%s&interval=%s&limit=%d",
		category, symbol, bybitInterval(interval), limit)
	if endTime > 0 {
		url += fmt.Sprintf("&end=%d", endTime*1000)
	}
	resp, err := http.Get(url)
	if err != nil {
		return nil, wrapHTTP(symbol, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapHTTP(symbol, err)
	}
	var parsed struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "bybit", symbol, err.Error(), string(body))
	}
	if parsed.RetCode != 0 {
		return nil, venue.NewError(venue.KindVenueBusinessError, "bybit", symbol, parsed.RetMsg, parsed.RetMsg)
	}
	// Bybit returns newest-first; reverse into ascending time order.
	out := make([]venue.Bar, 0, len(parsed.Result.List))
	for i := len(parsed.Result.List) - 1; i >= 0; i-- {
		row := parsed.Result.List[i]
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		cls, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		out = append(out, venue.Bar{Time: ts / 1000, Open: open, High: high, Low: low, Close: cls, Volume: vol})
	}
	return out, nil
}

// bybitInterval maps a generic timeframe ("1m","1h","1d") to Bybit's minute-
// count-or-letter interval vocabulary.
func bybitInterval(tf string) string {
	switch strings.ToLower(tf) {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	case "1w":
		return "W"
	default:
		return tf
	}
}

func toSide(side string) (string, error) {
	switch strings.ToLower(side) {
	case "buy":
		return "Buy", nil
	case "sell":
		return "Sell", nil
	default:
		return "", venue.NewError(venue.KindInvalidSide, "bybit", "", fmt.Sprintf("side %q is not buy/sell", side), "")
	}
}

func toOrderResult(res *bybit.ServerResponse) *venue.LiveOrderResult {
	data, _ := res.Result.(map[string]interface{})
	return &venue.LiveOrderResult{
		ExchangeID: "bybit", ExchangeOrderID: fmt.Sprint(data["orderId"]), Status: "submitted",
	}
}

func wrapHTTP(symbol interface{}, err error) error {
	return venue.NewError(venue.KindVenueHTTPError, "bybit", fmt.Sprint(symbol), err.Error(), err.Error())
}
