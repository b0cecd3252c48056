// Package okx implements the venue.Trader contract against OKX perpetual
// swaps, grounded on trader/okx_trader.go in the teacher repo: hand-rolled
// OK-ACCESS-* HMAC-SHA256/base64 request signing, contract-size (ctVal)
// conversion between base-asset quantity and OKX's "sz" contract count, and
// dual-side position mode.
package okx

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
	"strconv"
	"strings"
	"time"

	"quantcore/internal/cache"
	"quantcore/internal/logger"
	"quantcore/internal/symbol"
	"quantcore/internal/venue"
	"quantcore/internal/venue/precision"
)

const baseURL = "https://www.okx.com"

type Client struct {
	apiKey, secretKey, passphrase string
	httpClient                    *http.Client
	symbols                       *symbol.Registry

	instCache *cache.TTL[string, instrument]
}

type instrument struct {
	InstID   string
	CtVal    float64
	MinSz    float64
	MaxMktSz float64
	LotSz    float64
	TickSz   float64
}

func New(apiKey, secretKey, passphrase string, registry *symbol.Registry) *Client {
	c := &Client{
		apiKey: apiKey, secretKey: secretKey, passphrase: passphrase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		symbols:    registry,
		instCache:  cache.NewTTL[string, instrument](5 * time.Minute),
	}
	if err := c.ensureDualSide(); err != nil {
		logger.Infof("[okx] position mode: %v", err)
	}
	return c
}

func (c *Client) ID() string { return "okx" }

func (c *Client) ensureDualSide() error {
	_, err := c.doRequest("POST", "/api/v5/account/set-position-mode", map[string]string{"posMode": "long_short_mode"})
	if err != nil && strings.Contains(err.Error(), "not modified") {
		return nil
	}
	return err
}

func (c *Client) Ping() error {
	_, err := c.doRequest("GET", "/api/v5/account/config", nil)
	return err
}

type okxEnvelope struct {
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
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	sig := c.sign(ts, method, path, string(bodyBytes))

	req, err := http.NewRequest(method, baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", sig)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "okx", "", err.Error(), "")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "okx", "", err.Error(), "")
	}
	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "okx", "", "malformed response: "+err.Error(), string(raw))
	}
	if env.Code != "0" && env.Code != "1" {
		return nil, venue.NewError(venue.KindVenueBusinessError, "okx", "", env.Msg, string(raw))
	}
	return env.Data, nil
}

func (c *Client) wire(sym string) string {
	canon := symbol.Normalize(sym)
	return c.symbols.Project(canon, symbol.VenueOKX, symbol.MarketSwap)
}

func (c *Client) GetBalance() (venue.Balance, error) {
	data, err := c.doRequest("GET", "/api/v5/account/balance", nil)
	if err != nil {
		return venue.Balance{}, err
	}
	var payload []struct {
		TotalEq string `json:"totalEq"`
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailBal  string `json:"availBal"`
			Eq        string `json:"eq"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return venue.Balance{}, venue.NewError(venue.KindVenueHTTPError, "okx", "", err.Error(), "")
	}
	if len(payload) == 0 {
		return venue.Balance{Currency: "USDT"}, nil
	}
	for _, d := range payload[0].Details {
		if d.Ccy == "USDT" {
			avail, _ := strconv.ParseFloat(d.AvailBal, 64)
			eq, _ := strconv.ParseFloat(d.Eq, 64)
			return venue.Balance{Available: avail, Total: eq, Currency: "USDT"}, nil
		}
	}
	total, _ := strconv.ParseFloat(payload[0].TotalEq, 64)
	return venue.Balance{Total: total, Currency: "USDT"}, nil
}

func (c *Client) GetPositions() ([]venue.Position, error) {
	data, err := c.doRequest("GET", "/api/v5/account/positions", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		MarkPx  string `json:"markPx"`
		LiqPx   string `json:"liqPx"`
		Lever   string `json:"lever"`
		Upl     string `json:"upl"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "okx", "", err.Error(), "")
	}
	out := make([]venue.Position, 0, len(raw))
	for _, p := range raw {
		qty, _ := strconv.ParseFloat(p.Pos, 64)
		if qty == 0 {
			continue
		}
		side := "long"
		if strings.EqualFold(p.PosSide, "short") || qty < 0 {
			side = "short"
			qty = -qty
		}
		entry, _ := strconv.ParseFloat(p.AvgPx, 64)
		mark, _ := strconv.ParseFloat(p.MarkPx, 64)
		liq, _ := strconv.ParseFloat(p.LiqPx, 64)
		lev, _ := strconv.ParseFloat(p.Lever, 64)
		upl, _ := strconv.ParseFloat(p.Upl, 64)
		canon := c.symbols.ParseWire(p.InstID, symbol.VenueOKX, symbol.MarketSwap)
		out = append(out, venue.Position{
			Symbol: canon.String(), Side: side, Quantity: qty, EntryPrice: entry,
			MarkPrice: mark, LiquidationPrice: liq, Leverage: int(lev), UnrealizedPnL: upl,
		})
	}
	return out, nil
}

func (c *Client) instrumentFor(sym string) (instrument, error) {
	instID := c.wire(sym)
	return c.instCache.GetOrLoad(instID, func() (instrument, error) {
		path := fmt.Sprintf("/api/v5/public/instruments?instType=SWAP&instId=%s", instID)
		data, err := c.doRequest("GET", path, nil)
		if err != nil {
			return instrument{}, err
		}
		var list []struct {
			InstId   string `json:"instId"`
			CtVal    string `json:"ctVal"`
			LotSz    string `json:"lotSz"`
			MinSz    string `json:"minSz"`
			MaxMktSz string `json:"maxMktSz"`
			TickSz   string `json:"tickSz"`
		}
		if err := json.Unmarshal(data, &list); err != nil {
			return instrument{}, err
		}
		if len(list) == 0 {
			return instrument{}, fmt.Errorf("instrument %s not found", instID)
		}
		i := list[0]
		ctVal, _ := strconv.ParseFloat(i.CtVal, 64)
		lotSz, _ := strconv.ParseFloat(i.LotSz, 64)
		minSz, _ := strconv.ParseFloat(i.MinSz, 64)
		maxMktSz, _ := strconv.ParseFloat(i.MaxMktSz, 64)
		tickSz, _ := strconv.ParseFloat(i.TickSz, 64)
		return instrument{InstID: i.InstId, CtVal: ctVal, LotSz: lotSz, MinSz: minSz, MaxMktSz: maxMktSz, TickSz: tickSz}, nil
	})
}

// FormatQuantity converts a base-asset quantity into OKX's contract count
// ("sz") string, floor-rounded to the instrument's lot size.
func (c *Client) FormatQuantity(sym string, quantity float64) (string, error) {
	inst, err := c.instrumentFor(sym)
	if err != nil {
		return "", venue.NewError(venue.KindSymbolNotFound, "okx", sym, err.Error(), "")
	}
	if inst.CtVal <= 0 {
		return "", venue.NewError(venue.KindInvalidQuantity, "okx", sym, "instrument has zero contract value", "")
	}
	contracts := quantity / inst.CtVal
	step := precision.Step{Increment: inst.LotSz, Min: inst.MinSz}
	if inst.MaxMktSz > 0 && contracts > inst.MaxMktSz {
		contracts = inst.MaxMktSz
	}
	s, err := precision.Format(contracts, step)
	if err != nil {
		return "", venue.NewError(venue.KindInvalidQuantity, "okx", sym, err.Error(), "")
	}
	return s, nil
}

func (c *Client) FormatPrice(sym string, price float64) (string, error) {
	inst, err := c.instrumentFor(sym)
	if err != nil {
		return "", venue.NewError(venue.KindSymbolNotFound, "okx", sym, err.Error(), "")
	}
	s, err := precision.Format(price, precision.Step{Increment: inst.TickSz})
	if err != nil {
		return "", venue.NewError(venue.KindInvalidPrice, "okx", sym, err.Error(), "")
	}
	return s, nil
}

func (c *Client) placeOrder(sym, side, ordType, sz, price string, reduceOnly bool) (*venue.LiveOrderResult, error) {
	body := map[string]interface{}{
		"instId": c.wire(sym), "tdMode": "cross", "side": side,
		"posSide": posSideFor(side, reduceOnly), "ordType": ordType, "sz": sz,
		"clOrdId": newClOrdID(),
	}
	if price != "" {
		body["px"] = price
	}
	if reduceOnly {
		body["reduceOnly"] = true
	}
	data, err := c.doRequest("POST", "/api/v5/trade/order", body)
	if err != nil {
		return nil, err
	}
	var results []struct {
		OrdId   string `json:"ordId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &results); err != nil || len(results) == 0 {
		return nil, venue.NewError(venue.KindVenueHTTPError, "okx", sym, "malformed order response", string(data))
	}
	if results[0].SCode != "0" {
		return nil, venue.NewError(venue.KindVenueBusinessError, "okx", sym, results[0].SMsg, string(data))
	}
	return &venue.LiveOrderResult{ExchangeID: "okx", ExchangeOrderID: results[0].OrdId, Status: "submitted"}, nil
}

// posSideFor picks the OKX hedge-mode position side: an opening buy is
// long, an opening sell is short; a reduceOnly order closes the opposite
// side of its trade direction.
func posSideFor(side string, reduceOnly bool) string {
	isBuy := side == "buy"
	if reduceOnly {
		isBuy = !isBuy
	}
	if isBuy {
		return "long"
	}
	return "short"
}

func (c *Client) PlaceMarketOrder(sym, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	sd, err := toSide(side)
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
	sd, err := toSide(side)
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
	_, err := c.doRequest("POST", "/api/v5/trade/cancel-order", map[string]string{
		"instId": c.wire(sym), "ordId": orderID,
	})
	return err
}

func (c *Client) CancelAllOrders(sym string) error {
	open, err := c.GetOpenOrders(sym)
	if err != nil {
		return err
	}
	for _, o := range open {
		if err := c.CancelOrder(sym, o.OrderID); err != nil {
			logger.Infof("[okx] cancel %s failed: %v", o.OrderID, err)
		}
	}
	return nil
}

func (c *Client) GetOrder(sym, orderID string) (*venue.LiveOrderResult, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", c.wire(sym), orderID)
	data, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	var orders []struct {
		OrdId   string `json:"ordId"`
		State   string `json:"state"`
		AvgPx   string `json:"avgPx"`
		AccFillSz string `json:"accFillSz"`
	}
	if err := json.Unmarshal(data, &orders); err != nil || len(orders) == 0 {
		return nil, venue.NewError(venue.KindOrderNotFound, "okx", sym, "order "+orderID+" not found", "")
	}
	o := orders[0]
	filled, _ := strconv.ParseFloat(o.AccFillSz, 64)
	avg, _ := strconv.ParseFloat(o.AvgPx, 64)
	return &venue.LiveOrderResult{ExchangeID: "okx", ExchangeOrderID: o.OrdId, Filled: filled, AvgPrice: avg, Status: o.State}, nil
}

func (c *Client) WaitForFill(sym, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	deadline := time.Now().Add(maxWait)
	for {
		res, err := c.GetOrder(sym, orderID)
		if err != nil {
			return nil, err
		}
		if res.Status == "filled" || res.Status == "canceled" {
			return res, nil
		}
		if time.Now().After(deadline) {
			return res, nil
		}
		time.Sleep(pollInterval)
	}
}

func (c *Client) SetLeverage(sym string, leverage int) error {
	instId := c.wire(sym)
	for _, posSide := range []string{"long", "short"} {
		_, err := c.doRequest("POST", "/api/v5/account/set-leverage", map[string]interface{}{
			"instId": instId, "lever": strconv.Itoa(leverage), "mgnMode": "cross", "posSide": posSide,
		})
		if err != nil && !strings.Contains(err.Error(), "same") {
			return err
		}
	}
	return nil
}

func (c *Client) GetMarketPrice(sym string) (float64, error) {
	path := "/api/v5/market/ticker?instId=" + c.wire(sym)
	data, err := c.doRequest("GET", path, nil)
	if err != nil {
		return 0, err
	}
	var tickers []struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(data, &tickers); err != nil || len(tickers) == 0 {
		return 0, venue.NewError(venue.KindSymbolNotFound, "okx", sym, "ticker not found", "")
	}
	price, _ := strconv.ParseFloat(tickers[0].Last, 64)
	return price, nil
}

func (c *Client) GetOpenOrders(sym string) ([]venue.OpenOrder, error) {
	path := "/api/v5/trade/orders-pending?instId=" + c.wire(sym)
	data, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	var orders []struct {
		OrdId   string `json:"ordId"`
		InstId  string `json:"instId"`
		Side    string `json:"side"`
		PosSide string `json:"posSide"`
		OrdType string `json:"ordType"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "okx", sym, err.Error(), "")
	}
	out := make([]venue.OpenOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Px, 64)
		qty, _ := strconv.ParseFloat(o.Sz, 64)
		out = append(out, venue.OpenOrder{
			OrderID: o.OrdId, Symbol: sym, Side: o.Side, PositionSide: o.PosSide,
			Type: o.OrdType, Price: price, Quantity: qty, Status: o.State,
		})
	}
	return out, nil
}

// GetKline fetches public candle data via the market/candles endpoint.
func (c *Client) GetKline(sym, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	path := fmt.Sprintf("/api/v5/market/candles?instId=%s&bar=%s&limit=%d", c.wire(sym), okxBar(interval), limit)
	if endTime > 0 {
		path += fmt.Sprintf("&after=%d", endTime*1000)
	}
	data, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "okx", sym, err.Error(), string(data))
	}
	out := make([]venue.Bar, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if len(r) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(r[0], 10, 64)
		open, _ := strconv.ParseFloat(r[1], 64)
		high, _ := strconv.ParseFloat(r[2], 64)
		low, _ := strconv.ParseFloat(r[3], 64)
		cls, _ := strconv.ParseFloat(r[4], 64)
		vol, _ := strconv.ParseFloat(r[5], 64)
		out = append(out, venue.Bar{Time: ts / 1000, Open: open, High: high, Low: low, Close: cls, Volume: vol})
	}
	return out, nil
}

func okxBar(tf string) string {
	switch strings.ToLower(tf) {
	case "1m":
		return "1m"
	case "5m":
		return "5m"
	case "15m":
		return "15m"
	case "30m":
		return "30m"
	case "1h":
		return "1H"
	case "4h":
		return "4H"
	case "1d":
		return "1D"
	case "1w":
		return "1W"
	default:
		return tf
	}
}

func toSide(side string) (string, error) {
	switch strings.ToLower(side) {
	case "buy":
		return "buy", nil
	case "sell":
		return "sell", nil
	default:
		return "", venue.NewError(venue.KindInvalidSide, "okx", "", fmt.Sprintf("side %q is not buy/sell", side), "")
	}
}

// newClOrdID mirrors the 32-char cap OKX enforces on client order ids.
func newClOrdID() string {
	ts := time.Now().UnixNano() % 10000000000000
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	id := fmt.Sprintf("qc%d%s", ts, hex.EncodeToString(b))
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}
