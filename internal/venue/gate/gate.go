// Package gate implements the venue.Trader contract against Gate.io USDT
// perpetual futures via the generated gateapi-go/v7 SDK, grounded on
// trader/gate_trader.go in the teacher repo: quanto_multiplier-based
// contract-count conversion and the auth context built from
// gateapi.ContextGateAPIV4.
package gate

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"

	"quantcore/internal/cache"
	"quantcore/internal/venue"
)

const settle = "usdt"

type Client struct {
	client    *gateapi.APIClient
	apiKey    string
	secretKey string

	contractCache *cache.TTL[string, gateapi.Contract]
}

func New(apiKey, secretKey string) *Client {
	cfg := gateapi.NewConfiguration()
	cfg.BasePath = "https://api.gateio.ws/api/v4"
	return &Client{
		client:        gateapi.NewAPIClient(cfg),
		apiKey:        apiKey,
		secretKey:     secretKey,
		contractCache: cache.NewTTL[string, gateapi.Contract](5 * time.Minute),
	}
}

func (c *Client) ID() string { return "gate" }

func (c *Client) ctx() context.Context {
	return context.WithValue(context.Background(), gateapi.ContextGateAPIV4, gateapi.GateAPIV4{
		Key: c.apiKey, Secret: c.secretKey,
	})
}

func (c *Client) Ping() error {
	_, _, err := c.client.FuturesApi.ListFuturesTickers(c.ctx(), settle, &gateapi.ListFuturesTickersOpts{})
	return wrapHTTP("", err)
}

func wire(sym string) string {
	if strings.Contains(sym, "_") {
		return strings.ToUpper(sym)
	}
	upper := strings.ToUpper(sym)
	if strings.HasSuffix(upper, "USDT") {
		return upper[:len(upper)-4] + "_USDT"
	}
	return upper
}

func wrapHTTP(symbol string, err error) error {
	if err == nil {
		return nil
	}
	return venue.NewError(venue.KindVenueHTTPError, "gate", symbol, err.Error(), err.Error())
}

func (c *Client) GetBalance() (venue.Balance, error) {
	acc, _, err := c.client.FuturesApi.ListFuturesAccounts(c.ctx(), settle)
	if err != nil {
		return venue.Balance{}, wrapHTTP("", err)
	}
	avail, _ := strconv.ParseFloat(acc.Available, 64)
	total, _ := strconv.ParseFloat(acc.Total, 64)
	return venue.Balance{Available: avail, Total: total, Currency: "USDT"}, nil
}

func (c *Client) GetPositions() ([]venue.Position, error) {
	positions, _, err := c.client.FuturesApi.ListPositions(c.ctx(), settle, &gateapi.ListPositionsOpts{})
	if err != nil {
		return nil, wrapHTTP("", err)
	}
	out := make([]venue.Position, 0, len(positions))
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		side := "long"
		size := p.Size
		if size < 0 {
			side = "short"
			size = -size
		}
		contract, err := c.contractFor(p.Contract)
		qty := float64(size)
		if err == nil {
			m, _ := strconv.ParseFloat(contract.QuantoMultiplier, 64)
			if m > 0 {
				qty = float64(size) * m
			}
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		liq, _ := strconv.ParseFloat(p.LiqPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		out = append(out, venue.Position{
			Symbol: strings.ReplaceAll(p.Contract, "_", ""), Side: side, Quantity: qty,
			EntryPrice: entry, MarkPrice: mark, LiquidationPrice: liq,
			Leverage: int(p.Leverage), UnrealizedPnL: upnl,
		})
	}
	return out, nil
}

func (c *Client) contractFor(gateSymbol string) (gateapi.Contract, error) {
	return c.contractCache.GetOrLoad(gateSymbol, func() (gateapi.Contract, error) {
		contract, _, err := c.client.FuturesApi.GetFuturesContract(c.ctx(), settle, gateSymbol)
		return contract, err
	})
}

// FormatQuantity converts a base-asset quantity to Gate's integer contract
// count using quanto_multiplier, floor-rounded to whole contracts; a
// quantity below one contract fails with KindInvalidQuantity.
func (c *Client) FormatQuantity(sym string, quantity float64) (string, error) {
	contract, err := c.contractFor(wire(sym))
	if err != nil {
		return "", venue.NewError(venue.KindSymbolNotFound, "gate", sym, err.Error(), "")
	}
	m, err := strconv.ParseFloat(contract.QuantoMultiplier, 64)
	if err != nil || m == 0 {
		return "", venue.NewError(venue.KindInvalidQuantity, "gate", sym, "invalid quanto multiplier", "")
	}
	contracts := int64(math.Floor(quantity/m + 1e-9))
	if contracts < 1 {
		return "", venue.NewError(venue.KindInvalidQuantity, "gate", sym,
			fmt.Sprintf("requested=%v is below one contract (multiplier=%v)", quantity, m), "")
	}
	return strconv.FormatInt(contracts, 10), nil
}

func (c *Client) FormatPrice(sym string, price float64) (string, error) {
	return strconv.FormatFloat(price, 'f', 4, 64), nil
}

func (c *Client) place(sym string, size int64, reduceOnly bool, price string) (*venue.LiveOrderResult, error) {
	order := gateapi.FuturesOrder{
		Contract: wire(sym), Size: size, Price: price, Tif: "ioc", ReduceOnly: reduceOnly,
	}
	if price != "0" && price != "" {
		order.Tif = "gtc"
	}
	result, _, err := c.client.FuturesApi.CreateFuturesOrder(c.ctx(), settle, order, nil)
	if err != nil {
		return nil, wrapHTTP(sym, err)
	}
	return &venue.LiveOrderResult{ExchangeID: "gate", ExchangeOrderID: fmt.Sprintf("%d", result.Id), Status: "submitted"}, nil
}

func (c *Client) PlaceMarketOrder(sym, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	sizeStr, err := c.FormatQuantity(sym, quantity)
	if err != nil {
		return nil, err
	}
	size, _ := strconv.ParseInt(sizeStr, 10, 64)
	signed, err := signedSize(side, size, reduceOnly)
	if err != nil {
		return nil, err
	}
	return c.place(sym, signed, reduceOnly, "0")
}

func (c *Client) PlaceLimitOrder(sym, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	sizeStr, err := c.FormatQuantity(sym, quantity)
	if err != nil {
		return nil, err
	}
	size, _ := strconv.ParseInt(sizeStr, 10, 64)
	signed, err := signedSize(side, size, reduceOnly)
	if err != nil {
		return nil, err
	}
	priceStr, err := c.FormatPrice(sym, price)
	if err != nil {
		return nil, err
	}
	return c.place(sym, signed, reduceOnly, priceStr)
}

// signedSize applies Gate's convention that a negative order size sells
// and a positive one buys; the sign follows side alone, and reduceOnly is
// passed on the order separately without changing it.
func signedSize(side string, size int64, reduceOnly bool) (int64, error) {
	switch strings.ToLower(side) {
	case "buy":
		return size, nil
	case "sell":
		return -size, nil
	default:
		return 0, venue.NewError(venue.KindInvalidSide, "gate", "", fmt.Sprintf("side %q is not buy/sell", side), "")
	}
}

// GetKline fetches public futures candlesticks via the generated SDK's
// ListFuturesCandlesticks, the same naming convention as the account/order
// calls above.
func (c *Client) GetKline(sym, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	opts := &gateapi.ListFuturesCandlesticksOpts{
		Interval: optional.NewString(gateInterval(interval)),
		Limit:    optional.NewInt32(int32(limit)),
	}
	if endTime > 0 {
		opts.To = optional.NewInt64(endTime)
	}
	candles, _, err := c.client.FuturesApi.ListFuturesCandlesticks(c.ctx(), settle, wire(sym), opts)
	if err != nil {
		return nil, wrapHTTP(sym, err)
	}
	out := make([]venue.Bar, 0, len(candles))
	for _, k := range candles {
		open, _ := strconv.ParseFloat(k.O, 64)
		high, _ := strconv.ParseFloat(k.H, 64)
		low, _ := strconv.ParseFloat(k.L, 64)
		cls, _ := strconv.ParseFloat(k.C, 64)
		vol, _ := strconv.ParseFloat(k.V, 64)
		out = append(out, venue.Bar{Time: k.T, Open: open, High: high, Low: low, Close: cls, Volume: vol})
	}
	return out, nil
}

func gateInterval(tf string) string {
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
		return "1h"
	case "4h":
		return "4h"
	case "1d":
		return "1d"
	case "1w":
		return "7d"
	default:
		return tf
	}
}

func (c *Client) CancelOrder(sym, orderID string) error {
	_, _, err := c.client.FuturesApi.CancelFuturesOrder(c.ctx(), settle, orderID)
	return wrapHTTP(sym, err)
}

func (c *Client) CancelAllOrders(sym string) error {
	_, _, err := c.client.FuturesApi.CancelFuturesOrders(c.ctx(), settle, wire(sym), nil)
	return wrapHTTP(sym, err)
}

func (c *Client) GetOrder(sym, orderID string) (*venue.LiveOrderResult, error) {
	o, _, err := c.client.FuturesApi.GetFuturesOrder(c.ctx(), settle, orderID, nil)
	if err != nil {
		return nil, venue.NewError(venue.KindOrderNotFound, "gate", sym, "order "+orderID+" not found", err.Error())
	}
	fillPrice, _ := strconv.ParseFloat(o.FillPrice, 64)
	filled := math.Abs(float64(o.Size - o.Left))
	return &venue.LiveOrderResult{
		ExchangeID: "gate", ExchangeOrderID: strconv.FormatInt(o.Id, 10),
		Filled: filled, AvgPrice: fillPrice, Status: o.Status,
	}, nil
}

func (c *Client) WaitForFill(sym, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	deadline := time.Now().Add(maxWait)
	for {
		res, err := c.GetOrder(sym, orderID)
		if err != nil {
			return nil, err
		}
		if res.Status == "finished" {
			return res, nil
		}
		if time.Now().After(deadline) {
			return res, nil
		}
		time.Sleep(pollInterval)
	}
}

func (c *Client) SetLeverage(sym string, leverage int) error {
	if leverage <= 0 {
		return nil
	}
	_, _, err := c.client.FuturesApi.UpdatePositionLeverage(c.ctx(), settle, wire(sym), strconv.Itoa(leverage), nil)
	return wrapHTTP(sym, err)
}

func (c *Client) GetMarketPrice(sym string) (float64, error) {
	target := wire(sym)
	tickers, _, err := c.client.FuturesApi.ListFuturesTickers(c.ctx(), settle, &gateapi.ListFuturesTickersOpts{
		Contract: optional.NewString(target),
	})
	if err != nil {
		return 0, wrapHTTP(sym, err)
	}
	if len(tickers) == 0 {
		return 0, venue.NewError(venue.KindSymbolNotFound, "gate", sym, "ticker not found", "")
	}
	price, _ := strconv.ParseFloat(tickers[0].Last, 64)
	return price, nil
}

func (c *Client) GetOpenOrders(sym string) ([]venue.OpenOrder, error) {
	orders, _, err := c.client.FuturesApi.ListFuturesOrders(c.ctx(), settle, wire(sym), &gateapi.ListFuturesOrdersOpts{})
	if err != nil {
		return nil, wrapHTTP(sym, err)
	}
	out := make([]venue.OpenOrder, 0, len(orders))
	for _, o := range orders {
		side := "buy"
		qty := float64(o.Size)
		if o.Size < 0 {
			side = "sell"
			qty = -qty
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		out = append(out, venue.OpenOrder{
			OrderID: strconv.FormatInt(o.Id, 10), Symbol: sym, Side: side,
			Type: "limit", Price: price, Quantity: qty, Status: o.Status,
		})
	}
	return out, nil
}
