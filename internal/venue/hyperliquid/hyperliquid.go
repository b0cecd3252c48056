// Package hyperliquid implements the venue.Trader contract against
// Hyperliquid perpetuals, grounded on trader/hyperliquid_trader.go in the
// teacher repo: agent-wallet EIP-712 signing via go-ethereum's ecdsa keys
// wrapped by sonirico/go-hyperliquid's Exchange client, szDecimals-based
// quantity rounding, and the 5-significant-figure price rule Hyperliquid
// enforces on all limit prices.
package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	hl "github.com/sonirico/go-hyperliquid"

	"quantcore/internal/logger"
	"quantcore/internal/venue"
)

type Client struct {
	exchange   *hl.Exchange
	ctx        context.Context
	walletAddr string
	privateKey *ecdsa.PrivateKey

	meta      *hl.Meta
	metaMutex sync.RWMutex
}

// New builds a Hyperliquid client from an agent-wallet private key and the
// main wallet address that actually holds funds (never the same key).
func New(privateKeyHex, walletAddr string, testnet bool) (*Client, error) {
	privateKeyHex = strings.TrimPrefix(strings.ToLower(privateKeyHex), "0x")
	privateKey, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse hyperliquid private key: %w", err)
	}
	if walletAddr == "" {
		return nil, venue.NewError(venue.KindMissingCredential, "hyperliquid", "", "wallet address required alongside agent private key", "")
	}

	agentAddr := ethcrypto.PubkeyToAddress(*privateKey.Public().(*ecdsa.PublicKey)).Hex()
	if strings.EqualFold(walletAddr, agentAddr) {
		logger.Warnf("[hyperliquid] wallet address matches the signing key's own address; use a dedicated agent wallet")
	}

	apiURL := hl.MainnetAPIURL
	if testnet {
		apiURL = hl.TestnetAPIURL
	}

	ctx := context.Background()
	exchange := hl.NewExchange(ctx, privateKey, apiURL, nil, "", walletAddr, nil)
	meta, err := exchange.Info().Meta(ctx)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "hyperliquid", "", "fetch meta: "+err.Error(), "")
	}

	return &Client{exchange: exchange, ctx: ctx, walletAddr: walletAddr, privateKey: privateKey, meta: meta}, nil
}

func (c *Client) ID() string { return "hyperliquid" }

func (c *Client) Ping() error {
	_, err := c.exchange.Info().UserState(c.ctx, c.walletAddr)
	return wrapHTTP("", err)
}

func wrapHTTP(symbol string, err error) error {
	if err == nil {
		return nil
	}
	return venue.NewError(venue.KindVenueHTTPError, "hyperliquid", symbol, err.Error(), "")
}

// coin strips the quote asset: Hyperliquid addresses perpetuals by bare
// base-asset name ("BTC", not "BTCUSDT").
func coin(symbol string) string {
	base := strings.ToUpper(symbol)
	for _, suffix := range []string{"USDT", "USDC", "USD"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return base
}

func (c *Client) GetBalance() (venue.Balance, error) {
	state, err := c.exchange.Info().UserState(c.ctx, c.walletAddr)
	if err != nil {
		return venue.Balance{}, wrapHTTP("", err)
	}
	total, _ := strconv.ParseFloat(state.CrossMarginSummary.AccountValue, 64)
	withdrawable, _ := strconv.ParseFloat(state.Withdrawable, 64)
	return venue.Balance{Available: withdrawable, Total: total, Currency: "USDC"}, nil
}

func (c *Client) GetPositions() ([]venue.Position, error) {
	state, err := c.exchange.Info().UserState(c.ctx, c.walletAddr)
	if err != nil {
		return nil, wrapHTTP("", err)
	}
	out := make([]venue.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		amt, _ := strconv.ParseFloat(p.Szi, 64)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		entry, _ := strconv.ParseFloat(p.EntryPx, 64)
		liq, _ := strconv.ParseFloat(p.LiquidationPx, 64)
		lev := 1
		if p.Leverage.Value > 0 {
			lev = p.Leverage.Value
		}
		upnl, _ := strconv.ParseFloat(p.UnrealizedPnl, 64)
		out = append(out, venue.Position{
			Symbol: p.Coin + "USDT", Side: side, Quantity: amt, EntryPrice: entry,
			LiquidationPrice: liq, Leverage: lev, UnrealizedPnL: upnl,
		})
	}
	return out, nil
}

func (c *Client) szDecimals(cn string) int {
	c.metaMutex.RLock()
	defer c.metaMutex.RUnlock()
	if c.meta == nil {
		return 4
	}
	for _, asset := range c.meta.Universe {
		if asset.Name == cn {
			return asset.SzDecimals
		}
	}
	return 4
}

func (c *Client) FormatQuantity(symbol string, quantity float64) (string, error) {
	decimals := c.szDecimals(coin(symbol))
	m := math.Pow(10, float64(decimals))
	floored := math.Floor(quantity*m+1e-9) / m
	if floored <= 0 {
		return "", venue.NewError(venue.KindInvalidQuantity, "hyperliquid", symbol,
			fmt.Sprintf("requested=%v floors to zero at %d size decimals", quantity, decimals), "")
	}
	return strconv.FormatFloat(floored, 'f', decimals, 64), nil
}

// FormatPrice rounds to Hyperliquid's 5-significant-figure rule.
func (c *Client) FormatPrice(symbol string, price float64) (string, error) {
	return strconv.FormatFloat(roundSigFigs(price, 5), 'f', -1, 64), nil
}

func roundToDecimals(v float64, decimals int) float64 {
	m := math.Pow(10, float64(decimals))
	return math.Round(v*m) / m
}

func roundSigFigs(price float64, sigfigs int) float64 {
	if price == 0 {
		return 0
	}
	magnitude := math.Abs(price)
	exp := math.Floor(math.Log10(magnitude))
	scale := math.Pow(10, float64(sigfigs-1)-exp)
	return math.Round(price*scale) / scale
}

func (c *Client) placeOrder(symbol string, isBuy bool, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	cn := coin(symbol)
	decimals := c.szDecimals(cn)
	sz := roundToDecimals(quantity, decimals)
	px := roundSigFigs(price, 5)

	order := hl.CreateOrderRequest{
		Coin: cn, IsBuy: isBuy, Size: sz, Price: px,
		OrderType:  hl.OrderType{Limit: &hl.LimitOrderType{Tif: hl.TifIoc}},
		ReduceOnly: reduceOnly,
	}
	resp, err := c.exchange.Order(c.ctx, order, nil)
	if err != nil {
		return nil, venue.NewError(venue.KindVenueHTTPError, "hyperliquid", symbol, err.Error(), "")
	}
	return &venue.LiveOrderResult{ExchangeID: "hyperliquid", ExchangeOrderID: fmt.Sprint(resp), Status: "submitted"}, nil
}

func (c *Client) PlaceMarketOrder(symbol, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	isBuy, err := toIsBuy(side)
	if err != nil {
		return nil, err
	}
	price, err := c.GetMarketPrice(symbol)
	if err != nil {
		return nil, err
	}
	// Hyperliquid has no true market order type; an aggressively-priced IOC
	// limit order crosses the book like a market order would.
	aggressive := price * 1.01
	if !isBuy {
		aggressive = price * 0.99
	}
	return c.placeOrder(symbol, isBuy, quantity, aggressive, reduceOnly)
}

func (c *Client) PlaceLimitOrder(symbol, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	isBuy, err := toIsBuy(side)
	if err != nil {
		return nil, err
	}
	return c.placeOrder(symbol, isBuy, quantity, price, reduceOnly)
}

func toIsBuy(side string) (bool, error) {
	switch strings.ToLower(side) {
	case "buy":
		return true, nil
	case "sell":
		return false, nil
	default:
		return false, venue.NewError(venue.KindInvalidSide, "hyperliquid", "", fmt.Sprintf("side %q is not buy/sell", side), "")
	}
}

func (c *Client) CancelOrder(symbol, orderID string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return venue.NewError(venue.KindOrderNotFound, "hyperliquid", symbol, "malformed order id "+orderID, "")
	}
	_, err = c.exchange.Cancel(c.ctx, coin(symbol), oid)
	return wrapHTTP(symbol, err)
}

func (c *Client) CancelAllOrders(symbol string) error {
	open, err := c.GetOpenOrders(symbol)
	if err != nil {
		return err
	}
	for _, o := range open {
		if err := c.CancelOrder(symbol, o.OrderID); err != nil {
			logger.Infof("[hyperliquid] cancel %s failed: %v", o.OrderID, err)
		}
	}
	return nil
}

func (c *Client) GetOrder(symbol, orderID string) (*venue.LiveOrderResult, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, venue.NewError(venue.KindOrderNotFound, "hyperliquid", symbol, "malformed order id "+orderID, "")
	}
	status, err := c.exchange.Info().OrderStatus(c.ctx, c.walletAddr, oid)
	if err != nil {
		return nil, venue.NewError(venue.KindOrderNotFound, "hyperliquid", symbol, "order "+orderID+" not found", err.Error())
	}
	return &venue.LiveOrderResult{ExchangeID: "hyperliquid", ExchangeOrderID: orderID, Status: status.Order.Status}, nil
}

func (c *Client) WaitForFill(symbol, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	deadline := time.Now().Add(maxWait)
	for {
		res, err := c.GetOrder(symbol, orderID)
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

func (c *Client) SetLeverage(symbol string, leverage int) error {
	_, err := c.exchange.UpdateLeverage(c.ctx, leverage, coin(symbol), true)
	return wrapHTTP(symbol, err)
}

func (c *Client) GetMarketPrice(symbol string) (float64, error) {
	mids, err := c.exchange.Info().AllMids(c.ctx)
	if err != nil {
		return 0, wrapHTTP(symbol, err)
	}
	cn := coin(symbol)
	raw, ok := mids[cn]
	if !ok {
		return 0, venue.NewError(venue.KindSymbolNotFound, "hyperliquid", symbol, "no mid price for "+cn, "")
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, venue.NewError(venue.KindVenueHTTPError, "hyperliquid", symbol, "malformed mid price", raw)
	}
	return price, nil
}

// GetKline fetches public candle snapshots via the Info client's
// CandleSnapshot call, grounded on the same SDK the rest of this client
// already wraps for order placement and account state.
func (c *Client) GetKline(symbol, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	cn := coin(symbol)
	end := time.Now()
	if endTime > 0 {
		end = time.Unix(endTime, 0)
	}
	start := end.Add(-time.Duration(limit) * intervalDuration(interval))
	candles, err := c.exchange.Info().CandleSnapshot(c.ctx, cn, interval, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, wrapHTTP(symbol, err)
	}
	out := make([]venue.Bar, 0, len(candles))
	for _, k := range candles {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		out = append(out, venue.Bar{Time: k.Time / 1000, Open: open, High: high, Low: low, Close: cls, Volume: vol})
	}
	return out, nil
}

func intervalDuration(tf string) time.Duration {
	switch strings.ToLower(tf) {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

func (c *Client) GetOpenOrders(symbol string) ([]venue.OpenOrder, error) {
	orders, err := c.exchange.Info().OpenOrders(c.ctx, c.walletAddr)
	if err != nil {
		return nil, wrapHTTP(symbol, err)
	}
	cn := coin(symbol)
	out := make([]venue.OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o.Coin != cn {
			continue
		}
		side := "buy"
		if o.Side == "A" {
			side = "sell"
		}
		price, _ := strconv.ParseFloat(o.LimitPx, 64)
		qty, _ := strconv.ParseFloat(o.Sz, 64)
		out = append(out, venue.OpenOrder{
			OrderID: strconv.FormatInt(o.Oid, 10), Symbol: symbol, Side: side,
			Type: "limit", Price: price, Quantity: qty, Status: "open",
		})
	}
	return out, nil
}
