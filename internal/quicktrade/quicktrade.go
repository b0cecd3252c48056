// Package quicktrade implements the Live Trading Execution Core's
// quick-trade order path (spec §4.9): a single-shot order placed
// directly against a venue, independent of the AI decision loop.
// Grounded on trader/auto_trader.go's executeOpenLongWithRecord /
// executeCloseLongWithRecord order-dispatch flow and
// manager/trader_manager.go's addTraderFromStore credential-by-exchange-
// type resolution switch.
package quicktrade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantcore/internal/venue"
)

// Credential holds one exchange account's API keys, mirroring
// manager/trader_manager.go's per-exchange-type field set on
// AutoTraderConfig, reduced to the generic key/secret/passphrase shape
// every REST venue client in internal/venue accepts.
type Credential struct {
	Exchange   string
	APIKey     string
	SecretKey  string
	Passphrase string
}

// ClientResolver builds (or returns a cached) venue.Trader for a
// credential, matching the teacher's exchange-type switch in
// addTraderFromStore but delegated to the caller so quicktrade stays
// free of import cycles onto every venue subpackage's constructor.
type ClientResolver interface {
	Resolve(cred Credential) (venue.Trader, error)
}

// Side is the normalized order direction derived from an AI/manual
// trading signal (spec §4.9 "signal-to-side dispatch mapping").
type Side string

const (
	SideOpenLong   Side = "open_long"
	SideOpenShort  Side = "open_short"
	SideCloseLong  Side = "close_long"
	SideCloseShort Side = "close_short"
)

// signalSide maps a free-form trading signal string onto the four
// dispatch sides, case-insensitively.
func signalSide(signal string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(signal)) {
	case "buy", "open_long", "long":
		return SideOpenLong, nil
	case "sell", "open_short", "short":
		return SideOpenShort, nil
	case "close_long", "close long":
		return SideCloseLong, nil
	case "close_short", "close short":
		return SideCloseShort, nil
	default:
		return "", fmt.Errorf("unrecognized trading signal %q", signal)
	}
}

// MarketType is derived from the symbol's quote asset (spec §4.9
// "market_type derivation").
type MarketType string

const (
	MarketSpot      MarketType = "spot"
	MarketPerpetual MarketType = "perpetual"
)

func marketTypeFor(symbol string, leverage int) MarketType {
	if leverage > 1 {
		return MarketPerpetual
	}
	upper := strings.ToUpper(symbol)
	if strings.HasSuffix(upper, "USDT") || strings.HasSuffix(upper, "USD") || strings.HasSuffix(upper, "USDC") {
		return MarketPerpetual
	}
	return MarketSpot
}

// Order is a placed quick-trade order's ledger-ready summary.
type Order struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	MarketType    MarketType
	Quantity      float64
	Leverage      int
	Result        *venue.LiveOrderResult
	PlacedAt      time.Time
}

// Ledger records every quick-trade fill, grounded on
// trader/auto_trader.go's recordAndConfirmOrder/recordPositionChange
// pair — this package only needs the write side, the store layer owns
// the schema.
type Ledger interface {
	RecordOrder(ctx context.Context, userID string, o Order) error
}

// Request is the quick-trade order path's input (spec §4.9, 7 steps:
// credential resolution, market_type derivation, USDT->base conversion,
// set_leverage, client order id generation, signal dispatch, ledger
// recording).
type Request struct {
	UserID     string
	Credential Credential
	Symbol     string
	Signal     string // "buy"/"sell"/"close_long"/"close_short"
	USDTAmount float64
	Leverage   int
	ReduceOnly bool
}

// Executor runs the quick-trade order path end to end.
type Executor struct {
	resolver ClientResolver
	ledger   Ledger
}

func New(resolver ClientResolver, ledger Ledger) *Executor {
	return &Executor{resolver: resolver, ledger: ledger}
}

// PlaceOrder executes the 7-step quick-trade path.
func (e *Executor) PlaceOrder(ctx context.Context, req Request) (*Order, error) {
	// 1. credential resolution.
	client, err := e.resolver.Resolve(req.Credential)
	if err != nil {
		return nil, fmt.Errorf("resolving exchange client: %w", err)
	}

	// 2. market_type derivation.
	marketType := marketTypeFor(req.Symbol, req.Leverage)

	// 3. USDT -> base-asset conversion.
	price, err := client.GetMarketPrice(req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching market price: %w", err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("invalid market price for %s", req.Symbol)
	}
	quantity := req.USDTAmount / price

	// 4. set_leverage (best-effort: spot orders skip this, perpetual
	// failures do not abort the order, matching the teacher's
	// SetMarginMode "continue execution, doesn't affect trading" pattern).
	if marketType == MarketPerpetual && req.Leverage > 0 {
		if lerr := client.SetLeverage(req.Symbol, req.Leverage); lerr != nil {
			// non-fatal: proceed with the exchange's existing leverage setting.
			_ = lerr
		}
	}

	// 5. client order id generation.
	clientOrderID := fmt.Sprintf("qt-%s", uuid.NewString())

	// 6. signal-to-side dispatch mapping.
	side, err := signalSide(req.Signal)
	if err != nil {
		return nil, err
	}
	orderSide, reduceOnly, err := dispatchOrder(side)
	if err != nil {
		return nil, err
	}
	if req.ReduceOnly {
		reduceOnly = true
	}

	qtyStr, err := client.FormatQuantity(req.Symbol, quantity)
	if err != nil {
		return nil, fmt.Errorf("formatting quantity: %w", err)
	}
	formattedQty, err := parseFloat(qtyStr)
	if err != nil {
		return nil, err
	}

	result, err := client.PlaceMarketOrder(req.Symbol, orderSide, formattedQty, reduceOnly)
	if err != nil {
		return nil, fmt.Errorf("placing order: %w", err)
	}

	order := &Order{
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          side,
		MarketType:    marketType,
		Quantity:      formattedQty,
		Leverage:      req.Leverage,
		Result:        result,
		PlacedAt:      time.Now().UTC(),
	}

	// 7. ledger recording.
	if e.ledger != nil {
		_ = e.ledger.RecordOrder(ctx, req.UserID, *order)
	}
	return order, nil
}

// dispatchOrder maps a dispatch Side onto the venue's (side, reduceOnly)
// order parameters.
func dispatchOrder(s Side) (side string, reduceOnly bool, err error) {
	switch s {
	case SideOpenLong:
		return "BUY", false, nil
	case SideOpenShort:
		return "SELL", false, nil
	case SideCloseLong:
		return "SELL", true, nil
	case SideCloseShort:
		return "BUY", true, nil
	default:
		return "", false, fmt.Errorf("unhandled dispatch side %q", s)
	}
}

// ClosePosition closes an existing position at market, looking up the
// live position to determine quantity and side rather than trusting a
// caller-supplied amount (spec §4.9 "close-position path").
func (e *Executor) ClosePosition(ctx context.Context, req Request) (*Order, error) {
	client, err := e.resolver.Resolve(req.Credential)
	if err != nil {
		return nil, fmt.Errorf("resolving exchange client: %w", err)
	}

	positions, err := client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	var target *venue.Position
	for i := range positions {
		if strings.EqualFold(positions[i].Symbol, req.Symbol) {
			target = &positions[i]
			break
		}
	}
	if target == nil || target.Quantity == 0 {
		return nil, fmt.Errorf("no open position for %s", req.Symbol)
	}

	side := SideCloseLong
	orderSide := "SELL"
	if strings.EqualFold(target.Side, "short") {
		side = SideCloseShort
		orderSide = "BUY"
	}

	qtyStr, err := client.FormatQuantity(req.Symbol, target.Quantity)
	if err != nil {
		return nil, fmt.Errorf("formatting quantity: %w", err)
	}
	formattedQty, err := parseFloat(qtyStr)
	if err != nil {
		return nil, err
	}

	result, err := client.PlaceMarketOrder(req.Symbol, orderSide, formattedQty, true)
	if err != nil {
		return nil, fmt.Errorf("closing position: %w", err)
	}

	order := &Order{
		ClientOrderID: fmt.Sprintf("qt-close-%s", uuid.NewString()),
		Symbol:        req.Symbol,
		Side:          side,
		MarketType:    marketTypeFor(req.Symbol, target.Leverage),
		Quantity:      formattedQty,
		Leverage:      target.Leverage,
		Result:        result,
		PlacedAt:      time.Now().UTC(),
	}
	if e.ledger != nil {
		_ = e.ledger.RecordOrder(ctx, req.UserID, *order)
	}
	return order, nil
}

// GetBalance resolves req's credential and returns the venue's account
// balance, backing GET /quick-trade/balance.
func (e *Executor) GetBalance(ctx context.Context, req Request) (venue.Balance, error) {
	client, err := e.resolver.Resolve(req.Credential)
	if err != nil {
		return venue.Balance{}, fmt.Errorf("resolving exchange client: %w", err)
	}
	return client.GetBalance()
}

// GetPosition resolves req's credential and returns the open position
// for req.Symbol, backing GET /quick-trade/position. Returns
// (Position{}, false, nil) when there is no open position.
func (e *Executor) GetPosition(ctx context.Context, req Request) (venue.Position, bool, error) {
	client, err := e.resolver.Resolve(req.Credential)
	if err != nil {
		return venue.Position{}, false, fmt.Errorf("resolving exchange client: %w", err)
	}
	positions, err := client.GetPositions()
	if err != nil {
		return venue.Position{}, false, fmt.Errorf("fetching positions: %w", err)
	}
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, req.Symbol) {
			return p, true, nil
		}
	}
	return venue.Position{}, false, nil
}

func parseFloat(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%g", &v)
	if err != nil {
		return 0, fmt.Errorf("parsing formatted quantity %q: %w", s, err)
	}
	return v, nil
}
