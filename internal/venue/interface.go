package venue

import "time"

// LiveOrderResult is the uniform order result contract every venue client
// returns, regardless of wire format (spec §3 Exchange Order Result).
type LiveOrderResult struct {
	ExchangeID      string
	ExchangeOrderID string
	Filled          float64
	AvgPrice        float64
	Fee             float64
	FeeCcy          string
	Status          string
	Raw             map[string]interface{}
}

// OpenOrder represents a pending order on the exchange.
type OpenOrder struct {
	OrderID      string
	Symbol       string
	Side         string
	PositionSide string
	Type         string
	Price        float64
	StopPrice    float64
	Quantity     float64
	Status       string
}

// Balance is the uniform balance shape every venue's defensive parser
// normalizes to (spec §4.9 "Balance & position parsing").
type Balance struct {
	Available float64
	Total     float64
	Currency  string
}

// Position is the uniform open-position shape.
type Position struct {
	Symbol           string
	Side             string // "long" or "short"
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	Leverage         int
	UnrealizedPnL    float64
}

// Trader is the common contract every venue REST client implements
// (spec §4.2), generalized from trader/interface.go in the teacher repo.
type Trader interface {
	ID() string

	Ping() error

	GetBalance() (Balance, error)
	GetPositions() ([]Position, error)

	PlaceLimitOrder(symbol, side string, quantity, price float64, reduceOnly bool) (*LiveOrderResult, error)
	PlaceMarketOrder(symbol, side string, quantity float64, reduceOnly bool) (*LiveOrderResult, error)
	CancelOrder(symbol, orderID string) error
	GetOrder(symbol, orderID string) (*LiveOrderResult, error)
	WaitForFill(symbol, orderID string, maxWait, pollInterval time.Duration) (*LiveOrderResult, error)

	SetLeverage(symbol string, leverage int) error
	GetMarketPrice(symbol string) (float64, error)

	GetOpenOrders(symbol string) ([]OpenOrder, error)
	CancelAllOrders(symbol string) error

	// FormatQuantity floor-rounds to the venue's step and returns the
	// strictly-scaled decimal string (spec §4.2 precision discipline),
	// erroring with KindInvalidQuantity if the result would fall below the
	// minimum. FormatPrice does the same against the tick, with
	// KindInvalidPrice, in the binance and okx clients only (okx checks no
	// minimum price); bybit renders two decimals, bitget and gate four, and
	// hyperliquid five significant figures, all rounded to nearest, with no
	// tick lookup and no minimum check.
	FormatQuantity(symbol string, quantity float64) (string, error)
	FormatPrice(symbol string, price float64) (string, error)
}

// Bar is a single OHLCV candle (spec §3 Kline Bar), time in UTC seconds.
type Bar struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// KlineSource is implemented by every venue client alongside Trader so the
// data-source factory (spec §4.3) can fan out k-line fetches without an
// extra per-venue adapter layer. Public market data, so it needs no
// credentials — a venue client built with empty keys still serves klines.
type KlineSource interface {
	ID() string
	// GetKline returns up to limit bars ending at endTime (UTC seconds);
	// endTime of 0 means "up to now", letting callers page backward by
	// repeating the call with the earliest returned bar's time.
	GetKline(symbol, interval string, limit int, endTime int64) ([]Bar, error)
}
