package quicktrade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"quantcore/internal/venue"
)

type fakeClient struct {
	price         float64
	positions     []venue.Position
	leverageCalls []int
	placed        []struct {
		symbol     string
		side       string
		qty        float64
		reduceOnly bool
	}
}

func (f *fakeClient) ID() string   { return "fake" }
func (f *fakeClient) Ping() error { return nil }

func (f *fakeClient) GetBalance() (venue.Balance, error) {
	return venue.Balance{Available: 1000, Total: 1000, Currency: "USDT"}, nil
}
func (f *fakeClient) GetPositions() ([]venue.Position, error) {
	return f.positions, nil
}

func (f *fakeClient) PlaceLimitOrder(symbol, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeClient) PlaceMarketOrder(symbol, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	f.placed = append(f.placed, struct {
		symbol     string
		side       string
		qty        float64
		reduceOnly bool
	}{symbol, side, quantity, reduceOnly})
	return &venue.LiveOrderResult{ExchangeOrderID: "1", Filled: quantity, AvgPrice: f.price, Status: "FILLED"}, nil
}

func (f *fakeClient) CancelOrder(symbol, orderID string) error { return nil }
func (f *fakeClient) GetOrder(symbol, orderID string) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeClient) WaitForFill(symbol, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	return nil, nil
}

func (f *fakeClient) SetLeverage(symbol string, leverage int) error {
	f.leverageCalls = append(f.leverageCalls, leverage)
	return nil
}
func (f *fakeClient) GetMarketPrice(symbol string) (float64, error) { return f.price, nil }

func (f *fakeClient) GetOpenOrders(symbol string) ([]venue.OpenOrder, error) { return nil, nil }
func (f *fakeClient) CancelAllOrders(symbol string) error                   { return nil }

func (f *fakeClient) FormatQuantity(symbol string, quantity float64) (string, error) {
	return fmt.Sprintf("%.4f", quantity), nil
}
func (f *fakeClient) FormatPrice(symbol string, price float64) (string, error) {
	return fmt.Sprintf("%.2f", price), nil
}

type fakeResolver struct {
	client *fakeClient
	err    error
}

func (r *fakeResolver) Resolve(cred Credential) (venue.Trader, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

type fakeLedger struct {
	recorded []Order
}

func (l *fakeLedger) RecordOrder(ctx context.Context, userID string, o Order) error {
	l.recorded = append(l.recorded, o)
	return nil
}

func TestPlaceOrderOpenLongConvertsUSDTAndSetsLeverage(t *testing.T) {
	client := &fakeClient{price: 50000}
	ledger := &fakeLedger{}
	exec := New(&fakeResolver{client: client}, ledger)

	order, err := exec.PlaceOrder(context.Background(), Request{
		UserID: "u1", Symbol: "BTCUSDT", Signal: "buy", USDTAmount: 500, Leverage: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Side != SideOpenLong {
		t.Fatalf("expected open_long, got %s", order.Side)
	}
	if order.MarketType != MarketPerpetual {
		t.Fatalf("expected perpetual market type for leverage>1, got %s", order.MarketType)
	}
	if len(client.leverageCalls) != 1 || client.leverageCalls[0] != 5 {
		t.Fatalf("expected SetLeverage(5) to be called once, got %v", client.leverageCalls)
	}
	wantQty := 500.0 / 50000.0
	if diff := order.Quantity - wantQty; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("expected quantity %v from USDT conversion, got %v", wantQty, order.Quantity)
	}
	if len(ledger.recorded) != 1 {
		t.Fatal("expected the order to be recorded in the ledger")
	}
}

func TestPlaceOrderRejectsUnknownSignal(t *testing.T) {
	client := &fakeClient{price: 100}
	exec := New(&fakeResolver{client: client}, nil)
	_, err := exec.PlaceOrder(context.Background(), Request{Symbol: "BTCUSDT", Signal: "yolo", USDTAmount: 100})
	if err == nil {
		t.Fatal("expected an error for an unrecognized signal")
	}
}

func TestClosePositionUsesLivePositionSideAndQuantity(t *testing.T) {
	client := &fakeClient{
		price:     100,
		positions: []venue.Position{{Symbol: "ETHUSDT", Side: "short", Quantity: 2, Leverage: 3}},
	}
	exec := New(&fakeResolver{client: client}, nil)

	order, err := exec.ClosePosition(context.Background(), Request{Symbol: "ETHUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Side != SideCloseShort {
		t.Fatalf("expected close_short to match the live short position, got %s", order.Side)
	}
	if len(client.placed) != 1 || client.placed[0].side != "BUY" || !client.placed[0].reduceOnly {
		t.Fatalf("expected a reduce-only BUY to close the short, got %+v", client.placed)
	}
}

func TestClosePositionErrorsWhenNoPositionExists(t *testing.T) {
	client := &fakeClient{price: 100}
	exec := New(&fakeResolver{client: client}, nil)
	_, err := exec.ClosePosition(context.Background(), Request{Symbol: "BTCUSDT"})
	if err == nil {
		t.Fatal("expected an error when there is no open position")
	}
}

func TestGetBalanceResolvesClientAndReturnsAccountBalance(t *testing.T) {
	client := &fakeClient{price: 100}
	exec := New(&fakeResolver{client: client}, nil)
	bal, err := exec.GetBalance(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Available != 1000 || bal.Currency != "USDT" {
		t.Fatalf("unexpected balance: %+v", bal)
	}
}

func TestGetPositionFindsMatchingSymbol(t *testing.T) {
	client := &fakeClient{price: 100, positions: []venue.Position{{Symbol: "BTCUSDT", Side: "long", Quantity: 1}}}
	exec := New(&fakeResolver{client: client}, nil)
	pos, ok, err := exec.GetPosition(context.Background(), Request{Symbol: "btcusdt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || pos.Quantity != 1 {
		t.Fatalf("expected a matching position, got ok=%v pos=%+v", ok, pos)
	}
}

func TestGetPositionReturnsFalseWhenNoneOpen(t *testing.T) {
	client := &fakeClient{price: 100}
	exec := New(&fakeResolver{client: client}, nil)
	_, ok, err := exec.GetPosition(context.Background(), Request{Symbol: "ETHUSDT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no position to be found")
	}
}

func TestMarketTypeDerivationFromQuoteAsset(t *testing.T) {
	if got := marketTypeFor("BTCUSDT", 1); got != MarketPerpetual {
		t.Fatalf("expected USDT-quoted symbols to be perpetual, got %s", got)
	}
	if got := marketTypeFor("BTCETH", 1); got != MarketSpot {
		t.Fatalf("expected a non-stable quote with leverage 1 to be spot, got %s", got)
	}
}
