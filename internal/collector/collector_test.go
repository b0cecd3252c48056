package collector

import (
	"context"
	"testing"
	"time"

	"quantcore/internal/datasource"
	"quantcore/internal/venue"
)

type fakeKlineSource struct {
	bars []venue.Bar
}

func (f *fakeKlineSource) ID() string { return "fake" }
func (f *fakeKlineSource) GetKline(symbol, interval string, limit int, endTime int64) ([]venue.Bar, error) {
	return f.bars, nil
}
func (f *fakeKlineSource) GetMarketPrice(symbol string) (float64, error) {
	if len(f.bars) == 0 {
		return 0, venue.NewError(venue.KindPriceUnavailable, "fake", symbol, "no bars", "")
	}
	return f.bars[len(f.bars)-1].Close, nil
}

// the rest of venue.Trader is unused by the collector's price/kline legs;
// only ID/GetKline/GetMarketPrice need real bodies for these tests.
func (f *fakeKlineSource) Ping() error                             { return nil }
func (f *fakeKlineSource) GetBalance() (venue.Balance, error)      { return venue.Balance{}, nil }
func (f *fakeKlineSource) GetPositions() ([]venue.Position, error) { return nil, nil }
func (f *fakeKlineSource) PlaceLimitOrder(symbol, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeKlineSource) PlaceMarketOrder(symbol, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeKlineSource) CancelOrder(symbol, orderID string) error { return nil }
func (f *fakeKlineSource) GetOrder(symbol, orderID string) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeKlineSource) WaitForFill(symbol, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (f *fakeKlineSource) SetLeverage(symbol string, leverage int) error        { return nil }
func (f *fakeKlineSource) GetOpenOrders(symbol string) ([]venue.OpenOrder, error) { return nil, nil }
func (f *fakeKlineSource) CancelAllOrders(symbol string) error                 { return nil }
func (f *fakeKlineSource) FormatQuantity(symbol string, qty float64) (string, error) {
	return "", nil
}
func (f *fakeKlineSource) FormatPrice(symbol string, price float64) (string, error) {
	return "", nil
}

func seriesOf(n int) []venue.Bar {
	bars := make([]venue.Bar, n)
	for i := range bars {
		bars[i] = venue.Bar{Time: int64(i) * 3600, Open: 100, High: 101, Low: 99, Close: 100 + float64(i), Volume: 10}
	}
	return bars
}

func TestCollectAllSucceedsWithPriceAndKlineOnly(t *testing.T) {
	src := &fakeKlineSource{bars: seriesOf(50)}
	factory := datasource.NewFactory(map[string]venue.KlineSource{"fake": src}, "fake", nil, nil)
	c := New(factory, nil, nil, nil, nil, nil, nil)

	rec, err := c.CollectAll(context.Background(), datasource.MarketCrypto, "BTCUSDT", "1h", false, false, false, 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Price == 0 {
		t.Fatalf("expected a recovered price from the last kline close")
	}
	if len(rec.Kline) != 50 {
		t.Fatalf("got %d bars, want 50", len(rec.Kline))
	}
	found := false
	for _, s := range rec.Meta.SuccessItems {
		if s == "kline" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected kline recorded as a success item, got %v", rec.Meta.SuccessItems)
	}
}

func TestCollectAllFailsWithoutAnyPrice(t *testing.T) {
	src := &fakeKlineSource{}
	factory := datasource.NewFactory(map[string]venue.KlineSource{"fake": src}, "fake", nil, nil)
	c := New(factory, nil, nil, nil, nil, nil, nil)

	_, err := c.CollectAll(context.Background(), datasource.MarketCrypto, "BTCUSDT", "1h", false, false, false, 5*time.Second)
	if err == nil {
		t.Fatalf("expected an error when neither price nor kline is recoverable")
	}
	var verr *venue.Error
	if !venueErrorAs(err, &verr) || verr.Kind != venue.KindPriceUnavailable {
		t.Fatalf("expected KindPriceUnavailable, got %v", err)
	}
}

func venueErrorAs(err error, target **venue.Error) bool {
	ve, ok := err.(*venue.Error)
	if !ok {
		return false
	}
	*target = ve
	return true
}

type fakeSentimentCache struct {
	value MacroSnapshot
	has   bool
}

func (c *fakeSentimentCache) Get(key string) (MacroSnapshot, bool) { return c.value, c.has }
func (c *fakeSentimentCache) Set(key string, value MacroSnapshot)  { c.value = value; c.has = true }

func TestCollectAllUsesCachedMacroWithoutCallingProvider(t *testing.T) {
	src := &fakeKlineSource{bars: seriesOf(10)}
	factory := datasource.NewFactory(map[string]venue.KlineSource{"fake": src}, "fake", nil, nil)
	cached := &fakeSentimentCache{value: MacroSnapshot{VIX: 20, DXY: 104, TenYear: 4.2, FearGreed: 55}, has: true}
	c := New(factory, nil, nil, explodingMacro{}, nil, nil, cached)

	rec, err := c.CollectAll(context.Background(), datasource.MarketCrypto, "BTCUSDT", "1h", true, false, false, 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Macro != cached.value {
		t.Fatalf("expected cached macro snapshot to be used, got %+v", rec.Macro)
	}
}

// explodingMacro panics if ever called, proving the cache hit short-circuits
// the network leg entirely.
type explodingMacro struct{}

func (explodingMacro) GetMacro(ctx context.Context) (MacroSnapshot, error) {
	panic("macro provider should not be called when the sentiment cache has a fresh entry")
}
