package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quantcore/internal/auth"
	"quantcore/internal/prediction"
	"quantcore/internal/quicktrade"
	"quantcore/internal/venue"
)

func newTestAuthService(t *testing.T) *auth.Service {
	t.Helper()
	return auth.New([]byte("test-secret"))
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	srv := NewServer(Deps{}, ":0")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUnconfiguredDependencyReturnsUnsupportedOperation(t *testing.T) {
	srv := NewServer(Deps{}, ":0")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/global-market/overview", nil)
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 business-error envelope, got %d", rec.Code)
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Code != 0 || !strings.Contains(env.Msg, "unsupported_operation") {
		t.Fatalf("expected an unsupported_operation business error, got %+v", env)
	}
}

func TestClassifyErrorMapsMissingCredentialTo401(t *testing.T) {
	status, _ := classifyError(venue.NewError(venue.KindMissingCredential, "binance", "", "no key", ""))
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestClassifyErrorMapsSymbolNotFoundTo404(t *testing.T) {
	status, _ := classifyError(venue.NewError(venue.KindSymbolNotFound, "binance", "XXXX", "unknown symbol", ""))
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestClassifyErrorMapsOrdinaryBusinessErrorTo200(t *testing.T) {
	status, _ := classifyError(venue.NewError(venue.KindInsufficientFunds, "binance", "BTCUSDT", "not enough margin", ""))
	if status != http.StatusOK {
		t.Fatalf("expected 200 per spec's business-error rule, got %d", status)
	}
}

func TestClassifyErrorMapsOpaqueErrorTo500(t *testing.T) {
	status, _ := classifyError(context.DeadlineExceeded)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for an unhandled error, got %d", status)
	}
}

type fakeMarkets struct{}

func (fakeMarkets) ListMarkets(ctx context.Context, category string, limit int) ([]prediction.Event, error) {
	return []prediction.Event{{MarketID: "1", Question: "Will it rain?"}}, nil
}
func (fakeMarkets) GetMarket(ctx context.Context, id string) (prediction.Event, error) {
	return prediction.Event{MarketID: id}, nil
}
func (fakeMarkets) SearchMarkets(ctx context.Context, q string, limit int) ([]prediction.Event, error) {
	return nil, nil
}

func TestPolymarketListReturnsMarkets(t *testing.T) {
	srv := NewServer(Deps{Markets: fakeMarkets{}}, ":0")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/polymarket/markets", nil)
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Code != 1 {
		t.Fatalf("expected success envelope, got %+v", env)
	}
}

type fakeCredentials struct{}

func (fakeCredentials) Resolve(ctx context.Context, id string) (quicktrade.Credential, error) {
	return quicktrade.Credential{Exchange: "binance", APIKey: "k", SecretKey: "s"}, nil
}

type fakeTrader struct{}

func (fakeTrader) ID() string  { return "fake" }
func (fakeTrader) Ping() error { return nil }
func (fakeTrader) GetBalance() (venue.Balance, error) {
	return venue.Balance{Available: 500, Total: 500, Currency: "USDT"}, nil
}
func (fakeTrader) GetPositions() ([]venue.Position, error) { return nil, nil }
func (fakeTrader) PlaceLimitOrder(symbol, side string, quantity, price float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (fakeTrader) PlaceMarketOrder(symbol, side string, quantity float64, reduceOnly bool) (*venue.LiveOrderResult, error) {
	return &venue.LiveOrderResult{ExchangeOrderID: "1", Filled: quantity, Status: "FILLED"}, nil
}
func (fakeTrader) CancelOrder(symbol, orderID string) error { return nil }
func (fakeTrader) GetOrder(symbol, orderID string) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (fakeTrader) WaitForFill(symbol, orderID string, maxWait, pollInterval time.Duration) (*venue.LiveOrderResult, error) {
	return nil, nil
}
func (fakeTrader) SetLeverage(symbol string, leverage int) error          { return nil }
func (fakeTrader) GetMarketPrice(symbol string) (float64, error)          { return 100, nil }
func (fakeTrader) GetOpenOrders(symbol string) ([]venue.OpenOrder, error) { return nil, nil }
func (fakeTrader) CancelAllOrders(symbol string) error                    { return nil }
func (fakeTrader) FormatQuantity(symbol string, quantity float64) (string, error) {
	return "1", nil
}
func (fakeTrader) FormatPrice(symbol string, price float64) (string, error) { return "100", nil }

type fakeResolver struct{}

func (fakeResolver) Resolve(cred quicktrade.Credential) (venue.Trader, error) {
	return fakeTrader{}, nil
}

func TestQuickTradeBalanceRequiresBearerTokenWhenAuthConfigured(t *testing.T) {
	exec := quicktrade.New(fakeResolver{}, nil)
	deps := Deps{
		QuickTrade:  exec,
		Credentials: fakeCredentials{},
	}
	deps.Auth = newTestAuthService(t)
	srv := NewServer(deps, ":0")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/quick-trade/balance?credential_id=c1", nil)
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}
