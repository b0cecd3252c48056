// Package httpapi is the inbound HTTP surface (spec.md §6): a gin
// router exposing the analysis, quick-trade, Polymarket, global-market,
// and backtest endpoints behind a uniform {code, msg, data} JSON
// envelope. Grounded on api/server.go's Server struct, corsMiddleware,
// and setupRoutes route-group layout, adapted from the teacher's
// gin.H{"error": ...} ad hoc error shape to the envelope spec.md §6
// requires.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quantcore/internal/analysis"
	"quantcore/internal/auth"
	"quantcore/internal/backtest"
	"quantcore/internal/datasource"
	"quantcore/internal/macro"
	"quantcore/internal/memory"
	"quantcore/internal/notify"
	"quantcore/internal/prediction"
	"quantcore/internal/quicktrade"
	"quantcore/internal/venue"
)

// MarketProvider lists/fetches Polymarket event markets, backing
// GET /polymarket/markets... Implemented by
// internal/datasource/polymarket.Client.
type MarketProvider interface {
	ListMarkets(ctx context.Context, category string, limit int) ([]prediction.Event, error)
	GetMarket(ctx context.Context, id string) (prediction.Event, error)
	SearchMarkets(ctx context.Context, q string, limit int) ([]prediction.Event, error)
}

// CredentialResolver resolves a quick-trade request's credential_id
// into venue API keys, implemented by internal/secretstore.CredentialStore.
type CredentialResolver interface {
	Resolve(ctx context.Context, id string) (quicktrade.Credential, error)
}

// HistoryLister serves GET /quick-trade/history, implemented by
// internal/store.QuickTradeLedger.
type HistoryLister interface {
	History(ctx context.Context, userID string, limit, offset int) ([]quicktrade.Order, error)
}

// RunStore persists and loads backtest runs, implemented by
// internal/backtest.Store.
type RunStore interface {
	SaveRun(ctx context.Context, runID string, cfg backtest.Config, res backtest.Result) error
}

// KlineSource is the subset of internal/datasource.Factory the backtest
// endpoints need to pull historical bars.
type KlineSource interface {
	GetKline(market datasource.Market, venueHint, symbol, timeframe string, limit int, beforeTime *int64) ([]venue.Bar, error)
}

// Deps wires every domain component a route handler can reach. Any
// field left nil disables the endpoints that need it (returned as
// unsupported_operation) rather than panicking, so a partially
// configured process still serves the rest of the surface.
type Deps struct {
	Analysis     *analysis.Engine
	Memory       *memory.Store
	Prediction   *prediction.Analyzer
	Markets      MarketProvider
	Macro        *macro.Aggregator
	QuickTrade   *quicktrade.Executor
	History      HistoryLister
	Credentials  CredentialResolver
	Backtest     KlineSource
	BacktestRuns RunStore
	Auth         *auth.Service
	Notify       *notify.Manager
}

// Server is the HTTP surface's composition root, mirroring
// api/server.go's Server struct.
type Server struct {
	router *gin.Engine
	deps   Deps
	srv    *http.Server
}

// NewServer builds the router and registers every route group.
func NewServer(deps Deps, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{router: router, deps: deps}
	s.setupRoutes()
	s.srv = &http.Server{Addr: addr, Handler: router}
	return s
}

// ListenAndServe blocks serving HTTP until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// corsMiddleware mirrors api/server.go's permissive CORS policy.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", healthHandler)

	api.POST("/analysis/fast", s.handleAnalysisFast)
	api.POST("/analysis/feedback", s.handleAnalysisFeedback)
	api.GET("/analysis/history", s.handleAnalysisHistory)

	api.GET("/polymarket/markets", s.handlePolymarketList)
	api.GET("/polymarket/markets/:id", s.handlePolymarketGet)
	api.GET("/polymarket/search", s.handlePolymarketSearch)
	api.GET("/polymarket/recommendations", s.handlePolymarketRecommendations)

	api.GET("/global-market/overview", s.handleGlobalMarketOverview)
	api.GET("/global-market/sentiment", s.handleGlobalMarketOverview)

	// Quick-trade moves real money and the backtest engine is
	// compute-heavy, so both groups sit behind the bearer-token
	// middleware the way api/server.go gates its "protected" group.
	protected := api.Group("/", s.authMiddleware())
	protected.POST("/quick-trade/place-order", s.handlePlaceOrder)
	protected.POST("/quick-trade/close-position", s.handleClosePosition)
	protected.GET("/quick-trade/balance", s.handleQuickTradeBalance)
	protected.GET("/quick-trade/position", s.handleQuickTradePosition)
	protected.GET("/quick-trade/history", s.handleQuickTradeHistory)

	protected.POST("/backtest/run", s.handleBacktestRun(false))
	protected.POST("/backtest/run-mtf", s.handleBacktestRun(true))
}

// authMiddleware validates the Authorization: Bearer <jwt> header,
// mirroring api/server.go's authMiddleware/ValidateJWT/IsTokenBlacklisted
// chain. When no auth.Service is configured, every request is let
// through unauthenticated rather than locking out a dev deployment that
// never set a JWT secret.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Auth == nil {
			c.Next()
			return
		}
		token := auth.StripBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{Code: 0, Msg: "missing bearer token", Data: nil})
			return
		}
		claims, err := s.deps.Auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{Code: 0, Msg: "invalid or expired token", Data: nil})
			return
		}
		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- envelope helpers ---

type envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, envelope{Code: 1, Msg: "ok", Data: data})
}

// fail writes spec.md §7's user-visible-failure envelope: a 200 carrying
// {code:0,...} for ordinary business errors, reserving 401/404/500 for
// auth failures, entity-not-found, and unhandled exceptions respectively.
func fail(c *gin.Context, err error) {
	status, msg := classifyError(err)
	c.JSON(status, envelope{Code: 0, Msg: msg, Data: nil})
}

// classifyError implements spec §7's "200 on business errors, 401/404/500
// only on auth, not-found-of-entity, or unhandled exception" rule.
func classifyError(err error) (int, string) {
	var verr *venue.Error
	if errors.As(err, &verr) {
		switch verr.Kind {
		case venue.KindMissingCredential:
			return http.StatusUnauthorized, string(verr.Kind)
		case venue.KindSymbolNotFound, venue.KindOrderNotFound:
			return http.StatusNotFound, verr.Error()
		default:
			return http.StatusOK, verr.Error()
		}
	}
	return http.StatusInternalServerError, err.Error()
}

// backtestFail implements spec §7's backtest-specific carve-out: "Backtest
// failures produce a non-2xx and a concise explanation referencing the
// first failing stage." Ordinary venue.Error kinds still map onto a
// meaningful status instead of the blanket 500 an opaque error gets.
func backtestFail(c *gin.Context, stage string, err error) {
	status := http.StatusInternalServerError
	var verr *venue.Error
	if errors.As(err, &verr) {
		switch verr.Kind {
		case venue.KindMissingCredential:
			status = http.StatusUnauthorized
		case venue.KindSymbolNotFound, venue.KindOrderNotFound:
			status = http.StatusNotFound
		case venue.KindTimeout:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, envelope{Code: 0, Msg: fmt.Sprintf("%s: %s", stage, err.Error()), Data: nil})
}

// unsupportedOp reports a route whose backing dependency isn't wired for
// this process, as a venue.Error so classifyError treats it as the
// business error spec §7 intends rather than an opaque 500.
func unsupportedOp(msg string) error {
	return venue.NewError(venue.KindUnsupportedOp, "", "", msg, "")
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
