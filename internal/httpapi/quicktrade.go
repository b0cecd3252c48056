package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantcore/internal/notify"
	"quantcore/internal/quicktrade"
)

type placeOrderRequest struct {
	UserID       string  `json:"user_id" binding:"required"`
	CredentialID string  `json:"credential_id" binding:"required"`
	Symbol       string  `json:"symbol" binding:"required"`
	Signal       string  `json:"signal" binding:"required"`
	USDTAmount   float64 `json:"usdt_amount" binding:"required"`
	Leverage     int     `json:"leverage"`
	ReduceOnly   bool    `json:"reduce_only"`
}

// resolveCredential turns a credential_id into the venue credential the
// quicktrade.Executor needs, going through the shared credential store
// so handlers never see raw API secrets.
func (s *Server) resolveCredential(c *gin.Context, credentialID string) (quicktrade.Credential, bool) {
	if s.deps.Credentials == nil {
		fail(c, unsupportedOp("credential store not configured"))
		return quicktrade.Credential{}, false
	}
	cred, err := s.deps.Credentials.Resolve(c.Request.Context(), credentialID)
	if err != nil {
		fail(c, err)
		return quicktrade.Credential{}, false
	}
	return cred, true
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	if s.deps.QuickTrade == nil {
		fail(c, unsupportedOp("quick-trade executor not configured"))
		return
	}
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "invalid request body: " + err.Error(), Data: nil})
		return
	}
	cred, valid := s.resolveCredential(c, req.CredentialID)
	if !valid {
		return
	}

	order, err := s.deps.QuickTrade.PlaceOrder(c.Request.Context(), quicktrade.Request{
		UserID:     req.UserID,
		Credential: cred,
		Symbol:     req.Symbol,
		Signal:     req.Signal,
		USDTAmount: req.USDTAmount,
		Leverage:   req.Leverage,
		ReduceOnly: req.ReduceOnly,
	})
	if err != nil {
		fail(c, err)
		return
	}

	if s.deps.Notify != nil {
		s.deps.Notify.Notify(orderFilledEvent(order))
	}
	ok(c, order)
}

type closePositionRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	CredentialID string `json:"credential_id" binding:"required"`
	Symbol       string `json:"symbol" binding:"required"`
}

func (s *Server) handleClosePosition(c *gin.Context) {
	if s.deps.QuickTrade == nil {
		fail(c, unsupportedOp("quick-trade executor not configured"))
		return
	}
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "invalid request body: " + err.Error(), Data: nil})
		return
	}
	cred, valid := s.resolveCredential(c, req.CredentialID)
	if !valid {
		return
	}

	order, err := s.deps.QuickTrade.ClosePosition(c.Request.Context(), quicktrade.Request{
		UserID:     req.UserID,
		Credential: cred,
		Symbol:     req.Symbol,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if s.deps.Notify != nil {
		s.deps.Notify.Notify(orderFilledEvent(order))
	}
	ok(c, order)
}

func (s *Server) handleQuickTradeBalance(c *gin.Context) {
	if s.deps.QuickTrade == nil {
		fail(c, unsupportedOp("quick-trade executor not configured"))
		return
	}
	cred, valid := s.resolveCredential(c, c.Query("credential_id"))
	if !valid {
		return
	}
	balance, err := s.deps.QuickTrade.GetBalance(c.Request.Context(), quicktrade.Request{Credential: cred})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, balance)
}

func (s *Server) handleQuickTradePosition(c *gin.Context) {
	if s.deps.QuickTrade == nil {
		fail(c, unsupportedOp("quick-trade executor not configured"))
		return
	}
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "symbol is required", Data: nil})
		return
	}
	cred, valid := s.resolveCredential(c, c.Query("credential_id"))
	if !valid {
		return
	}
	position, found, err := s.deps.QuickTrade.GetPosition(c.Request.Context(), quicktrade.Request{Credential: cred, Symbol: symbol})
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		ok(c, nil)
		return
	}
	ok(c, position)
}

func (s *Server) handleQuickTradeHistory(c *gin.Context) {
	if s.deps.History == nil {
		fail(c, unsupportedOp("quick-trade history store not configured"))
		return
	}
	userID := c.Query("user_id")
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	orders, err := s.deps.History.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, orders)
}

// orderFilledEvent builds the fill notification fan-out event for a
// successfully placed or closed quick-trade order.
func orderFilledEvent(o *quicktrade.Order) notify.Event {
	return notify.Event{
		Kind:     notify.EventFilled,
		Symbol:   o.Symbol,
		Side:     string(o.Side),
		Quantity: o.Quantity,
	}
}
