package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handlePolymarketList(c *gin.Context) {
	if s.deps.Markets == nil {
		fail(c, unsupportedOp("market provider not configured"))
		return
	}
	category := c.Query("category")
	limit := queryInt(c, "limit", 50)
	events, err := s.deps.Markets.ListMarkets(c.Request.Context(), category, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, events)
}

func (s *Server) handlePolymarketGet(c *gin.Context) {
	if s.deps.Markets == nil {
		fail(c, unsupportedOp("market provider not configured"))
		return
	}
	id := c.Param("id")
	event, err := s.deps.Markets.GetMarket(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, event)
}

func (s *Server) handlePolymarketSearch(c *gin.Context) {
	if s.deps.Markets == nil {
		fail(c, unsupportedOp("market provider not configured"))
		return
	}
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "q is required", Data: nil})
		return
	}
	limit := queryInt(c, "limit", 20)
	events, err := s.deps.Markets.SearchMarkets(c.Request.Context(), q, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, events)
}

// handlePolymarketRecommendations runs the batch AI analyzer over the
// current active market list and returns its top opportunities.
func (s *Server) handlePolymarketRecommendations(c *gin.Context) {
	if s.deps.Markets == nil || s.deps.Prediction == nil {
		fail(c, unsupportedOp("market provider or prediction analyzer not configured"))
		return
	}
	limit := queryInt(c, "limit", 10)
	model := c.Query("model")

	events, err := s.deps.Markets.ListMarkets(c.Request.Context(), c.Query("category"), 100)
	if err != nil {
		fail(c, err)
		return
	}
	opportunities, err := s.deps.Prediction.BatchAnalyzeMarkets(c.Request.Context(), events, limit, model)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, opportunities)
}
