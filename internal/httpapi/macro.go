package httpapi

import (
	"github.com/gin-gonic/gin"
)

// handleGlobalMarketOverview backs both GET /global-market/overview and
// GET /global-market/sentiment — the Composite already carries the
// sentiment-level fields spec.md §6 documents for the latter.
func (s *Server) handleGlobalMarketOverview(c *gin.Context) {
	if s.deps.Macro == nil {
		fail(c, unsupportedOp("macro aggregator not configured"))
		return
	}
	composite, err := s.deps.Macro.GetComposite(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, composite)
}
