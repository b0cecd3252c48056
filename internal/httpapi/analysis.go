package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantcore/internal/analysis"
	"quantcore/internal/datasource"
)

type analysisFastRequest struct {
	Market    string `json:"market" binding:"required"`
	Symbol    string `json:"symbol" binding:"required"`
	Timeframe string `json:"timeframe"`
	Language  string `json:"language"`
	Model     string `json:"model"`
}

func (s *Server) handleAnalysisFast(c *gin.Context) {
	if s.deps.Analysis == nil {
		fail(c, unsupportedOp("analysis engine not configured"))
		return
	}
	var req analysisFastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "invalid request body: " + err.Error(), Data: nil})
		return
	}
	if req.Timeframe == "" {
		req.Timeframe = "1h"
	}
	lang := analysis.Language(req.Language)
	if req.Language == "" {
		lang = analysis.LangEnglish
	}

	result, err := s.deps.Analysis.Analyze(c.Request.Context(), datasource.Market(req.Market), req.Symbol, lang, req.Model, req.Timeframe)
	if err != nil {
		fail(c, err)
		return
	}

	if s.deps.Memory != nil {
		if _, saveErr := s.deps.Memory.Store(c.Request.Context(), result); saveErr != nil {
			// persistence failure never fails the already-computed analysis.
			_ = saveErr
		}
	}
	ok(c, result)
}

type analysisFeedbackRequest struct {
	MemoryID string `json:"memory_id" binding:"required"`
	Feedback string `json:"feedback" binding:"required"`
}

var validFeedbacks = map[string]bool{"helpful": true, "not_helpful": true, "accurate": true, "inaccurate": true}

func (s *Server) handleAnalysisFeedback(c *gin.Context) {
	if s.deps.Memory == nil {
		fail(c, unsupportedOp("memory store not configured"))
		return
	}
	var req analysisFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "invalid request body: " + err.Error(), Data: nil})
		return
	}
	if !validFeedbacks[req.Feedback] {
		c.JSON(http.StatusBadRequest, envelope{Code: 0, Msg: "invalid feedback value", Data: nil})
		return
	}
	if err := s.deps.Memory.RecordFeedback(c.Request.Context(), req.MemoryID, req.Feedback); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"ok": true})
}

func (s *Server) handleAnalysisHistory(c *gin.Context) {
	if s.deps.Memory == nil {
		fail(c, unsupportedOp("memory store not configured"))
		return
	}
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	records, err := s.deps.Memory.GetAllHistory(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, records)
}
