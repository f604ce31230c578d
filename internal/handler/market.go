package handler

import (
	"net/http"

	"github.com/GoPolymarket/venuegate/internal/middleware"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/gin-gonic/gin"
)

type MarketHandler struct {
	market    *service.MarketService
	admission *service.AdmissionControl
}

func NewMarketHandler(market *service.MarketService, admission *service.AdmissionControl) *MarketHandler {
	return &MarketHandler{market: market, admission: admission}
}

// Ticker is public; callers are only rate limited by source address.
func (h *MarketHandler) Ticker(c *gin.Context) {
	t, err := h.market.Ticker(c.Request.Context(), c.Param("venue"), c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, t)
}

func (h *MarketHandler) Balances(c *gin.Context) {
	bals, err := h.market.Balances(c.Request.Context(), c.Param("venue"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, bals)
}

// RateLimit reports the caller's remaining quota for ?method=&path= without
// spending a request on that route.
func (h *MarketHandler) RateLimit(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		fail(c, apperrors.NewValidation(apperrors.ReasonInvalidInput, "path query parameter is required"))
		return
	}
	method := c.DefaultQuery("method", http.MethodGet)
	respond(c, http.StatusOK, h.admission.Peek(c.Request.Context(), middleware.SubjectFrom(c), method, path))
}
