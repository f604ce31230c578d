package handler

import (
	"net/http"

	"github.com/GoPolymarket/venuegate/internal/middleware"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	Gate        *service.AuthGate
	Admission   *service.AdmissionControl
	Orders      *service.OrderManager
	Identities  *service.IdentityService
	Market      *service.MarketService
	Idempotency middleware.IdempotencyStore

	AdminKey    string
	ReadOnly    bool
	CORSOrigins []string
	// MetricsPath is left unrouted when empty.
	MetricsPath string
}

func NewRouter(d RouterDeps) *gin.Engine {
	orderHandler := NewOrderHandler(d.Orders)
	identityHandler := NewIdentityHandler(d.Identities)
	marketHandler := NewMarketHandler(d.Market, d.Admission)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogMiddleware())
	r.Use(middleware.CORSMiddleware(d.CORSOrigins))
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.ReadOnlyMiddleware(d.ReadOnly))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "venuegate", "read_only": d.ReadOnly})
	})
	if d.MetricsPath != "" {
		r.GET(d.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	rateLimit := middleware.RateLimitMiddleware(d.Admission)

	// 公共行情, 只按来源地址限流
	r.GET("/v1/market/:venue/ticker/:symbol", rateLimit, marketHandler.Ticker)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.Gate))
	v1.Use(rateLimit)
	{
		read := middleware.RequirePermission(model.PermRead)
		trade := middleware.RequirePermission(model.PermTrade)

		v1.POST("/orders", trade, middleware.IdempotencyMiddleware(d.Idempotency), orderHandler.Create)
		v1.GET("/orders", read, orderHandler.List)
		v1.GET("/orders/:id", read, orderHandler.Get)
		v1.DELETE("/orders/:id", trade, orderHandler.Cancel)
		v1.GET("/orders/:id/transitions", read, orderHandler.Transitions)
		v1.GET("/balances/:venue", read, marketHandler.Balances)
		v1.GET("/ratelimit", marketHandler.RateLimit)
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(d.AdminKey))
	{
		admin.POST("/identities", identityHandler.Create)
		admin.GET("/identities", identityHandler.List)
		admin.GET("/identities/:id", identityHandler.Get)
		admin.PUT("/identities/:id/status", identityHandler.UpdateStatus)
		admin.POST("/identities/:id/rotate", identityHandler.RotateSecret)
	}

	return r
}
