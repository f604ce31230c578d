package middleware

import (
	"slices"
	"time"

	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			signer.HeaderAPIKey, signer.HeaderTimestamp, signer.HeaderSignature,
			HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{
			"Content-Length", HeaderRequestID, "Retry-After",
			HeaderRateLimit, HeaderRateRemaining, HeaderRateReset,
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
