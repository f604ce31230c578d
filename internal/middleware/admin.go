package middleware

import (
	"crypto/subtle"

	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

const HeaderAdminKey = "X-Admin-Key"

func AdminMiddleware(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.Error(apperrors.NewAuthorization("admin key not configured"))
			c.Abort()
			return
		}
		got := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			c.Error(apperrors.NewAuthentication(apperrors.ReasonMissingCredentials, "invalid admin key"))
			c.Abort()
			return
		}
		c.Next()
	}
}
