package middleware

import (
	"net/http"
	"strings"

	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

// ReadOnlyMiddleware halts trading. Cancels and admin calls stay open so
// exposure can still be reduced and identities managed.
func ReadOnlyMiddleware(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		if c.Request.Method == http.MethodDelete && c.FullPath() == "/v1/orders/:id" {
			c.Next()
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/v1/admin/") {
			c.Next()
			return
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			c.Error(apperrors.New(apperrors.ErrReadOnly, "read-only mode enabled", nil))
			c.Abort()
		}
	}
}
