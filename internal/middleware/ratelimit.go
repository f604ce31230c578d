package middleware

import (
	"errors"
	"strconv"

	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
)

// SubjectFrom counts authenticated callers by identity and everyone else by
// client address.
func SubjectFrom(c *gin.Context) service.Subject {
	if p := PrincipalFrom(c); p != nil {
		return service.Subject{IdentityID: p.IdentityID}
	}
	return service.Subject{Source: c.ClientIP()}
}

// RateLimitMiddleware must run after AuthMiddleware on authenticated routes.
func RateLimitMiddleware(ac *service.AdmissionControl) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := ac.Admit(c.Request.Context(), SubjectFrom(c), c.Request.Method, c.Request.URL.Path)
		if err != nil {
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				if limit, ok := appErr.Details["limit"].(int); ok {
					c.Header(HeaderRateLimit, strconv.Itoa(limit))
				}
				c.Header(HeaderRateRemaining, "0")
				if reset, ok := appErr.Details["reset_at"].(int64); ok {
					c.Header(HeaderRateReset, strconv.FormatInt(reset/1000, 10))
				}
			}
			c.Error(err)
			c.Abort()
			return
		}

		c.Header(HeaderRateLimit, strconv.Itoa(q.Limit))
		c.Header(HeaderRateRemaining, strconv.Itoa(q.Remaining))
		c.Header(HeaderRateReset, strconv.FormatInt(q.ResetAt.Unix(), 10))
		c.Next()
	}
}
