package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error pushed with c.Error as the standard
// failure envelope, unless an inner middleware already rendered it.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		renderError(c)
	}
}

func renderError(c *gin.Context) {
	err := c.Errors.Last().Err
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		// Unknown error, wrap as Internal
		appErr = apperrors.New(apperrors.ErrInternal, "internal error", err)
	}

	logFields := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"code", appErr.Type,
		"client_ip", c.ClientIP(),
	}
	if appErr.Reason != "" {
		logFields = append(logFields, "reason", appErr.Reason)
	}

	if appErr.HTTPStatus >= 500 {
		logger.LogError(c.Request.Context(), appErr, "request failed", logFields...)
	} else {
		logger.Warn(appErr.Message, logFields...)
	}

	if appErr.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"success":   false,
		"error":     appErr,
		"timestamp": time.Now().UnixMilli(),
	})
}
