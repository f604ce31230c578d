package middleware

import (
	"context"
	"strconv"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"

type IdempotencyStore interface {
	// GetOrLock returns (record, true) if the key exists; (nil, false) if the
	// caller now holds the lock.
	GetOrLock(ctx context.Context, key string) (*model.IdempotencyRecord, bool, error)
	Save(ctx context.Context, key string, status int, body []byte) error
	Unlock(ctx context.Context, key string) error
}

// IdempotencyMiddleware 幂等性中间件, keyed by identity and X-Idempotency-Key.
// Must run after AuthMiddleware.
func IdempotencyMiddleware(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := c.GetHeader(HeaderIdempotencyKey)
		p := PrincipalFrom(c)
		if idemKey == "" || p == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		fullKey := strconv.FormatUint(p.IdentityID, 10) + ":" + idemKey

		record, hit, err := store.GetOrLock(ctx, fullKey)
		if err != nil {
			// store down: process without replay protection
			logger.Warn("idempotency store unavailable", "error", err)
			c.Next()
			return
		}
		if hit {
			if record.Processing {
				c.Error(apperrors.New(apperrors.ErrConflict, "request with this idempotency key is in progress", nil))
				c.Abort()
				return
			}
			c.Header("X-Idempotent-Replay", "true")
			c.Data(record.Status, "application/json; charset=utf-8", record.Body)
			c.Abort()
			return
		}

		// released on every path that does not store a result, panics included
		bg := context.WithoutCancel(ctx)
		saved := false
		defer func() {
			if saved {
				return
			}
			if err := store.Unlock(bg, fullKey); err != nil {
				logger.Warn("idempotency unlock failed", "error", err)
			}
		}()

		w := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		// errors are rendered here so the stored body matches what the client saw
		if len(c.Errors) > 0 && !c.Writer.Written() {
			renderError(c)
		}

		// 服务器内部错误允许重试, 所以不保存结果
		if c.Writer.Status() >= 500 {
			return
		}
		if err := store.Save(bg, fullKey, c.Writer.Status(), w.body); err != nil {
			logger.Warn("idempotency save failed", "error", err)
			return
		}
		saved = true
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}
