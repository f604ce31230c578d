package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID   = "X-Request-ID"
	ContextRequestLog = "request_log"
)

// bodyLogWriter 包装 ResponseWriter 以捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// RequestLogMiddleware assigns a request id and emits one structured line per
// request with sensitive JSON fields redacted.
func RequestLogMiddleware() gin.HandlerFunc {
	log := logger.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.New().String()
		}
		c.Header(HeaderRequestID, reqID)

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(reqBody))
		}

		entry := &model.RequestLog{
			ID:        reqID,
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			CreatedAt: start,
			Context:   make(map[string]any),
		}
		c.Set(ContextRequestLog, entry)

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if p := PrincipalFrom(c); p != nil {
			entry.IdentityID = p.IdentityID
		}
		entry.Route = c.FullPath()
		entry.RequestBody = redactBody(entry.Path, reqBody)
		entry.StatusCode = c.Writer.Status()
		entry.ResponseBody = redactBody(entry.Path, blw.body.Bytes())
		entry.LatencyMs = time.Since(start).Milliseconds()

		log.Info("request",
			"request_id", entry.ID,
			"identity_id", entry.IdentityID,
			"method", entry.Method,
			"path", entry.Path,
			"route", entry.Route,
			"status", entry.StatusCode,
			"latency_ms", entry.LatencyMs,
			"ip", entry.IP,
			"user_agent", entry.UserAgent,
			"request_body", entry.RequestBody,
			"response_body", entry.ResponseBody,
			"context", entry.Context,
		)
	}
}

// AddLogContext 允许 Handler 向请求日志添加业务上下文
func AddLogContext(c *gin.Context, key string, value any) {
	if val, exists := c.Get(ContextRequestLog); exists {
		if entry, ok := val.(*model.RequestLog); ok {
			entry.Context[key] = value
		}
	}
}

const maxLoggedBody = 4096

func redactBody(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !isSensitivePath(path) {
		if len(body) > maxLoggedBody {
			return string(body[:maxLoggedBody]) + "..."
		}
		return string(body)
	}
	redacted, ok := redactJSON(body)
	if !ok {
		return "[redacted]"
	}
	return string(redacted)
}

func isSensitivePath(path string) bool {
	switch {
	case strings.HasPrefix(path, "/v1/admin"):
		return true
	case strings.HasPrefix(path, "/v1/orders"):
		return true
	case strings.HasPrefix(path, "/v1/balances"):
		return true
	default:
		return false
	}
}

func redactJSON(body []byte) ([]byte, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	redactValue(&data)
	out, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

func redactValue(v *any) {
	switch raw := (*v).(type) {
	case map[string]any:
		for key, val := range raw {
			if isSensitiveKey(key) {
				raw[key] = "***"
				continue
			}
			vv := val
			redactValue(&vv)
			raw[key] = vv
		}
	case []any:
		for i, val := range raw {
			vv := val
			redactValue(&vv)
			raw[i] = vv
		}
	}
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "api_key",
		"api_secret",
		"secret",
		"secret_cipher",
		"passphrase",
		"signature",
		"master_key",
		"admin_key":
		return true
	default:
		return false
	}
}
