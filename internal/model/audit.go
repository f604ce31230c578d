package model

import (
	"time"
)

// RequestLog 代表一次请求的审计记录, emitted as one structured log line.
type RequestLog struct {
	ID         string `json:"id"`          // X-Request-ID
	IdentityID uint64 `json:"identity_id"` // 0 for unauthenticated callers
	Method     string `json:"method"`
	Path       string `json:"path"`
	Route      string `json:"route"`
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`

	RequestBody  string `json:"request_body"` // 脱敏后
	StatusCode   int    `json:"status_code"`
	ResponseBody string `json:"response_body"`
	LatencyMs    int64  `json:"latency_ms"`

	// Context holds handler-supplied fields such as the local order id.
	Context map[string]any `json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IdempotencyRecord is a stored response for a replayed X-Idempotency-Key.
type IdempotencyRecord struct {
	Status     int
	Body       []byte
	CreatedAt  time.Time
	Processing bool // 正在处理中，用于防止并发竞争
}
