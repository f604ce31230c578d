package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
	"github.com/GoPolymarket/venuegate/internal/pkg/secretbox"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/GoPolymarket/venuegate/internal/service"
	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router  *gin.Engine
	reader  *model.IdentityCredentials
	trader  *model.IdentityCredentials
	handled atomic.Int32
	flaky   atomic.Int32
}

func newTestEnv(t *testing.T, readOnly bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	box, err := secretbox.New("mw-master")
	require.NoError(t, err)
	store := repository.NewMemoryStore()
	counters := repository.NewMemoryCounterStore(clock.System)
	gate := service.NewAuthGate(store, counters, box, clock.System, service.AuthGateOptions{})
	ids := service.NewIdentityService(store, box, gate)
	ac := service.NewAdmissionControl(counters, clock.System, config.RateLimitConfig{
		Default:         config.RateRule{WindowMs: 60_000, MaxRequests: 3},
		GlobalPerSource: config.RateRule{WindowMs: 60_000, MaxRequests: 100},
	})

	env := &testEnv{}
	env.reader, err = ids.Create(context.Background(), model.CreateIdentityRequest{Permissions: []model.Permission{model.PermRead}})
	require.NoError(t, err)
	env.trader, err = ids.Create(context.Background(), model.CreateIdentityRequest{Permissions: []model.Permission{model.PermTrade}})
	require.NoError(t, err)

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogMiddleware(), ErrorHandler(), ReadOnlyMiddleware(readOnly))
	api := r.Group("/v1", AuthMiddleware(gate), RateLimitMiddleware(ac))
	idem := repository.NewRedisIdempotencyStore(counters, time.Hour)
	api.POST("/orders", RequirePermission(model.PermTrade), IdempotencyMiddleware(idem), func(c *gin.Context) {
		n := env.handled.Add(1)
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"n": n, "symbol": body["symbol"]}})
	})
	api.POST("/flaky", RequirePermission(model.PermTrade), IdempotencyMiddleware(idem), func(c *gin.Context) {
		if env.flaky.Add(1) == 1 {
			panic("boom")
		}
		c.JSON(http.StatusCreated, gin.H{"success": true})
	})
	api.DELETE("/orders/:id", RequirePermission(model.PermTrade), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	api.GET("/orders", RequirePermission(model.PermRead), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": []any{}})
	})
	env.router = r
	return env
}

func (e *testEnv) do(creds *model.IdentityCredentials, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if creds != nil {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set(signer.HeaderAPIKey, creds.APIKey)
		req.Header.Set(signer.HeaderTimestamp, ts)
		req.Header.Set(signer.HeaderSignature, signer.Sign(creds.Secret, ts, method, path, []byte(body)))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string         `json:"code"`
		Reason  string         `json:"reason"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Timestamp int64 `json:"timestamp"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	assert.False(t, env.Success)
	return env
}

func TestReadOnlyIdentityCannotTrade(t *testing.T) {
	e := newTestEnv(t, false)
	w := e.do(e.reader, http.MethodPost, "/v1/orders", `{"symbol":"BTC-USDT"}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTHORIZATION_ERROR", decodeError(t, w).Error.Code)
	assert.Zero(t, e.handled.Load())

	w = e.do(e.reader, http.MethodGet, "/v1/orders?limit=5", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnsignedRequestRejected(t *testing.T) {
	e := newTestEnv(t, false)
	w := e.do(nil, http.MethodGet, "/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decodeError(t, w)
	assert.Equal(t, "AUTHENTICATION_ERROR", env.Error.Code)
	assert.Equal(t, "missing-credentials", env.Error.Reason)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestSignedBodyMustMatch(t *testing.T) {
	e := newTestEnv(t, false)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{"symbol":"ETH-USDT"}`))
	req.Header.Set(signer.HeaderAPIKey, e.trader.APIKey)
	req.Header.Set(signer.HeaderTimestamp, ts)
	req.Header.Set(signer.HeaderSignature, signer.Sign(e.trader.Secret, ts, "POST", "/v1/orders", []byte(`{"symbol":"BTC-USDT"}`)))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "bad-signature", decodeError(t, w).Error.Reason)
}

func TestOversizeBodyRejectedBeforeVerify(t *testing.T) {
	e := newTestEnv(t, false)
	big := `{"symbol":"` + strings.Repeat("x", maxSignedBody) + `"}`
	w := e.do(e.trader, http.MethodPost, "/v1/orders", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	env := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "body-too-large", env.Error.Reason)
	assert.Zero(t, e.handled.Load())

	// exactly at the limit is still verified normally
	exact := strings.Repeat(" ", maxSignedBody)
	w = e.do(e.trader, http.MethodPost, "/v1/orders", exact, nil)
	assert.NotEqual(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitHeaders(t *testing.T) {
	e := newTestEnv(t, false)
	for i := 1; i <= 3; i++ {
		w := e.do(e.reader, http.MethodGet, "/v1/orders", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get(HeaderRateLimit))
		assert.Equal(t, strconv.Itoa(3-i), w.Header().Get(HeaderRateRemaining))
		assert.NotEmpty(t, w.Header().Get(HeaderRateReset))
	}

	w := e.do(e.reader, http.MethodGet, "/v1/orders", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRateRemaining))
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decodeError(t, w).Error.Code)

	// another identity has its own budget
	w = e.do(e.trader, http.MethodPost, "/v1/orders", `{"symbol":"BTC-USDT"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestIdempotentReplay(t *testing.T) {
	e := newTestEnv(t, false)
	h := map[string]string{HeaderIdempotencyKey: "k-1"}

	first := e.do(e.trader, http.MethodPost, "/v1/orders", `{"symbol":"BTC-USDT"}`, h)
	require.Equal(t, http.StatusCreated, first.Code)
	second := e.do(e.trader, http.MethodPost, "/v1/orders", `{"symbol":"BTC-USDT"}`, h)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), e.handled.Load())
}

func TestIdempotencyKeyReleasedAfterPanic(t *testing.T) {
	e := newTestEnv(t, false)
	h := map[string]string{HeaderIdempotencyKey: "k-panic"}

	first := e.do(e.trader, http.MethodPost, "/v1/flaky", `{}`, h)
	require.Equal(t, http.StatusInternalServerError, first.Code)

	second := e.do(e.trader, http.MethodPost, "/v1/flaky", `{}`, h)
	assert.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Empty(t, second.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, int32(2), e.flaky.Load())

	third := e.do(e.trader, http.MethodPost, "/v1/flaky", `{}`, h)
	assert.Equal(t, "true", third.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, int32(2), e.flaky.Load())
}

func TestReadOnlyModeHaltsTrading(t *testing.T) {
	e := newTestEnv(t, true)
	w := e.do(e.trader, http.MethodPost, "/v1/orders", `{"symbol":"BTC-USDT"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "READ_ONLY", decodeError(t, w).Error.Code)

	w = e.do(e.trader, http.MethodDelete, "/v1/orders/7", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/open", AdminMiddleware("top"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/closed", AdminMiddleware(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		path, key string
		want      int
	}{
		{"/open", "top", http.StatusNoContent},
		{"/open", "nope", http.StatusUnauthorized},
		{"/closed", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set(HeaderAdminKey, tc.key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.path+" "+tc.key)
	}
}
