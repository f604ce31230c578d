package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStreamAuthDispatchAndReconnect(t *testing.T) {
	creds := signer.Credentials{APIKey: "k", Secret: "s", Passphrase: "p"}
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		assert.Equal(t, "auth", auth["type"])
		assert.Equal(t, "k", auth["key"])
		assert.Equal(t, "p", auth["passphrase"])
		assert.True(t, signer.Verify("s", auth["timestamp"], "GET", "/ws/orders", nil, auth["signature"]))

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		assert.Equal(t, "orders", sub["channel"])

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"order","order":{"id":"r-1","status":"closed","filled":"1"}}`))
			return // drop the connection to force a reconnect
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"order","data":[{"id":"r-2","status":"open","filled":"0"}]}`))
		// hold the connection until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewOrderStream("ex", "ws"+strings.TrimPrefix(srv.URL, "http"), creds)
	s.baseDelay = 10 * time.Millisecond
	s.maxDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan OrderResult, 4)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(_ context.Context, venue string, u OrderResult) {
			assert.Equal(t, "ex", venue)
			got <- u
		})
		close(done)
	}()

	var ids []string
	for len(ids) < 2 {
		select {
		case u := <-got:
			ids = append(ids, u.RemoteID)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for updates, got %v", ids)
		}
	}
	assert.Equal(t, []string{"r-1", "r-2"}, ids)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOrderStreamErrorFrameEndsSession(t *testing.T) {
	s := NewOrderStream("ex", "ws://unused", signer.Credentials{})
	err := s.dispatch(context.Background(), []byte(`{"type":"error","error":"login rejected"}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login rejected")
}

func TestOrderStreamBackoffCaps(t *testing.T) {
	s := NewOrderStream("ex", "ws://unused", signer.Credentials{})
	b := s.newBackOff()

	first := b.NextBackOff()
	assert.GreaterOrEqual(t, first, 800*time.Millisecond)
	assert.LessOrEqual(t, first, 1200*time.Millisecond)
	for i := 0; i < 40; i++ {
		d := b.NextBackOff()
		assert.LessOrEqual(t, d, 36*time.Second, "attempt %d", i)
	}
	assert.GreaterOrEqual(t, b.NextBackOff(), 24*time.Second)

	b.Reset()
	assert.LessOrEqual(t, b.NextBackOff(), 1200*time.Millisecond)
}
