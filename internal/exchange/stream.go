package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

const (
	streamPath       = "/ws/orders"
	reconnBaseDelay  = 1 * time.Second
	reconnMaxDelay   = 30 * time.Second
	reconnJitter     = 0.2
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamWriteWait  = 10 * time.Second
)

// OrderStream consumes a venue's private order-update websocket and hands
// each update to the registered handler. It reconnects until ctx is done.
type OrderStream struct {
	venue  string
	url    string
	creds  signer.Credentials
	dialer *websocket.Dialer
	log    *slog.Logger

	// reconnect delay schedule, overridable in tests
	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewOrderStream(venue, url string, creds signer.Credentials) *OrderStream {
	return &OrderStream{
		venue:     venue,
		url:       url,
		creds:     creds,
		dialer:    websocket.DefaultDialer,
		log:       logger.Component("stream").With("venue", venue),
		baseDelay: reconnBaseDelay,
		maxDelay:  reconnMaxDelay,
	}
}

type streamMessage struct {
	Type  string        `json:"type"`
	Order *OrderResult  `json:"order,omitempty"`
	Data  []OrderResult `json:"data,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Run blocks until ctx is cancelled.
func (s *OrderStream) Run(ctx context.Context, handle UpdateHandler) {
	b := s.newBackOff()
	for {
		connected, err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		// 登录成功过一次就重新计算退避
		if connected {
			b.Reset()
		}
		delay := b.NextBackOff()
		s.log.Warn("order stream disconnected", "error", err, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *OrderStream) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.baseDelay
	b.MaxInterval = s.maxDelay
	b.RandomizationFactor = reconnJitter
	b.Reset()
	return b
}

// session reports whether it got past login, so Run can reset its backoff.
func (s *OrderStream) session(ctx context.Context, handle UpdateHandler) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// unblock ReadMessage when ctx ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	if err := s.authenticate(conn); err != nil {
		return false, err
	}
	s.log.Info("order stream connected")

	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		if err := s.dispatch(ctx, raw, handle); err != nil {
			return true, err
		}
	}
}

func (s *OrderStream) authenticate(conn *websocket.Conn) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	msg := map[string]string{
		"type":      "auth",
		"key":       s.creds.APIKey,
		"timestamp": ts,
		"signature": signer.Sign(s.creds.Secret, ts, "GET", streamPath, nil),
	}
	if s.creds.Passphrase != "" {
		msg["passphrase"] = s.creds.Passphrase
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	return conn.WriteJSON(map[string]string{"type": "subscribe", "channel": "orders"})
}

func (s *OrderStream) dispatch(ctx context.Context, raw []byte, handle UpdateHandler) error {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug("ignoring undecodable frame", "error", err)
		return nil
	}
	switch msg.Type {
	case "error":
		return errors.New(msg.Error)
	case "order":
		if msg.Order != nil && msg.Order.RemoteID != "" {
			handle(ctx, s.venue, *msg.Order)
		}
		for _, u := range msg.Data {
			if u.RemoteID != "" {
				handle(ctx, s.venue, u)
			}
		}
	}
	return nil
}
