package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/GoPolymarket/venuegate/internal/signer"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type RESTOptions struct {
	Name        string
	BaseURL     string
	Credentials signer.Credentials
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// RESTConnector talks to a venue's signed JSON API.
type RESTConnector struct {
	name    string
	baseURL string
	creds   signer.Credentials
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewRESTConnector(opts RESTOptions) *RESTConnector {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RESTConnector{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		creds:   opts.Credentials,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger.Component("rest").With("venue", opts.Name),
	}
}

func (c *RESTConnector) Name() string { return c.name }

type createOrderBody struct {
	ClientOrderID string           `json:"client_order_id,omitempty"`
	Symbol        string           `json:"symbol"`
	Side          model.OrderSide  `json:"side"`
	Type          model.OrderKind  `json:"type"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Amount        decimal.Decimal  `json:"amount"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// VenueError carries the venue's own error text so retry classification can see it.
type VenueError struct {
	Venue      string
	StatusCode int
	Message    string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s: %s (http %d)", e.Venue, e.Message, e.StatusCode)
}

func (c *RESTConnector) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	body := createOrderBody{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Kind,
		Price:         req.Price,
		Amount:        req.Amount,
	}
	var out OrderResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTConnector) CancelOrder(ctx context.Context, remoteID, symbol string) error {
	q := url.Values{"symbol": {symbol}}
	return c.do(ctx, http.MethodDelete, "/api/v1/orders/"+url.PathEscape(remoteID), q, nil, nil)
}

func (c *RESTConnector) FetchOrder(ctx context.Context, remoteID, symbol string) (*OrderResult, error) {
	q := url.Values{"symbol": {symbol}}
	var out OrderResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(remoteID), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTConnector) FetchBalance(ctx context.Context) ([]model.Balance, error) {
	var out []model.Balance
	if err := c.do(ctx, http.MethodGet, "/api/v1/balances", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTConnector) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	q := url.Values{"symbol": {symbol}}
	var out model.Ticker
	if err := c.do(ctx, http.MethodGet, "/api/v1/ticker", q, nil, &out); err != nil {
		return nil, err
	}
	out.Venue = c.name
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	return &out, nil
}

func (c *RESTConnector) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	signedPath := path
	if len(query) > 0 {
		signedPath += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+signedPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, v := range c.creds.Headers(time.Now(), method, signedPath, payload) {
		req.Header.Set(k, v)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("venue call", "method", method, "path", path, "status", resp.StatusCode, "ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil {
			if eb.Error != "" {
				msg = eb.Error
			} else if eb.Message != "" {
				msg = eb.Message
			}
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &VenueError{Venue: c.name, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
