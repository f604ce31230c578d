// Package exchange holds the venue connectors the order manager talks to.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/shopspring/decimal"
)

// Raw order statuses reported by venues.
const (
	RemoteOpen      = "open"
	RemoteClosed    = "closed"
	RemoteCanceled  = "canceled"
	RemoteCancelled = "cancelled"
	RemoteRejected  = "rejected"
	RemoteExpired   = "expired"
)

type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          model.OrderSide
	Kind          model.OrderKind
	// Price is nil for market orders.
	Price  *decimal.Decimal
	Amount decimal.Decimal
}

type Fee struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// OrderResult is the venue's view of an order.
type OrderResult struct {
	RemoteID string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Status   string          `json:"status"`
	Filled   decimal.Decimal `json:"filled"`
	Fee      *Fee            `json:"fee,omitempty"`
}

type Connector interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, remoteID, symbol string) error
	FetchOrder(ctx context.Context, remoteID, symbol string) (*OrderResult, error)
	FetchBalance(ctx context.Context) ([]model.Balance, error)
	FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error)
}

// UpdateHandler receives pushed order updates from a venue.
type UpdateHandler func(ctx context.Context, venue string, update OrderResult)

// Registry is the immutable venue-name to connector map built at startup.
type Registry struct {
	connectors map[string]Connector
}

func NewRegistry(connectors ...Connector) (*Registry, error) {
	m := make(map[string]Connector, len(connectors))
	for _, c := range connectors {
		name := c.Name()
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("duplicate venue %q", name)
		}
		m[name] = c
	}
	return &Registry{connectors: m}, nil
}

func (r *Registry) Get(name string) (Connector, bool) {
	c, ok := r.connectors[name]
	return c, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SplitSymbol splits BTC-USDT, btc_usdt, BTC/USDT or BTC:USDT into base and quote.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	i := strings.IndexAny(s, "-_/:")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
