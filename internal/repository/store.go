package repository

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict means a conditional update found the row in an unexpected status.
	ErrStatusConflict = errors.New("order status changed concurrently")
	ErrDuplicate      = errors.New("duplicate record")
	ErrCacheMiss      = errors.New("cache miss")
)

type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity *model.Identity) error
	GetIdentity(ctx context.Context, id uint64) (*model.Identity, error)
	GetIdentityByAPIKey(ctx context.Context, apiKey string) (*model.Identity, error)
	ListIdentities(ctx context.Context, limit, offset int) ([]model.Identity, error)
	UpdateIdentityStatus(ctx context.Context, id uint64, status model.IdentityStatus) (*model.Identity, error)
	UpdateIdentitySecret(ctx context.Context, id uint64, secretCipher string) (*model.Identity, error)
}

type OrderFilter struct {
	IdentityID uint64
	Status     model.OrderStatus
	Limit      int
	Offset     int
}

type OrderStore interface {
	InsertOrder(ctx context.Context, order *model.Order) error
	// UpdateOrder applies patch keyed by local id and returns the stored row.
	UpdateOrder(ctx context.Context, id uint64, patch model.OrderPatch) (*model.Order, error)
	GetOrder(ctx context.Context, id uint64) (*model.Order, error)
	GetOrderForOwner(ctx context.Context, id, identityID uint64) (*model.Order, error)
	GetOrderByRemoteID(ctx context.Context, venue, remoteID string) (*model.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error)
	// ListOpenOrders pages through non-terminal orders by ascending id.
	ListOpenOrders(ctx context.Context, createdBefore time.Time, afterID uint64, limit int) ([]model.Order, error)

	AddTransition(ctx context.Context, t *model.OrderTransition) error
	ListTransitions(ctx context.Context, orderID uint64) ([]model.OrderTransition, error)
}

// Store is the system of record.
type Store interface {
	IdentityStore
	OrderStore
	// WithTx runs fn atomically; fn must only use the Store it is given.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// CounterStore is the shared fast store behind rate limiting and caches.
type CounterStore interface {
	// Increment bumps key and returns the new count and the remaining TTL.
	// The expiry is only set when the counter is created.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Peek(ctx context.Context, key string) (int64, time.Duration, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func statusStrings(in []model.OrderStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
