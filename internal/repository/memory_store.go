package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
)

// MemoryStore is the in-process fallback when no database is configured.
type MemoryStore struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	identities  map[uint64]model.Identity
	orders      map[uint64]model.Order
	transitions []model.OrderTransition
	nextID      uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[uint64]model.Identity),
		orders:     make(map[uint64]model.Order),
	}
}

// WithTx serializes transactions. fn writes through a memTx that records how
// to undo each row it touched; on failure only those rows are restored, so
// writes made outside the transaction meanwhile survive.
func (s *MemoryStore) WithTx(_ context.Context, fn func(tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{MemoryStore: s}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// memTx is the Store handed to WithTx callbacks. Undo funcs run under s.mu.
type memTx struct {
	*MemoryStore
	undo []func()
}

// WithTx joins the enclosing transaction.
func (t *memTx) WithTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) CreateIdentity(ctx context.Context, identity *model.Identity) error {
	if err := t.MemoryStore.CreateIdentity(ctx, identity); err != nil {
		return err
	}
	id := identity.ID
	t.undo = append(t.undo, func() { delete(t.identities, id) })
	return nil
}

func (t *memTx) UpdateIdentityStatus(_ context.Context, id uint64, status model.IdentityStatus) (*model.Identity, error) {
	return t.trackIdentity(t.updateIdentity(id, func(i *model.Identity) { i.Status = status }))
}

func (t *memTx) UpdateIdentitySecret(_ context.Context, id uint64, secretCipher string) (*model.Identity, error) {
	return t.trackIdentity(t.updateIdentity(id, func(i *model.Identity) { i.SecretCipher = secretCipher }))
}

func (t *memTx) trackIdentity(updated *model.Identity, prev model.Identity, err error) (*model.Identity, error) {
	if err == nil {
		t.undo = append(t.undo, func() { t.identities[prev.ID] = prev })
	}
	return updated, err
}

func (t *memTx) InsertOrder(ctx context.Context, order *model.Order) error {
	if err := t.MemoryStore.InsertOrder(ctx, order); err != nil {
		return err
	}
	id := order.ID
	t.undo = append(t.undo, func() { delete(t.orders, id) })
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, id uint64, patch model.OrderPatch) (*model.Order, error) {
	updated, prev, err := t.updateOrder(id, patch)
	if err == nil {
		t.undo = append(t.undo, func() { t.orders[id] = prev })
	}
	return updated, err
}

func (t *memTx) AddTransition(ctx context.Context, tr *model.OrderTransition) error {
	if err := t.MemoryStore.AddTransition(ctx, tr); err != nil {
		return err
	}
	id := tr.ID
	t.undo = append(t.undo, func() {
		t.transitions = slices.DeleteFunc(t.transitions, func(x model.OrderTransition) bool { return x.ID == id })
	})
	return nil
}

func (s *MemoryStore) id() uint64 {
	s.nextID++
	return s.nextID
}

func copyIdentity(i model.Identity) *model.Identity {
	i.Permissions = slices.Clone(i.Permissions)
	return &i
}

func copyOrder(o model.Order) *model.Order {
	if o.RemoteOrderID != nil {
		o.RemoteOrderID = model.Ptr(*o.RemoteOrderID)
	}
	if o.FeeCurrency != nil {
		o.FeeCurrency = model.Ptr(*o.FeeCurrency)
	}
	if o.LastError != nil {
		o.LastError = model.Ptr(*o.LastError)
	}
	return &o
}

// --- identities ---

func (s *MemoryStore) CreateIdentity(_ context.Context, identity *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.identities {
		if existing.APIKey == identity.APIKey {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	identity.ID = s.id()
	identity.CreatedAt, identity.UpdatedAt = now, now
	s.identities[identity.ID] = *copyIdentity(*identity)
	return nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, id uint64) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIdentity(i), nil
}

func (s *MemoryStore) GetIdentityByAPIKey(_ context.Context, apiKey string) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, i := range s.identities {
		if i.APIKey == apiKey {
			return copyIdentity(i), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListIdentities(_ context.Context, limit, offset int) ([]model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(s.identities))
	out := make([]model.Identity, 0, len(ids))
	for _, id := range page(ids, limit, offset) {
		out = append(out, *copyIdentity(s.identities[id]))
	}
	return out, nil
}

func (s *MemoryStore) UpdateIdentityStatus(_ context.Context, id uint64, status model.IdentityStatus) (*model.Identity, error) {
	updated, _, err := s.updateIdentity(id, func(i *model.Identity) { i.Status = status })
	return updated, err
}

func (s *MemoryStore) UpdateIdentitySecret(_ context.Context, id uint64, secretCipher string) (*model.Identity, error) {
	updated, _, err := s.updateIdentity(id, func(i *model.Identity) { i.SecretCipher = secretCipher })
	return updated, err
}

// updateIdentity also returns the row as it was before mutate.
func (s *MemoryStore) updateIdentity(id uint64, mutate func(*model.Identity)) (*model.Identity, model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.identities[id]
	if !ok {
		return nil, model.Identity{}, ErrNotFound
	}
	i := *copyIdentity(prev)
	mutate(&i)
	i.UpdatedAt = time.Now().UTC()
	s.identities[id] = i
	return copyIdentity(i), prev, nil
}

// --- orders ---

func (s *MemoryStore) InsertOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	order.ID = s.id()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	s.orders[order.ID] = *copyOrder(*order)
	return nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, id uint64, patch model.OrderPatch) (*model.Order, error) {
	updated, _, err := s.updateOrder(id, patch)
	return updated, err
}

func (s *MemoryStore) updateOrder(id uint64, patch model.OrderPatch) (*model.Order, model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.orders[id]
	if !ok {
		return nil, model.Order{}, ErrNotFound
	}
	if len(patch.ExpectStatus) > 0 && !slices.Contains(patch.ExpectStatus, prev.Status) {
		return nil, model.Order{}, ErrStatusConflict
	}
	o := *copyOrder(prev)
	patch.Apply(&o)
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return copyOrder(o), prev, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uint64) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) GetOrderForOwner(ctx context.Context, id, identityID uint64) (*model.Order, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.IdentityID != identityID {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) GetOrderByRemoteID(_ context.Context, venue, remoteID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.Venue == venue && o.RemoteOrderID != nil && *o.RemoteOrderID == remoteID {
			return copyOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint64
	for id, o := range s.orders {
		if filter.IdentityID != 0 && o.IdentityID != filter.IdentityID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	out := make([]model.Order, 0, len(ids))
	for _, id := range page(ids, filter.Limit, filter.Offset) {
		out = append(out, *copyOrder(s.orders[id]))
	}
	return out, nil
}

func (s *MemoryStore) ListOpenOrders(_ context.Context, createdBefore time.Time, afterID uint64, limit int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint64
	for id, o := range s.orders {
		if id > afterID && slices.Contains(model.OpenStatuses, o.Status) && !o.CreatedAt.After(createdBefore) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	out := make([]model.Order, 0, len(ids))
	for _, id := range page(ids, limit, 0) {
		out = append(out, *copyOrder(s.orders[id]))
	}
	return out, nil
}

func (s *MemoryStore) AddTransition(_ context.Context, t *model.OrderTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.transitions = append(s.transitions, *t)
	return nil
}

func (s *MemoryStore) ListTransitions(_ context.Context, orderID uint64) ([]model.OrderTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.OrderTransition
	for _, t := range s.transitions {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func page(ids []uint64, limit, offset int) []uint64 {
	limit = clampLimit(limit)
	offset = max(offset, 0)
	if offset >= len(ids) {
		return nil
	}
	end := min(offset+limit, len(ids))
	return ids[offset:end]
}
