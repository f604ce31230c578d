package repository

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/venuegate/internal/pkg/clock"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryCounterStore is the single-process counter store used when Redis is
// not configured.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   clock.Clock
}

func NewMemoryCounterStore(c clock.Clock) *MemoryCounterStore {
	if c == nil {
		c = clock.System
	}
	return &MemoryCounterStore{entries: make(map[string]memoryEntry), clock: c}
}

// load returns the live entry for key; caller holds mu.
func (s *MemoryCounterStore) load(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryCounterStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	e, ok := s.load(key, now)
	if !ok {
		e = memoryEntry{value: "0", expiresAt: now.Add(window)}
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, e.expiresAt.Sub(now), nil
}

func (s *MemoryCounterStore) Peek(_ context.Context, key string) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	e, ok := s.load(key, now)
	if !ok {
		return 0, 0, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	var ttl time.Duration
	if !e.expiresAt.IsZero() {
		ttl = e.expiresAt.Sub(now)
	}
	return n, ttl, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.load(key, s.clock.Now())
	if !ok {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (s *MemoryCounterStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryCounterStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// SetNX stores value only if key is absent.
func (s *MemoryCounterStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if _, ok := s.load(key, now); ok {
		return false, nil
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}
