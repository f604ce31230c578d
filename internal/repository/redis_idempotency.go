package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
)

type keyValue interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisIdempotencyStore shares idempotency records across gateway replicas.
type RedisIdempotencyStore struct {
	kv     keyValue
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(kv keyValue, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		kv:     kv,
		ttl:    ttl,
		prefix: "idem:",
	}
}

func (s *RedisIdempotencyStore) GetOrLock(ctx context.Context, key string) (*model.IdempotencyRecord, bool, error) {
	record := model.IdempotencyRecord{
		CreatedAt:  time.Now().UTC(),
		Processing: true,
	}
	locked, err := s.kv.SetNX(ctx, s.prefix+key, encodeIdemRecord(record), s.ttl)
	if err != nil {
		return nil, false, err
	}
	if locked {
		return nil, false, nil
	}
	raw, err := s.kv.Get(ctx, s.prefix+key)
	if errors.Is(err, ErrCacheMiss) {
		// expired between SETNX and GET; treat as in flight
		return &model.IdempotencyRecord{Processing: true}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decodeIdemRecord(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, status int, body []byte) error {
	record := model.IdempotencyRecord{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	return s.kv.Set(ctx, s.prefix+key, encodeIdemRecord(record), s.ttl)
}

func (s *RedisIdempotencyStore) Unlock(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, s.prefix+key)
}

type idemWire struct {
	Status     int    `json:"status"`
	Body       string `json:"body"`
	CreatedAt  int64  `json:"created_at"`
	Processing bool   `json:"processing"`
}

func encodeIdemRecord(rec model.IdempotencyRecord) string {
	data, _ := json.Marshal(idemWire{
		Status:     rec.Status,
		Body:       base64.StdEncoding.EncodeToString(rec.Body),
		CreatedAt:  rec.CreatedAt.Unix(),
		Processing: rec.Processing,
	})
	return string(data)
}

func decodeIdemRecord(raw string) (*model.IdempotencyRecord, error) {
	var wire idemWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, err
	}
	body, err := base64.StdEncoding.DecodeString(wire.Body)
	if err != nil {
		return nil, err
	}
	return &model.IdempotencyRecord{
		Status:     wire.Status,
		Body:       body,
		CreatedAt:  time.Unix(wire.CreatedAt, 0).UTC(),
		Processing: wire.Processing,
	}, nil
}
