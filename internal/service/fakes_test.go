package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/venuegate/internal/exchange"
	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/retry"
	"github.com/GoPolymarket/venuegate/internal/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeConnector scripts venue answers per call number (1-based).
type fakeConnector struct {
	name string

	mu       sync.Mutex
	creates  int
	cancels  int
	fetches  int
	tickers  int
	createFn func(n int, req exchange.OrderRequest) (*exchange.OrderResult, error)
	cancelFn func(n int, remoteID string) error
	fetchFn  func(n int, remoteID string) (*exchange.OrderResult, error)
	tickerFn func(n int, symbol string) (*model.Ticker, error)
}

func newFake(name string) *fakeConnector { return &fakeConnector{name: name} }

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) CreateOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.mu.Lock()
	f.creates++
	n, fn := f.creates, f.createFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.OrderResult{RemoteID: "r-" + req.ClientOrderID, Status: exchange.RemoteOpen}, nil
	}
	return fn(n, req)
}

func (f *fakeConnector) CancelOrder(_ context.Context, remoteID, _ string) error {
	f.mu.Lock()
	f.cancels++
	n, fn := f.cancels, f.cancelFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(n, remoteID)
}

func (f *fakeConnector) FetchOrder(_ context.Context, remoteID, _ string) (*exchange.OrderResult, error) {
	f.mu.Lock()
	f.fetches++
	n, fn := f.fetches, f.fetchFn
	f.mu.Unlock()
	if fn == nil {
		return &exchange.OrderResult{RemoteID: remoteID, Status: exchange.RemoteOpen}, nil
	}
	return fn(n, remoteID)
}

func (f *fakeConnector) FetchBalance(context.Context) ([]model.Balance, error) {
	return []model.Balance{{Currency: "USDT", Free: d("100"), Locked: decimal.Zero}}, nil
}

func (f *fakeConnector) FetchTicker(_ context.Context, symbol string) (*model.Ticker, error) {
	f.mu.Lock()
	f.tickers++
	n, fn := f.tickers, f.tickerFn
	f.mu.Unlock()
	if fn == nil {
		return &model.Ticker{Venue: f.name, Symbol: symbol, Last: d("1")}, nil
	}
	return fn(n, symbol)
}

func (f *fakeConnector) calls() (creates, cancels, fetches, tickers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.cancels, f.fetches, f.tickers
}

// sleepRecorder replaces real backoff waits.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testPolicy(rec *sleepRecorder) retry.Policy {
	p := retry.Default()
	p.Sleep = rec.sleep
	return p
}

func newRegistry(t *testing.T, conns ...exchange.Connector) *exchange.Registry {
	t.Helper()
	reg, err := exchange.NewRegistry(conns...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *repository.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, repository.NewRedisClientFrom(rdb, "test:")
}
