package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickerRetriesThenCaches(t *testing.T) {
	mr, rc := newMiniRedis(t)
	conn := newFake("paper")
	conn.tickerFn = func(n int, symbol string) (*model.Ticker, error) {
		if n <= 2 {
			return nil, errors.New("i/o timeout")
		}
		return &model.Ticker{Venue: "paper", Symbol: symbol, Bid: d("99"), Ask: d("101"), Last: d("100")}, nil
	}
	rec := &sleepRecorder{}
	svc := NewMarketService(newRegistry(t, conn), rc, testPolicy(rec), 2*time.Second)
	ctx := context.Background()

	tk, err := svc.Ticker(ctx, "paper", "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, tk.Last.Equal(d("100")))
	_, _, _, tickers := conn.calls()
	assert.Equal(t, 3, tickers)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.recorded())

	// served from cache
	tk, err = svc.Ticker(ctx, "paper", "btc-usdt")
	require.NoError(t, err)
	assert.True(t, tk.Ask.Equal(d("101")))
	_, _, _, tickers = conn.calls()
	assert.Equal(t, 3, tickers)

	mr.FastForward(3 * time.Second)
	_, err = svc.Ticker(ctx, "paper", "BTC-USDT")
	require.NoError(t, err)
	_, _, _, tickers = conn.calls()
	assert.Equal(t, 4, tickers)
}

func TestTickerErrors(t *testing.T) {
	conn := newFake("paper")
	conn.tickerFn = func(int, string) (*model.Ticker, error) {
		return nil, errors.New("invalid symbol DOGE-XYZ")
	}
	svc := NewMarketService(newRegistry(t, conn), nil, testPolicy(&sleepRecorder{}), 0)

	_, err := svc.Ticker(context.Background(), "nowhere", "BTC-USDT")
	assert.True(t, apperrors.HasReason(err, apperrors.ReasonUnknownVenue))

	_, err = svc.Ticker(context.Background(), "paper", "DOGE-XYZ")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "got %v", err)
	_, _, _, tickers := conn.calls()
	assert.Equal(t, 1, tickers)
}

func TestBalances(t *testing.T) {
	svc := NewMarketService(newRegistry(t, newFake("paper")), nil, testPolicy(&sleepRecorder{}), 0)
	bals, err := svc.Balances(context.Background(), "paper")
	require.NoError(t, err)
	require.Len(t, bals, 1)
	assert.Equal(t, "USDT", bals[0].Currency)
}
