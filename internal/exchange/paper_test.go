package exchange

import (
	"context"
	"testing"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper() *PaperExchange {
	return NewPaperExchange("paper",
		map[string]decimal.Decimal{"usdt": d("10000"), "BTC": d("1")},
		map[string]decimal.Decimal{"btc-usdt": d("20000")},
	)
}

func balanceOf(t *testing.T, p *PaperExchange, cur string) model.Balance {
	t.Helper()
	bals, err := p.FetchBalance(context.Background())
	require.NoError(t, err)
	for _, b := range bals {
		if b.Currency == cur {
			return b
		}
	}
	return model.Balance{Currency: cur}
}

func TestPaperMarketBuyFills(t *testing.T) {
	p := newPaper()
	res, err := p.CreateOrder(context.Background(), OrderRequest{
		Symbol: "btc_usdt", Side: model.SideBuy, Kind: model.KindMarket, Amount: d("0.1"),
	})
	require.NoError(t, err)
	assert.Equal(t, RemoteClosed, res.Status)
	assert.True(t, res.Filled.Equal(d("0.1")))
	require.NotNil(t, res.Fee)
	assert.True(t, res.Fee.Amount.Equal(d("2")))
	assert.Equal(t, "USDT", res.Fee.Currency)

	assert.True(t, balanceOf(t, p, "USDT").Free.Equal(d("7998")))
	assert.True(t, balanceOf(t, p, "BTC").Free.Equal(d("1.1")))
}

func TestPaperInsufficientBalanceIsNonRetryable(t *testing.T) {
	p := newPaper()
	_, err := p.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC-USDT", Side: model.SideSell, Kind: model.KindMarket, Amount: d("5"),
	})
	require.Error(t, err)
	assert.True(t, retry.IsInsufficientBalance(err))

	_, err = p.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: model.SideSell, Kind: model.KindMarket, Amount: d("1"),
	})
	assert.Equal(t, retry.InvalidRequest, retry.Classify(err))
}

func TestPaperRestingLimitFillsOnPriceMove(t *testing.T) {
	p := newPaper()
	var updates []OrderResult
	p.OnUpdate(func(_ context.Context, venue string, u OrderResult) {
		assert.Equal(t, "paper", venue)
		updates = append(updates, u)
	})

	price := d("19000")
	res, err := p.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC-USDT", Side: model.SideBuy, Kind: model.KindLimit, Price: &price, Amount: d("0.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, RemoteOpen, res.Status)
	assert.True(t, balanceOf(t, p, "USDT").Locked.Equal(d("9509.5")))

	p.SetPrice("BTC-USDT", d("18990"))
	require.Len(t, updates, 1)
	assert.Equal(t, res.RemoteID, updates[0].RemoteID)
	assert.Equal(t, RemoteClosed, updates[0].Status)

	got, err := p.FetchOrder(context.Background(), res.RemoteID, "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, got.Filled.Equal(d("0.5")))
	assert.True(t, balanceOf(t, p, "USDT").Locked.IsZero())
}

func TestPaperCancelReleasesFunds(t *testing.T) {
	p := newPaper()
	price := d("25000")
	res, err := p.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC-USDT", Side: model.SideSell, Kind: model.KindLimit, Price: &price, Amount: d("0.4"),
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, p, "BTC").Locked.Equal(d("0.4")))

	require.NoError(t, p.CancelOrder(context.Background(), res.RemoteID, "BTC-USDT"))
	assert.True(t, balanceOf(t, p, "BTC").Free.Equal(d("1")))
	assert.Error(t, p.CancelOrder(context.Background(), res.RemoteID, "BTC-USDT"))

	got, err := p.FetchOrder(context.Background(), res.RemoteID, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, RemoteCanceled, got.Status)
}

func TestPaperTicker(t *testing.T) {
	p := newPaper()
	tk, err := p.FetchTicker(context.Background(), "btc-usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", tk.Symbol)
	assert.True(t, tk.Last.Equal(d("20000")))
	assert.True(t, tk.Bid.LessThan(tk.Ask))

	_, err = p.FetchTicker(context.Background(), "ETH-USDT")
	assert.Equal(t, retry.InvalidRequest, retry.Classify(err))
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(newPaper(), NewPaperExchange("alt", nil, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"alt", "paper"}, reg.Names())
	_, ok := reg.Get("missing")
	assert.False(t, ok)

	_, err = NewRegistry(newPaper(), newPaper())
	assert.Error(t, err)
}
