package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/venuegate/internal/model"
	"github.com/GoPolymarket/venuegate/internal/pkg/logger"
	"github.com/shopspring/decimal"
)

var paperFeeRate = decimal.RequireFromString("0.001")

type paperBalance struct {
	free   decimal.Decimal
	locked decimal.Decimal
}

type paperOrder struct {
	req    OrderRequest
	id     string
	status string
	filled decimal.Decimal
	fee    *Fee
}

func (o *paperOrder) result() *OrderResult {
	res := &OrderResult{RemoteID: o.id, Symbol: o.req.Symbol, Status: o.status, Filled: o.filled}
	if o.fee != nil {
		f := *o.fee
		res.Fee = &f
	}
	return res
}

// PaperExchange simulates a venue with virtual balances. Market orders and
// marketable limit orders fill immediately; other limit orders rest until
// SetPrice crosses them.
type PaperExchange struct {
	name string

	mu       sync.Mutex
	balances map[string]*paperBalance
	prices   map[string]decimal.Decimal
	orders   map[string]*paperOrder
	seq      int64
	onUpdate UpdateHandler
	log      *slog.Logger
}

func NewPaperExchange(name string, balances, prices map[string]decimal.Decimal) *PaperExchange {
	p := &PaperExchange{
		name:     name,
		balances: make(map[string]*paperBalance),
		prices:   make(map[string]decimal.Decimal),
		orders:   make(map[string]*paperOrder),
		log:      logger.Component("paper").With("venue", name),
	}
	for cur, amt := range balances {
		p.balances[strings.ToUpper(cur)] = &paperBalance{free: amt}
	}
	for sym, px := range prices {
		if base, quote, ok := SplitSymbol(sym); ok {
			p.prices[base+"-"+quote] = px
		}
	}
	return p
}

func (p *PaperExchange) Name() string { return p.name }

// OnUpdate registers the receiver of fills triggered by SetPrice.
func (p *PaperExchange) OnUpdate(h UpdateHandler) {
	p.mu.Lock()
	p.onUpdate = h
	p.mu.Unlock()
}

func (p *PaperExchange) balance(cur string) *paperBalance {
	b, ok := p.balances[cur]
	if !ok {
		b = &paperBalance{}
		p.balances[cur] = b
	}
	return b
}

func (p *PaperExchange) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, quote, ok := SplitSymbol(req.Symbol)
	if !ok {
		return nil, fmt.Errorf("invalid symbol %q", req.Symbol)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("invalid order: amount must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sym := base + "-" + quote
	last, hasPrice := p.prices[sym]
	var px decimal.Decimal
	switch req.Kind {
	case model.KindMarket:
		if !hasPrice {
			return nil, fmt.Errorf("no price available for %s", sym)
		}
		px = last
	default:
		if req.Price == nil || !req.Price.IsPositive() {
			return nil, fmt.Errorf("invalid order: limit price required")
		}
		px = *req.Price
	}

	// Reserve funds at the order price.
	if req.Side == model.SideBuy {
		need := buyReserve(px, req.Amount)
		b := p.balance(quote)
		if b.free.LessThan(need) {
			return nil, fmt.Errorf("insufficient balance: need %s %s, have %s", need, quote, b.free)
		}
		b.free = b.free.Sub(need)
		b.locked = b.locked.Add(need)
	} else {
		b := p.balance(base)
		if b.free.LessThan(req.Amount) {
			return nil, fmt.Errorf("insufficient balance: need %s %s, have %s", req.Amount, base, b.free)
		}
		b.free = b.free.Sub(req.Amount)
		b.locked = b.locked.Add(req.Amount)
	}

	p.seq++
	o := &paperOrder{
		req:    req,
		id:     p.name + "-" + strconv.FormatInt(p.seq, 10),
		status: RemoteOpen,
		filled: decimal.Zero,
	}
	o.req.Symbol = sym
	o.req.Price = &px
	p.orders[o.id] = o

	if req.Kind == model.KindMarket || (hasPrice && crosses(req.Side, px, last)) {
		p.fill(o, base, quote)
	}
	p.log.Info("paper order accepted", "remote_id", o.id, "symbol", sym, "side", req.Side, "status", o.status)
	return o.result(), nil
}

// buyReserve is notional plus the fee, locked up front for buys.
func buyReserve(px, amount decimal.Decimal) decimal.Decimal {
	n := px.Mul(amount)
	return n.Add(n.Mul(paperFeeRate))
}

func crosses(side model.OrderSide, limit, last decimal.Decimal) bool {
	if side == model.SideBuy {
		return last.LessThanOrEqual(limit)
	}
	return last.GreaterThanOrEqual(limit)
}

// fill settles o completely at its reserved price; caller holds mu.
func (p *PaperExchange) fill(o *paperOrder, base, quote string) {
	px := *o.req.Price
	notional := px.Mul(o.req.Amount)
	fee := notional.Mul(paperFeeRate)
	if o.req.Side == model.SideBuy {
		q := p.balance(quote)
		q.locked = q.locked.Sub(notional.Add(fee))
		p.balance(base).free = p.balance(base).free.Add(o.req.Amount)
	} else {
		b := p.balance(base)
		b.locked = b.locked.Sub(o.req.Amount)
		p.balance(quote).free = p.balance(quote).free.Add(notional.Sub(fee))
	}
	o.filled = o.req.Amount
	o.status = RemoteClosed
	o.fee = &Fee{Amount: fee, Currency: quote}
}

func (p *PaperExchange) release(o *paperOrder, base, quote string) {
	if o.req.Side == model.SideBuy {
		q := p.balance(quote)
		amt := buyReserve(*o.req.Price, o.req.Amount)
		q.locked = q.locked.Sub(amt)
		q.free = q.free.Add(amt)
	} else {
		b := p.balance(base)
		b.locked = b.locked.Sub(o.req.Amount)
		b.free = b.free.Add(o.req.Amount)
	}
}

func (p *PaperExchange) CancelOrder(ctx context.Context, remoteID, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[remoteID]
	if !ok {
		return fmt.Errorf("order not found: %s", remoteID)
	}
	if o.status != RemoteOpen {
		return fmt.Errorf("cannot cancel %s order: %s", o.status, remoteID)
	}
	base, quote, _ := SplitSymbol(o.req.Symbol)
	p.release(o, base, quote)
	o.status = RemoteCanceled
	return nil
}

func (p *PaperExchange) FetchOrder(ctx context.Context, remoteID, _ string) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[remoteID]
	if !ok {
		return nil, fmt.Errorf("order not found: %s", remoteID)
	}
	return o.result(), nil
}

func (p *PaperExchange) FetchBalance(ctx context.Context) ([]model.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Balance, 0, len(p.balances))
	for cur, b := range p.balances {
		out = append(out, model.Balance{Currency: cur, Free: b.free, Locked: b.locked})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (p *PaperExchange) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return nil, fmt.Errorf("invalid symbol %q", symbol)
	}
	sym := base + "-" + quote
	p.mu.Lock()
	last, ok := p.prices[sym]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("invalid symbol %q: no market", symbol)
	}
	spread := last.Mul(decimal.RequireFromString("0.0005"))
	return &model.Ticker{
		Venue:     p.name,
		Symbol:    sym,
		Bid:       last.Sub(spread),
		Ask:       last.Add(spread),
		Last:      last,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// SetPrice moves the market and fills any resting orders it crosses.
func (p *PaperExchange) SetPrice(symbol string, price decimal.Decimal) {
	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return
	}
	sym := base + "-" + quote

	p.mu.Lock()
	p.prices[sym] = price
	var filled []OrderResult
	for _, o := range p.orders {
		if o.status == RemoteOpen && o.req.Symbol == sym && crosses(o.req.Side, *o.req.Price, price) {
			p.fill(o, base, quote)
			filled = append(filled, *o.result())
		}
	}
	h := p.onUpdate
	p.mu.Unlock()

	if h == nil {
		return
	}
	for _, u := range filled {
		h(context.Background(), p.name, u)
	}
}
