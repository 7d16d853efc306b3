// Package paper implements a reference in-process exchange connector used
// for tests and local demos: orders fill immediately at the requested price,
// mirroring the immediate-fill simulation in
// amirphl-simple-trader/internal/exchange's MockWallexExchange, generalized
// from a single-exchange proxy to the full exchange.Client capability set.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/exchange"
	"github.com/mmb-dev/mmb-engine/internal/lifecycle"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orders"
)

// Exchange is a single-process reference connector: every limit order fills
// in full at its requested price the instant it is created. It exists so
// strategies, the lifecycle manager, and the ledger can be exercised
// end-to-end without a live exchange.
type Exchange struct {
	name string

	mu      sync.Mutex
	symbols map[market.Id]market.Symbol
	balance map[market.Currency]BalanceRow
	orders  map[orders.ClientOrderId]*orders.Order
	seq     int64

	userEvents chan orders.Event
}

type BalanceRow struct {
	Free   money.Amount
	Locked money.Amount
}

func New(name string) *Exchange {
	return &Exchange{
		name:       name,
		symbols:    make(map[market.Id]market.Symbol),
		balance:    make(map[market.Currency]BalanceRow),
		orders:     make(map[orders.ClientOrderId]*orders.Order),
		userEvents: make(chan orders.Event, 256),
	}
}

func (e *Exchange) Name() string { return e.name }

// AddSymbol registers a tradable symbol and SetBalance seeds a currency's
// free balance — both test/demo setup helpers, not part of exchange.Client.
func (e *Exchange) AddSymbol(sym market.Symbol) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols[sym.Market] = sym
}

func (e *Exchange) SetBalance(currency market.Currency, free money.Amount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance[currency] = BalanceRow{Free: free}
}

func (e *Exchange) ListSymbols(ctx context.Context) ([]market.Symbol, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]market.Symbol, 0, len(e.symbols))
	for _, s := range e.symbols {
		out = append(out, s)
	}
	return out, nil
}

func (e *Exchange) ListCurrencies(ctx context.Context) ([]market.Currency, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]market.Currency, 0, len(e.balance))
	for c := range e.balance {
		out = append(out, c)
	}
	return out, nil
}

// SubscribeOrderBook and SubscribeTrades return channels that are never sent
// on and never closed: the paper exchange has no independent market data feed. Strategies under test
// drive the replica directly via ApplySnapshot/ApplyDelta.
func (e *Exchange) SubscribeOrderBook(ctx context.Context, marketId market.Id) (<-chan exchange.MarketDataEvent, error) {
	ch := make(chan exchange.MarketDataEvent)
	return ch, nil
}

func (e *Exchange) SubscribeTrades(ctx context.Context, marketId market.Id) (<-chan exchange.MarketDataEvent, error) {
	ch := make(chan exchange.MarketDataEvent)
	return ch, nil
}

func (e *Exchange) SubscribeUserEvents(ctx context.Context) (<-chan orders.Event, error) {
	return e.userEvents, nil
}

// CreateOrder fills the order in full at the requested price, immediately
// emitting Ack, Open, then Fill on the user event stream.
func (e *Exchange) CreateOrder(ctx context.Context, intent orders.Intent) (lifecycle.CreateResult, error) {
	e.mu.Lock()
	e.seq++
	tradeSeq := e.seq
	exchangeOrderId := fmt.Sprintf("paper-%d", tradeSeq)

	rec := &orders.Order{
		ClientOrderId:   intent.ClientOrderId,
		ExchangeOrderId: exchangeOrderId,
		Intent:          intent,
		State:           orders.Creating,
		CreatedAt:       time.Now(),
		LastEventAt:     time.Now(),
	}
	e.orders[intent.ClientOrderId] = rec
	e.mu.Unlock()

	go func() {
		e.userEvents <- orders.Event{Kind: orders.EventAck, ClientOrderId: intent.ClientOrderId, ExchangeOrderId: exchangeOrderId}
		e.userEvents <- orders.Event{Kind: orders.EventOpen, ClientOrderId: intent.ClientOrderId}
		e.userEvents <- orders.Event{
			Kind:            orders.EventFill,
			ClientOrderId:   intent.ClientOrderId,
			ExchangeOrderId: exchangeOrderId,
			Fill: &orders.Fill{
				TradeId: fmt.Sprintf("paper-trade-%d", tradeSeq),
				Price:   intent.Price,
				Amount:  intent.Amount,
				IsMaker: false,
				Time:    time.Now(),
			},
		}

		e.mu.Lock()
		rec.State = orders.Filled
		rec.FilledAmount = intent.Amount
		rec.AvgFillPrice = intent.Price
		rec.LastEventAt = time.Now()
		e.mu.Unlock()
	}()

	return lifecycle.CreateResult{Status: lifecycle.CreateCreated, ExchangeOrderId: exchangeOrderId}, nil
}

// CancelOrder always reports AlreadyTerminal: paper orders fill
// instantaneously, so by the time a cancel could race them they are already
// Filled.
func (e *Exchange) CancelOrder(ctx context.Context, id orders.ClientOrderId) (lifecycle.CancelResult, error) {
	return lifecycle.CancelResult{Status: lifecycle.CancelAlreadyTerminal}, nil
}

func (e *Exchange) GetOrder(ctx context.Context, id orders.ClientOrderId) (orders.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.orders[id]
	if !ok {
		return orders.View{}, fmt.Errorf("paper: order %s not found", id)
	}
	return rec.ToView(), nil
}

func (e *Exchange) GetOrders(ctx context.Context, openOnly bool) ([]orders.View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []orders.View
	for _, rec := range e.orders {
		if openOnly && rec.State.IsTerminal() {
			continue
		}
		out = append(out, rec.ToView())
	}
	return out, nil
}

func (e *Exchange) GetBalances(ctx context.Context) ([]exchange.BalanceEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.BalanceEntry, 0, len(e.balance))
	for currency, row := range e.balance {
		out = append(out, exchange.BalanceEntry{Currency: currency, Free: row.Free, Locked: row.Locked})
	}
	return out, nil
}
