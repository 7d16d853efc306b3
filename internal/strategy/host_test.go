package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/ledger"
	"github.com/mmb-dev/mmb-engine/internal/lifecycle"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orderbook"
	"github.com/mmb-dev/mmb-engine/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	createResult lifecycle.CreateResult
}

func (s *stubClient) CreateOrder(ctx context.Context, intent orders.Intent) (lifecycle.CreateResult, error) {
	return s.createResult, nil
}
func (s *stubClient) CancelOrder(ctx context.Context, id orders.ClientOrderId) (lifecycle.CancelResult, error) {
	return lifecycle.CancelResult{Status: lifecycle.CancelCancelling}, nil
}
func (s *stubClient) GetOrder(ctx context.Context, id orders.ClientOrderId) (orders.View, error) {
	return orders.View{}, nil
}

type fixedReplica struct {
	bestBid, bestAsk orderbook.Level
	stale            bool
}

func (f fixedReplica) TopOfBook() (orderbook.Level, orderbook.Level, bool) {
	return f.bestBid, f.bestAsk, f.stale
}

type fakeStrategy struct {
	market    market.Id
	bucket    string
	tick      time.Duration
	desired   []DesiredOrder
	err       error
	callCount int
}

func (f *fakeStrategy) Name() string                { return "fake" }
func (f *fakeStrategy) Markets() []market.Id        { return []market.Id{f.market} }
func (f *fakeStrategy) Bucket() string              { return f.bucket }
func (f *fakeStrategy) TickInterval() time.Duration { return f.tick }
func (f *fakeStrategy) ComputeDesired(view View) ([]DesiredOrder, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	return f.desired, nil
}

func testHostSymbol() market.Symbol {
	priceStep, _ := money.PriceFromString("0.01")
	amountStep, _ := money.AmountFromString("0.001")
	minAmount, _ := money.AmountFromString("0.001")
	minNotional, _ := money.AmountFromString("1")
	return market.Symbol{
		Market:        market.NewId("paper", "BTC_USDT"),
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		PriceStep:     priceStep,
		AmountStep:    amountStep,
		MinAmount:     minAmount,
		MinNotional:   minNotional,
	}
}

func lvl(p string) orderbook.Level {
	price, _ := money.PriceFromString(p)
	amt, _ := money.AmountFromString("1")
	return orderbook.Level{Price: price, Amount: amt}
}

func newTestHost(t *testing.T, strat *fakeStrategy) (*Host, *lifecycle.Manager, *ledger.Ledger) {
	t.Helper()
	sym := testHostSymbol()
	client := &stubClient{createResult: lifecycle.CreateResult{Status: lifecycle.CreateCreated, ExchangeOrderId: "X1"}}
	mgr := lifecycle.NewManager(client, nil)

	ldg := ledger.New(nil)
	ldg.OnExchangeBalance("paper", "USDT", mustAmount("1000"))
	ldg.AllocateBucket(strat.bucket, "paper", "USDT", mustAmount("1000"))

	replicas := map[market.Id]Replica{sym.Market: fixedReplica{bestBid: lvl("99.9"), bestAsk: lvl("100.1")}}
	symbols := map[market.Id]market.Symbol{sym.Market: sym}

	host := NewHost(strat, mgr, ldg, replicas, symbols)
	return host, mgr, ldg
}

func mustAmount(s string) money.Amount {
	a, err := money.AmountFromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestTickCreatesOrderForNewDesiredSlot(t *testing.T) {
	sym := testHostSymbol()
	price, _ := money.PriceFromString("99.95")
	amount, _ := money.AmountFromString("0.1")
	strat := &fakeStrategy{market: sym.Market, bucket: "desk-a", tick: time.Second,
		desired: []DesiredOrder{{Slot: "bid", Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}}}

	host, mgr, _ := newTestHost(t, strat)
	host.Tick(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, host.ActiveOrderCount())
	views := mgr.Snapshot(sym.Market)
	assert.Len(t, views, 1)
}

func TestRepeatedComputeErrorsMarkStrategyDegraded(t *testing.T) {
	sym := testHostSymbol()
	strat := &fakeStrategy{market: sym.Market, bucket: "desk-a", tick: time.Second, err: errors.New("boom")}
	host, _, _ := newTestHost(t, strat)

	for i := 0; i < 5; i++ {
		host.Tick(context.Background())
	}
	assert.True(t, host.Degraded())
}

func TestDegradedStrategySuppressesNewOrders(t *testing.T) {
	sym := testHostSymbol()
	strat := &fakeStrategy{market: sym.Market, bucket: "desk-a", tick: time.Second, err: errors.New("boom")}
	host, _, _ := newTestHost(t, strat)
	for i := 0; i < 5; i++ {
		host.Tick(context.Background())
	}
	require.True(t, host.Degraded())

	price, _ := money.PriceFromString("99.95")
	amount, _ := money.AmountFromString("0.01")
	strat.err = nil
	strat.desired = []DesiredOrder{{Slot: "bid", Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}}

	// a single success clears the degraded flag in this implementation, so
	// assert directly against the gate instead of relying on further ticks.
	host.statsMu.Lock()
	host.degraded = true
	host.statsMu.Unlock()
	host.createSlot(context.Background(), sym, strat.desired[0])
	assert.Equal(t, 0, host.ActiveOrderCount())
}
