package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orders"
	"github.com/stretchr/testify/assert"
)

type stubClient struct {
	mu           sync.Mutex
	createResult CreateResult
	createErr    error
	cancelResult CancelResult
	getOrderFunc func(ctx context.Context, id orders.ClientOrderId) (orders.View, error)
	createCalls  int
}

func (s *stubClient) CreateOrder(ctx context.Context, intent orders.Intent) (CreateResult, error) {
	s.mu.Lock()
	s.createCalls++
	s.mu.Unlock()
	return s.createResult, s.createErr
}

func (s *stubClient) CancelOrder(ctx context.Context, id orders.ClientOrderId) (CancelResult, error) {
	return s.cancelResult, nil
}

func (s *stubClient) GetOrder(ctx context.Context, id orders.ClientOrderId) (orders.View, error) {
	if s.getOrderFunc != nil {
		return s.getOrderFunc(ctx, id)
	}
	return orders.View{}, nil
}

type memorySink struct {
	mu     sync.Mutex
	events []any
}

func (m *memorySink) Emit(ctx context.Context, table string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, payload)
	return nil
}

func testSymbol() market.Symbol {
	priceStep, _ := money.PriceFromString("0.01")
	amountStep, _ := money.AmountFromString("0.001")
	minAmount, _ := money.AmountFromString("0.001")
	minNotional, _ := money.AmountFromString("1")
	return market.Symbol{
		Market:        market.NewId("paper", "BTC_USDT"),
		PriceStep:     priceStep,
		AmountStep:    amountStep,
		MinAmount:     minAmount,
		MinNotional:   minNotional,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// Scenario A — happy path fill (spec.md §8).
func TestScenarioAHappyPathFill(t *testing.T) {
	client := &stubClient{createResult: CreateResult{Status: CreateCreated, ExchangeOrderId: "X1"}}
	sink := &memorySink{}
	mgr := NewManager(client, sink)
	sym := testSymbol()

	price, _ := money.PriceFromString("99.95")
	amount, _ := money.AmountFromString("0.5")
	intent := orders.Intent{MarketId: sym.Market, Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}

	id, err := mgr.RequestCreate(context.Background(), intent, sym, "res-1")
	assert.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		v, ok := mgr.Get(id)
		return ok && v.State == orders.Created
	})

	mgr.IngestExchangeEvent(context.Background(), orders.Event{Kind: orders.EventOpen, ClientOrderId: id})
	view, ok := mgr.Get(id)
	assert.True(t, ok)
	assert.Equal(t, orders.Active, view.State)

	fillAmount1, _ := money.AmountFromString("0.2")
	fillAmount2, _ := money.AmountFromString("0.3")
	mgr.IngestExchangeEvent(context.Background(), orders.Event{
		Kind: orders.EventPartialFill, ClientOrderId: id,
		Fill: &orders.Fill{TradeId: "t1", Price: price, Amount: fillAmount1, Time: time.Now()},
	})
	mgr.IngestExchangeEvent(context.Background(), orders.Event{
		Kind: orders.EventFill, ClientOrderId: id,
		Fill: &orders.Fill{TradeId: "t2", Price: price, Amount: fillAmount2, Time: time.Now()},
	})

	view, _ = mgr.Get(id)
	assert.Equal(t, orders.Filled, view.State)
	assert.True(t, view.FilledAmount.Equal(amount))
	assert.Len(t, view.Fills, 2)
}

// Duplicate trade ids are idempotently dropped (spec.md §8 round-trip).
func TestDuplicateFillIsDropped(t *testing.T) {
	client := &stubClient{createResult: CreateResult{Status: CreateCreated, ExchangeOrderId: "X1"}}
	mgr := NewManager(client, nil)
	sym := testSymbol()

	price, _ := money.PriceFromString("100")
	amount, _ := money.AmountFromString("1")
	intent := orders.Intent{MarketId: sym.Market, Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}
	id, _ := mgr.RequestCreate(context.Background(), intent, sym, "res-1")

	waitFor(t, time.Second, func() bool {
		v, ok := mgr.Get(id)
		return ok && v.State != orders.Creating
	})
	mgr.IngestExchangeEvent(context.Background(), orders.Event{Kind: orders.EventOpen, ClientOrderId: id})

	fill := orders.Fill{TradeId: "dup", Price: price, Amount: amount, Time: time.Now()}
	mgr.IngestExchangeEvent(context.Background(), orders.Event{Kind: orders.EventFill, ClientOrderId: id, Fill: &fill})
	mgr.IngestExchangeEvent(context.Background(), orders.Event{Kind: orders.EventFill, ClientOrderId: id, Fill: &fill})

	view, _ := mgr.Get(id)
	assert.Len(t, view.Fills, 1)
	assert.True(t, view.FilledAmount.Equal(amount))
}

// Cancel on a terminal order is a no-op that never touches the network
// (spec.md §8 boundary behavior).
func TestCancelTerminalOrderIsNoop(t *testing.T) {
	client := &stubClient{createResult: CreateResult{Status: CreateRejected, RejectReason: "test"}}
	mgr := NewManager(client, nil)
	sym := testSymbol()

	price, _ := money.PriceFromString("100")
	amount, _ := money.AmountFromString("1")
	intent := orders.Intent{MarketId: sym.Market, Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}
	id, _ := mgr.RequestCreate(context.Background(), intent, sym, "res-1")

	waitFor(t, time.Second, func() bool {
		v, ok := mgr.Get(id)
		return ok && v.State == orders.FailedToCreate
	})

	err := mgr.RequestCancel(context.Background(), id)
	assert.NoError(t, err)
	view, _ := mgr.Get(id)
	assert.Equal(t, orders.FailedToCreate, view.State)
}

// Below-min-amount orders are rejected before any network call.
func TestRequestCreateRejectsBelowMin(t *testing.T) {
	client := &stubClient{}
	mgr := NewManager(client, nil)
	sym := testSymbol()

	tiny, _ := money.AmountFromString("0.0001")
	price, _ := money.PriceFromString("100")
	intent := orders.Intent{MarketId: sym.Market, Side: orders.Buy, Type: orders.Limit, Price: price, Amount: tiny}

	_, err := mgr.RequestCreate(context.Background(), intent, sym, "res-1")
	assert.Error(t, err)
	assert.Zero(t, client.createCalls)
}

// Scenario C — Unknown create recovers via polling (spec.md §8).
func TestScenarioCUnknownCreateRecovers(t *testing.T) {
	var polls int
	client := &stubClient{
		createResult: CreateResult{Status: CreateUnknown},
		getOrderFunc: func(ctx context.Context, id orders.ClientOrderId) (orders.View, error) {
			polls++
			if polls < 2 {
				return orders.View{}, assertNotFoundErr
			}
			return orders.View{ClientOrderId: id, ExchangeOrderId: "X9", State: orders.Active}, nil
		},
	}
	mgr := NewManager(client, nil)
	sym := testSymbol()

	price, _ := money.PriceFromString("100")
	amount, _ := money.AmountFromString("1")
	intent := orders.Intent{MarketId: sym.Market, Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}
	id, _ := mgr.RequestCreate(context.Background(), intent, sym, "res-1")

	waitFor(t, 2*time.Second, func() bool {
		v, ok := mgr.Get(id)
		return ok && v.State == orders.Active
	})
}

var assertNotFoundErr = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

type ledgerCall struct {
	method        string
	reservationId string
	side          orders.Side
	fillAmount    money.Amount
}

type fakeLedger struct {
	mu         sync.Mutex
	calls      []ledgerCall
	released   map[string]bool
	releaseErr error
}

func (f *fakeLedger) CommitFill(reservationId string, symbol market.Symbol, side orders.Side, fill orders.Fill) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{method: "commit_fill", reservationId: reservationId, side: side, fillAmount: fill.Amount})
	return nil
}

func (f *fakeLedger) Release(reservationId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{method: "release", reservationId: reservationId})
	if f.released == nil {
		f.released = make(map[string]bool)
	}
	f.released[reservationId] = true
	return f.releaseErr
}

func (f *fakeLedger) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

// A manager wired with WithLedger commits every fill against the order's
// reservation and releases the reservation once the order reaches a
// terminal state — the invariant spec.md §8 calls "every reserve matched
// by exactly one release or commit_fill sequence".
func TestLedgerSettlesFillsAndTerminalRelease(t *testing.T) {
	client := &stubClient{createResult: CreateResult{Status: CreateCreated, ExchangeOrderId: "X1"}}
	mgr := NewManager(client, nil)
	sym := testSymbol()
	ldg := &fakeLedger{}
	mgr.WithLedger(ldg, map[market.Id]market.Symbol{sym.Market: sym})

	price, _ := money.PriceFromString("100")
	amount, _ := money.AmountFromString("0.5")
	intent := orders.Intent{MarketId: sym.Market, Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}
	id, err := mgr.RequestCreate(context.Background(), intent, sym, "res-settle")
	assert.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		v, ok := mgr.Get(id)
		return ok && v.State == orders.Created
	})
	mgr.IngestExchangeEvent(context.Background(), orders.Event{Kind: orders.EventOpen, ClientOrderId: id})

	fillAmount1, _ := money.AmountFromString("0.2")
	fillAmount2, _ := money.AmountFromString("0.3")
	mgr.IngestExchangeEvent(context.Background(), orders.Event{
		Kind: orders.EventPartialFill, ClientOrderId: id,
		Fill: &orders.Fill{TradeId: "t1", Price: price, Amount: fillAmount1, Time: time.Now()},
	})
	mgr.IngestExchangeEvent(context.Background(), orders.Event{
		Kind: orders.EventFill, ClientOrderId: id,
		Fill: &orders.Fill{TradeId: "t2", Price: price, Amount: fillAmount2, Time: time.Now()},
	})

	view, _ := mgr.Get(id)
	assert.Equal(t, orders.Filled, view.State)
	assert.Equal(t, 2, ldg.callCount("commit_fill"))
	assert.Equal(t, 1, ldg.callCount("release"))
	assert.True(t, ldg.released["res-settle"])
}

// A rejected order still has its reservation released even though it was
// never filled.
func TestLedgerReleasesOnRejectWithoutFill(t *testing.T) {
	client := &stubClient{createResult: CreateResult{Status: CreateRejected, RejectReason: "no liquidity"}}
	mgr := NewManager(client, nil)
	sym := testSymbol()
	ldg := &fakeLedger{}
	mgr.WithLedger(ldg, map[market.Id]market.Symbol{sym.Market: sym})

	price, _ := money.PriceFromString("100")
	amount, _ := money.AmountFromString("1")
	intent := orders.Intent{MarketId: sym.Market, Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}
	_, err := mgr.RequestCreate(context.Background(), intent, sym, "res-reject")
	assert.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		return ldg.callCount("release") == 1
	})
	assert.Equal(t, 0, ldg.callCount("commit_fill"))
	assert.True(t, ldg.released["res-reject"])
}
