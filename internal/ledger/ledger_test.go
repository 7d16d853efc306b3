package ledger

import (
	"sync"
	"testing"

	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orders"
	"github.com/stretchr/testify/assert"
)

func testSymbol() market.Symbol {
	priceStep, _ := money.PriceFromString("0.01")
	amountStep, _ := money.AmountFromString("0.001")
	return market.Symbol{
		Market:        market.NewId("paper", "BTC_USDT"),
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		PriceStep:     priceStep,
		AmountStep:    amountStep,
	}
}

func amt(s string) money.Amount {
	a, _ := money.AmountFromString(s)
	return a
}

func price(s string) money.Price {
	p, _ := money.PriceFromString(s)
	return p
}

// Invariant 2: free + reserved + in_flight == total_known after every
// operation (spec.md §8).
func TestReserveThenReleaseRestoresFreeBalance(t *testing.T) {
	l := New(nil)
	sym := testSymbol()
	l.OnExchangeBalance("paper", "USDT", amt("1000"))
	l.AllocateBucket("desk-a", "paper", "USDT", amt("1000"))

	before := l.Get("paper", "USDT")

	res, err := l.Reserve("desk-a", sym, orders.Buy, price("100"), amt("1"))
	assert.NoError(t, err)
	assert.True(t, res.Amount.Equal(amt("100")))

	mid := l.Get("paper", "USDT")
	assert.True(t, mid.Free.Equal(amt("900")))
	assert.True(t, mid.Reserved.Equal(amt("100")))

	assert.NoError(t, l.Release(res.Id))

	after := l.Get("paper", "USDT")
	assert.True(t, after.Free.Equal(before.Free))
	assert.True(t, after.Reserved.Equal(before.Reserved))
}

func TestReserveFailsWhenBucketAllocationExhausted(t *testing.T) {
	l := New(nil)
	sym := testSymbol()
	l.OnExchangeBalance("paper", "USDT", amt("1000"))
	l.AllocateBucket("desk-a", "paper", "USDT", amt("50"))

	_, err := l.Reserve("desk-a", sym, orders.Buy, price("100"), amt("1"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

// Scenario D — insufficient funds race: only one of two concurrent
// reservations against the same bucket succeeds, and free never goes
// negative (spec.md §8).
func TestScenarioDInsufficientFundsRace(t *testing.T) {
	l := New(nil)
	sym := testSymbol()
	l.OnExchangeBalance("paper", "USDT", amt("100"))
	l.AllocateBucket("desk-a", "paper", "USDT", amt("100"))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Reserve("desk-a", sym, orders.Buy, price("100"), amt("1"))
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	bal := l.Get("paper", "USDT")
	assert.False(t, bal.Free.LessThan(money.Zero))
}

func TestCommitFillTransfersReservedAndCreditsAcquired(t *testing.T) {
	l := New(nil)
	sym := testSymbol()
	l.OnExchangeBalance("paper", "USDT", amt("1000"))
	l.OnExchangeBalance("paper", "BTC", amt("0"))
	l.AllocateBucket("desk-a", "paper", "USDT", amt("1000"))

	res, err := l.Reserve("desk-a", sym, orders.Buy, price("100"), amt("1"))
	assert.NoError(t, err)

	fill := orders.Fill{TradeId: "t1", Price: price("100"), Amount: amt("1")}
	assert.NoError(t, l.CommitFill(res.Id, sym, orders.Buy, fill))

	quote := l.Get("paper", "USDT")
	base := l.Get("paper", "BTC")
	assert.True(t, quote.Reserved.Equal(money.Zero))
	assert.True(t, base.Free.Equal(amt("1")))
}

func TestOnExchangeBalanceEmitsDriftBeyondTolerance(t *testing.T) {
	var captured []DriftEvent
	sink := driftFunc(func(e DriftEvent) { captured = append(captured, e) })
	l := New(sink)
	l.WithTolerance("paper", "USDT", amt("5"))

	l.OnExchangeBalance("paper", "USDT", amt("1000")) // seeding from zero always drifts
	assert.Len(t, captured, 1)

	l.OnExchangeBalance("paper", "USDT", amt("1000")) // unchanged total, no new drift
	assert.Len(t, captured, 1)

	l.OnExchangeBalance("paper", "USDT", amt("1020")) // beyond tolerance
	assert.Len(t, captured, 2)
}

type driftFunc func(DriftEvent)

func (f driftFunc) OnBalanceDrift(e DriftEvent) { f(e) }
