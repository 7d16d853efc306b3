// Package strategy defines the contract between the strategy host and
// pluggable trading strategies (spec.md §4.5), shape-grounded on
// amirphl-simple-trader/internal/strategy's Strategy interface
// (Name/Symbol/OnCandles/...), adapted from candle-driven signals to
// desired-order-set computation against a consistent market view.
package strategy

import (
	"time"

	"github.com/mmb-dev/mmb-engine/internal/ledger"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orderbook"
	"github.com/mmb-dev/mmb-engine/internal/orders"
	"github.com/shopspring/decimal"
)

var decimalTwo = decimal.NewFromInt(2)

// View is the consistent, read-only-within-tick snapshot the host hands to
// Strategy.ComputeDesired (spec.md §4.5 step 1).
type View struct {
	Market     market.Id
	Symbol     market.Symbol
	BestBid    orderbook.Level
	BestAsk    orderbook.Level
	Stale      bool
	LiveOrders []orders.View
	Balances   map[market.Currency]ledger.Balance
}

// Mid returns the midpoint of best bid/ask, or the zero price if the book
// is stale or one-sided.
func (v View) Mid() money.Price {
	if v.Stale || v.BestBid.Price.IsZero() || v.BestAsk.Price.IsZero() {
		return money.ZeroPrice
	}
	sum := v.BestBid.Price.Decimal().Add(v.BestAsk.Price.Decimal())
	return money.NewPrice(sum.Div(decimalTwo))
}

// DesiredOrder is one entry of a DesiredOrderSet (spec.md §4.5 step 2). Slot
// is a strategy-chosen stable key identifying the "same" logical order
// across ticks, independent of its exchange identity.
type DesiredOrder struct {
	Slot   string
	Side   orders.Side
	Type   orders.OrderType
	Price  money.Price
	Amount money.Amount

	// Explanation is an optional human-readable reason for this slot's
	// price/amount, archived alongside order creation (original_source's
	// disposition explanation machinery). Strategies may leave it empty.
	Explanation string
}

// Strategy declares its markets and bucket and computes desired order sets
// from a consistent view each tick.
type Strategy interface {
	Name() string
	Markets() []market.Id
	Bucket() string
	TickInterval() time.Duration
	ComputeDesired(view View) ([]DesiredOrder, error)
}
