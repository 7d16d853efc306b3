// Package orders defines the shared order/intent/fill data model used by
// both internal/lifecycle (which owns and mutates Order records) and
// internal/exchange (whose Client interface accepts/returns these types),
// keeping the two packages decoupled from each other (spec.md §9: "never
// pass raw pointers between tasks; pass identifiers + channel-delivered
// snapshots").
package orders

import (
	"time"

	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Limit    OrderType = "LIMIT"
	Market   OrderType = "MARKET"
	PostOnly OrderType = "POST_ONLY"
)

// Intent is a strategy-emitted description of a desired order. ClientOrderId
// is always assigned by the engine, never by the strategy.
type Intent struct {
	ClientOrderId  ClientOrderId
	MarketId       market.Id
	Side           Side
	Type           OrderType
	Price          money.Price // zero for Market orders
	Amount         money.Amount
	StrategyBucket string
	TTL            time.Duration // zero means no expiry
}

// Fill is a single execution event. Fills are append-only; duplicates (same
// TradeId) are idempotently dropped by the Manager.
type Fill struct {
	TradeId     string
	Price       money.Price
	Amount      money.Amount
	FeeAmount   money.Amount
	FeeCurrency market.Currency
	IsMaker     bool
	Time        time.Time
}

// Order is the engine's live record of one order.
type Order struct {
	ClientOrderId   ClientOrderId
	ExchangeOrderId string
	Intent          Intent
	State           OrderState
	FilledAmount    money.Amount
	AvgFillPrice    money.Price
	CreatedAt       time.Time
	LastEventAt     time.Time
	Fills           []Fill
	ReservationId   string

	RejectReason string
	fillIds      map[string]struct{}
}

// View is a read-only, independently-owned copy of an Order handed to
// consumers outside the manager (strategy host, control plane, archive).
// Copying here is what lets the strategy host's tick see a consistent
// snapshot without holding the manager's lock (spec.md §5).
type View struct {
	ClientOrderId   ClientOrderId
	ExchangeOrderId string
	Intent          Intent
	State           OrderState
	FilledAmount    money.Amount
	AvgFillPrice    money.Price
	CreatedAt       time.Time
	LastEventAt     time.Time
	Fills           []Fill
	ReservationId   string
	RejectReason    string
}

// ToView returns a read-only, independently-owned copy of o.
func (o *Order) ToView() View {
	fillsCopy := make([]Fill, len(o.Fills))
	copy(fillsCopy, o.Fills)
	return View{
		ClientOrderId:   o.ClientOrderId,
		ExchangeOrderId: o.ExchangeOrderId,
		Intent:          o.Intent,
		State:           o.State,
		FilledAmount:    o.FilledAmount,
		AvgFillPrice:    o.AvgFillPrice,
		CreatedAt:       o.CreatedAt,
		LastEventAt:     o.LastEventAt,
		Fills:           fillsCopy,
		ReservationId:   o.ReservationId,
		RejectReason:    o.RejectReason,
	}
}

// Remaining returns intent.amount - filled_amount, floored at zero.
func (o *Order) Remaining() money.Amount {
	r := o.Intent.Amount.Sub(o.FilledAmount)
	if r.LessThan(money.Zero) {
		return money.Zero
	}
	return r
}

// ApplyFill dedups by trade id, accumulates FilledAmount, and recomputes the
// amount-weighted average fill price (spec.md §4.3). It reports whether the
// fill was applied (false means it was a dup or would overflow the intent).
func (o *Order) ApplyFill(fill Fill) bool {
	if o.FilledAmount.Add(fill.Amount).GreaterThan(o.Intent.Amount) {
		return false
	}
	if o.fillIds == nil {
		o.fillIds = make(map[string]struct{})
	}
	if _, dup := o.fillIds[fill.TradeId]; dup {
		return false
	}
	o.fillIds[fill.TradeId] = struct{}{}

	prevFilled := o.FilledAmount
	prevNotional := o.AvgFillPrice.Mul(prevFilled)
	newNotional := prevNotional.Decimal().Add(fill.Price.Mul(fill.Amount).Decimal())

	o.FilledAmount = o.FilledAmount.Add(fill.Amount)
	o.Fills = append(o.Fills, fill)

	if !o.FilledAmount.IsZero() {
		o.AvgFillPrice = money.NewPrice(newNotional.Div(o.FilledAmount.Decimal()))
	}
	return true
}
