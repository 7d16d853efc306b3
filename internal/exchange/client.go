// Package exchange defines the capability-set interface every exchange
// connector implements (spec.md §4.2), plus the cross-cutting concerns
// shared by all of them: rate limiting and request signing.
package exchange

import (
	"context"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/lifecycle"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orderbook"
	"github.com/mmb-dev/mmb-engine/internal/orders"
)

// MarketDataKind discriminates the variants carried by MarketDataEvent.
type MarketDataKind int

const (
	OrderBookSnapshotEvent MarketDataKind = iota
	OrderBookDeltaEvent
	TradeEvent
)

type OrderBookSnapshotMsg struct {
	Seq  uint64
	Bids []orderbook.Level
	Asks []orderbook.Level
}

type OrderBookDeltaMsg struct {
	FirstSeq uint64
	LastSeq  uint64
	Changes  []orderbook.Change
}

type TradeMsg struct {
	Price  money.Price
	Amount money.Amount
	Time   time.Time
}

// MarketDataEvent is one item of the event stream subscribe_order_book /
// subscribe_trades produce (spec.md §4.2).
type MarketDataEvent struct {
	Kind     MarketDataKind
	Snapshot *OrderBookSnapshotMsg
	Delta    *OrderBookDeltaMsg
	Trade    *TradeMsg
}

// BalanceEntry is one currency row returned by GetBalances.
type BalanceEntry struct {
	Currency market.Currency
	Free     money.Amount
	Locked   money.Amount
}

// Client is the capability set every exchange connector implements. Method
// signatures reuse internal/lifecycle's CreateResult/CancelResult so any
// Client satisfies lifecycle.ExchangeClient structurally without that
// package importing this one (spec.md §9 decoupling).
type Client interface {
	Name() string

	ListSymbols(ctx context.Context) ([]market.Symbol, error)
	ListCurrencies(ctx context.Context) ([]market.Currency, error)

	SubscribeOrderBook(ctx context.Context, marketId market.Id) (<-chan MarketDataEvent, error)
	SubscribeTrades(ctx context.Context, marketId market.Id) (<-chan MarketDataEvent, error)
	SubscribeUserEvents(ctx context.Context) (<-chan orders.Event, error)

	CreateOrder(ctx context.Context, intent orders.Intent) (lifecycle.CreateResult, error)
	CancelOrder(ctx context.Context, id orders.ClientOrderId) (lifecycle.CancelResult, error)
	GetOrder(ctx context.Context, id orders.ClientOrderId) (orders.View, error)
	GetOrders(ctx context.Context, openOnly bool) ([]orders.View, error)

	GetBalances(ctx context.Context) ([]BalanceEntry, error)
}
