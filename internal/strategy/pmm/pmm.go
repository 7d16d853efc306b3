// Package pmm implements the MVP "pure market making" strategy: symmetric
// quotes around mid price, skewed by inventory (spec.md §4.5).
package pmm

import (
	"time"

	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orders"
	"github.com/mmb-dev/mmb-engine/internal/strategy"
	"github.com/shopspring/decimal"
)

// Config parameterizes one PMM instance.
type Config struct {
	Name         string
	Market       market.Id
	Bucket       string
	Tick         time.Duration
	SpreadBps    int64        // half-spread in basis points on each side of mid
	OrderAmount  money.Amount // per-side quote size
	MaxInventory money.Amount // base-currency inventory bound used to skew quotes
}

// Strategy is a pure-market-making strategy quoting one market.
type Strategy struct {
	cfg Config
}

func New(cfg Config) *Strategy {
	return &Strategy{cfg: cfg}
}

func (s *Strategy) Name() string                { return s.cfg.Name }
func (s *Strategy) Markets() []market.Id        { return []market.Id{s.cfg.Market} }
func (s *Strategy) Bucket() string              { return s.cfg.Bucket }
func (s *Strategy) TickInterval() time.Duration { return s.cfg.Tick }

// ComputeDesired quotes mid ± spread_bps, shrinking the side that would grow
// inventory further when the base-currency balance already leans past
// MaxInventory (spec.md §4.5: "bounded by inventory skew from ledger
// position").
func (s *Strategy) ComputeDesired(view strategy.View) ([]strategy.DesiredOrder, error) {
	mid := view.Mid()
	if mid.IsZero() {
		return nil, nil
	}

	spread := decimal.NewFromInt(s.cfg.SpreadBps).Div(decimal.NewFromInt(10000))
	bidPrice := money.NewPrice(mid.Decimal().Mul(decimal.NewFromInt(1).Sub(spread)))
	askPrice := money.NewPrice(mid.Decimal().Mul(decimal.NewFromInt(1).Add(spread)))

	bidPrice = view.Symbol.RoundBidPrice(bidPrice)
	askPrice = view.Symbol.RoundAskPrice(askPrice)

	bidAmount, askAmount := s.cfg.OrderAmount, s.cfg.OrderAmount
	if inventory, ok := view.Balances[view.Symbol.BaseCurrency]; ok {
		baseHeld := inventory.Free.Add(inventory.Reserved)
		if !s.cfg.MaxInventory.IsZero() && baseHeld.GreaterThan(s.cfg.MaxInventory) {
			// already long past the bound: stop buying more, keep selling
			bidAmount = money.Zero
		}
	}

	desired := make([]strategy.DesiredOrder, 0, 2)
	if !bidAmount.IsZero() {
		desired = append(desired, strategy.DesiredOrder{
			Slot:   "bid",
			Side:   orders.Buy,
			Type:   orders.Limit,
			Price:  bidPrice,
			Amount: view.Symbol.RoundAmount(bidAmount),
		})
	}
	if !askAmount.IsZero() {
		desired = append(desired, strategy.DesiredOrder{
			Slot:   "ask",
			Side:   orders.Sell,
			Type:   orders.Limit,
			Price:  askPrice,
			Amount: view.Symbol.RoundAmount(askAmount),
		})
	}
	return desired, nil
}
