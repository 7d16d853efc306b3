package strategy

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/ledger"
	"github.com/mmb-dev/mmb-engine/internal/lifecycle"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/orderbook"
	"github.com/mmb-dev/mmb-engine/internal/orders"
)

// Replica is the subset of orderbook.Replica the host needs to build a
// View. Defined locally so host doesn't force a concrete replica type on
// callers.
type Replica interface {
	TopOfBook() (bestBid, bestAsk orderbook.Level, stale bool)
}

// ExplanationSink archives a strategy's reasoning for a desired order slot,
// matching original_source's disposition explanation machinery.
type ExplanationSink interface {
	Emit(ctx context.Context, table string, payload any) error
}

// Host runs one strategy's tick loop: acquire a consistent view, compute a
// desired order set, diff against live orders, reserve and issue
// create/cancel commands (spec.md §4.5).
type Host struct {
	strategy Strategy
	manager  *lifecycle.Manager
	ledger   *ledger.Ledger
	replicas map[market.Id]Replica
	symbols  map[market.Id]market.Symbol
	explain  ExplanationSink

	pendingThreshold int
	logger           *log.Logger

	mu    sync.Mutex
	slots map[string]orders.ClientOrderId // slot -> live client order id, this strategy's bookkeeping only

	statsMu       sync.Mutex
	degradeWindow time.Duration
	degradeAfter  int
	errorTimes    []time.Time
	degraded      bool
}

// NewHost wires a strategy to the shared lifecycle manager and ledger. Every
// market the strategy declares must have a matching replica and symbol
// entry, supplied by the caller (normally the supervisor at startup).
func NewHost(strat Strategy, manager *lifecycle.Manager, ldg *ledger.Ledger, replicas map[market.Id]Replica, symbols map[market.Id]market.Symbol) *Host {
	return &Host{
		strategy:         strat,
		manager:          manager,
		ledger:           ldg,
		replicas:         replicas,
		symbols:          symbols,
		pendingThreshold: 8,
		logger:           log.Default(),
		slots:            make(map[string]orders.ClientOrderId),
		degradeWindow:    time.Minute,
		degradeAfter:     5,
	}
}

// WithExplanationSink attaches an archive for per-slot strategy reasoning.
// Optional: a Host with no sink simply drops explanations.
func (h *Host) WithExplanationSink(sink ExplanationSink) *Host {
	h.explain = sink
	return h
}

// Run ticks the strategy at its declared interval until ctx is cancelled —
// one of the long-lived tasks selecting on the shutdown token (spec.md §5).
func (h *Host) Run(ctx context.Context) {
	ticker := time.NewTicker(h.strategy.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs exactly one cycle: view, compute, diff, act. Exported so tests
// and a deterministic backtest driver can step the host without a ticker.
func (h *Host) Tick(ctx context.Context) {
	for _, marketId := range h.strategy.Markets() {
		h.tickMarket(ctx, marketId)
	}
}

func (h *Host) tickMarket(ctx context.Context, marketId market.Id) {
	symbol, ok := h.symbols[marketId]
	if !ok {
		h.logger.Printf("strategy: %s has no symbol for market %s, skipping tick", h.strategy.Name(), marketId)
		return
	}
	replica, ok := h.replicas[marketId]
	if !ok {
		h.logger.Printf("strategy: %s has no replica for market %s, skipping tick", h.strategy.Name(), marketId)
		return
	}

	bestBid, bestAsk, stale := replica.TopOfBook()
	if stale {
		return // spec.md §4.1: strategies are blocked from using a Resyncing market
	}

	liveOrders := h.manager.Snapshot(marketId)
	if h.pendingCount(liveOrders) >= h.pendingThreshold {
		return // spec.md §4.5 backpressure: defer to next tick
	}

	balances := map[market.Currency]ledger.Balance{
		symbol.BaseCurrency:  h.ledger.Get(marketId.ExchangeId, symbol.BaseCurrency),
		symbol.QuoteCurrency: h.ledger.Get(marketId.ExchangeId, symbol.QuoteCurrency),
	}

	view := View{
		Market:     marketId,
		Symbol:     symbol,
		BestBid:    bestBid,
		BestAsk:    bestAsk,
		Stale:      stale,
		LiveOrders: liveOrders,
		Balances:   balances,
	}

	desired, err := h.strategy.ComputeDesired(view)
	if err != nil {
		h.logger.Printf("strategy: %s compute_desired error on %s: %v", h.strategy.Name(), marketId, err)
		h.recordTickError()
		return
	}
	h.recordTickSuccess()

	h.diffAndAct(ctx, symbol, desired)
}

// recordTickError tracks a ComputeDesired failure within the rolling
// degrade window; once degradeAfter failures land inside the window the
// strategy is marked Degraded — new order placement is suppressed but
// existing orders are left alone (spec.md §7).
func (h *Host) recordTickError() {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-h.degradeWindow)
	kept := h.errorTimes[:0]
	for _, t := range h.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.errorTimes = append(kept, now)
	if len(h.errorTimes) >= h.degradeAfter {
		h.degraded = true
	}
}

func (h *Host) recordTickSuccess() {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.errorTimes = nil
	h.degraded = false
}

// Degraded reports whether repeated tick failures have suppressed new
// order placement for this strategy.
func (h *Host) Degraded() bool {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.degraded
}

func (h *Host) isDegraded() bool {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.degraded
}

// ActiveOrderCount returns the number of slots this host is currently
// tracking a live order for.
func (h *Host) ActiveOrderCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slots)
}

// Name exposes the underlying strategy's name for stats reporting.
func (h *Host) Name() string { return h.strategy.Name() }

func (h *Host) pendingCount(views []orders.View) int {
	count := 0
	for _, v := range views {
		if v.State == orders.Creating || v.State == orders.Cancelling {
			count++
		}
	}
	return count
}

// diffAndAct implements spec.md §4.5 step 3: missing slots create, changed
// slots cancel+create, removed slots cancel.
func (h *Host) diffAndAct(ctx context.Context, symbol market.Symbol, desired []DesiredOrder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool, len(desired))
	for _, d := range desired {
		seen[d.Slot] = true

		existingId, tracked := h.slots[d.Slot]
		if tracked {
			view, ok := h.manager.Get(existingId)
			if !ok || view.State.IsTerminal() {
				tracked = false
			} else if h.withinTolerance(symbol, view, d) {
				continue
			} else {
				_ = h.manager.RequestCancel(ctx, existingId)
				delete(h.slots, d.Slot)
				tracked = false
			}
		}

		if !tracked {
			h.createSlot(ctx, symbol, d)
		}
	}

	for slot, id := range h.slots {
		if !seen[slot] {
			_ = h.manager.RequestCancel(ctx, id)
			delete(h.slots, slot)
		}
	}
}

func (h *Host) withinTolerance(symbol market.Symbol, view orders.View, d DesiredOrder) bool {
	priceStep := symbol.PriceStep.Decimal()
	amountStep := symbol.AmountStep.Decimal()
	priceDiff := view.Intent.Price.Decimal().Sub(d.Price.Decimal()).Abs()
	amountDiff := view.Intent.Amount.Decimal().Sub(d.Amount.Decimal()).Abs()
	return priceDiff.LessThanOrEqual(priceStep) && amountDiff.LessThanOrEqual(amountStep)
}

func (h *Host) createSlot(ctx context.Context, symbol market.Symbol, d DesiredOrder) {
	if h.isDegraded() {
		h.logger.Printf("strategy: %s is degraded, suppressing new order for slot %s", h.strategy.Name(), d.Slot)
		return
	}

	res, err := h.ledger.Reserve(h.strategy.Bucket(), symbol, d.Side, d.Price, d.Amount)
	if err != nil {
		h.logger.Printf("strategy: %s reserve failed for slot %s: %v, aborting this action", h.strategy.Name(), d.Slot, err)
		return
	}

	intent := orders.Intent{
		MarketId:       symbol.Market,
		Side:           d.Side,
		Type:           d.Type,
		Price:          d.Price,
		Amount:         d.Amount,
		StrategyBucket: h.strategy.Bucket(),
	}

	id, err := h.manager.RequestCreate(ctx, intent, symbol, res.Id)
	if err != nil {
		_ = h.ledger.Release(res.Id)
		h.logger.Printf("strategy: %s request_create failed for slot %s: %v", h.strategy.Name(), d.Slot, err)
		return
	}
	h.slots[d.Slot] = id

	if d.Explanation != "" && h.explain != nil {
		_ = h.explain.Emit(ctx, "disposition_explanations", map[string]any{
			"strategy": h.strategy.Name(),
			"slot": d.Slot,
			"client_order_id": string(id),
			"explanation": d.Explanation,
		})
	}
}
