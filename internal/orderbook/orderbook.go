// Package orderbook maintains a per-market replica of bid/ask price levels
// built from exchange snapshot and delta streams (spec.md §4.1). It performs
// no matching — that is an exchange-side concern, not the replica's.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orders"
)

// Status is the replica's freshness state.
type Status int

const (
	Ready Status = iota
	Resyncing
)

// Level is one aggregate price level.
type Level struct {
	Price  money.Price
	Amount money.Amount
}

// Change is a single level update within a delta. NewAmount == 0 removes the
// level.
type Change struct {
	Side      orders.Side // Buy == bid side, Sell == ask side
	Price     money.Price
	NewAmount money.Amount
}

// Event is published to subscribers on every accepted snapshot or delta.
type Event struct {
	Market market.Id
	Status Status
}

// SnapshotFetcher re-requests a fresh snapshot from the owning exchange
// adapter during gap recovery (spec.md §4.1 "re-requests a snapshot from the
// exchange adapter").
type SnapshotFetcher interface {
	FetchSnapshot(marketId market.Id) (seq uint64, bids, asks []Level, err error)
}

// pendingDelta buffers a delta received while Resyncing, so it can be
// replayed once a fresh snapshot lands (spec.md §4.1).
type pendingDelta struct {
	firstSeq uint64
	lastSeq  uint64
	changes  []Change
}

// Replica is one market's order book replica. The zero value is not usable;
// construct with New.
type Replica struct {
	marketId market.Id
	fetcher  SnapshotFetcher

	hasSequences   bool
	freshnessBound time.Duration

	mu            sync.RWMutex
	status        Status
	lastUpdateId  uint64
	bids          []Level // sorted descending by price
	asks          []Level // sorted ascending by price
	lastEventTime time.Time
	pending       []pendingDelta

	subMu sync.Mutex
	subs  []chan Event
}

// New constructs a Replica. hasSequences is false for exchanges that publish
// depth without sequence numbers, switching gap detection to the watchdog
// path (spec.md §4.1 "Edge cases").
func New(marketId market.Id, fetcher SnapshotFetcher, hasSequences bool) *Replica {
	return &Replica{
		marketId:       marketId,
		fetcher:        fetcher,
		hasSequences:   hasSequences,
		freshnessBound: 10 * time.Second,
		status:         Resyncing,
		lastEventTime:  time.Now(),
	}
}

// WithFreshnessBound overrides the default 10s order-book-freshness default
// (spec.md §5).
func (r *Replica) WithFreshnessBound(d time.Duration) *Replica {
	r.freshnessBound = d
	return r
}

// ApplySnapshot replaces state wholesale and establishes last_update_id = seq
// (spec.md §4.1).
func (r *Replica) ApplySnapshot(seq uint64, bids, asks []Level) {
	r.mu.Lock()
	r.lastUpdateId = seq
	r.bids = sortedCopy(bids, true)
	r.asks = sortedCopy(asks, false)
	r.lastEventTime = time.Now()
	r.status = Ready

	replay := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, pd := range replay {
		if pd.firstSeq <= seq+1 && seq+1 <= pd.lastSeq {
			r.replayLocked(pd)
		}
	}

	r.publish()
}

// replayLocked merges a buffered delta directly, bypassing the strict
// first_seq continuity check — the caller has already established
// first_seq <= snapshot.seq+1 <= last_seq, which is the applicability test
// spec.md §4.1 specifies for buffered-delta replay after resync.
func (r *Replica) replayLocked(pd pendingDelta) {
	r.mu.Lock()
	newBids := append([]Level(nil), r.bids...)
	newAsks := append([]Level(nil), r.asks...)
	for _, c := range pd.changes {
		if c.Side == orders.Buy {
			newBids = applyLevel(newBids, c.Price, c.NewAmount, true)
		} else {
			newAsks = applyLevel(newAsks, c.Price, c.NewAmount, false)
		}
	}
	if crossed(newBids, newAsks) {
		r.mu.Unlock()
		return
	}
	r.bids = newBids
	r.asks = newAsks
	if pd.lastSeq > r.lastUpdateId {
		r.lastUpdateId = pd.lastSeq
	}
	r.lastEventTime = time.Now()
	r.mu.Unlock()
}

// ApplyDelta merges level updates when first_seq == last_update_id + 1;
// otherwise it transitions to Resyncing and returns ErrGapDetected (spec.md
// §4.1). A delta that would cross the book triggers the same resync path and
// returns ErrCrossed.
func (r *Replica) ApplyDelta(firstSeq, lastSeq uint64, changes []Change) error {
	r.mu.Lock()

	if r.status == Resyncing {
		r.pending = append(r.pending, pendingDelta{firstSeq: firstSeq, lastSeq: lastSeq, changes: changes})
		r.mu.Unlock()
		return ErrGapDetected
	}

	if r.hasSequences && firstSeq != r.lastUpdateId+1 {
		r.pending = append(r.pending, pendingDelta{firstSeq: firstSeq, lastSeq: lastSeq, changes: changes})
		r.status = Resyncing
		r.mu.Unlock()
		r.triggerResync()
		return ErrGapDetected
	}

	newBids := append([]Level(nil), r.bids...)
	newAsks := append([]Level(nil), r.asks...)
	for _, c := range changes {
		if c.Side == orders.Buy {
			newBids = applyLevel(newBids, c.Price, c.NewAmount, true)
		} else {
			newAsks = applyLevel(newAsks, c.Price, c.NewAmount, false)
		}
	}

	if crossed(newBids, newAsks) {
		r.pending = append(r.pending, pendingDelta{firstSeq: firstSeq, lastSeq: lastSeq, changes: changes})
		r.status = Resyncing
		r.mu.Unlock()
		r.triggerResync()
		return ErrCrossed
	}

	r.bids = newBids
	r.asks = newAsks
	r.lastUpdateId = lastSeq
	r.lastEventTime = time.Now()
	r.mu.Unlock()

	r.publish()
	return nil
}

// triggerResync re-requests a snapshot from the adapter and applies it. Run
// synchronously from the caller's goroutine — the owning exchange client's
// single writer, per spec.md §5 locking discipline.
func (r *Replica) triggerResync() {
	if r.fetcher == nil {
		return
	}
	seq, bids, asks, err := r.fetcher.FetchSnapshot(r.marketId)
	if err != nil {
		return
	}
	r.ApplySnapshot(seq, bids, asks)
}

// CheckWatchdog is called periodically for exchanges without sequence
// numbers; it triggers a resync if no event has landed within the freshness
// bound (spec.md §4.1 "Edge cases", §5 defaults).
func (r *Replica) CheckWatchdog(now time.Time) {
	r.mu.RLock()
	stale := r.status == Ready && now.Sub(r.lastEventTime) > r.freshnessBound
	r.mu.RUnlock()
	if stale {
		r.mu.Lock()
		r.status = Resyncing
		r.mu.Unlock()
		r.triggerResync()
	}
}

// TopOfBook returns the best bid/ask. stale is true while Resyncing, in
// which case bestBid/bestAsk are zero values and must not be used (spec.md
// §4.1: "top_of_book() returns Stale").
func (r *Replica) TopOfBook() (bestBid, bestAsk Level, stale bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.status == Resyncing {
		return Level{}, Level{}, true
	}
	if len(r.bids) > 0 {
		bestBid = r.bids[0]
	}
	if len(r.asks) > 0 {
		bestAsk = r.asks[0]
	}
	return bestBid, bestAsk, false
}

// Depth returns up to n aggregate levels for a side, best price first.
func (r *Replica) Depth(side orders.Side, n int) []Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.asks
	if side == orders.Buy {
		src = r.bids
	}
	if n > len(src) {
		n = len(src)
	}
	out := make([]Level, n)
	copy(out, src[:n])
	return out
}

// Status reports the replica's current freshness state.
func (r *Replica) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Subscribe registers a fan-out channel notified on every accepted snapshot
// or delta (spec.md §4.1). The channel is buffered; a slow consumer drops
// events rather than blocking the writer.
func (r *Replica) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Replica) publish() {
	r.mu.RLock()
	evt := Event{Market: r.marketId, Status: r.status}
	r.mu.RUnlock()

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func sortedCopy(levels []Level, descending bool) []Level {
	out := append([]Level(nil), levels...)
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// applyLevel inserts, updates, or removes a single price level, keeping the
// slice sorted (descending for bids, ascending for asks).
func applyLevel(levels []Level, price money.Price, amount money.Amount, descending bool) []Level {
	idx := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})

	found := idx < len(levels) && levels[idx].Price.Equal(price)

	if amount.IsZero() {
		if found {
			levels = append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}

	if found {
		levels[idx].Amount = amount
		return levels
	}

	levels = append(levels, Level{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = Level{Price: price, Amount: amount}
	return levels
}

func crossed(bids, asks []Level) bool {
	if len(bids) == 0 || len(asks) == 0 {
		return false
	}
	return bids[0].Price.GreaterThanOrEqual(asks[0].Price)
}
