// Package ledger maintains per-(exchange, currency) balances and the
// reservation accounting that backs order placement, fusing exchange
// snapshots, live fill deltas, and pending local reservations by the trust
// ordering in spec.md §4.4.
package ledger

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orders"
)

// currencyKey identifies one (exchange, currency) balance.
type currencyKey struct {
	ExchangeId string
	Currency   market.Currency
}

// less implements the fixed lock order spec.md §5 requires: exchange
// ascending, then currency ascending.
func (k currencyKey) less(o currencyKey) bool {
	if k.ExchangeId != o.ExchangeId {
		return k.ExchangeId < o.ExchangeId
	}
	return k.Currency < o.Currency
}

type balanceState struct {
	mu       sync.Mutex
	free     money.Amount
	reserved money.Amount
	inFlight money.Amount
}

// Balance is a read-only snapshot of one (exchange, currency) balance.
type Balance struct {
	ExchangeId string
	Currency   market.Currency
	Free       money.Amount
	Reserved   money.Amount
	InFlight   money.Amount
}

type bucketKey struct {
	Bucket     string
	ExchangeId string
	Currency   market.Currency
}

type bucketState struct {
	mu        sync.Mutex
	allocated money.Amount
	reserved  money.Amount
}

// Reservation is an in-flight lock on a bucket's allocation, created before
// an order is sent and released on the linked order's terminal state
// (spec.md §3).
type Reservation struct {
	Id            string
	Bucket        string
	MarketId      market.Id
	Currency      market.Currency
	Amount        money.Amount
	LinkedOrderId orders.ClientOrderId
}

// DriftEvent is emitted by OnExchangeBalance when local and exchange totals
// diverge beyond tolerance (spec.md §4.4).
type DriftEvent struct {
	ExchangeId string
	Currency   market.Currency
	LocalTotal money.Amount
	Exchange   money.Amount
}

// DriftSink receives BalanceDrift events for archival/alerting.
type DriftSink interface {
	OnBalanceDrift(event DriftEvent)
}

// Ledger owns every Balance and BucketAllocation in the engine.
type Ledger struct {
	defaultTolerance money.Amount
	tolerances       map[currencyKey]money.Amount

	mu           sync.RWMutex
	balances     map[currencyKey]*balanceState
	buckets      map[bucketKey]*bucketState
	reservations map[string]*Reservation

	driftSink DriftSink
	logger    *log.Logger
}

func New(driftSink DriftSink) *Ledger {
	return &Ledger{
		defaultTolerance: money.Zero,
		tolerances:       make(map[currencyKey]money.Amount),
		balances:         make(map[currencyKey]*balanceState),
		buckets:          make(map[bucketKey]*bucketState),
		reservations:     make(map[string]*Reservation),
		driftSink:        driftSink,
		logger:           log.Default(),
	}
}

// WithTolerance sets the per-currency BalanceDrift tolerance; a reconcile
// whose |local.total - exchange.total| stays within tolerance is silent.
func (l *Ledger) WithTolerance(exchangeId string, currency market.Currency, tolerance money.Amount) *Ledger {
	l.tolerances[currencyKey{ExchangeId: exchangeId, Currency: currency}] = tolerance
	return l
}

func (l *Ledger) balanceFor(key currencyKey) *balanceState {
	l.mu.RLock()
	b, ok := l.balances[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.balances[key]; ok {
		return b
	}
	b = &balanceState{}
	l.balances[key] = b
	return b
}

func (l *Ledger) bucketFor(key bucketKey) *bucketState {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &bucketState{}
	l.buckets[key] = b
	return b
}

// AllocateBucket sets or replaces a bucket's allocation cap for one
// (exchange, currency). Allocation changes are administrative (config
// reload) and do not touch in-flight reservations.
func (l *Ledger) AllocateBucket(bucket, exchangeId string, currency market.Currency, allocated money.Amount) {
	bk := l.bucketFor(bucketKey{Bucket: bucket, ExchangeId: exchangeId, Currency: currency})
	bk.mu.Lock()
	bk.allocated = allocated
	bk.mu.Unlock()
}

// reservationCurrency determines which currency a reservation locks: the
// quote currency for a Buy (price * amount of quote is spent), the base
// currency for a Sell (amount of base is spent).
func reservationCurrency(symbol market.Symbol, side orders.Side, amount money.Amount, price money.Price) (market.Currency, money.Amount) {
	if side == orders.Buy {
		return symbol.QuoteCurrency, price.Mul(amount)
	}
	return symbol.BaseCurrency, amount
}

// Reserve locks the currency-and-amount a desired order requires against the
// bucket's allocation and the exchange-wide free balance (spec.md §4.4).
func (l *Ledger) Reserve(bucket string, symbol market.Symbol, side orders.Side, price money.Price, amount money.Amount) (Reservation, error) {
	currency, required := reservationCurrency(symbol, side, amount, price)
	ck := currencyKey{ExchangeId: symbol.Market.ExchangeId, Currency: currency}
	bk := bucketKey{Bucket: bucket, ExchangeId: symbol.Market.ExchangeId, Currency: currency}

	bal := l.balanceFor(ck)
	bucketState := l.bucketFor(bk)

	bal.mu.Lock()
	bucketState.mu.Lock()

	bucketFree := bucketState.allocated.Sub(bucketState.reserved)
	if bucketFree.LessThan(required) || bal.free.LessThan(required) {
		bucketState.mu.Unlock()
		bal.mu.Unlock()
		return Reservation{}, ErrInsufficientFunds
	}

	bal.free = bal.free.Sub(required)
	bal.reserved = bal.reserved.Add(required)
	bucketState.reserved = bucketState.reserved.Add(required)
	bucketState.mu.Unlock()
	bal.mu.Unlock()

	res := Reservation{
		Id:       uuid.NewString(),
		Bucket:   bucket,
		MarketId: symbol.Market,
		Currency: currency,
		Amount:   required,
	}

	l.mu.Lock()
	l.reservations[res.Id] = &res
	l.mu.Unlock()

	return res, nil
}

// Release restores a reservation's locked amount to free, for every path
// (cancel, reject, expire) that ends a reservation without a fill (spec.md
// §3: "released on terminal state of the linked order").
func (l *Ledger) Release(reservationId string) error {
	l.mu.Lock()
	res, ok := l.reservations[reservationId]
	if ok {
		delete(l.reservations, reservationId)
	}
	l.mu.Unlock()
	if !ok {
		return ErrUnknownReservation
	}

	ck := currencyKey{ExchangeId: res.MarketId.ExchangeId, Currency: res.Currency}
	bk := bucketKey{Bucket: res.Bucket, ExchangeId: res.MarketId.ExchangeId, Currency: res.Currency}
	bal := l.balanceFor(ck)
	bucketState := l.bucketFor(bk)

	bal.mu.Lock()
	bucketState.mu.Lock()
	bal.free = bal.free.Add(res.Amount)
	bal.reserved = bal.reserved.Sub(res.Amount)
	bucketState.reserved = bucketState.reserved.Sub(res.Amount)
	bucketState.mu.Unlock()
	bal.mu.Unlock()

	return nil
}

// CommitFill transfers the spent currency out of reserved and credits the
// acquired currency's free balance, adjusting the residual reservation
// in place; a fully-consumed reservation is deleted (spec.md §4.4).
func (l *Ledger) CommitFill(reservationId string, symbol market.Symbol, side orders.Side, fill orders.Fill) error {
	l.mu.Lock()
	res, ok := l.reservations[reservationId]
	l.mu.Unlock()
	if !ok {
		return ErrUnknownReservation
	}

	var spentCurrency, acquiredCurrency market.Currency
	var spent, acquired money.Amount
	if side == orders.Buy {
		spentCurrency, acquiredCurrency = symbol.QuoteCurrency, symbol.BaseCurrency
		spent = fill.Price.Mul(fill.Amount)
		acquired = fill.Amount.Sub(feeIfSameCurrency(fill, symbol.BaseCurrency))
	} else {
		spentCurrency, acquiredCurrency = symbol.BaseCurrency, symbol.QuoteCurrency
		spent = fill.Amount
		acquired = fill.Price.Mul(fill.Amount).Sub(feeIfSameCurrency(fill, symbol.QuoteCurrency))
	}

	spentKey := currencyKey{ExchangeId: symbol.Market.ExchangeId, Currency: spentCurrency}
	acquiredKey := currencyKey{ExchangeId: symbol.Market.ExchangeId, Currency: acquiredCurrency}

	first, second := spentKey, acquiredKey
	swapped := !first.less(second) && first != second
	if swapped {
		first, second = second, first
	}
	firstBal := l.balanceFor(first)
	var secondBal *balanceState
	if first != second {
		secondBal = l.balanceFor(second)
	}

	firstBal.mu.Lock()
	if secondBal != nil {
		secondBal.mu.Lock()
	}

	spentBal := firstBal
	acquiredBal := firstBal
	if secondBal != nil {
		if swapped {
			spentBal, acquiredBal = secondBal, firstBal
		} else {
			spentBal, acquiredBal = firstBal, secondBal
		}
	}

	spentBal.reserved = spentBal.reserved.Sub(spent)
	acquiredBal.free = acquiredBal.free.Add(acquired)

	if secondBal != nil {
		secondBal.mu.Unlock()
	}
	firstBal.mu.Unlock()

	bk := bucketKey{Bucket: res.Bucket, ExchangeId: symbol.Market.ExchangeId, Currency: res.Currency}
	bucketState := l.bucketFor(bk)
	bucketState.mu.Lock()
	bucketState.reserved = bucketState.reserved.Sub(spent)
	bucketState.mu.Unlock()

	l.mu.Lock()
	res.Amount = res.Amount.Sub(spent)
	if res.Amount.LessThanOrEqual(money.Zero) {
		delete(l.reservations, reservationId)
	}
	l.mu.Unlock()

	return nil
}

func feeIfSameCurrency(fill orders.Fill, currency market.Currency) money.Amount {
	if fill.FeeCurrency == currency {
		return fill.FeeAmount
	}
	return money.Zero
}

// OnExchangeBalance reconciles a fresh exchange-reported total against local
// bookkeeping; a divergence beyond tolerance emits BalanceDrift and falls
// back to exchange-snapshot-minus-reservations (spec.md §4.4).
func (l *Ledger) OnExchangeBalance(exchangeId string, currency market.Currency, total money.Amount) {
	ck := currencyKey{ExchangeId: exchangeId, Currency: currency}
	bal := l.balanceFor(ck)

	bal.mu.Lock()
	localTotal := bal.free.Add(bal.reserved).Add(bal.inFlight)
	diff := localTotal.Sub(total)
	if diff.LessThan(money.Zero) {
		diff = total.Sub(localTotal)
	}

	tolerance, ok := l.tolerances[ck]
	if !ok {
		tolerance = l.defaultTolerance
	}

	drifted := diff.GreaterThan(tolerance)
	if drifted {
		bal.free = total.Sub(bal.reserved)
	}
	snapshotLocal, snapshotExchange := localTotal, total
	bal.mu.Unlock()

	if drifted {
		l.logger.Printf("ledger: balance drift exchange=%s currency=%s local=%s exchange=%s", exchangeId, currency, snapshotLocal, snapshotExchange)
		if l.driftSink != nil {
			l.driftSink.OnBalanceDrift(DriftEvent{
				ExchangeId: exchangeId,
				Currency:   currency,
				LocalTotal: snapshotLocal,
				Exchange:   snapshotExchange,
			})
		}
	}
}

// Get returns a read-only snapshot of one (exchange, currency) balance.
func (l *Ledger) Get(exchangeId string, currency market.Currency) Balance {
	bal := l.balanceFor(currencyKey{ExchangeId: exchangeId, Currency: currency})
	bal.mu.Lock()
	defer bal.mu.Unlock()
	return Balance{
		ExchangeId: exchangeId,
		Currency:   currency,
		Free:       bal.free,
		Reserved:   bal.reserved,
		InFlight:   bal.inFlight,
	}
}
