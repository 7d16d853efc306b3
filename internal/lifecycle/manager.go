// Package lifecycle implements the order lifecycle manager: the component
// that owns every Order record keyed by client_order_id, correlates exchange
// events with local intent, and drives the state machine in spec.md §4.3.
package lifecycle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/orders"
)

// ExchangeClient is the subset of internal/exchange.Client the manager needs
// to create and cancel orders, and to reconcile state via GetOrder. Defining
// it here (rather than importing internal/exchange) keeps lifecycle and
// exchange decoupled; internal/exchange.Client satisfies it structurally.
type ExchangeClient interface {
	CreateOrder(ctx context.Context, intent orders.Intent) (CreateResult, error)
	CancelOrder(ctx context.Context, clientOrderId orders.ClientOrderId) (CancelResult, error)
	GetOrder(ctx context.Context, clientOrderId orders.ClientOrderId) (orders.View, error)
}

type CreateResult struct {
	Status          CreateStatus
	ExchangeOrderId string
	RejectReason    string
	RequestId       string
}

type CreateStatus int

const (
	CreateCreated CreateStatus = iota
	CreateRejected
	CreateUnknown
)

type CancelResult struct {
	Status CancelStatus
}

type CancelStatus int

const (
	CancelCancelling CancelStatus = iota
	CancelNotFound
	CancelAlreadyTerminal
)

// Sink receives append-only lifecycle events for archival (spec.md §6).
type Sink interface {
	Emit(ctx context.Context, table string, payload any) error
}

// Ledger is the subset of internal/ledger.Ledger the manager needs to keep
// reservations in sync with fills and terminal order states (spec.md §4.4,
// §8 invariant 5: every reserve is matched by exactly one release or
// commit_fill sequence). Defined locally, rather than importing
// internal/ledger, so lifecycle stays decoupled; internal/ledger.Ledger
// satisfies it structurally.
type Ledger interface {
	CommitFill(reservationId string, symbol market.Symbol, side orders.Side, fill orders.Fill) error
	Release(reservationId string) error
}

// Manager owns all Order records keyed by ClientOrderId.
type Manager struct {
	client  ExchangeClient
	sink    Sink
	ledger  Ledger
	symbols map[market.Id]market.Symbol

	mu     sync.Mutex
	orders map[orders.ClientOrderId]*orders.Order

	reconcileInterval time.Duration
	reconcileAge      time.Duration
	createTimeout     time.Duration
	cancelTimeout     time.Duration

	logger *log.Logger
}

func NewManager(client ExchangeClient, sink Sink) *Manager {
	return &Manager{
		client:            client,
		sink:              sink,
		orders:            make(map[orders.ClientOrderId]*orders.Order),
		reconcileInterval: 15 * time.Second,
		reconcileAge:      15 * time.Second,
		createTimeout:     5 * time.Second,
		cancelTimeout:     5 * time.Second,
		logger:            log.Default(),
	}
}

func (m *Manager) WithReconcileInterval(d time.Duration) *Manager {
	m.reconcileInterval = d
	return m
}

// WithLedger wires the manager into the reservation ledger (spec.md §8
// invariant 5): every fill commits against the order's reservation, and
// every terminal transition releases whatever of it remains. symbols must
// carry a market.Symbol entry for every market this manager's orders can
// reference, since Order/Intent only carry the coarser market.Id.
func (m *Manager) WithLedger(ledger Ledger, symbols map[market.Id]market.Symbol) *Manager {
	m.ledger = ledger
	m.symbols = symbols
	return m
}

// RequestCreate allocates a client order id, records the order as Creating,
// invokes the exchange client asynchronously, and returns immediately
// (spec.md §4.3).
func (m *Manager) RequestCreate(ctx context.Context, intent orders.Intent, symbol market.Symbol, reservationId string) (orders.ClientOrderId, error) {
	if err := symbol.ValidateAmount(intent.Amount, intent.Price); err != nil {
		return "", err
	}

	id := orders.NewClientOrderId()
	intent.ClientOrderId = id

	rec := &orders.Order{
		ClientOrderId: id,
		Intent:        intent,
		State:         orders.Creating,
		CreatedAt:     time.Now(),
		LastEventAt:   time.Now(),
		ReservationId: reservationId,
	}

	m.mu.Lock()
	m.orders[id] = rec
	m.mu.Unlock()

	go m.runCreate(context.WithoutCancel(ctx), id, intent)

	return id, nil
}

func (m *Manager) runCreate(parent context.Context, id orders.ClientOrderId, intent orders.Intent) {
	ctx, cancel := context.WithTimeout(parent, m.createTimeout)
	defer cancel()

	res, err := m.client.CreateOrder(ctx, intent)
	if err != nil {
		m.resolveUnknown(parent, id)
		return
	}

	switch res.Status {
	case CreateCreated:
		m.ingestLocked(id, orders.Event{
			Kind:            orders.EventAck,
			ClientOrderId:   id,
			ExchangeOrderId: res.ExchangeOrderId,
		})
	case CreateRejected:
		m.ingestLocked(id, orders.Event{
			Kind:          orders.EventReject,
			ClientOrderId: id,
			Reason:        res.RejectReason,
		})
	case CreateUnknown:
		m.resolveUnknown(parent, id)
	}
}

// resolveUnknown implements the bounded recovery described in spec.md §4.2:
// poll GetOrder a few times before surfacing Unknown.
func (m *Manager) resolveUnknown(ctx context.Context, id orders.ClientOrderId) {
	const attempts = 3
	backoff := 200 * time.Millisecond
	for i := 0; i < attempts; i++ {
		view, err := m.client.GetOrder(ctx, id)
		if err == nil && view.State != orders.Unknown {
			m.fuseReconciled(id, view)
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	m.mu.Lock()
	rec, ok := m.orders[id]
	if ok {
		rec.State = orders.Unknown
		rec.LastEventAt = time.Now()
	}
	m.mu.Unlock()
}

// RequestCancel is idempotent; on a terminal or unknown order it returns nil
// without a network call. It does not report an AlreadyTerminal status to
// the caller.
func (m *Manager) RequestCancel(ctx context.Context, id orders.ClientOrderId) error {
	m.mu.Lock()
	rec, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if rec.State.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.ingestLocked(id, orders.Event{Kind: orders.EventEngineCancelRequest, ClientOrderId: id})

	go func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cancelTimeout)
		defer cancel()
		res, err := m.client.CancelOrder(cctx, id)
		if err != nil {
			return // reconciliation will catch up
		}
		if res.Status == CancelAlreadyTerminal {
			return
		}
	}()
	return nil
}

// IngestExchangeEvent merges an exchange-originated event into the matching
// order record.
func (m *Manager) IngestExchangeEvent(ctx context.Context, event orders.Event) {
	m.ingestLocked(event.ClientOrderId, event)
}

func (m *Manager) ingestLocked(id orders.ClientOrderId, event orders.Event) {
	m.mu.Lock()
	rec, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	next, valid := orders.NextState(rec.State, event.Kind)
	if !valid {
		m.mu.Unlock()
		m.logger.Printf("lifecycle: dropped invalid transition order=%s state=%s event=%d", id, rec.State, event.Kind)
		return
	}

	if event.ExchangeOrderId != "" && rec.ExchangeOrderId == "" {
		rec.ExchangeOrderId = event.ExchangeOrderId
	}
	if event.Kind == orders.EventReject {
		rec.RejectReason = event.Reason
	}
	fillApplied := false
	if event.Fill != nil {
		if rec.ApplyFill(*event.Fill) {
			fillApplied = true
		} else {
			m.logger.Printf("lifecycle: dropped duplicate/overflowing fill order=%s trade=%s", rec.ClientOrderId, event.Fill.TradeId)
		}
	}

	rec.State = next
	rec.LastEventAt = time.Now()
	snapshot := rec.ToView()
	reservationId := rec.ReservationId
	marketId := rec.Intent.MarketId
	side := rec.Intent.Side
	terminal := next.IsTerminal()
	m.mu.Unlock()

	if m.sink != nil {
		_ = m.sink.Emit(context.Background(), "order_events", snapshot)
	}

	m.settleLedger(reservationId, marketId, side, event, fillApplied, terminal)
}

// settleLedger keeps the reservation ledger in sync with the order's
// lifecycle (spec.md §8 invariant 5): a fill commits the traded amount
// against the reservation, and reaching a terminal state releases whatever
// of it the exchange never consumed. A CommitFill that exhausts the
// reservation removes it, so a Release immediately after is expected to
// report "not found" rather than an error worth surfacing.
func (m *Manager) settleLedger(reservationId string, marketId market.Id, side orders.Side, event orders.Event, fillApplied, terminal bool) {
	if m.ledger == nil || reservationId == "" {
		return
	}

	if fillApplied && event.Fill != nil {
		symbol, ok := m.symbols[marketId]
		if !ok {
			m.logger.Printf("lifecycle: no symbol for market=%s, cannot commit fill reservation=%s", marketId, reservationId)
		} else if err := m.ledger.CommitFill(reservationId, symbol, side, *event.Fill); err != nil {
			m.logger.Printf("lifecycle: commit_fill failed reservation=%s: %v", reservationId, err)
		}
	}

	if terminal {
		if err := m.ledger.Release(reservationId); err != nil {
			m.logger.Printf("lifecycle: release reservation=%s: %v (expected if the last fill already exhausted it)", reservationId, err)
		}
	}
}

// Snapshot returns a consistent, independently-owned view of every order
// this manager holds for a market, terminal ones included — the read the
// strategy host consumes each tick.
func (m *Manager) Snapshot(marketId market.Id) []orders.View {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []orders.View
	for _, rec := range m.orders {
		if rec.Intent.MarketId != marketId {
			continue
		}
		out = append(out, rec.ToView())
	}
	return out
}

// OpenOrders returns every order this manager owns that has not reached a
// terminal state, across all markets — used by the supervisor at shutdown
// to know what it must cancel before flushing the ledger (spec.md §4.6).
func (m *Manager) OpenOrders() []orders.View {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []orders.View
	for _, rec := range m.orders {
		view := rec.ToView()
		if !view.State.IsTerminal() {
			out = append(out, view)
		}
	}
	return out
}

// Get returns a single order's view.
func (m *Manager) Get(id orders.ClientOrderId) (orders.View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[id]
	if !ok {
		return orders.View{}, false
	}
	return rec.ToView(), true
}

// Reconcile polls non-terminal orders older than reconcileAge via GetOrder
// and fuses the returned status using the same transition table — the
// recovery path after websocket disconnects (spec.md §4.3).
func (m *Manager) Reconcile(ctx context.Context) {
	m.mu.Lock()
	var stale []orders.ClientOrderId
	now := time.Now()
	for id, rec := range m.orders {
		if rec.State.IsTerminal() {
			continue
		}
		if now.Sub(rec.LastEventAt) >= m.reconcileAge {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		view, err := m.client.GetOrder(ctx, id)
		if err != nil {
			continue
		}
		m.fuseReconciled(id, view)
	}
}

func (m *Manager) fuseReconciled(id orders.ClientOrderId, view orders.View) {
	kind, ok := orders.EventKindForState(view.State)
	if !ok {
		return
	}
	m.mu.Lock()
	rec, found := m.orders[id]
	creating := found && rec.State == orders.Creating
	m.mu.Unlock()
	if creating && kind != orders.EventAck {
		if _, valid := orders.NextState(orders.Creating, kind); !valid {
			// The exchange already knows the order, which implies the Ack
			// this record never saw: apply it first (Creating -> Created).
			m.ingestLocked(id, orders.Event{Kind: orders.EventAck, ClientOrderId: id, ExchangeOrderId: view.ExchangeOrderId})
		}
	}
	m.ingestLocked(id, orders.Event{
		Kind:            kind,
		ClientOrderId:   id,
		ExchangeOrderId: view.ExchangeOrderId,
	})
}

// RunReconciliationLoop runs Reconcile every interval until ctx is
// cancelled — one of the long-lived loops that select on the shutdown token
// (spec.md §5).
func (m *Manager) RunReconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(m.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}
