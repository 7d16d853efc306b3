// Package supervisor owns every component lifetime the engine runs:
// exchange clients, order book replicas, the lifecycle manager per
// exchange, the ledger, and strategy hosts (spec.md §4.6). It implements
// startup, graceful shutdown, and config-change reboot, and satisfies
// internal/controlplane.Supervisor so the control-plane HTTP server can
// drive it without an import cycle.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/archive"
	"github.com/mmb-dev/mmb-engine/internal/config"
	"github.com/mmb-dev/mmb-engine/internal/controlplane"
	"github.com/mmb-dev/mmb-engine/internal/engineerr"
	"github.com/mmb-dev/mmb-engine/internal/exchange"
	"github.com/mmb-dev/mmb-engine/internal/ledger"
	"github.com/mmb-dev/mmb-engine/internal/lifecycle"
	"github.com/mmb-dev/mmb-engine/internal/logging"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orderbook"
	"github.com/mmb-dev/mmb-engine/internal/strategy"
	"github.com/pelletier/go-toml/v2"
)

// ClientFactory instantiates a concrete exchange.Client for one configured
// account. Supplied by the binary wiring this package (cmd/mmbd), since
// this package has no opinion on which exchanges exist beyond the bundled
// paper adapter.
type ClientFactory func(account config.ExchangeAccount, creds config.Credentials) (exchange.Client, error)

// StrategyFactory builds a strategy.Strategy from its config entry and
// resolved symbol. Keyed by StrategyConfig.Kind in the registry passed to
// New.
type StrategyFactory func(cfg config.StrategyConfig, symbol market.Symbol) (strategy.Strategy, error)

type runningHost struct {
	host   *strategy.Host
	cancel context.CancelFunc
}

// Supervisor drives one running instance of the engine for one loaded
// Config; Reboot discards it and builds a fresh one.
type Supervisor struct {
	clientFactory     ClientFactory
	strategyFactories map[string]StrategyFactory
	archiveSink       archive.Sink
	logger            *logging.Logger
	credentials       map[string]config.Credentials

	mu        sync.Mutex
	cfg       *config.Config
	phase     controlplane.HealthStatus
	startedAt time.Time

	clients  map[string]exchange.Client
	managers map[string]*lifecycle.Manager
	replicas map[market.Id]*orderbook.Replica
	symbols  map[market.Id]market.Symbol
	ledger   *ledger.Ledger
	hosts    []*runningHost

	runCtx    context.Context
	runCancel context.CancelFunc
	stopOnce  sync.Once
}

// New builds a Supervisor that is not yet started. Call Start to load cfg
// and bring the engine up.
func New(clientFactory ClientFactory, strategyFactories map[string]StrategyFactory, archiveSink archive.Sink, credentials map[string]config.Credentials, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		clientFactory:     clientFactory,
		strategyFactories: strategyFactories,
		archiveSink:       archiveSink,
		credentials:       credentials,
		logger:            logger,
		phase:             controlplane.StatusStarting,
	}
}

// Start runs spec.md §4.6's startup sequence: load config is assumed
// already done by the caller (cfg is handed in, already Validate()d);
// instantiate clients, discover symbols, warm replicas, start strategies.
func (s *Supervisor) Start(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.phase = controlplane.StatusStarting
	s.startedAt = time.Now()
	s.clients = make(map[string]exchange.Client)
	s.managers = make(map[string]*lifecycle.Manager)
	s.replicas = make(map[market.Id]*orderbook.Replica)
	s.symbols = make(map[market.Id]market.Symbol)
	s.hosts = nil
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.runCancel = cancel
	s.stopOnce = sync.Once{}

	s.ledger = ledger.New(archive.NewLedgerDriftSink(runCtx, s.archiveSink))
	for _, alloc := range cfg.BucketAllocations {
		allocated, err := money.AmountFromString(alloc.Allocated)
		if err != nil {
			cancel()
			return engineerr.New(engineerr.Fatal, "supervisor.start", fmt.Errorf("bucket allocation %s: %w", alloc.Bucket, err))
		}
		s.ledger.AllocateBucket(alloc.Bucket, alloc.ExchangeId, market.Currency(alloc.Currency), allocated)
	}

	for _, account := range cfg.Exchanges {
		if err := s.bringUpExchange(runCtx, account); err != nil {
			cancel()
			return engineerr.New(engineerr.Fatal, "supervisor.start", err)
		}
	}

	for _, stratCfg := range cfg.Strategies {
		if err := s.bringUpStrategy(runCtx, stratCfg); err != nil {
			cancel()
			return engineerr.New(engineerr.Fatal, "supervisor.start", err)
		}
	}

	s.mu.Lock()
	s.phase = controlplane.StatusOK
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) bringUpExchange(ctx context.Context, account config.ExchangeAccount) error {
	creds := s.credentials[account.ExchangeId]
	client, err := s.clientFactory(account, creds)
	if err != nil {
		return fmt.Errorf("instantiate client %s: %w", account.ExchangeId, err)
	}
	s.mu.Lock()
	s.clients[account.ExchangeId] = client
	s.mu.Unlock()

	allSymbols, err := client.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list_symbols %s: %w", account.ExchangeId, err)
	}
	enabled := make(map[string]bool, len(account.EnabledMarkets))
	for _, m := range account.EnabledMarkets {
		enabled[m] = true
	}

	manager := lifecycle.NewManager(client, s.archiveSink)
	s.mu.Lock()
	s.managers[account.ExchangeId] = manager
	s.mu.Unlock()

	exchangeSymbols := make(map[market.Id]market.Symbol, len(allSymbols))
	for _, sym := range allSymbols {
		if len(enabled) > 0 && !enabled[sym.Market.CurrencyPair] {
			continue
		}
		s.warmReplica(ctx, client, sym)
		exchangeSymbols[sym.Market] = sym
	}

	if err := s.seedBalances(ctx, account.ExchangeId, client); err != nil {
		return fmt.Errorf("seed_balances %s: %w", account.ExchangeId, err)
	}

	manager.WithLedger(s.ledger, exchangeSymbols)

	go pumpOrderEvents(ctx, client, manager, s.logger)
	go manager.RunReconciliationLoop(ctx)

	return nil
}

// seedBalances discovers each currency's free+locked balance from the
// exchange and feeds it into the ledger before any strategy can reserve
// against it (spec.md §4.6: "instantiate clients → discover symbols → warm
// replicas → start strategies" — balance discovery sits alongside symbol
// discovery). Without this, every balanceState starts at free=0 and the
// first Reserve call on a freshly started engine fails.
func (s *Supervisor) seedBalances(ctx context.Context, exchangeId string, client exchange.Client) error {
	balances, err := client.GetBalances(ctx)
	if err != nil {
		return err
	}
	for _, b := range balances {
		s.ledger.OnExchangeBalance(exchangeId, b.Currency, b.Free.Add(b.Locked))
	}
	return nil
}

func (s *Supervisor) warmReplica(ctx context.Context, client exchange.Client, sym market.Symbol) {
	fetcher := &subscriptionFetcher{client: client, timeout: 10 * time.Second}
	replica := orderbook.New(sym.Market, fetcher, true)

	s.mu.Lock()
	s.replicas[sym.Market] = replica
	s.symbols[sym.Market] = sym
	s.mu.Unlock()

	go pumpMarketData(ctx, client, sym.Market, replica, s.logger)
	go watchReplicaFreshness(ctx, replica)
}

func (s *Supervisor) bringUpStrategy(ctx context.Context, cfg config.StrategyConfig) error {
	factory, ok := s.strategyFactories[cfg.Kind]
	if !ok {
		return fmt.Errorf("no strategy factory registered for kind %q", cfg.Kind)
	}
	marketId := market.NewId(cfg.ExchangeId, cfg.Market)

	s.mu.Lock()
	symbol, ok := s.symbols[marketId]
	manager, hasManager := s.managers[cfg.ExchangeId]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy %s: no symbol discovered for market %s", cfg.Name, marketId)
	}
	if !hasManager {
		return fmt.Errorf("strategy %s: no lifecycle manager for exchange %s", cfg.Name, cfg.ExchangeId)
	}

	strat, err := factory(cfg, symbol)
	if err != nil {
		return fmt.Errorf("strategy %s: build: %w", cfg.Name, err)
	}

	replicasView := make(map[market.Id]strategy.Replica, 1)
	symbolsView := make(map[market.Id]market.Symbol, 1)
	s.mu.Lock()
	replicasView[marketId] = s.replicas[marketId]
	symbolsView[marketId] = s.symbols[marketId]
	s.mu.Unlock()

	host := strategy.NewHost(strat, manager, s.ledger, replicasView, symbolsView).WithExplanationSink(s.archiveSink)
	hostCtx, hostCancel := context.WithCancel(ctx)
	go host.Run(hostCtx)

	s.mu.Lock()
	s.hosts = append(s.hosts, &runningHost{host: host, cancel: hostCancel})
	s.mu.Unlock()
	return nil
}

// Shutdown runs spec.md §4.6's shutdown sequence: stop strategies, cancel
// every engine-owned open order with a bounded wait, flush the ledger,
// close clients. Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.phase = controlplane.StatusShuttingDown
		hosts := append([]*runningHost(nil), s.hosts...)
		managers := make([]*lifecycle.Manager, 0, len(s.managers))
		for _, m := range s.managers {
			managers = append(managers, m)
		}
		clients := make([]exchange.Client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()

		for _, rh := range hosts {
			rh.cancel()
		}

		s.cancelOpenOrders(ctx, managers)

		if s.runCancel != nil {
			s.runCancel()
		}

		s.flushLedger(ctx)

		for _, c := range clients {
			if closer, ok := c.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}
	})
	return shutdownErr
}

// cancelOpenOrders requests cancellation of every open order across every
// manager and waits, up to deadline, for them all to reach a terminal
// state — "best-effort with deadline" per spec.md §4.6.
func (s *Supervisor) cancelOpenOrders(ctx context.Context, managers []*lifecycle.Manager) {
	const deadline = 10 * time.Second
	cancelCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for _, m := range managers {
		for _, v := range m.OpenOrders() {
			_ = m.RequestCancel(cancelCtx, v.ClientOrderId)
		}
	}

	deadlineAt := time.Now().Add(deadline)
	for time.Now().Before(deadlineAt) {
		outstanding := 0
		for _, m := range managers {
			outstanding += len(m.OpenOrders())
		}
		if outstanding == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.logger.Warnf("shutdown: some orders did not reach a terminal state within %s", deadline)
}

func (s *Supervisor) flushLedger(ctx context.Context) {
	if s.ledger == nil || s.archiveSink == nil {
		return
	}
	_ = s.archiveSink.Emit(ctx, "supervisor_events", map[string]any{"event": "ledger_flushed"})
}

// Reboot performs a full shutdown followed by startup with a new config
// (spec.md §4.6 and Scenario E).
func (s *Supervisor) Reboot(ctx context.Context, cfg *config.Config) error {
	if err := s.Shutdown(ctx); err != nil {
		return err
	}
	s.stopOnce = sync.Once{}
	return s.Start(ctx, cfg)
}

// Health satisfies controlplane.Supervisor.
func (s *Supervisor) Health() controlplane.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// UptimeMs satisfies controlplane.Supervisor.
func (s *Supervisor) UptimeMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt).Milliseconds()
}

// Stats satisfies controlplane.Supervisor.
func (s *Supervisor) Stats() []controlplane.StrategyStats {
	s.mu.Lock()
	hosts := append([]*runningHost(nil), s.hosts...)
	s.mu.Unlock()

	out := make([]controlplane.StrategyStats, 0, len(hosts))
	for _, rh := range hosts {
		out = append(out, controlplane.StrategyStats{
			Name:         rh.host.Name(),
			Degraded:     rh.host.Degraded(),
			ActiveOrders: rh.host.ActiveOrderCount(),
		})
	}
	return out
}

// RequestStop satisfies controlplane.Supervisor: POST /stop triggers the
// same graceful shutdown as a process-level signal.
func (s *Supervisor) RequestStop(ctx context.Context) error {
	go func() { _ = s.Shutdown(ctx) }()
	return nil
}

// CurrentConfig satisfies controlplane.Supervisor: GET /config.
func (s *Supervisor) CurrentConfig() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

// ProposeConfig satisfies controlplane.Supervisor: POST /config. Validates
// raw as TOML before accepting; a valid config triggers an asynchronous
// Reboot so the HTTP handler can respond immediately (spec.md §6: "response
// documents that the engine will restart").
func (s *Supervisor) ProposeConfig(ctx context.Context, raw []byte) error {
	var cfg config.Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("propose_config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("propose_config: validate: %w", err)
	}
	go func() {
		if err := s.Reboot(context.Background(), &cfg); err != nil {
			s.logger.Errorf("reboot after config change failed: %v", err)
		}
	}()
	return nil
}

