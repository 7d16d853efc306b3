package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/archive"
	"github.com/mmb-dev/mmb-engine/internal/archive/memory"
	"github.com/mmb-dev/mmb-engine/internal/archive/postgres"
	redisarchive "github.com/mmb-dev/mmb-engine/internal/archive/redis"
	"github.com/mmb-dev/mmb-engine/internal/config"
	"github.com/mmb-dev/mmb-engine/internal/controlplane"
	"github.com/mmb-dev/mmb-engine/internal/exchange"
	"github.com/mmb-dev/mmb-engine/internal/exchange/paper"
	"github.com/mmb-dev/mmb-engine/internal/logging"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/strategy"
	"github.com/mmb-dev/mmb-engine/internal/strategy/pmm"
	"github.com/mmb-dev/mmb-engine/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "mmb.toml", "path to engine config")
	credentialsPath := flag.String("credentials", "credentials.toml", "path to exchange credentials")
	archiveBackend := flag.String("archive", "memory", "archive sink: memory, postgres, redis")
	archiveDSN := flag.String("archive-dsn", "", "postgres DSN or redis address, depending on -archive")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var creds []config.Credentials
	if _, statErr := os.Stat(*credentialsPath); statErr == nil {
		creds, err = config.LoadCredentials(*credentialsPath)
		if err != nil {
			log.Fatalf("failed to load credentials: %v", err)
		}
	}
	credsById := make(map[string]config.Credentials, len(creds))
	for _, c := range creds {
		credsById[c.ExchangeId] = c
	}

	sink, err := buildArchiveSink(ctx, *archiveBackend, *archiveDSN)
	if err != nil {
		log.Fatalf("failed to build archive sink: %v", err)
	}

	logger := logging.New("mmbd", logging.ParseLevel(cfg.LogLevel))

	sup := supervisor.New(clientFactory, strategyFactories(), sink, credsById, logger)
	if err := sup.Start(ctx, cfg); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	logger.Infof("engine started with %d exchanges, %d strategies", len(cfg.Exchanges), len(cfg.Strategies))

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		log.Fatalf("failed to watch config: %v", err)
	}
	if err := watcher.Start(ctx); err != nil {
		log.Fatalf("failed to start config watcher: %v", err)
	}
	defer watcher.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg := <-watcher.RebootChan():
				logger.Infof("config changed on disk, rebooting")
				if err := sup.Reboot(ctx, newCfg); err != nil {
					logger.Errorf("reboot failed: %v", err)
				}
			case err := <-watcher.ErrorChan():
				logger.Warnf("config watcher error, keeping current config: %v", err)
			}
		}
	}()

	cpServer := controlplane.New(sup, cfg.ControlPlaneAddr, logger)
	go func() {
		if err := cpServer.Run(); err != nil {
			logger.Errorf("control plane server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
}

func buildArchiveSink(ctx context.Context, backend, dsn string) (archive.Sink, error) {
	switch backend {
	case "memory", "":
		return memory.New(), nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres archive backend requires -archive-dsn")
		}
		return postgres.New(ctx, dsn)
	case "redis":
		if dsn == "" {
			return nil, fmt.Errorf("redis archive backend requires -archive-dsn")
		}
		return redisarchive.New(dsn, "", 0), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", backend)
	}
}

// clientFactory builds the only concrete exchange connector this repo ships:
// the paper adapter. Seeded with a placeholder BTC_USDT/USDT market and
// balances so the engine has something to quote against out of the box;
// wiring a live exchange is a matter of adding a case here.
func clientFactory(account config.ExchangeAccount, creds config.Credentials) (exchange.Client, error) {
	switch account.ExchangeId {
	case "paper":
		ex := paper.New(account.ExchangeId)
		priceStep, _ := money.PriceFromString("0.01")
		amountStep, _ := money.AmountFromString("0.0001")
		minAmount, _ := money.AmountFromString("0.0001")
		minNotional, _ := money.AmountFromString("1")
		ex.AddSymbol(market.Symbol{
			Market:        market.NewId(account.ExchangeId, "BTC_USDT"),
			BaseCurrency:  "BTC",
			QuoteCurrency: "USDT",
			PriceStep:     priceStep,
			AmountStep:    amountStep,
			MinAmount:     minAmount,
			MinNotional:   minNotional,
		})
		ex.SetBalance("USDT", mustAmount("10000"))
		ex.SetBalance("BTC", mustAmount("1"))
		return ex, nil
	default:
		return nil, fmt.Errorf("no client factory registered for exchange_id %q", account.ExchangeId)
	}
}

func strategyFactories() map[string]supervisor.StrategyFactory {
	return map[string]supervisor.StrategyFactory{
		"pmm": func(cfg config.StrategyConfig, symbol market.Symbol) (strategy.Strategy, error) {
			orderAmount, err := money.AmountFromString(cfg.OrderAmount)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: order_amount: %w", cfg.Name, err)
			}
			maxInventory, err := money.AmountFromString(cfg.MaxInventory)
			if err != nil && cfg.MaxInventory != "" {
				return nil, fmt.Errorf("strategy %s: max_inventory: %w", cfg.Name, err)
			}
			return pmm.New(pmm.Config{
				Name:         cfg.Name,
				Market:       symbol.Market,
				Bucket:       cfg.Bucket,
				Tick:         time.Duration(cfg.TickMs) * time.Millisecond,
				SpreadBps:    cfg.SpreadBps,
				OrderAmount:  orderAmount,
				MaxInventory: maxInventory,
			}), nil
		},
	}
}

func mustAmount(s string) money.Amount {
	a, err := money.AmountFromString(s)
	if err != nil {
		panic(err)
	}
	return a
}
