package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/exchange"
	"github.com/mmb-dev/mmb-engine/internal/lifecycle"
	"github.com/mmb-dev/mmb-engine/internal/logging"
	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/orderbook"
)

// pumpOrderEvents forwards SubscribeUserEvents' orders.Event stream into the
// owning manager until ctx is cancelled or the channel closes (spec.md §4.3:
// fills and cancel acks arrive this way).
func pumpOrderEvents(ctx context.Context, client exchange.Client, manager *lifecycle.Manager, logger *logging.Logger) {
	events, err := client.SubscribeUserEvents(ctx)
	if err != nil {
		logger.Errorf("subscribe_user_events %s: %v", client.Name(), err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			manager.IngestExchangeEvent(ctx, event)
		}
	}
}

// pumpMarketData feeds one market's replica from the exchange's order book
// stream, logging gap-recovery triggers rather than surfacing them to the
// strategy layer directly (spec.md §4.1, §7 Recoverable class).
func pumpMarketData(ctx context.Context, client exchange.Client, marketId market.Id, replica *orderbook.Replica, logger *logging.Logger) {
	events, err := client.SubscribeOrderBook(ctx, marketId)
	if err != nil {
		logger.Errorf("subscribe_order_book %s: %v", marketId, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Kind {
			case exchange.OrderBookSnapshotEvent:
				if event.Snapshot != nil {
					replica.ApplySnapshot(event.Snapshot.Seq, event.Snapshot.Bids, event.Snapshot.Asks)
				}
			case exchange.OrderBookDeltaEvent:
				if event.Delta != nil {
					if err := replica.ApplyDelta(event.Delta.FirstSeq, event.Delta.LastSeq, event.Delta.Changes); err != nil {
						logger.Warnf("order book %s: gap detected, resyncing: %v", marketId, err)
					}
				}
			}
		}
	}
}

// watchReplicaFreshness runs the periodic staleness check spec.md §5
// requires independently of inbound traffic, so a dead feed is detected even
// when the exchange stops sending updates entirely.
func watchReplicaFreshness(ctx context.Context, replica *orderbook.Replica) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			replica.CheckWatchdog(now)
		}
	}
}

// subscriptionFetcher implements orderbook.SnapshotFetcher by re-subscribing
// to the exchange's order book stream and taking its first snapshot — the
// only snapshot primitive exchange.Client exposes is the streaming one
// (spec.md §4.2), so gap recovery resubscribes rather than calling a
// separate REST snapshot endpoint.
type subscriptionFetcher struct {
	client  exchange.Client
	timeout time.Duration
}

func (f *subscriptionFetcher) FetchSnapshot(marketId market.Id) (uint64, []orderbook.Level, []orderbook.Level, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	events, err := f.client.SubscribeOrderBook(ctx, marketId)
	if err != nil {
		return 0, nil, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return 0, nil, nil, errors.New("subscription_fetcher: timed out waiting for snapshot")
		case event, ok := <-events:
			if !ok {
				return 0, nil, nil, errors.New("subscription_fetcher: order book stream closed before snapshot")
			}
			if event.Kind == exchange.OrderBookSnapshotEvent && event.Snapshot != nil {
				return event.Snapshot.Seq, event.Snapshot.Bids, event.Snapshot.Asks, nil
			}
		}
	}
}
