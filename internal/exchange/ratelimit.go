package exchange

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// EndpointClass groups exchange endpoints that share one rate budget (order
// placement, market data, account reads typically differ per exchange).
type EndpointClass string

const (
	ClassOrders     EndpointClass = "orders"
	ClassMarketData EndpointClass = "market_data"
	ClassAccount    EndpointClass = "account"
)

// RateLimiter schedules requests through a token bucket per endpoint class,
// queuing requests within the caller's bounded deadline and failing with
// ErrRateLimited on expiry (spec.md §4.2). Grounded on the single
// rate.Limiter used per client in quantmesh's order.ExchangeOrderExecutor,
// generalized to one bucket per class instead of one bucket per client.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[EndpointClass]*rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[EndpointClass]*rate.Limiter)}
}

// Configure sets the token-bucket rate (requests/sec) and burst size for a
// class. Call before first use; safe to call concurrently with Wait.
func (r *RateLimiter) Configure(class EndpointClass, ratePerSec float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[class] = rate.NewLimiter(rate.Limit(ratePerSec), burst)
}

func (r *RateLimiter) limiterFor(class EndpointClass) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[class]
	if !ok {
		l = rate.NewLimiter(rate.Limit(10), 10)
		r.limiters[class] = l
	}
	return l
}

// Wait blocks until a token is available for class or ctx is done. A
// context cancellation/deadline-exceeded while waiting is surfaced as
// ErrRateLimited (spec.md §4.2: "on deadline expiry the client fails with
// RateLimited").
func (r *RateLimiter) Wait(ctx context.Context, class EndpointClass) error {
	if err := r.limiterFor(class).Wait(ctx); err != nil {
		return ErrRateLimited
	}
	return nil
}
