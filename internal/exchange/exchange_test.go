package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterQueuesWithinBudget(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure(ClassOrders, 1000, 5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.Wait(ctx, ClassOrders))
	}
}

func TestRateLimiterFailsOnDeadlineExceeded(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure(ClassOrders, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_ = rl.Wait(context.Background(), ClassOrders) // drain the single burst token
	err := rl.Wait(ctx, ClassOrders)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSignIsDeterministic(t *testing.T) {
	sig1 := Sign("secret", "payload")
	sig2 := Sign("secret", "payload")
	assert.Equal(t, sig1, sig2)
	assert.NotEqual(t, sig1, Sign("other-secret", "payload"))
}
