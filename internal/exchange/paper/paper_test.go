package paper

import (
	"context"
	"testing"
	"time"

	"github.com/mmb-dev/mmb-engine/internal/market"
	"github.com/mmb-dev/mmb-engine/internal/money"
	"github.com/mmb-dev/mmb-engine/internal/orders"
	"github.com/stretchr/testify/assert"
)

func TestCreateOrderFillsImmediately(t *testing.T) {
	ex := New("paper")
	price, _ := money.PriceFromString("100")
	amount, _ := money.AmountFromString("1")

	id := orders.NewClientOrderId()
	intent := orders.Intent{
		ClientOrderId: id,
		MarketId:      market.NewId("paper", "BTC_USDT"),
		Side:          orders.Buy,
		Type:          orders.Limit,
		Price:         price,
		Amount:        amount,
	}

	res, err := ex.CreateOrder(context.Background(), intent)
	assert.NoError(t, err)
	assert.NotEmpty(t, res.ExchangeOrderId)

	events, _ := ex.SubscribeUserEvents(context.Background())
	seen := map[orders.EventKind]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case evt := <-events:
			seen[evt.Kind] = true
		case <-timeout:
			t.Fatal("did not observe all three lifecycle events")
		}
	}
	assert.True(t, seen[orders.EventAck])
	assert.True(t, seen[orders.EventOpen])
	assert.True(t, seen[orders.EventFill])
}

func TestGetOrdersOpenOnlyExcludesFilled(t *testing.T) {
	ex := New("paper")
	price, _ := money.PriceFromString("100")
	amount, _ := money.AmountFromString("1")
	id := orders.NewClientOrderId()
	intent := orders.Intent{ClientOrderId: id, MarketId: market.NewId("paper", "BTC_USDT"), Side: orders.Buy, Type: orders.Limit, Price: price, Amount: amount}

	_, err := ex.CreateOrder(context.Background(), intent)
	assert.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	open, err := ex.GetOrders(context.Background(), true)
	assert.NoError(t, err)
	assert.Empty(t, open)
}
