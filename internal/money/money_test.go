package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundAmountDownNeverOverstates(t *testing.T) {
	a, err := AmountFromString("1.2378")
	assert.NoError(t, err)
	step, err := AmountFromString("0.01")
	assert.NoError(t, err)

	rounded := RoundAmountDown(a, step)
	assert.True(t, rounded.LessThan(a) || rounded.Equal(a))
	assert.Equal(t, "1.23", rounded.String())
}

func TestRoundPriceUpNeverUndersells(t *testing.T) {
	p, err := PriceFromString("100.001")
	assert.NoError(t, err)
	step, err := PriceFromString("0.01")
	assert.NoError(t, err)

	rounded := RoundPriceUpToStep(p, step)
	assert.True(t, rounded.GreaterThanOrEqual(p))
	assert.Equal(t, "100.01", rounded.String())
}

func TestPriceMulConservativeTruncation(t *testing.T) {
	p, _ := PriceFromString("99.95")
	a, _ := AmountFromString("0.5")
	notional := p.Mul(a)
	assert.Equal(t, "49.975", notional.String())
}

func TestAmountJSONRoundTrip(t *testing.T) {
	a, _ := AmountFromString("3.14159265")
	b, err := a.MarshalJSON()
	assert.NoError(t, err)

	var out Amount
	assert.NoError(t, out.UnmarshalJSON(b))
	assert.True(t, out.Equal(a))
}
