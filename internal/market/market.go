// Package market defines the canonical identity of a trading market and the
// trading rules (Symbol) that constrain order placement on it.
package market

import (
	"fmt"

	"github.com/mmb-dev/mmb-engine/internal/money"
)

// Id is the canonical (exchange, currency pair) identity of a market. It is a
// hashable value type usable as a map key.
type Id struct {
	ExchangeId   string
	CurrencyPair string
}

func NewId(exchangeId, currencyPair string) Id {
	return Id{ExchangeId: exchangeId, CurrencyPair: currencyPair}
}

func (m Id) String() string {
	return fmt.Sprintf("%s:%s", m.ExchangeId, m.CurrencyPair)
}

// Currency is a short currency code, e.g. "BTC", "USDT".
type Currency string

// Symbol carries the trading rules for one market. It is immutable once
// discovered from the exchange.
type Symbol struct {
	Market       Id
	BaseCurrency Currency
	QuoteCurrency Currency

	PriceStep  money.Price
	AmountStep money.Amount
	MinAmount  money.Amount
	MaxAmount  money.Amount
	MinNotional money.Amount

	MakerFee money.Amount // fraction, e.g. 0.001 == 10 bps
	TakerFee money.Amount

	IsDerivative bool
	ContractSize money.Amount // only meaningful when IsDerivative
}

// ValidateAmount reports whether amount respects MinAmount/MaxAmount and,
// when price is known, MinNotional. It never performs network I/O — used by
// the lifecycle manager to reject orders before any exchange call (spec
// boundary behavior: amount < symbol.min_amount -> Rejected{BelowMin}).
func (s Symbol) ValidateAmount(amount money.Amount, price money.Price) error {
	if amount.LessThan(s.MinAmount) {
		return ErrBelowMinAmount
	}
	if !s.MaxAmount.IsZero() && amount.GreaterThan(s.MaxAmount) {
		return ErrAboveMaxAmount
	}
	if !price.IsZero() {
		notional := price.Mul(amount)
		if notional.LessThan(s.MinNotional) {
			return ErrBelowMinNotional
		}
	}
	return nil
}

// RoundAmount rounds an amount down to the nearest AmountStep multiple.
func (s Symbol) RoundAmount(a money.Amount) money.Amount {
	return money.RoundAmountDown(a, s.AmountStep)
}

// RoundBidPrice rounds a buy price down to the nearest PriceStep (never pay
// more than requested); RoundAskPrice rounds a sell price up (never accept
// less than requested).
func (s Symbol) RoundBidPrice(p money.Price) money.Price {
	return money.RoundPriceDownToStep(p, s.PriceStep)
}

func (s Symbol) RoundAskPrice(p money.Price) money.Price {
	return money.RoundPriceUpToStep(p, s.PriceStep)
}
