// Package money implements fixed-precision decimal arithmetic for prices and
// amounts. All rounding is conservative: a Price never rounds up from the
// caller's point of view and an Amount never rounds to a value exceeding what
// was asked for, so reservation and balance math never overstates available
// capital.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a fixed-precision trade price.
type Price struct {
	d decimal.Decimal
}

// Amount is a fixed-precision order/fill/balance quantity.
type Amount struct {
	d decimal.Decimal
}

func NewPrice(d decimal.Decimal) Price   { return Price{d: d} }
func NewAmount(d decimal.Decimal) Amount { return Amount{d: d} }

func PriceFromString(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("money: invalid price %q: %w", s, err)
	}
	return Price{d: d}, nil
}

func AmountFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

func (p Price) Decimal() decimal.Decimal  { return p.d }
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (p Price) String() string  { return p.d.String() }
func (a Amount) String() string { return a.d.String() }

func (p Price) IsZero() bool { return p.d.IsZero() }
func (a Amount) IsZero() bool { return a.d.IsZero() }

func (p Price) GreaterThan(o Price) bool  { return p.d.GreaterThan(o.d) }
func (p Price) LessThan(o Price) bool     { return p.d.LessThan(o.d) }
func (p Price) GreaterThanOrEqual(o Price) bool { return p.d.GreaterThanOrEqual(o.d) }
func (p Price) LessThanOrEqual(o Price) bool    { return p.d.LessThanOrEqual(o.d) }
func (p Price) Equal(o Price) bool        { return p.d.Equal(o.d) }

func (a Amount) GreaterThan(o Amount) bool  { return a.d.GreaterThan(o.d) }
func (a Amount) LessThan(o Amount) bool     { return a.d.LessThan(o.d) }
func (a Amount) GreaterThanOrEqual(o Amount) bool { return a.d.GreaterThanOrEqual(o.d) }
func (a Amount) LessThanOrEqual(o Amount) bool    { return a.d.LessThanOrEqual(o.d) }
func (a Amount) Equal(o Amount) bool        { return a.d.Equal(o.d) }

func (a Amount) Add(o Amount) Amount { return Amount{d: a.d.Add(o.d)} }
func (a Amount) Sub(o Amount) Amount { return Amount{d: a.d.Sub(o.d)} }

// Mul returns the notional value (price * amount) as an Amount expressed in
// quote currency, rounded down to 8 decimal places — conservative, never
// overstates required capital.
func (p Price) Mul(a Amount) Amount {
	return Amount{d: p.d.Mul(a.d).Truncate(8)}
}

func (a Amount) MarshalJSON() ([]byte, error) { return a.d.MarshalJSON() }
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	a.d = d
	return nil
}

func (p Price) MarshalJSON() ([]byte, error) { return p.d.MarshalJSON() }
func (p *Price) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	p.d = d
	return nil
}

// RoundAmountDown rounds amount down to the nearest multiple of step — never
// producing a sub-step value and never overstating what is actually
// available.
func RoundAmountDown(a Amount, step Amount) Amount {
	if step.d.IsZero() {
		return a
	}
	quotient := a.d.Div(step.d).Truncate(0)
	return Amount{d: quotient.Mul(step.d)}
}

// RoundPriceDownToStep rounds a bid price down to the nearest step (never pay
// more than intended) and RoundPriceUpToStep rounds an ask price up (never
// sell for less than intended).
func RoundPriceDownToStep(p Price, step Price) Price {
	if step.d.IsZero() {
		return p
	}
	quotient := p.d.Div(step.d).Truncate(0)
	return Price{d: quotient.Mul(step.d)}
}

func RoundPriceUpToStep(p Price, step Price) Price {
	if step.d.IsZero() {
		return p
	}
	quotient := p.d.DivRound(step.d, 0)
	rounded := quotient.Mul(step.d)
	if rounded.LessThan(p.d) {
		rounded = rounded.Add(step.d)
	}
	return Price{d: rounded}
}

var Zero = Amount{d: decimal.Zero}
var ZeroPrice = Price{d: decimal.Zero}
