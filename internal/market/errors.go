package market

import "errors"

var (
	ErrBelowMinAmount   = errors.New("market: amount below symbol minimum")
	ErrAboveMaxAmount   = errors.New("market: amount above symbol maximum")
	ErrBelowMinNotional = errors.New("market: notional below symbol minimum")
)
