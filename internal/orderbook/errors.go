package orderbook

import "errors"

// ErrGapDetected is returned by ApplyDelta when first_seq != last_update_id+1
// (spec.md §4.1).
var ErrGapDetected = errors.New("orderbook: gap detected")

// ErrCrossed is returned when applying a delta would leave top_bid >= top_ask
// (spec.md §3: "cross is an error condition").
var ErrCrossed = errors.New("orderbook: crossed book")
