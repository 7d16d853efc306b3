package exchange

import "errors"

// ErrRateLimited is returned when a request's bounded deadline expires while
// still queued behind a token-bucket limiter (spec.md §4.2).
var ErrRateLimited = errors.New("exchange: rate limited")
