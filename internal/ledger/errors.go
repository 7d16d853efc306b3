package ledger

import "errors"

// ErrInsufficientFunds is returned by Reserve when a bucket's free balance in
// the required currency cannot cover the request (spec.md §4.4).
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// ErrUnknownReservation is returned by Release/CommitFill for a reservation
// id the ledger has no record of (already released/committed, or never
// issued).
var ErrUnknownReservation = errors.New("ledger: unknown reservation")

// ErrUnknownBucket is returned when a bucket has no allocation for the
// exchange/currency a caller references.
var ErrUnknownBucket = errors.New("ledger: unknown bucket allocation")
