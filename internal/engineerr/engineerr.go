// Package engineerr classifies engine errors into the four-way taxonomy of
// spec.md §7 and provides the retry/backoff helper Transient errors use.
package engineerr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class is one of the four error-handling policies of spec.md §7.
type Class int

const (
	// Transient: network timeout, RateLimited, 5xx. Retry with exponential
	// backoff, bounded attempts.
	Transient Class = iota
	// Recoverable: GapDetected, BalanceDrift, Unknown order state. Trigger
	// domain-specific resync; never surfaced to strategy.
	Recoverable
	// TerminalPerOrder: Rejected, InsufficientFunds, validation errors.
	// Recorded on the order, the owning strategy sees it on its next tick.
	TerminalPerOrder
	// Fatal: invalid config at startup, credentials refused, unrecoverable
	// ledger drift. The supervisor refuses to start or initiates shutdown.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Recoverable:
		return "recoverable"
	case TerminalPerOrder:
		return "terminal_per_order"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its taxonomy class.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf extracts the Class of err, defaulting to TerminalPerOrder for
// errors the engine never classified (conservative: don't silently retry or
// resync something unrecognized).
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return TerminalPerOrder
}

// Backoff retries fn with exponential backoff starting at initial, doubling
// up to max, bounded by maxAttempts — the shape every Transient-handling
// loop in the engine follows (spec.md §7), grounded on
// ghostsworm-quantmesh/exchange/poloniex/websocket.go's reconnect loop.
func Backoff(ctx context.Context, maxAttempts int, initial, max time.Duration, fn func() error) error {
	delay := initial
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ClassOf(lastErr) != Transient {
			return lastErr
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > max {
			delay = max
		}
	}
	return lastErr
}
