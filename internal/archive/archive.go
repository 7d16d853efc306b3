// Package archive defines the append-only record sink the engine writes
// fills, reservations, and drift events to (spec.md §6), and a
// DriftSink-compatible adapter so internal/ledger can archive drift
// without importing this package directly.
package archive

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// Sink accepts append-only rows keyed by logical table name. Implementations
// never mutate or delete existing rows — archival is for audit and replay,
// not as a source of live engine state.
type Sink interface {
	Emit(ctx context.Context, table string, payload any) error
}

// Envelope wraps an archived payload with a canonical timestamp, reusing
// the teacher's TimeToProto/timestamppb idiom (internal/api/http/http_server.go)
// so a wrapped row carries a stable wire-format time regardless of which
// sink stores it. Only LedgerDriftSink in this package wraps its rows; other
// emitters pass their payloads to Sink.Emit unwrapped.
type Envelope struct {
	RecordedAt *timestamppb.Timestamp `json:"recorded_at"`
	Payload    any                    `json:"payload"`
}

func wrap(payload any) Envelope {
	return Envelope{RecordedAt: timestamppb.New(time.Now()), Payload: payload}
}
