package archive

import (
	"context"

	"github.com/mmb-dev/mmb-engine/internal/ledger"
)

// LedgerDriftSink adapts a Sink into a ledger.DriftSink, archiving every
// balance-drift event under the "balance_drift" table (spec.md §4.4).
type LedgerDriftSink struct {
	sink Sink
	ctx  context.Context
}

// NewLedgerDriftSink binds sink for the lifetime of ctx (normally the
// engine's root context), since ledger.DriftSink.OnBalanceDrift has no
// context parameter of its own.
func NewLedgerDriftSink(ctx context.Context, sink Sink) *LedgerDriftSink {
	return &LedgerDriftSink{sink: sink, ctx: ctx}
}

func (d *LedgerDriftSink) OnBalanceDrift(event ledger.DriftEvent) {
	_ = d.sink.Emit(d.ctx, "balance_drift", wrap(event))
}
