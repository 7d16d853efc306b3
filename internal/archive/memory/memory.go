// Package memory is an in-process archive.Sink, generalizing the teacher's
// internal/adapter/in_memory package (memory_repo.go's map-backed store)
// from an order/trade repository to a generic append-only table store. Used
// in tests and for a dependency-free demo wiring.
package memory

import (
	"context"
	"sync"
)

// Sink stores every emitted row per table, in insertion order, under one
// mutex — matching the teacher's in_memory adapters' single sync.Mutex
// texture rather than per-table locking (this is reference/test
// infrastructure, not a production hot path).
type Sink struct {
	mu   sync.Mutex
	rows map[string][]any
}

func New() *Sink {
	return &Sink{rows: make(map[string][]any)}
}

func (s *Sink) Emit(ctx context.Context, table string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = append(s.rows[table], payload)
	return nil
}

// Rows returns a snapshot copy of everything emitted to table, for test
// assertions.
func (s *Sink) Rows(table string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.rows[table]))
	copy(out, s.rows[table])
	return out
}
