package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitAppendsToTableInOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.NoError(t, s.Emit(ctx, "fills", "a"))
	assert.NoError(t, s.Emit(ctx, "fills", "b"))
	assert.NoError(t, s.Emit(ctx, "drift", "c"))

	assert.Equal(t, []any{"a", "b"}, s.Rows("fills"))
	assert.Equal(t, []any{"c"}, s.Rows("drift"))
}

func TestRowsOnUnknownTableIsEmpty(t *testing.T) {
	s := New()
	assert.Empty(t, s.Rows("nonexistent"))
}
