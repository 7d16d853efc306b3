// Package redis archives rows into Redis lists, one list per logical
// table, generalizing the teacher's internal/adapter/cache package
// (redis_cache.go's orderbook/snapshot cache) from a keyed cache to an
// append-only archival log.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Sink pushes JSON-encoded rows onto a Redis list keyed by table name.
// Lists are appended to and never trimmed; this sink is a fast archive tier
// beside the durable postgres.Sink, not the archive's system of record.
type Sink struct {
	client *goredis.Client
	prefix string
}

func New(addr, password string, db int) *Sink {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	return &Sink{client: client, prefix: "archive:"}
}

func (s *Sink) key(table string) string { return s.prefix + table }

// Emit pushes payload onto the table's list (RPush, preserving emission
// order for readers that LRange from the head).
func (s *Sink) Emit(ctx context.Context, table string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("archive/redis: marshal payload for %s: %w", table, err)
	}
	return s.client.RPush(ctx, s.key(table), body).Err()
}

// Tail returns the last n rows emitted to table, newest last.
func (s *Sink) Tail(ctx context.Context, table string, n int64) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, s.key(table), -n, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
