package workingmem

import (
	"context"
	"time"
)

// ListBackend is the slice of list semantics the store needs from the shared
// key-value backend. Indices follow Redis conventions: zero-based, negative
// values count from the tail, ranges are inclusive.
type ListBackend interface {
	Push(ctx context.Context, key string, value []byte) error
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Trim(ctx context.Context, key string, start, stop int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Len(ctx context.Context, key string) (int64, error)

	// Replace swaps the full contents of key atomically: no concurrent reader
	// may observe a partial list or a transient empty one.
	Replace(ctx context.Context, key string, values [][]byte, ttl time.Duration) error
}
