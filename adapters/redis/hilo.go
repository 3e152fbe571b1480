package redis

import (
	"context"
	"fmt"

	"github.com/sharedcode/docstore/idgen"
)

// RangeSource reserves HiLo ranges with INCRBY, so every client sharing the Redis
// server draws disjoint ranges.
type RangeSource struct {
	conn *Connection
}

var _ idgen.RangeSource = (*RangeSource)(nil)

// NewRangeSource returns a range source over conn.
func NewRangeSource(conn *Connection) *RangeSource {
	return &RangeSource{conn: conn}
}

// NextRange reserves size numbers for collection.
func (r *RangeSource) NextRange(ctx context.Context, collection string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, fmt.Errorf("hilo range size should be positive, got %d", size)
	}
	hi, err := r.conn.Client.IncrBy(ctx, r.conn.hiloKey(collection), size).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis hilo reservation failed for %s: %w", collection, err)
	}
	return hi - size + 1, hi, nil
}
