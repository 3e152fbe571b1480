package redis

import (
	"context"

	log "log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/docstore"
)

// maxScript sets KEYS[1] to ARGV[1] when it is greater than the stored value.
var maxScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local v = tonumber(ARGV[1])
if v > cur then
  redis.call('SET', KEYS[1], ARGV[1])
  return v
end
return cur
`)

// WatermarkPublisher is a session observer publishing the highest saved version to
// Redis, where caching layers of other processes pick it up to invalidate entries.
type WatermarkPublisher struct {
	conn *Connection
}

var _ docstore.Observer = (*WatermarkPublisher)(nil)

// NewWatermarkPublisher returns a publisher over conn.
func NewWatermarkPublisher(conn *Connection) *WatermarkPublisher {
	return &WatermarkPublisher{conn: conn}
}

// RequestIssued does nothing.
func (w *WatermarkPublisher) RequestIssued(sessionID docstore.UUID, count int) {}

// SaveCompleted publishes the save's high watermark. Failures are logged, not returned,
// the save itself already succeeded.
func (w *WatermarkPublisher) SaveCompleted(ctx context.Context, summary docstore.SaveSummary) {
	if summary.HighWatermark == docstore.NoVersion {
		return
	}
	if err := maxScript.Run(ctx, w.conn.Client, []string{w.conn.watermarkKey()}, int64(summary.HighWatermark)).Err(); err != nil {
		log.Warn("failed to publish high watermark", "session", summary.SessionID.String(), "watermark", summary.HighWatermark, "error", err)
	}
}

// Watermark returns the published high watermark.
func (w *WatermarkPublisher) Watermark(ctx context.Context) (docstore.Version, error) {
	n, err := w.conn.Client.Get(ctx, w.conn.watermarkKey()).Int64()
	if err == redis.Nil {
		return docstore.NoVersion, nil
	}
	return docstore.Version(n), err
}
