package redis

import (
	"context"
	"os"
	"testing"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/internal/backendtest"
)

// Integration tests need a disposable Redis server, e.g. DOCSTORE_REDIS_ADDR=localhost:6379.
func testConnection(t *testing.T) *Connection {
	addr := os.Getenv("DOCSTORE_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCSTORE_REDIS_ADDR not set")
	}
	o := DefaultOptions()
	o.Address = addr
	o.KeyPrefix = "docstore-test:" + docstore.NewUUID().String() + ":"
	c := NewConnection(o)
	t.Cleanup(func() { c.Close() })
	return c
}

func Test_Store_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) docstore.Backend {
		s, err := NewStore(testConnection(t), "/")
		if err != nil {
			t.Fatalf("NewStore failed: %v", err)
		}
		return s
	})
}

func Test_RangeSource_Disjoint(t *testing.T) {
	c := testConnection(t)
	r := NewRangeSource(c)
	ctx := context.Background()
	lo1, hi1, err := r.NextRange(ctx, "items", 10)
	if err != nil {
		t.Fatalf("NextRange failed: %v", err)
	}
	lo2, hi2, _ := r.NextRange(ctx, "items", 10)
	if lo1 != 1 || hi1 != 10 || lo2 != 11 || hi2 != 20 {
		t.Fatalf("got [%d,%d] [%d,%d]", lo1, hi1, lo2, hi2)
	}
}

func Test_WatermarkPublisher_Monotonic(t *testing.T) {
	c := testConnection(t)
	w := NewWatermarkPublisher(c)
	ctx := context.Background()
	w.SaveCompleted(ctx, docstore.SaveSummary{HighWatermark: 9})
	w.SaveCompleted(ctx, docstore.SaveSummary{HighWatermark: 4})
	if v, err := w.Watermark(ctx); err != nil || v != 9 {
		t.Fatalf("got %d, %v want 9", v, err)
	}
}

func Test_Connection_KeysAndSingleton(t *testing.T) {
	o := DefaultOptions()
	o.KeyPrefix = ""
	c := NewConnection(o)
	defer c.Close()
	if got := c.documentKey("items/1"); got != "docstore:doc:items/1" {
		t.Fatalf("got %q want docstore:doc:items/1", got)
	}
	if got := c.hiloKey("items"); got != "docstore:hilo:items" {
		t.Fatalf("got %q want docstore:hilo:items", got)
	}

	if _, err := NewStore(nil, "/"); err == nil && !IsConnectionInstantiated() {
		t.Fatalf("NewStore without a connection should fail")
	}
	first, _ := OpenConnection(DefaultOptions())
	second, _ := OpenConnection(Options{Address: "elsewhere:1"})
	if first != second {
		t.Fatalf("OpenConnection should return the singleton")
	}
	if err := CloseConnection(); err != nil {
		t.Fatalf("CloseConnection failed: %v", err)
	}
	if IsConnectionInstantiated() {
		t.Fatalf("connection should be gone")
	}
}
