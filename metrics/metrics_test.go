package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sharedcode/docstore"
)

func Test_Collector_Observer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}
	c.RequestIssued(docstore.NewUUID(), 1)
	c.RequestIssued(docstore.NewUUID(), 2)
	c.SaveCompleted(context.Background(), docstore.SaveSummary{Puts: 2, Deletes: 1, HighWatermark: 7, Duration: time.Millisecond})
	c.SaveCompleted(context.Background(), docstore.SaveSummary{Puts: 1, HighWatermark: 5})

	if got := testutil.ToFloat64(c.requests); got != 2 {
		t.Fatalf("got %v requests want 2", got)
	}
	if got := testutil.ToFloat64(c.saves); got != 2 {
		t.Fatalf("got %v saves want 2", got)
	}
	if got := testutil.ToFloat64(c.commands.WithLabelValues("put")); got != 3 {
		t.Fatalf("got %v puts want 3", got)
	}
	if got := testutil.ToFloat64(c.highWatermark); got != 7 {
		t.Fatalf("got watermark %v want 7", got)
	}
}

func Test_Collector_Batches(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}
	c.BatchExecuted("ok", time.Millisecond)
	c.BatchExecuted("ConcurrencyViolation", time.Millisecond)
	c.BatchExecuted("ok", time.Millisecond)
	if got := testutil.ToFloat64(c.batches.WithLabelValues("ok")); got != 2 {
		t.Fatalf("got %v want 2", got)
	}
}

func Test_Collector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewCollector(reg); err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}
	if _, err := NewCollector(reg); err == nil {
		t.Fatalf("expected error registering twice")
	}
}
