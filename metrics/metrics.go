// Package metrics exposes session and gateway activity as Prometheus metrics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharedcode/docstore"
)

const namespace = "docstore"

// Collector is a docstore.Observer recording session round trips and saves. It also
// records batches handled by the HTTP gateway.
type Collector struct {
	requests      prometheus.Counter
	saves         prometheus.Counter
	commands      *prometheus.CounterVec
	saveDuration  prometheus.Histogram
	highWatermark prometheus.Gauge
	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram

	locker    sync.Mutex
	watermark docstore.Version
}

var _ docstore.Observer = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "requests_total",
			Help: "Remote round trips issued by sessions.",
		}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "saves_total",
			Help: "Completed SaveChanges calls that sent a batch.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "commands_total",
			Help: "Commands sent by completed saves, by kind.",
		}, []string{"kind"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "save_duration_seconds",
			Help:    "Duration of completed saves.",
			Buckets: prometheus.DefBuckets,
		}),
		highWatermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "high_watermark",
			Help: "Highest document version observed by a completed save.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "batches_total",
			Help: "Batches executed by the HTTP gateway, by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "batch_duration_seconds",
			Help:    "Duration of batches executed by the HTTP gateway.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, m := range []prometheus.Collector{c.requests, c.saves, c.commands, c.saveDuration, c.highWatermark, c.batches, c.batchDuration} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RequestIssued counts one session round trip.
func (c *Collector) RequestIssued(sessionID docstore.UUID, count int) {
	c.requests.Inc()
}

// SaveCompleted records a completed save.
func (c *Collector) SaveCompleted(ctx context.Context, summary docstore.SaveSummary) {
	c.saves.Inc()
	c.commands.WithLabelValues("put").Add(float64(summary.Puts))
	c.commands.WithLabelValues("delete").Add(float64(summary.Deletes))
	c.commands.WithLabelValues("deferred").Add(float64(summary.Deferred))
	c.saveDuration.Observe(summary.Duration.Seconds())
	c.locker.Lock()
	defer c.locker.Unlock()
	if summary.HighWatermark > c.watermark {
		c.watermark = summary.HighWatermark
		c.highWatermark.Set(float64(summary.HighWatermark))
	}
}

// BatchExecuted records a batch handled by the HTTP gateway. outcome is "ok" or an error code name.
func (c *Collector) BatchExecuted(outcome string, d time.Duration) {
	c.batches.WithLabelValues(outcome).Inc()
	c.batchDuration.Observe(d.Seconds())
}
