package metrics

import (
	"context"
	"sync"
	"time"
)

// QueueStats contains queue statistics for the gauges.
type QueueStats struct {
	Pending  int64
	Deferred int64
	Failed   int64
}

// QueueStatsProvider provides queue statistics for metrics
type QueueStatsProvider interface {
	QueueGauges(ctx context.Context) (*QueueStats, error)
}

// Collector periodically refreshes the queue depth gauges.
type Collector struct {
	metrics  *Metrics
	provider QueueStatsProvider
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a queue gauge collector.
func NewCollector(m *Metrics, provider QueueStatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:  m,
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the collector background task
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.refresh(ctx)
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) refresh(ctx context.Context) {
	stats, err := c.provider.QueueGauges(ctx)
	if err != nil {
		return
	}
	c.metrics.QueuePending.Set(float64(stats.Pending))
	c.metrics.QueueDeferred.Set(float64(stats.Deferred))
	c.metrics.QueueFailed.Set(float64(stats.Failed))
}
