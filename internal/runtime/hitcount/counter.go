// Package hitcount counts page views per weblog. Increments are gathered in
// memory and handed to a Sink in batches; a crash loses the unflushed batch.
package hitcount

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/l0p7/pagectrl/internal/metrics"
)

// Counter batches hits and flushes them on an interval and at Close.
type Counter struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu      sync.Mutex
	pending map[string]int64
	closed  bool

	flushMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Options configures a Counter.
type Options struct {
	Sink     Sink
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// NewCounter starts the flush loop. A non-positive interval disables periodic
// flushing; Flush and Close still drain the batch.
func NewCounter(opts Options) *Counter {
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Counter{
		sink:    sink,
		logger:  logger.With(slog.String("component", "hitcount")),
		metrics: opts.Metrics,
		pending: map[string]int64{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if opts.Interval > 0 {
		go c.loop(opts.Interval)
	} else {
		close(c.done)
	}
	return c
}

// Increment records one hit. It never blocks on the sink and ignores hits
// after Close.
func (c *Counter) Increment(handle string) {
	if c == nil || handle == "" {
		return
	}
	c.mu.Lock()
	if !c.closed {
		c.pending[handle]++
	}
	c.mu.Unlock()
}

// Pending returns the number of hits waiting for the next flush.
func (c *Counter) Pending() int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, n := range c.pending {
		total += n
	}
	return total
}

// Flush hands the current batch to the sink. A failed batch is dropped.
func (c *Counter) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.pending
	c.pending = map[string]int64{}
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	var total int64
	for _, n := range batch {
		total += n
	}
	err := c.sink.Add(ctx, batch)
	c.metrics.ObserveHitsFlushed(int(total), err)
	if err != nil {
		c.logger.Warn("hit flush failed", slog.Int64("hits", total), slog.Any("error", err))
		return err
	}
	c.logger.Debug("hits flushed", slog.Int("weblogs", len(batch)), slog.Int64("hits", total))
	return nil
}

// Close stops the loop, flushes what is pending and closes the sink.
func (c *Counter) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var err error
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		flushErr := c.Flush(ctx)
		closeErr := c.sink.Close()
		if flushErr != nil {
			err = flushErr
		} else {
			err = closeErr
		}
	})
	return err
}

func (c *Counter) loop(every time.Duration) {
	defer close(c.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			_ = c.Flush(context.Background())
		}
	}
}
