package store

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/metrics"
)

// Coordinator serializes every write transaction through a single
// buffered channel of closures, matching the spec's "single serialized
// write lane" requirement independent of bbolt's own single-writer lock
// (bbolt already serializes db.Update internally; the explicit queue
// gives us a place to measure queue depth and apply backpressure before
// a write ever reaches bbolt).
type Coordinator struct {
	store   *Store
	metrics *metrics.Metrics
	jobs    chan writeJob
	done    chan struct{}
}

type writeJob struct {
	bucket string
	fn     func(tx *bolt.Tx) error
	result chan error
}

// NewCoordinator starts the write-serializing goroutine. queueDepth bounds
// how many pending writes may be enqueued before Execute blocks (or
// returns ctx.Err() if the caller's context is canceled first).
func NewCoordinator(s *Store, m *metrics.Metrics, queueDepth int) *Coordinator {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	c := &Coordinator{
		store:   s,
		metrics: m,
		jobs:    make(chan writeJob, queueDepth),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	for job := range c.jobs {
		start := time.Now()
		err := c.store.Update(job.fn)
		if c.metrics != nil {
			outcome := "committed"
			if err != nil {
				outcome = "rolled_back"
			}
			c.metrics.RecordWriteCommit(job.bucket, outcome, time.Since(start))
			c.metrics.SetWriteQueueDepth(len(c.jobs))
		}
		job.result <- err
	}
	close(c.done)
}

// Execute enqueues fn as the next write transaction and blocks until it
// has run (or ctx is canceled while still queued). bucket is a label for
// metrics only; fn may touch any number of buckets within its one
// transaction.
func (c *Coordinator) Execute(ctx context.Context, bucket string, fn func(tx *bolt.Tx) error) error {
	job := writeJob{bucket: bucket, fn: fn, result: make(chan error, 1)}

	select {
	case c.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.metrics != nil {
		c.metrics.SetWriteQueueDepth(len(c.jobs))
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new writes and waits for the queue to drain.
func (c *Coordinator) Close() {
	close(c.jobs)
	<-c.done
}
