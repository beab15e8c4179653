package events

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/store"
)

// Tailer decouples the write path from live delivery: every Write
// Coordinator transaction commits its events directly to the store, and
// Tailer separately polls for anything new and republishes it to the
// Hub. This keeps the Hub out of the domain packages' write paths
// entirely (a slow or blocked subscriber can never stall a commit) at
// the cost of polling latency, matching the teacher corpus's general
// preference for polling reconciliation loops over tightly-coupled
// synchronous fan-out.
type Tailer struct {
	store    *store.Store
	hub      *Hub
	interval time.Duration
	cursor   uint64
}

// NewTailer constructs a Tailer starting from cursor (typically 0 on a
// fresh process, or a persisted watermark on restart).
func NewTailer(s *store.Store, hub *Hub, interval time.Duration, cursor uint64) *Tailer {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Tailer{store: s, hub: hub, interval: interval, cursor: cursor}
}

// Run polls until ctx is canceled. Intended to be started once as a
// background goroutine at process startup.
func (t *Tailer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tailer) poll() {
	var batch []Event
	err := t.store.View(func(tx *bolt.Tx) error {
		var err error
		batch, err = ListSince(tx, t.cursor)
		return err
	})
	if err != nil || len(batch) == 0 {
		return
	}
	for _, ev := range batch {
		t.hub.Publish(ev)
		if ev.EventID > t.cursor {
			t.cursor = ev.EventID
		}
	}
}
