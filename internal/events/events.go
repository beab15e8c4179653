// Package events implements the append-only event log and its live
// subscriber hub. The log is co-committed with every domain mutation by
// whichever component's Write Coordinator transaction is in flight; the
// hub then fans the committed event out to subscribers over a bounded
// channel, matching the teacher corpus's preference for buffered
// channels over unbounded goroutine-per-subscriber fan-out.
package events

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/store"
)

// Event is the append-only record. event_id is the external replay
// cursor and must be stable across restarts, which NextSequence (backed
// by bbolt's own per-bucket counter) guarantees.
type Event struct {
	EventID   uint64                 `json:"event_id"`
	Source    string                 `json:"source"`
	EventType string                 `json:"event_type"`
	TaskID    string                 `json:"task_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Summary   string                 `json:"summary"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Append writes a new event row within tx, stamping EventID from the
// events bucket's sequence counter. Callers append within the same
// Write Coordinator transaction as the domain mutation the event
// describes, so both commit or neither does.
func Append(tx *bolt.Tx, source, eventType, taskID, agentID, summary string, payload map[string]interface{}, now time.Time) (Event, error) {
	seq, err := store.NextSequence(tx, store.BucketEvents)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		EventID:   seq,
		Source:    source,
		EventType: eventType,
		TaskID:    taskID,
		AgentID:   agentID,
		Summary:   summary,
		Payload:   payload,
		Timestamp: now,
	}
	key := formatEventKey(seq)
	if err := store.PutJSON(tx, store.BucketEvents, key, ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ListSince returns every event with EventID > cursor, in ascending
// order, used both for historical queries and for hub replay-on-connect.
func ListSince(tx *bolt.Tx, cursor uint64) ([]Event, error) {
	var out []Event
	err := store.ForEach(tx, store.BucketEvents, func(_ string, raw []byte) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if ev.EventID > cursor {
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Filter narrows a ListEvents query. Zero-value fields are unconstrained.
// Filters combine with AND (§4.6).
type Filter struct {
	Source  string
	Type    string
	AgentID string
	TaskID  string
}

func (f Filter) matches(ev Event) bool {
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.Type != "" && ev.EventType != f.Type {
		return false
	}
	if f.AgentID != "" && ev.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && ev.TaskID != f.TaskID {
		return false
	}
	return true
}

// Query is the bounded historical read (§4.6 list_events): a page
// ascending by event_id unless CursorBefore is set, in which case the
// page is descending. CursorAfter and CursorBefore are mutually
// exclusive; both zero means "from the start" (ascending) or "from the
// end" (descending), matching whichever direction was requested.
type Query struct {
	Limit        int
	CursorAfter  uint64
	CursorBefore uint64
	Descending   bool
	Filter       Filter
}

// ListEvents runs the bounded, filtered, directional historical read.
// It scans the whole bucket rather than seeking, since bbolt's ordering
// is by the zero-padded key and filters are applied in-process — the
// event log is not expected to grow past what a single linear scan per
// request can serve within the component's latency budget.
func ListEvents(tx *bolt.Tx, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	descending := q.Descending || q.CursorBefore > 0

	var matched []Event
	err := store.ForEach(tx, store.BucketEvents, func(_ string, raw []byte) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if q.CursorAfter > 0 && ev.EventID <= q.CursorAfter {
			return nil
		}
		if q.CursorBefore > 0 && ev.EventID >= q.CursorBefore {
			return nil
		}
		if !q.Filter.matches(ev) {
			return nil
		}
		matched = append(matched, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if descending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// formatEventKey zero-pads the sequence number so bbolt's natural
// lexicographic key ordering matches numeric event_id ordering.
func formatEventKey(seq uint64) string {
	const width = 20 // enough digits for any uint64
	s := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		s[i] = byte('0' + seq%10)
		seq /= 10
	}
	return string(s)
}
