package httpapi

import (
	"net/http"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/apperrors"
	"github.com/agentyard/exchange/internal/events"
	"github.com/agentyard/exchange/internal/httputil"
)

// listEvents implements the §4.6 historical read: a bounded page,
// ascending by event_id unless cursor_before is given (descending), with
// source/type/agent_id/task_id filters combined with AND.
func (d *Deps) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	cursorAfter, _ := strconv.ParseUint(q.Get("cursor_after"), 10, 64)
	cursorBefore, _ := strconv.ParseUint(q.Get("cursor_before"), 10, 64)
	if q.Get("cursor_after") != "" && q.Get("cursor_before") != "" {
		writeServiceError(w, apperrors.InvalidPayload("cursor_after and cursor_before are mutually exclusive"))
		return
	}

	query := events.Query{
		Limit:        limit,
		CursorAfter:  cursorAfter,
		CursorBefore: cursorBefore,
		Filter: events.Filter{
			Source:  q.Get("source"),
			Type:    q.Get("type"),
			AgentID: q.Get("agent_id"),
			TaskID:  q.Get("task_id"),
		},
	}

	var out []events.Event
	err := d.Store.View(func(tx *bolt.Tx) error {
		var err error
		out, err = events.ListEvents(tx, query)
		return err
	})
	if err != nil {
		writeServiceError(w, apperrors.Internal("failed to list events", err))
		return
	}
	if out == nil {
		out = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
