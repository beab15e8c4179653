package events

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	bolt "go.etcd.io/bbolt"

	"github.com/agentyard/exchange/internal/platformlog"
	"github.com/agentyard/exchange/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeStream implements the external /events/stream contract: replay
// from the store for everything after last_event_id, then switch to
// live-push via the Hub. Matches the teacher corpus's websocket
// register/broadcast/unregister shape, adapted to replay-then-live
// instead of live-only.
func ServeStream(hub *Hub, s *store.Store, logger *platformlog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastEventID, _ := strconv.ParseUint(r.URL.Query().Get("last_event_id"), 10, 64)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if logger != nil {
				logger.WithContext(r.Context()).WithError(err).Warn("events: websocket upgrade failed")
			}
			return
		}
		defer conn.Close()

		sub := hub.Subscribe()
		defer sub.Unsubscribe()

		var replay []Event
		err = s.View(func(tx *bolt.Tx) error {
			var err error
			replay, err = ListSince(tx, lastEventID)
			return err
		})
		if err != nil {
			if logger != nil {
				logger.WithContext(r.Context()).WithError(err).Error("events: replay failed")
			}
			return
		}

		cursor := lastEventID
		for _, ev := range replay {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			cursor = ev.EventID
		}

		// Drain client-initiated frames (pings, close) on a separate
		// goroutine so a silent client doesn't block live-push delivery.
		clientClosed := make(chan struct{})
		go func() {
			defer close(clientClosed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				if ev.EventID <= cursor {
					continue
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
				cursor = ev.EventID
			case <-sub.Closed:
				return
			case <-clientClosed:
				return
			}
		}
	}
}
