package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/log"
)

// eventStreamHandler serves a long-lived NDJSON subscription over
// GET /events?groups=debug,tasks:all,task:42 — one JSON-encoded Event
// per line, flushed as it is published. Clients that prefer polling can
// use the resource endpoints instead; both surfaces stay in sync since
// both read from the same Store-backed components.
func eventStreamHandler(bus *events.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		groups := parseGroups(r.URL.Query().Get("groups"))
		sub := bus.Subscribe(groups...)
		defer bus.Unsubscribe(sub)

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		enc := json.NewEncoder(w)
		ctx := r.Context()
		logger := log.WithComponent("api.events")

		for {
			select {
			case <-ctx.Done():
				return
			case event, open := <-sub:
				if !open {
					return
				}
				if err := enc.Encode(event); err != nil {
					logger.Warn().Err(err).Msg("event stream write failed, closing subscriber")
					return
				}
				flusher.Flush()
			}
		}
	}
}

func parseGroups(raw string) []events.Group {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	groups := make([]events.Group, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			groups = append(groups, events.Group(p))
		}
	}
	return groups
}
