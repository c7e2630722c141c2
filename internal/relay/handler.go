package relay

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const keepAliveInterval = 15 * time.Second

var knownTypes = map[Type]bool{
	TypeMaskUpdate:         true,
	TypeIsMaskOn:           true,
	TypeHistoryUpdate:      true,
	TypeContentScriptReady: true,
}

// parseTypes reads ?types=a,b. A nil set means every type.
func parseTypes(q string) (map[Type]bool, error) {
	if q == "" {
		return nil, nil
	}
	set := make(map[Type]bool)
	for _, part := range strings.Split(q, ",") {
		t := Type(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if !knownTypes[t] {
			return nil, fmt.Errorf("unknown message type %q", t)
		}
		set[t] = true
	}
	return set, nil
}

// SSEHandler streams relayed messages as server-sent events, numbering them
// per connection. Clients may filter with ?types=maskUpdate,historyUpdate.
// Idle streams get a comment line every 15s to keep proxies from closing
// them.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		filter, err := parseTypes(r.URL.Query().Get("types"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, events := broker.Subscribe()
		defer broker.Unsubscribe(id)
		ping := time.NewTicker(keepAliveInterval)
		defer ping.Stop()

		var seq int64
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case evt, ok := <-events:
				if !ok {
					return
				}
				if filter != nil && !filter[evt.Type] {
					continue
				}
				seq++
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, evt.Type, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
