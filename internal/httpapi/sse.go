package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// keepaliveInterval is how often an idle SSE stream sends a comment line to
// keep intermediaries from timing out the connection.
const keepaliveInterval = 15 * time.Second

// sseEventBuffer is how many live events a subscriber queues before a slow
// client starts dropping the oldest rather than blocking the Store's
// synchronous event-append path.
const sseEventBuffer = 256

// streamSSE replays history, then forwards whatever subscribe delivers
// until the client disconnects, interleaving periodic keep-alives. history
// and subscribe are supplied by the caller so this helper stays agnostic to
// whether it is serving run events or session events.
func streamSSE(w http.ResponseWriter, r *http.Request, history []any, subscribe func(func(any)) func()) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, ev := range history {
		if !writeSSEEvent(w, ev) {
			return
		}
	}
	flusher.Flush()

	live := make(chan any, sseEventBuffer)
	unsubscribe := subscribe(func(ev any) {
		select {
		case live <- ev:
		default:
			// Slow consumer: drop the event rather than block the Store's
			// synchronous append path.
		}
	})
	defer unsubscribe()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-live:
			if !writeSSEEvent(w, ev) {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev any) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return true
	}
	if _, err := w.Write([]byte("event: message\ndata: ")); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	_, err = w.Write([]byte("\n\n"))
	return err == nil
}
