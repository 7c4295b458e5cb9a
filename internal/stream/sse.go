package stream

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// keepAlivePeriod is how often an SSE connection emits a comment line so
// that proxies do not close an otherwise idle stream.
const keepAlivePeriod = 25 * time.Second

// ServeSSE streams the user's events over a Server-Sent Events response.
// It blocks until the client disconnects.
func ServeSSE(w http.ResponseWriter, r *http.Request, bus Bus, userID uuid.UUID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := bus.Subscribe(userID)
	defer sub.Close()

	// Opening comment so the client sees the stream is live immediately.
	fmt.Fprint(w, ": hi\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Payload); err != nil {
				log.Printf("SSE write error for User %s: %v", userID, err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
