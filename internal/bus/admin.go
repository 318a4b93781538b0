package bus

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes attaches bus debugging endpoints to the given HTTP mux
// served at /debug/. These routes are accessible only over localhost or via
// Tailscale.
func (b *Bus) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("bus", "topic consumers and subscriptions", func(w http.ResponseWriter, r *http.Request) {
		type subInfo struct {
			ID      string `json:"id"`
			Pattern string `json:"pattern"`
			Queued  int    `json:"queued"`
			Dropped uint64 `json:"dropped"`
		}
		type topicInfo struct {
			Topic     string `json:"topic"`
			Published uint64 `json:"published"`
		}

		subs := b.Subscriptions()
		infos := make([]subInfo, len(subs))
		for i, s := range subs {
			infos[i] = subInfo{ID: s.ID, Pattern: s.Pattern, Queued: len(s.ch), Dropped: s.Dropped()}
		}

		b.mu.Lock()
		topics := make([]topicInfo, 0, len(b.published))
		for t, n := range b.published {
			topics = append(topics, topicInfo{Topic: t, Published: n})
		}
		b.mu.Unlock()
		sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"consumers":     b.Consumers(),
			"subscriptions": infos,
			"topics":        topics,
		})
	})

	// API endpoint to publish a raw payload onto a topic.
	debug.HandleSilentFunc("bus-publish", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		topic := strings.TrimSpace(r.FormValue("topic"))
		if topic == "" {
			http.Error(w, "Missing topic", http.StatusBadRequest)
			return
		}
		n, err := b.Publish(topic, []byte(r.FormValue("payload")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		io.WriteString(w, fmt.Sprintf("Published to %q (%d consumers)", topic, n))
	})

	// API endpoint to issue Server-Side Events (SSE) for messages matching ?pattern= (default '#').
	debug.HandleSilentFunc("bus-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			pattern = "#"
		}
		sub, err := b.Subscribe(pattern)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer b.Unsubscribe(sub.ID)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, msg.Payload)
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
