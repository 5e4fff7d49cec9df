package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletfeed/service/metrics"
	"github.com/brojonat/walletfeed/service/reconcile"
)

const (
	sseKeepalive = 10 * time.Second
	sseBuffer    = 16
)

// handleStreamFeed streams coalesced feed updates as Server-Sent Events.
// GET /api/v1/stream/feed
func handleStreamFeed(f Feed, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		updates := make(chan reconcile.Update, sseBuffer)
		unsubscribe := f.Subscribe(func(u reconcile.Update) {
			select {
			case updates <- u:
			default:
				logger.Warn("dropping feed update for slow SSE client", "remote_addr", r.RemoteAddr, "ids", len(u.IDs))
			}
		})
		defer unsubscribe()

		m.RecordSSEConnectionChange(1)
		defer m.RecordSSEConnectionChange(-1)
		logger.DebugContext(r.Context(), "SSE client connected", "remote_addr", r.RemoteAddr)

		fmt.Fprint(w, "event: connected\ndata: {}\n\n")
		flusher.Flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case u := <-updates:
				data, err := json.Marshal(u)
				if err != nil {
					logger.Error("failed to marshal feed update", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
				flusher.Flush()
				m.RecordSSEEventSent()
			}
		}
	})
}
