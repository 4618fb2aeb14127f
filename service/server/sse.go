package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/session"
)

// handleStream streams the published state as Server-Sent Events. Each open
// stream holds one of the machine's bounded subscriptions.
// GET /api/v1/stream
func handleStream(machine *session.Machine, registry *networks.Registry, m *metrics.Metrics, keepaliveInterval time.Duration, closing <-chan struct{}, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := machine.Subscribe()
		if err != nil {
			if errors.Is(err, session.ErrTooManySubscribers) {
				writeError(w, "too many open streams", http.StatusServiceUnavailable)
				return
			}
			logger.ErrorContext(r.Context(), "failed to subscribe", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, _ := w.(http.Flusher)
		flush := func() {
			if flusher != nil {
				flusher.Flush()
			}
		}
		flush()

		m.RecordSSEConnectionChange(1)
		defer m.RecordSSEConnectionChange(-1)

		logger.DebugContext(r.Context(), "SSE client connected",
			"remote_addr", r.RemoteAddr,
			"subscribers", machine.Subscribers(),
		)

		fmt.Fprintf(w, "event: connected\ndata: {\"subscribers\":%d}\n\n", machine.Subscribers())
		flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case v := <-sub.C:
				data, err := json.Marshal(toStateResponse(v, registry))
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal state", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
				flush()
				m.RecordSSEEventSent("state")

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return

			case <-closing:
				return
			}
		}
	})
}
