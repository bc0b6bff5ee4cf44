package httpapi

import (
	"fmt"
	"net/http"

	"kiromemory/internal/apperr"
	"kiromemory/internal/logging"
)

// handleEvents holds the connection open and streams hub events until the
// client goes away or the hub shuts down. A full client buffer drops the
// subscriber inside the hub; this loop then sees a closed channel.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindInternal, "streaming unsupported"))
		return
	}

	client := s.hub.Subscribe()
	defer client.Close()
	if s.metrics != nil {
		s.metrics.SSEClients.Inc()
		defer s.metrics.SSEClients.Dec()
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	fl.Flush()

	log := logging.WithRequestID(logging.CategorySSE, RequestIDFrom(r))
	log.Debugw("event stream opened", "remote", r.RemoteAddr)
	defer log.Debugw("event stream closed", "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-client.Events():
			if !open {
				return
			}
			if err := ev.Encode(w); err != nil {
				return
			}
			fl.Flush()
		}
	}
}
