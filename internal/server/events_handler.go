package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/repository/redis"
)

// EventStream follows the placement decisions of every replica.
type EventStream interface {
	Watch(ctx context.Context) <-chan redis.Event
}

// eventsHandler handles GET /api/v1/placement/events as a server-sent event
// stream. Each decision is one event named after its type.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.events.Watch(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("Event stream cannot be flushed", zap.Error(err))
		return
	}

	s.logger.Debug("Event stream opened", zap.String("remote_addr", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopStreams:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn("Failed to encode placement event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ResourceID, event.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
