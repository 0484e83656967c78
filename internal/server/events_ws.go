package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsWriteTimeout bounds a single frame write. A client that cannot take a
// frame within it gets disconnected rather than buffered forever.
const wsWriteTimeout = 5 * time.Second

// handleEventsWS streams events to a websocket client. Each subscriber gets
// its own buffered channel from the event manager; the manager drops frames
// for slow subscribers, so one stalled dashboard never backs up the engine.
// GET /api/events/ws
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, cancel := s.events.Subscribe(64)
	defer cancel()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("Event stream client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event stream shutting down")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancelWrite()
			if err != nil {
				s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Event stream client dropped")
				return
			}
		}
	}
}
