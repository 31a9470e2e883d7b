package feed

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxtimer/internal/observe"
)

// handleEvents upgrades to a websocket and streams timer events until the
// client goes away or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		log.Debug("feed: websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Subscribe before the snapshot so no event between the two is lost.
	sub := s.bus.Subscribe()
	defer sub.Close()

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the client disconnects.
	ctx := conn.CloseRead(r.Context())

	wctx, cancel := s.writeCtx(ctx)
	err = wsjson.Write(wctx, conn, Message{Type: MessageSnapshot, Timers: s.views()})
	cancel()
	if err != nil {
		log.Debug("feed: snapshot write failed", "err", err)
		return
	}
	log.Debug("feed: websocket client connected", "remote", r.RemoteAddr)

	for ev := range sub.Events(ctx) {
		wctx, cancel := s.writeCtx(ctx)
		err := wsjson.Write(wctx, conn, Message{Type: MessageEvent, Event: &ev})
		cancel()
		if err != nil {
			if !errors.Is(err, ctx.Err()) {
				log.Debug("feed: event write failed", "err", err)
			}
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	conn.Close(websocket.StatusGoingAway, "server shutting down")
}
