package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/orchestrator"
	"github.com/johndauphine/chxfer/internal/progress"
)

const writeWait = 10 * time.Second

// progressWS streams progress events as JSON text frames. With ?handle=
// only that transfer's events are sent, starting with its current snapshot,
// and the socket closes after its terminal event.
func (s *Server) progressWS(c *gin.Context) {
	handle := c.Query("handle")
	if handle != "" {
		if _, err := s.mgr.Progress(orchestrator.Handle(handle)); err != nil {
			abort(c, err, http.StatusInternalServerError)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Debug("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var opts []progress.SubscribeOption
	if s.cfg.PushRate > 0 {
		opts = append(opts, progress.WithRate(rate.Limit(s.cfg.PushRate), 1))
	}
	sub := s.mgr.Subscribe(opts...)
	defer sub.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The read side only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev progress.Event) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			logging.Debug("websocket write failed: %v", err)
			return false
		}
		return true
	}

	// Subscribed first, so nothing between this snapshot and the next event
	// is lost.
	if handle != "" {
		snap, err := s.mgr.Progress(orchestrator.Handle(handle))
		if err != nil || !send(snap.Event()) || snap.Phase.Terminal() {
			closeNormal(conn)
			return
		}
	}

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			closeNormal(conn)
			return
		}
		if handle != "" && ev.Handle != handle {
			continue
		}
		if !send(ev) {
			return
		}
		if handle != "" && ev.Phase.Terminal() {
			closeNormal(conn)
			return
		}
	}
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
