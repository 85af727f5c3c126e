package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/deliberation-engine/council/pkg/council"
)

// wsWriteTimeout bounds how long a single event write may block the
// connection's goroutine, mirroring the teacher's ConnectionManager
// write-timeout discipline.
const wsWriteTimeout = 5 * time.Second

// wsHandler handles GET /api/v1/deliberate/:id/ws: upgrades to a
// WebSocket and relays the session's LayerEvent stream as JSON text
// frames, closing the connection once a terminal event is sent. Offered
// alongside /events as an alternative transport for clients that prefer a
// persistent duplex connection over SSE; this engine's protocol is
// server-to-client only, so the read side is used solely to detect client
// disconnects.
func (s *Server) wsHandler(c *gin.Context) {
	queryID := c.Param("id")
	bus := lookupBus(queryID)
	if bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no streaming session with that id"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin validation is out of scope for this engine's single-tenant
		// deployment model; a gateway in front of it is expected to enforce
		// network-level access control.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Detect client-initiated close without blocking the write loop on it.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	subID := "ws:" + queryID
	ch := bus.Subscribe(subID)
	defer bus.Unsubscribe(subID)

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			if err != nil {
				return
			}
			if evt.Type == council.EventCouncilCompleted || evt.Type == council.EventCouncilFailed {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
