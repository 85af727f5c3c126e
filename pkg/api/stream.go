package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deliberation-engine/council/pkg/events"
)

// streamHandler handles GET /api/v1/deliberate/:id/events: attaches to the
// live bus for an in-flight streaming session and relays every LayerEvent
// published after it subscribes as Server-Sent Events until a terminal
// event closes the stream. Events published before it subscribes are not
// sent.
func (s *Server) streamHandler(c *gin.Context) {
	queryID := c.Param("id")
	bus := lookupBus(queryID)
	if bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no streaming session with that id"})
		return
	}

	sse, err := events.NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	subID := "sse:" + queryID
	ch := bus.Subscribe(subID)
	defer bus.Unsubscribe(subID)

	if err := sse.Stream(ch, c.Request.Context().Done()); err != nil {
		// Connection dropped mid-stream; nothing more to do. A client that
		// reconnects receives only events published after it subscribes
		// again: no route here replays earlier events.
		return
	}
}
