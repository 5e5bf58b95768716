package notifyhub

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/moyoez/docdrop/tool"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware governs browser access
	},
}

// HandleNotifyWS upgrades the request to WebSocket and registers the connection under the
// caller's owner scope. The browser WebSocket API cannot set headers, so ?owner= is
// accepted as well.
func HandleNotifyWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := tool.OwnerFromContext(c)
		if q := c.Query("owner"); q != "" {
			owner = q
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			tool.DefaultLogger.Debugf("[Notify] upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		hub.Register(conn, owner)
		defer hub.Unregister(conn)

		// Read loop to detect client close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}
