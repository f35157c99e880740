package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-script-catalog/internal/http/middleware"
	"github.com/tbourn/go-script-catalog/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the UI origin; CORS does not apply to upgrades.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Notifications godoc
// @ID          notifications
// @Summary     Subscribe to notifications
// @Description Upgrades to a websocket that receives a text frame whenever a script request is fulfilled.
// @Tags        Notifications
// @Success     101  {string} string "Switching Protocols"
// @Failure     400  {string} string "Not a websocket handshake"
// @Router      /ws/notifications [get]
func (h *Handlers) Notifications(c *gin.Context) {
	if h.hub == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, "notifications are disabled")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	// Blocks until the client goes away.
	h.hub.Serve(notify.NewWSConn(conn, h.WSReadLimit, notify.WithPongWait(h.WSPongWait)))
}
