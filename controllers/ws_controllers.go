package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/restaurant-floor/hub"
	"github.com/yeremiapane/restaurant-floor/middlewares"
	"github.com/yeremiapane/restaurant-floor/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FloorSocket -> GET /ws?token=. Streams floor events of the caller's branch.
func FloorSocket(h *hub.FloorHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middlewares.CurrentIdentity(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		branch := id.BranchID
		if id.Role == models.RoleAdmin {
			branch = c.Query("branch_id")
		}
		h.RegisterClient(ws, id.Role, branch)

		// Incoming frames are ignored; reading detects the disconnect.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		h.UnregisterClient(ws)
	}
}
