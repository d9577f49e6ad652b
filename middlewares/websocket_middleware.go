package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// WebSocketAuthMiddleware reads the identity token from ?token=, since
// browsers cannot set headers on a websocket handshake.
func WebSocketAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatus(401)
			return
		}

		id, err := utils.ParseIdentityToken(token, secret)
		if err != nil {
			c.AbortWithStatus(401)
			return
		}

		setIdentity(c, id)
		c.Next()
	}
}
