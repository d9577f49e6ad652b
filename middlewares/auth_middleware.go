package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/utils"
)

const identityKey = "identity"

// AuthMiddleware verifies the staff bearer token and stores the caller's
// identity on the context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("Authorization header missing"))
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("Invalid authorization format"))
			c.Abort()
			return
		}

		id, err := utils.ParseIdentityToken(strings.TrimPrefix(authHeader, "Bearer "), secret)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}

		setIdentity(c, id)
		c.Next()
	}
}

func setIdentity(c *gin.Context, id *utils.Identity) {
	c.Set(identityKey, id)
	c.Set("staff_id", id.StaffID)
	c.Set("role", id.Role)
}

// CurrentIdentity returns the identity resolved by AuthMiddleware or
// WebSocketAuthMiddleware.
func CurrentIdentity(c *gin.Context) (*utils.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*utils.Identity)
	return id, ok
}
