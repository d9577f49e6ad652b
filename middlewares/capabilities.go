package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// Capability names an action a staff role may perform.
type Capability string

const (
	CapTableStatus   Capability = "table.status"
	CapTableClean    Capability = "table.clean"
	CapTableReset    Capability = "table.reset"
	CapTableTransfer Capability = "table.transfer"
	CapTableMerge    Capability = "table.merge"
	CapTableSplit    Capability = "table.split"
	CapTableReserve  Capability = "table.reserve"
	CapTableAssign   Capability = "table.assign"
	CapSessionEnd    Capability = "session.end"
	CapHistoryRead   Capability = "history.read"
	CapMetricsRead   Capability = "metrics.read"
	CapRegistryAdmin Capability = "registry.admin"
)

var (
	everyone = []string{models.RoleAdmin, models.RoleManager, models.RoleStaff, models.RoleCleaner}
	floor    = []string{models.RoleAdmin, models.RoleManager, models.RoleStaff}
	managers = []string{models.RoleAdmin, models.RoleManager}
)

// Capabilities is the single authorization table for staff routes.
var Capabilities = map[Capability][]string{
	CapTableStatus:   floor,
	CapTableClean:    everyone,
	CapTableReset:    managers,
	CapTableTransfer: floor,
	CapTableMerge:    floor,
	CapTableSplit:    floor,
	CapTableReserve:  floor,
	CapTableAssign:   floor,
	CapSessionEnd:    floor,
	CapHistoryRead:   everyone,
	CapMetricsRead:   managers,
	CapRegistryAdmin: managers,
}

// Can reports whether role holds capability.
func Can(role string, capability Capability) bool {
	for _, r := range Capabilities[capability] {
		if r == role {
			return true
		}
	}
	return false
}

// RequireCapability rejects callers whose role lacks capability. It must run
// after AuthMiddleware.
func RequireCapability(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			utils.RespondError(c, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			c.Abort()
			return
		}
		if !Can(id.Role, capability) {
			utils.RespondError(c, http.StatusForbidden, fmt.Errorf("role %s may not %s", id.Role, capability))
			c.Abort()
			return
		}
		c.Next()
	}
}
