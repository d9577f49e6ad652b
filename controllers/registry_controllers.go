package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

type RegistryController struct {
	Registry *services.Registry
}

func NewRegistryController(registry *services.Registry) *RegistryController {
	return &RegistryController{Registry: registry}
}

// CreateTable -> POST /admin/tables
func (rc *RegistryController) CreateTable(c *gin.Context) {
	var req struct {
		Number   string          `json:"number" binding:"required"`
		Name     string          `json:"name"`
		Capacity int             `json:"capacity" binding:"required,min=1"`
		BranchID string          `json:"branch_id"`
		ZoneID   *uint           `json:"zone_id"`
		Position models.Position `json:"position"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.BranchID == "" {
		req.BranchID = branchOf(c)
	}

	table, err := rc.Registry.CreateTable(c.Request.Context(), services.TableSpec{
		Number:   req.Number,
		Name:     req.Name,
		Capacity: req.Capacity,
		BranchID: req.BranchID,
		ZoneID:   req.ZoneID,
		Position: req.Position,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Table created successfully", table)
}

// UpdateTable -> PUT /admin/tables/:table_id
func (rc *RegistryController) UpdateTable(c *gin.Context) {
	tableID, ok := idParam(c, "table_id")
	if !ok {
		return
	}
	var req struct {
		Number   *string          `json:"number"`
		Name     *string          `json:"name"`
		Capacity *int             `json:"capacity" binding:"omitempty,min=1"`
		ZoneID   *uint            `json:"zone_id"`
		Position *models.Position `json:"position"`
		IsActive *bool            `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	table, err := rc.Registry.UpdateTable(c.Request.Context(), tableID, services.TableUpdate{
		Number:   req.Number,
		Name:     req.Name,
		Capacity: req.Capacity,
		ZoneID:   req.ZoneID,
		Position: req.Position,
		IsActive: req.IsActive,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table updated", table)
}

// DeleteTable -> DELETE /admin/tables/:table_id
func (rc *RegistryController) DeleteTable(c *gin.Context) {
	tableID, ok := idParam(c, "table_id")
	if !ok {
		return
	}
	if err := rc.Registry.DeleteTable(c.Request.Context(), tableID); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table deleted", nil)
}

// CreateZone -> POST /admin/zones
func (rc *RegistryController) CreateZone(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Description string   `json:"description"`
		Color       string   `json:"color"`
		BranchID    string   `json:"branch_id"`
		PositionX   *float64 `json:"position_x"`
		PositionY   *float64 `json:"position_y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.BranchID == "" {
		req.BranchID = branchOf(c)
	}

	zone := &models.Zone{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		BranchID:    req.BranchID,
		PositionX:   req.PositionX,
		PositionY:   req.PositionY,
	}
	if err := rc.Registry.CreateZone(c.Request.Context(), zone); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Zone created", zone)
}

func (rc *RegistryController) ListZones(c *gin.Context) {
	zones, err := rc.Registry.ListZones(c.Request.Context(), branchOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of zones", zones)
}

func (rc *RegistryController) GetZone(c *gin.Context) {
	zoneID, ok := idParam(c, "zone_id")
	if !ok {
		return
	}
	zone, err := rc.Registry.GetZone(c.Request.Context(), zoneID)
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Zone detail", zone)
}

func (rc *RegistryController) DeleteZone(c *gin.Context) {
	zoneID, ok := idParam(c, "zone_id")
	if !ok {
		return
	}
	if err := rc.Registry.DeleteZone(c.Request.Context(), zoneID); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Zone deleted", nil)
}

// CreateStaff -> POST /admin/staff. Credentials live with the identity
// service; this is only the roster entry.
func (rc *RegistryController) CreateStaff(c *gin.Context) {
	var req struct {
		FirstName string  `json:"first_name" binding:"required"`
		LastName  string  `json:"last_name"`
		Role      string  `json:"role" binding:"required,oneof=admin manager staff cleaner"`
		BranchID  string  `json:"branch_id"`
		Avatar    *string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.BranchID == "" {
		req.BranchID = branchOf(c)
	}

	staff := &models.Staff{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		BranchID:  req.BranchID,
		Avatar:    req.Avatar,
	}
	if err := rc.Registry.CreateStaff(c.Request.Context(), staff); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Staff created", staff)
}

func (rc *RegistryController) ListStaff(c *gin.Context) {
	staff, err := rc.Registry.ListStaff(c.Request.Context(), database.StaffFilter{
		BranchID:   branchOf(c),
		ActiveOnly: c.Query("active") == "true",
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of staff", staff)
}
