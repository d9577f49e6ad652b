package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/controllers"
	"github.com/yeremiapane/restaurant-floor/hub"
	"github.com/yeremiapane/restaurant-floor/middlewares"
	"github.com/yeremiapane/restaurant-floor/services"
)

// Pinger reports backend health for /ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the HTTP layer is built from.
type Deps struct {
	Tables      *services.TableStateMachine
	Sessions    *services.SessionManager
	Registry    *services.Registry
	Metrics     *services.MetricsAggregator
	Hub         *hub.FloorHub
	Menu        controllers.MenuSource
	ScanLimiter *middlewares.ScanLimiter
	Secret      []byte
	CORSOrigins []string
	Security    middlewares.SecurityConfig
	Health      Pinger
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Apply security middlewares
	r.Use(middlewares.SecurityHeaders(d.Security))
	r.Use(middlewares.CORSMiddlewares(d.CORSOrigins))
	r.Use(middlewares.LoggerMiddleware())

	sessionCtrl := controllers.NewSessionController(d.Sessions, d.Menu)
	tableCtrl := controllers.NewTableController(d.Tables, d.Sessions, d.Registry)
	registryCtrl := controllers.NewRegistryController(d.Registry)
	metricsCtrl := controllers.NewMetricsController(d.Metrics)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"message": "backend unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// Diner session (QR scan), no staff auth
	session := r.Group("/session")
	{
		scan := []gin.HandlerFunc{sessionCtrl.Scan}
		if d.ScanLimiter != nil {
			scan = append([]gin.HandlerFunc{d.ScanLimiter.RateLimit()}, scan...)
		}
		session.POST("/touch", sessionCtrl.Touch)
		session.GET("/current", sessionCtrl.Current)
		session.GET("/:table_id", scan...)
	}

	// ----------------------------------------------------------------
	//                      STAFF ROUTES
	// ----------------------------------------------------------------
	staff := r.Group("/staff")
	staff.Use(middlewares.AuthMiddleware(d.Secret))
	{
		read := middlewares.RequireCapability(middlewares.CapHistoryRead)
		staff.GET("/tables", read, tableCtrl.GetAllTables)
		staff.GET("/tables/:table_id", read, tableCtrl.GetTable)
		staff.GET("/tables/:table_id/history", read, tableCtrl.GetHistory)
		staff.GET("/tables/:table_id/operations", read, tableCtrl.GetOperations)

		staff.POST("/tables/:table_id/status", middlewares.RequireCapability(middlewares.CapTableStatus), tableCtrl.UpdateStatus)
		staff.POST("/tables/:table_id/cleaning", middlewares.RequireCapability(middlewares.CapTableClean), tableCtrl.RequestCleaning)
		staff.POST("/tables/:table_id/reset", middlewares.RequireCapability(middlewares.CapTableReset), tableCtrl.ResetTable)
		staff.POST("/tables/:table_id/transfer", middlewares.RequireCapability(middlewares.CapTableTransfer), tableCtrl.TransferStaff)
		staff.POST("/tables/:table_id/reserve", middlewares.RequireCapability(middlewares.CapTableReserve), tableCtrl.ReserveTable)
		staff.POST("/tables/:table_id/assign", middlewares.RequireCapability(middlewares.CapTableAssign), tableCtrl.AssignStaff)
		staff.POST("/tables/:table_id/merge", middlewares.RequireCapability(middlewares.CapTableMerge), tableCtrl.MergeTables)
		staff.POST("/tables/:table_id/split", middlewares.RequireCapability(middlewares.CapTableSplit), tableCtrl.SplitTables)
		staff.POST("/tables/:table_id/end-session", middlewares.RequireCapability(middlewares.CapSessionEnd), tableCtrl.EndSession)
	}

	// ----------------------------------------------------------------
	//                      ADMIN ROUTES
	// ----------------------------------------------------------------
	admin := r.Group("/admin")
	admin.Use(middlewares.AuthMiddleware(d.Secret))
	{
		registry := admin.Group("/")
		registry.Use(middlewares.RequireCapability(middlewares.CapRegistryAdmin))
		registry.POST("/tables", registryCtrl.CreateTable)
		registry.PUT("/tables/:table_id", registryCtrl.UpdateTable)
		registry.DELETE("/tables/:table_id", registryCtrl.DeleteTable)
		registry.POST("/zones", registryCtrl.CreateZone)
		registry.GET("/zones", registryCtrl.ListZones)
		registry.GET("/zones/:zone_id", registryCtrl.GetZone)
		registry.DELETE("/zones/:zone_id", registryCtrl.DeleteZone)
		registry.POST("/staff", registryCtrl.CreateStaff)
		registry.GET("/staff", registryCtrl.ListStaff)

		metrics := admin.Group("/metrics")
		metrics.Use(middlewares.RequireCapability(middlewares.CapMetricsRead))
		metrics.GET("", metricsCtrl.GetMetrics)
		metrics.GET("/report.pdf", metricsCtrl.ExportPDF)
		metrics.GET("/report.xlsx", metricsCtrl.ExportXLSX)
	}

	// WebSocket endpoint dengan middleware khusus
	if d.Hub != nil {
		r.GET("/ws", middlewares.WebSocketAuthMiddleware(d.Secret), controllers.FloorSocket(d.Hub))
	}

	return r
}
