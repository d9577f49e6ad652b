package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-floor/contentapi"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

const sessionHeader = "X-Session-Token"

// MenuSource supplies the menu shown right after a scan.
type MenuSource interface {
	MenuSnapshot(ctx context.Context, branchID string) (contentapi.MenuSnapshot, error)
}

type SessionController struct {
	Sessions *services.SessionManager
	Menu     MenuSource
}

func NewSessionController(sessions *services.SessionManager, menu MenuSource) *SessionController {
	return &SessionController{Sessions: sessions, Menu: menu}
}

type scanResponse struct {
	Token        string                  `json:"session_token"`
	ExpiresAt    time.Time               `json:"expires_at"`
	Table        interface{}             `json:"table"`
	Session      interface{}             `json:"session"`
	MenuSnapshot contentapi.MenuSnapshot `json:"menu_snapshot"`
	Rejoined     bool                    `json:"rejoined"`
}

// Scan is the QR entry point: GET /session/:table_id.
func (sc *SessionController) Scan(c *gin.Context) {
	tableID, ok := idParam(c, "table_id")
	if !ok {
		return
	}

	opts := services.StartOptions{
		CustomerName: c.Query("name"),
		RejoinToken:  c.GetHeader(sessionHeader),
	}
	if v := c.Query("customers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, errInvalid("customers"))
			return
		}
		opts.Customers = n
	}

	start, err := sc.Sessions.StartSession(c.Request.Context(), tableID, opts)
	if err != nil {
		respondErr(c, err)
		return
	}

	resp := scanResponse{
		Token:     start.Token,
		ExpiresAt: start.Session.ExpiresAt,
		Table:     start.Table,
		Session:   start.Session,
		Rejoined:  start.Rejoined,
	}
	if sc.Menu != nil {
		menu, err := sc.Menu.MenuSnapshot(c.Request.Context(), start.Table.BranchID)
		if err != nil {
			utils.ErrorLogger.WithFields(logrus.Fields{
				"table_id":  tableID,
				"branch_id": start.Table.BranchID,
			}).Warnf("menu snapshot unavailable: %v", err)
		} else {
			resp.MenuSnapshot = menu
		}
	}

	status := http.StatusCreated
	message := "Session started"
	if start.Rejoined {
		status = http.StatusOK
		message = "Session resumed"
	}
	utils.RespondJSON(c, status, message, resp)
}

// Touch extends the session lease: POST /session/touch.
func (sc *SessionController) Touch(c *gin.Context) {
	session, err := sc.Sessions.TouchSession(c.Request.Context(), c.GetHeader(sessionHeader))
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session extended", gin.H{
		"session":    session,
		"expires_at": session.ExpiresAt,
	})
}

// Current returns the caller's live session: GET /session/current.
func (sc *SessionController) Current(c *gin.Context) {
	session, table, err := sc.Sessions.CurrentSession(c.Request.Context(), c.GetHeader(sessionHeader))
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Current session", gin.H{
		"session": session,
		"table":   table,
	})
}
