package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/middlewares"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// TableController serves the staff floor: reads, staff actions and the
// table timeline.
type TableController struct {
	Tables   *services.TableStateMachine
	Sessions *services.SessionManager
	Registry *services.Registry
}

func NewTableController(tables *services.TableStateMachine, sessions *services.SessionManager, registry *services.Registry) *TableController {
	return &TableController{Tables: tables, Sessions: sessions, Registry: registry}
}

// tableInScope reads the table and hides tables of other branches from
// branch bound staff.
func (tc *TableController) tableInScope(c *gin.Context) (*models.Table, bool) {
	tableID, ok := idParam(c, "table_id")
	if !ok {
		return nil, false
	}
	table, err := tc.Registry.GetTable(c.Request.Context(), tableID)
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	if id, ok := middlewares.CurrentIdentity(c); ok && id.Role != models.RoleAdmin && id.BranchID != "" && id.BranchID != table.BranchID {
		respondErr(c, &services.LifecycleError{Code: services.CodeNotFound, Message: "table not found"})
		return nil, false
	}
	return table, true
}

// GetAllTables -> GET /staff/tables?status=&zone_id=
func (tc *TableController) GetAllTables(c *gin.Context) {
	filter := database.TableFilter{
		BranchID: branchOf(c),
		Status:   c.Query("status"),
	}
	if v := c.Query("zone_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(c, errInvalid("zone_id"))
			return
		}
		zone := uint(id)
		filter.ZoneID = &zone
	}

	tables, err := tc.Registry.ListTables(c.Request.Context(), filter)
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

// GetTable returns the table and its active session, if any.
func (tc *TableController) GetTable(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	data := gin.H{"table": table}
	session, err := tc.Sessions.ActiveSession(c.Request.Context(), table.ID)
	switch {
	case err == nil:
		data["session"] = session
	case StatusFor(err) != http.StatusNotFound:
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table detail", data)
}

func parseSince(c *gin.Context) (*time.Time, bool) {
	v := c.Query("since")
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		badRequest(c, errInvalid("since"))
		return nil, false
	}
	return &t, true
}

// GetHistory -> GET /staff/tables/:table_id/history?since=
func (tc *TableController) GetHistory(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	since, ok := parseSince(c)
	if !ok {
		return
	}
	history, err := tc.Tables.Ledger().History(c.Request.Context(), table.ID, since)
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table history", history)
}

// GetOperations pages through the ledger: ?since=&after=&limit=. The
// response carries next_after for the following page.
func (tc *TableController) GetOperations(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	since, ok := parseSince(c)
	if !ok {
		return
	}
	var after uint64
	if v := c.Query("after"); v != "" {
		var err error
		if after, err = strconv.ParseUint(v, 10, 64); err != nil {
			badRequest(c, errInvalid("after"))
			return
		}
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			badRequest(c, errInvalid("limit"))
			return
		}
	}

	ops, err := tc.Tables.Ledger().Page(c.Request.Context(), table.ID, since, uint(after), limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	next := uint(after)
	if len(ops) > 0 {
		next = ops[len(ops)-1].ID
	}
	utils.RespondJSON(c, http.StatusOK, "Table operations", gin.H{
		"operations": ops,
		"next_after": next,
	})
}

func (tc *TableController) respondResult(c *gin.Context, message string, res *services.TableResult, err error) {
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, message, res)
}

// UpdateStatus -> POST /staff/tables/:table_id/status
func (tc *TableController) UpdateStatus(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		Status          string `json:"status" binding:"required,table_status"`
		Note            string `json:"note"`
		ExpectedVersion *int64 `json:"expected_version"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := tc.Tables.RequestStatusChange(c.Request.Context(), table.ID, services.StatusChange{
		Status:          body.Status,
		Note:            body.Note,
		ExpectedVersion: body.ExpectedVersion,
	}, actorOf(c))
	tc.respondResult(c, "Table status updated", res, err)
}

// RequestCleaning -> POST /staff/tables/:table_id/cleaning
func (tc *TableController) RequestCleaning(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		Priority string `json:"priority" binding:"cleaning_priority"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := tc.Tables.RequestCleaning(c.Request.Context(), table.ID, body.Priority, actorOf(c))
	tc.respondResult(c, "Cleaning requested", res, err)
}

// ResetTable -> POST /staff/tables/:table_id/reset
func (tc *TableController) ResetTable(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := tc.Tables.ResetTable(c.Request.Context(), table.ID, body.Reason, actorOf(c))
	tc.respondResult(c, "Table reset", res, err)
}

// TransferStaff -> POST /staff/tables/:table_id/transfer
func (tc *TableController) TransferStaff(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		FromStaffID *uint  `json:"from_staff_id"`
		ToStaffID   uint   `json:"to_staff_id" binding:"required"`
		Note        string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := tc.Tables.TransferStaff(c.Request.Context(), table.ID, services.Transfer{
		FromStaffID: body.FromStaffID,
		ToStaffID:   body.ToStaffID,
		Note:        body.Note,
	}, actorOf(c))
	tc.respondResult(c, "Table transferred", res, err)
}

// ReserveTable -> POST /staff/tables/:table_id/reserve
func (tc *TableController) ReserveTable(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		ReservationTime time.Time `json:"reservation_time" binding:"required"`
		ReservationID   *string   `json:"reservation_id"`
		Note            string    `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := tc.Tables.ReserveTable(c.Request.Context(), table.ID, services.Reservation{
		Time:          body.ReservationTime,
		ReservationID: body.ReservationID,
		Note:          body.Note,
	}, actorOf(c))
	tc.respondResult(c, "Table reserved", res, err)
}

// AssignStaff -> POST /staff/tables/:table_id/assign
func (tc *TableController) AssignStaff(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		StaffID uint `json:"staff_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := tc.Tables.AssignStaff(c.Request.Context(), table.ID, body.StaffID, actorOf(c))
	tc.respondResult(c, "Staff assigned", res, err)
}

// MergeTables -> POST /staff/tables/:table_id/merge
func (tc *TableController) MergeTables(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		SecondaryIDs []uint `json:"secondary_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := tc.Tables.MergeTables(c.Request.Context(), table.ID, body.SecondaryIDs, actorOf(c))
	tc.respondResult(c, "Tables merged", res, err)
}

// SplitTables -> POST /staff/tables/:table_id/split
func (tc *TableController) SplitTables(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	res, err := tc.Tables.SplitTables(c.Request.Context(), table.ID, actorOf(c))
	tc.respondResult(c, "Tables split", res, err)
}

// EndSession -> POST /staff/tables/:table_id/end-session
func (tc *TableController) EndSession(c *gin.Context) {
	table, ok := tc.tableInScope(c)
	if !ok {
		return
	}
	var body struct {
		Outcome       string   `json:"outcome" binding:"required,oneof=completed cancelled"`
		Orders        *int     `json:"orders" binding:"omitempty,min=0"`
		Amount        *float64 `json:"amount" binding:"omitempty,min=0"`
		Customers     *int     `json:"customers" binding:"omitempty,min=0"`
		PaymentMethod string   `json:"payment_method"`
		PaymentAmount *float64 `json:"payment_amount" binding:"omitempty,min=0"`
		Tip           *float64 `json:"tip" binding:"omitempty,min=0"`
		Notes         string   `json:"notes"`
		PostCleaning  bool     `json:"post_cleaning"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := tc.Sessions.EndSession(c.Request.Context(), table.ID, body.Outcome, services.EndOptions{
		Orders:        body.Orders,
		Amount:        body.Amount,
		Customers:     body.Customers,
		PaymentMethod: body.PaymentMethod,
		PaymentAmount: body.PaymentAmount,
		Tip:           body.Tip,
		Notes:         body.Notes,
		PostCleaning:  body.PostCleaning,
	}, actorOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session ended", res)
}
