package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/database/dbtest"
	"github.com/yeremiapane/restaurant-floor/middlewares"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/router"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

var testSecret = []byte("integration-secret")

func TestMain(m *testing.M) {
	utils.InitLogger("error", "text") // keep test output quiet
	gin.SetMode(gin.TestMode)
	if err := middlewares.RegisterValidators(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type app struct {
	t      *testing.T
	router *gin.Engine
	store  *database.Store
	tokens map[string]string
}

func setupApp(t *testing.T) *app {
	t.Helper()
	store := database.NewStore(dbtest.Open(t))
	engine := services.NewEngine(store, services.NewLockManager(5*time.Second))
	sessions := services.NewSessionManager(engine, services.SessionConfig{TTL: time.Hour, Rejoin: true})

	r := router.SetupRouter(router.Deps{
		Tables:      services.NewTableStateMachine(engine),
		Sessions:    sessions,
		Registry:    services.NewRegistry(engine),
		Metrics:     services.NewMetricsAggregator(store, engine.Ledger()),
		ScanLimiter: middlewares.NewScanLimiter(100, 100),
		Secret:      testSecret,
		Health:      store,
	})

	a := &app{t: t, router: r, store: store, tokens: map[string]string{}}
	for _, role := range []string{models.RoleManager, models.RoleStaff, models.RoleCleaner} {
		s := &models.Staff{FirstName: role, Role: role, BranchID: "b1", IsActive: true}
		require.NoError(t, store.CreateStaff(context.Background(), s))
		tok, err := utils.SignIdentityToken(utils.Identity{StaffID: s.ID, Role: role, BranchID: "b1"}, testSecret, time.Hour)
		require.NoError(t, err)
		a.tokens[role] = tok
	}
	return a
}

func (a *app) do(method, path, role string, body interface{}, headers ...string) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[role])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "application/pdf" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w.Code, env
}

func (a *app) createTable(number string, capacity int) models.Table {
	a.t.Helper()
	code, env := a.do(http.MethodPost, "/admin/tables", models.RoleManager, gin.H{"number": number, "capacity": capacity})
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	var table models.Table
	require.NoError(a.t, json.Unmarshal(env.Data, &table))
	return table
}

func path(format string, id uint) string {
	return "/staff/tables/" + strconv.FormatUint(uint64(id), 10) + format
}

// TestSessionFlow covers a diner's visit end to end: scan, touch, staff
// closing the session, cleaning and the table timeline.
func TestSessionFlow(t *testing.T) {
	a := setupApp(t)
	table := a.createTable("T1", 4)
	scanPath := "/session/" + strconv.FormatUint(uint64(table.ID), 10)

	code, env := a.do(http.MethodGet, scanPath+"?customers=3", "", nil)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var scan struct {
		Token     string              `json:"session_token"`
		ExpiresAt time.Time           `json:"expires_at"`
		Table     models.Table        `json:"table"`
		Session   models.TableSession `json:"session"`
		Menu      json.RawMessage     `json:"menu_snapshot"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &scan))
	assert.NotEmpty(t, scan.Token)
	assert.Equal(t, models.TableStatusOccupied, scan.Table.Status)
	assert.Equal(t, 3, scan.Session.Customers)

	code, env = a.do(http.MethodGet, scanPath, "", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "TABLE_UNAVAILABLE:session_active", env.Code)

	code, _ = a.do(http.MethodGet, scanPath, "", nil, "X-Session-Token", scan.Token)
	assert.Equal(t, http.StatusOK, code)

	code, _ = a.do(http.MethodPost, "/session/touch", "", nil, "X-Session-Token", scan.Token)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodGet, "/session/current", "", nil, "X-Session-Token", "nope")
	assert.Equal(t, http.StatusNotFound, code)

	code, env = a.do(http.MethodPost, path("/end-session", table.ID), models.RoleStaff, gin.H{
		"outcome": "completed", "amount": 250000, "orders": 4, "post_cleaning": true,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var ended services.SessionEnd
	require.NoError(t, json.Unmarshal(env.Data, &ended))
	assert.Equal(t, models.TableStatusCleaning, ended.Table.Status)
	assert.Equal(t, models.OpSessionEnd, ended.Operation.Type)

	code, _ = a.do(http.MethodGet, "/session/current", "", nil, "X-Session-Token", scan.Token)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = a.do(http.MethodPost, path("/status", table.ID), models.RoleCleaner, gin.H{"status": "available"})
	assert.Equal(t, http.StatusForbidden, code, env.Message)
	code, env = a.do(http.MethodPost, path("/status", table.ID), models.RoleStaff, gin.H{"status": "available"})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = a.do(http.MethodGet, path("/history", table.ID), models.RoleCleaner, nil)
	require.Equal(t, http.StatusOK, code)
	var history []models.TableHistoryEntry
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 3)
	assert.Equal(t, models.OpSessionStart, history[0].Type)
	assert.Equal(t, models.OpSessionEnd, history[1].Type)
	assert.Equal(t, models.OpStatusChange, history[2].Type)
	require.NotNil(t, history[2].Staff)
	assert.Equal(t, models.RoleStaff, history[2].Staff.Role)

	code, env = a.do(http.MethodGet, path("/operations?limit=2", table.ID), models.RoleStaff, nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Operations []models.TableOperation `json:"operations"`
		NextAfter  uint                    `json:"next_after"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Operations, 2)
	assert.Equal(t, page.Operations[1].ID, page.NextAfter)

	code, env = a.do(http.MethodGet, "/admin/metrics?branch_id=", models.RoleManager, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var report models.MetricsReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Metrics.TotalSessions)
	assert.Equal(t, 250000.0, report.Metrics.TotalRevenue)

	code, _ = a.do(http.MethodGet, "/admin/metrics", models.RoleStaff, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodGet, "/admin/metrics/report.pdf", models.RoleManager, nil)
	assert.Equal(t, http.StatusOK, code)
}

// TestMergeFlow runs the T1/T2/T3 merge, the T4 rejection and the split
// round trip over HTTP.
func TestMergeFlow(t *testing.T) {
	a := setupApp(t)
	t1 := a.createTable("T1", 4)
	t2 := a.createTable("T2", 4)
	t3 := a.createTable("T3", 2)
	t4 := a.createTable("T4", 2)

	code, env := a.do(http.MethodPost, path("/merge", t1.ID), models.RoleStaff, gin.H{"secondary_ids": []uint{t2.ID, t3.ID}})
	require.Equal(t, http.StatusOK, code, env.Message)
	var merged services.TableResult
	require.NoError(t, json.Unmarshal(env.Data, &merged))
	assert.Equal(t, 10, merged.Table.EffectiveCapacity)
	assert.Equal(t, models.OpTableMerge, merged.Operation.Type)

	code, env = a.do(http.MethodPost, path("/merge", t4.ID), models.RoleStaff, gin.H{"secondary_ids": []uint{t2.ID}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_MERGED", env.Code)

	code, env = a.do(http.MethodGet, "/session/"+strconv.FormatUint(uint64(t2.ID), 10), "", nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "TABLE_UNAVAILABLE:merged", env.Code)

	code, env = a.do(http.MethodPost, path("/split", t1.ID), models.RoleStaff, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	for _, id := range []uint{t1.ID, t2.ID, t3.ID} {
		table, err := a.store.GetTable(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, table.MergedInto)
		assert.Empty(t, table.MergedTables)
		assert.Equal(t, models.TableStatusAvailable, table.Status)
	}

	code, env = a.do(http.MethodPost, path("/split", t1.ID), models.RoleStaff, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NOT_MERGED", env.Code)
}

func TestMaintenanceAndValidation(t *testing.T) {
	a := setupApp(t)
	table := a.createTable("T9", 2)

	code, _ := a.do(http.MethodPost, path("/status", table.ID), models.RoleStaff, gin.H{"status": "dirty"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodPost, path("/status", table.ID), models.RoleStaff, gin.H{"status": "cleaning"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = a.do(http.MethodPost, path("/status", table.ID), models.RoleStaff, gin.H{"status": "maintenance"})
	require.Equal(t, http.StatusOK, code)

	code, env := a.do(http.MethodGet, "/session/"+strconv.FormatUint(uint64(table.ID), 10), "", nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "TABLE_UNAVAILABLE:maintenance", env.Code)

	code, _ = a.do(http.MethodPost, path("/reset", table.ID), models.RoleStaff, gin.H{"reason": "x"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = a.do(http.MethodGet, path("", 999), models.RoleStaff, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(http.MethodGet, "/staff/tables", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.do(http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, code)
}
