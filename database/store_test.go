package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/database/dbtest"
	"github.com/yeremiapane/restaurant-floor/models"
)

func seedTable(t *testing.T, store *database.Store, number string, capacity int) *models.Table {
	t.Helper()
	table := &models.Table{Number: number, Capacity: capacity, BranchID: "b1", IsActive: true}
	require.NoError(t, store.CreateTable(context.Background(), table))
	return table
}

func TestUpdateTableVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(dbtest.Open(t))
	table := seedTable(t, store, "A1", 4)

	updated, err := store.UpdateTable(ctx, table.ID, database.Patch{"status": models.TableStatusOccupied}, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusOccupied, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	_, err = store.UpdateTable(ctx, table.ID, database.Patch{"status": models.TableStatusAvailable}, 1)
	assert.ErrorIs(t, err, database.ErrVersionConflict)

	_, err = store.UpdateTable(ctx, 999, database.Patch{"status": models.TableStatusAvailable}, 1)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestGetTableNotFound(t *testing.T) {
	store := database.NewStore(dbtest.Open(t))
	_, err := store.GetTable(context.Background(), 42)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestEffectiveCapacityIncludesMergedTables(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(dbtest.Open(t))
	t1 := seedTable(t, store, "T1", 4)
	t2 := seedTable(t, store, "T2", 2)
	t3 := seedTable(t, store, "T3", 6)

	_, err := store.UpdateTable(ctx, t1.ID, database.Patch{"merged_tables": datatypes.JSONSlice[uint]{t2.ID, t3.ID}}, 1)
	require.NoError(t, err)
	for _, id := range []uint{t2.ID, t3.ID} {
		_, err := store.UpdateTable(ctx, id, database.Patch{"merged_into": t1.ID}, 1)
		require.NoError(t, err)
	}

	got, err := store.GetTable(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.EffectiveCapacity)
	assert.ElementsMatch(t, []uint{t2.ID, t3.ID}, []uint(got.MergedTables))

	tables, err := store.ListTables(ctx, database.TableFilter{BranchID: "b1"})
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, 12, tables[0].EffectiveCapacity)
	assert.Equal(t, 2, tables[1].EffectiveCapacity)
}

func TestInTxRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(dbtest.Open(t))
	table := seedTable(t, store, "A1", 4)

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx database.Repository) error {
		if _, err := tx.UpdateTable(ctx, table.ID, database.Patch{"status": models.TableStatusOccupied}, 1); err != nil {
			return err
		}
		if err := tx.AppendOperation(ctx, &models.TableOperation{Ref: "r1", Type: models.OpStatusChange, TableID: table.ID, Timestamp: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusAvailable, got.Status)

	ops, err := store.ListOperations(ctx, database.OperationFilter{TableID: &table.ID})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestOneActiveSessionIndex(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(dbtest.Open(t))
	table := seedTable(t, store, "A1", 4)
	now := time.Now()

	first := &models.TableSession{TableID: table.ID, TokenHash: "h1", StartTime: now, ExpiresAt: now.Add(time.Hour), LastActivity: now, Status: models.SessionStatusActive}
	require.NoError(t, store.CreateSession(ctx, first))

	second := &models.TableSession{TableID: table.ID, TokenHash: "h2", StartTime: now, ExpiresAt: now.Add(time.Hour), LastActivity: now, Status: models.SessionStatusActive}
	assert.Error(t, store.CreateSession(ctx, second))

	_, err := store.UpdateSession(ctx, first.ID, database.Patch{"status": models.SessionStatusCompleted}, 1)
	require.NoError(t, err)

	third := &models.TableSession{TableID: table.ID, TokenHash: "h3", StartTime: now, ExpiresAt: now.Add(time.Hour), LastActivity: now, Status: models.SessionStatusActive}
	assert.NoError(t, store.CreateSession(ctx, third))

	active, err := store.FindActiveSession(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, active.ID)
}

func TestListOperationsFilters(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(dbtest.Open(t))
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []string{models.OpSessionStart, models.OpStatusChange, models.OpSessionEnd} {
		op := &models.TableOperation{
			Ref:       string(rune('a' + i)),
			Type:      typ,
			TableID:   1,
			BranchID:  "b1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.AppendOperation(ctx, op))
	}

	since := base.Add(time.Minute)
	ops, err := store.ListOperations(ctx, database.OperationFilter{BranchID: "b1", Since: &since})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, models.OpStatusChange, ops[0].Type)

	ops, err = store.ListOperations(ctx, database.OperationFilter{Types: []string{models.OpSessionEnd}})
	require.NoError(t, err)
	require.Len(t, ops, 1)

	last, ok, err := store.LastOperationTime(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(base.Add(2*time.Minute)))
}

func TestListOperationsIncludesLinkedTables(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(dbtest.Open(t))
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	merge := &models.TableOperation{
		Ref:         "merge",
		Type:        models.OpTableMerge,
		TableID:     1,
		BranchID:    "b1",
		Timestamp:   base,
		AffectedIDs: []uint{1, 2, 3},
	}
	require.NoError(t, store.AppendOperation(ctx, merge))
	require.NoError(t, store.AppendOperation(ctx, &models.TableOperation{
		Ref: "other", Type: models.OpStatusChange, TableID: 4, BranchID: "b1", Timestamp: base.Add(time.Minute),
	}))

	for _, id := range []uint{1, 2, 3} {
		tableID := id
		ops, err := store.ListOperations(ctx, database.OperationFilter{TableID: &tableID})
		require.NoError(t, err)
		require.Len(t, ops, 1, "table %d", id)
		assert.Equal(t, merge.ID, ops[0].ID)

		last, ok, err := store.LastOperationTime(ctx, tableID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, last.Equal(base))
	}

	four := uint(4)
	ops, err := store.ListOperations(ctx, database.OperationFilter{TableID: &four, Types: []string{models.OpTableMerge}})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestZoneTotals(t *testing.T) {
	ctx := context.Background()
	store := database.NewStore(dbtest.Open(t))

	zone := &models.Zone{Name: "Patio", BranchID: "b1"}
	require.NoError(t, store.CreateZone(ctx, zone))
	for _, capacity := range []int{2, 4} {
		table := &models.Table{Number: "P", Capacity: capacity, BranchID: "b1", ZoneID: &zone.ID, IsActive: true}
		require.NoError(t, store.CreateTable(ctx, table))
	}

	got, err := store.GetZone(ctx, zone.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TableCount)
	assert.Equal(t, 6, got.Capacity)

	require.NoError(t, store.DeleteZone(ctx, zone.ID))
	tables, err := store.ListTables(ctx, database.TableFilter{ZoneID: &zone.ID})
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func newMockStore(t *testing.T, attempts uint) (*database.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return database.NewStore(gdb, database.WithReadAttempts(attempts), database.WithRetryWait(time.Millisecond)), mock
}

func TestReadsRetryBackendFailures(t *testing.T) {
	store, mock := newMockStore(t, 2)

	mock.ExpectQuery("SELECT \\* FROM `tables`").WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery("SELECT \\* FROM `tables`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "number", "capacity", "status", "version", "merged_tables"}).
			AddRow(1, "T1", 4, "available", 1, []byte("[]")),
	)

	table, err := store.GetTable(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "T1", table.Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadsGiveUpAfterAttempts(t *testing.T) {
	store, mock := newMockStore(t, 2)

	mock.ExpectQuery("SELECT \\* FROM `tables`").WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery("SELECT \\* FROM `tables`").WillReturnError(errors.New("connection refused"))

	_, err := store.GetTable(context.Background(), 1)
	assert.ErrorIs(t, err, database.ErrBackend)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	store, mock := newMockStore(t, 3)

	mock.ExpectQuery("SELECT \\* FROM `tables`").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetTable(context.Background(), 1)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWritesAreNotRetried(t *testing.T) {
	store, mock := newMockStore(t, 3)

	mock.ExpectExec("UPDATE `tables`").WillReturnError(errors.New("connection reset"))

	_, err := store.UpdateTable(context.Background(), 1, database.Patch{"status": models.TableStatusOccupied}, 1)
	assert.ErrorIs(t, err, database.ErrBackend)
	assert.NoError(t, mock.ExpectationsWereMet())
}
