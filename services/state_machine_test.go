package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/services"
	"github.com/yeremiapane/restaurant-floor/utils"
)

var manager = services.Actor{StaffID: 7, Role: models.RoleManager}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.TableStatusAvailable, models.TableStatusOccupied, true},
		{models.TableStatusAvailable, models.TableStatusCleaning, false},
		{models.TableStatusAvailable, models.TableStatusReserved, false},
		{models.TableStatusOccupied, models.TableStatusCleaning, true},
		{models.TableStatusOccupied, models.TableStatusReserved, true},
		{models.TableStatusCleaning, models.TableStatusOccupied, false},
		{models.TableStatusReserved, models.TableStatusOccupied, true},
		{models.TableStatusCleaning, models.TableStatusMaintenance, true},
		{models.TableStatusMaintenance, models.TableStatusOccupied, false},
		{models.TableStatusMaintenance, models.TableStatusAvailable, true},
		{models.TableStatusAvailable, models.TableStatusAvailable, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, services.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestRequestStatusChangeAppendsOneOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "A1", 4)

	res, err := f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: models.TableStatusOccupied, Note: "walk in"}, manager)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusOccupied, res.Table.Status)
	assert.Equal(t, models.OpStatusChange, res.Operation.Type)
	assert.Equal(t, models.TableStatusAvailable, res.Operation.PreviousStatus)
	assert.Equal(t, models.TableStatusOccupied, res.Operation.NewStatus)
	require.NotNil(t, res.Operation.StaffID)
	assert.Equal(t, uint(7), *res.Operation.StaffID)

	res, err = f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: models.TableStatusCleaning}, manager)
	require.NoError(t, err)
	assert.NotNil(t, res.Table.CleaningRequestedAt)

	ops := f.ops(t, table.ID)
	require.Len(t, ops, 2)
	assert.True(t, ops[1].Timestamp.After(ops[0].Timestamp))
	assert.Equal(t, 2, f.events.Len())
}

func TestRequestStatusChangeRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "A1", 4)

	_, err := f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: models.TableStatusCleaning}, manager)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	_, err = f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: "broken"}, manager)
	assert.ErrorIs(t, err, services.ErrValidation)

	stale := int64(9)
	_, err = f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: models.TableStatusOccupied, ExpectedVersion: &stale}, manager)
	assert.ErrorIs(t, err, services.ErrConflictingOperation)

	_, err = f.tables.RequestStatusChange(ctx, 999, services.StatusChange{Status: models.TableStatusOccupied}, manager)
	assert.ErrorIs(t, err, services.ErrNotFound)

	assert.Empty(t, f.ops(t, table.ID))
	assert.Equal(t, models.TableStatusAvailable, f.get(t, table.ID).Status)
}

func TestLeavingOccupiedWithSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "A1", 4)

	_, err := f.sessions.StartSession(ctx, table.ID, services.StartOptions{})
	require.NoError(t, err)

	_, err = f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: models.TableStatusAvailable}, manager)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
	_, err = f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: models.TableStatusMaintenance}, manager)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
	_, err = f.tables.RequestCleaning(ctx, table.ID, models.CleaningPriorityUrgent, manager)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestRequestCleaning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "A1", 4)

	_, err := f.tables.RequestCleaning(ctx, table.ID, "asap", manager)
	assert.ErrorIs(t, err, services.ErrValidation)

	res, err := f.tables.RequestCleaning(ctx, table.ID, models.CleaningPriorityUrgent, manager)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusCleaning, res.Table.Status)
	assert.Equal(t, models.CleaningPriorityUrgent, res.Table.CleaningPriority)
	require.NotNil(t, res.Table.CleaningStaffID)
	assert.Equal(t, models.OpCleaningRequest, res.Operation.Type)

	_, err = f.tables.RequestCleaning(ctx, table.ID, "", manager)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	res, err = f.tables.RequestStatusChange(ctx, table.ID, services.StatusChange{Status: models.TableStatusAvailable}, manager)
	require.NoError(t, err)
	assert.Nil(t, res.Table.CleaningRequestedAt)
	assert.Equal(t, models.CleaningPriorityNormal, res.Table.CleaningPriority)
}

func TestResetTableCancelsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "A1", 4)

	_, err := f.tables.ResetTable(ctx, table.ID, "stuck", manager)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	start, err := f.sessions.StartSession(ctx, table.ID, services.StartOptions{})
	require.NoError(t, err)

	_, err = f.tables.ResetTable(ctx, table.ID, "  ", manager)
	assert.ErrorIs(t, err, services.ErrValidation)

	res, err := f.tables.ResetTable(ctx, table.ID, "guests left without paying", manager)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusAvailable, res.Table.Status)
	assert.Equal(t, "guests left without paying", res.Table.ResetReason)
	require.NotNil(t, res.Operation.SessionID)
	assert.Equal(t, start.Session.ID, *res.Operation.SessionID)

	session, err := f.store.GetSession(ctx, start.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)
	assert.NotNil(t, session.EndTime)

	_, err = f.sessions.TouchSession(ctx, start.Token)
	assert.ErrorIs(t, err, services.ErrSessionNotFound)
}

func TestReserveThenStartCopiesReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "A1", 4)
	ref := "R-100"

	_, err := f.tables.ReserveTable(ctx, table.ID, services.Reservation{}, manager)
	assert.ErrorIs(t, err, services.ErrValidation)

	res, err := f.tables.ReserveTable(ctx, table.ID, services.Reservation{Time: f.clock.Now().Add(time.Hour), ReservationID: &ref}, manager)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusReserved, res.Table.Status)
	assert.Equal(t, models.OpReservation, res.Operation.Type)

	_, err = f.tables.ReserveTable(ctx, table.ID, services.Reservation{Time: f.clock.Now()}, manager)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)

	start, err := f.sessions.StartSession(ctx, table.ID, services.StartOptions{})
	require.NoError(t, err)
	require.NotNil(t, start.Session.ReservationID)
	assert.Equal(t, ref, *start.Session.ReservationID)
	assert.Nil(t, start.Table.ReservationID)
	assert.Equal(t, models.TableStatusReserved, start.Operation.PreviousStatus)
}

func TestAssignAndTransferStaff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "A1", 4)
	ana := f.staff(t, "Ana")
	budi := f.staff(t, "Budi")

	_, err := f.tables.AssignStaff(ctx, table.ID, 404, manager)
	assert.ErrorIs(t, err, services.ErrNotFound)

	res, err := f.tables.AssignStaff(ctx, table.ID, ana.ID, manager)
	require.NoError(t, err)
	require.NotNil(t, res.Table.StaffID)
	assert.Equal(t, ana.ID, *res.Table.StaffID)

	_, err = f.tables.AssignStaff(ctx, table.ID, budi.ID, manager)
	assert.ErrorIs(t, err, services.ErrConflictingOperation)

	start, err := f.sessions.StartSession(ctx, table.ID, services.StartOptions{})
	require.NoError(t, err)
	require.NotNil(t, start.Session.StaffID)
	assert.Equal(t, ana.ID, *start.Session.StaffID)

	_, err = f.tables.TransferStaff(ctx, table.ID, services.Transfer{FromStaffID: &budi.ID, ToStaffID: ana.ID}, manager)
	assert.ErrorIs(t, err, services.ErrConflictingOperation)

	res, err = f.tables.TransferStaff(ctx, table.ID, services.Transfer{FromStaffID: &ana.ID, ToStaffID: budi.ID, Note: "shift change"}, manager)
	require.NoError(t, err)
	assert.Equal(t, budi.ID, *res.Table.StaffID)
	assert.Equal(t, models.TableStatusOccupied, res.Table.Status)
	assert.Equal(t, models.OpStaffTransfer, res.Operation.Type)

	session, err := f.sessions.ActiveSession(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, budi.ID, *session.StaffID)
}

func TestMergeScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	t1 := f.table(t, "T1", 4)
	t2 := f.table(t, "T2", 2)
	t3 := f.table(t, "T3", 2)
	t4 := f.table(t, "T4", 4)
	s1 := services.Actor{StaffID: 1, Role: models.RoleStaff}

	res, err := f.tables.MergeTables(ctx, t1.ID, []uint{t2.ID, t3.ID}, s1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{t2.ID, t3.ID}, []uint(res.Table.MergedTables))
	assert.Equal(t, 8, res.Table.EffectiveCapacity)
	assert.Len(t, res.Tables, 3)

	for _, id := range []uint{t2.ID, t3.ID} {
		got := f.get(t, id)
		require.NotNil(t, got.MergedInto)
		assert.Equal(t, t1.ID, *got.MergedInto)
		assert.Equal(t, models.TableStatusOccupied, got.Status)
	}
	assert.Equal(t, models.TableStatusOccupied, f.get(t, t1.ID).Status)

	ops := f.ops(t, t1.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpTableMerge, ops[0].Type)
	assert.Contains(t, string(ops[0].Details), "affected_ids")

	_, err = f.tables.MergeTables(ctx, t4.ID, []uint{t2.ID}, s1)
	assert.ErrorIs(t, err, services.ErrAlreadyMerged)
	_, err = f.tables.MergeTables(ctx, t2.ID, []uint{t4.ID}, s1)
	assert.ErrorIs(t, err, services.ErrAlreadyMerged)
	assert.Equal(t, models.TableStatusAvailable, f.get(t, t4.ID).Status)

	_, err = f.tables.RequestStatusChange(ctx, t2.ID, services.StatusChange{Status: models.TableStatusAvailable}, s1)
	assert.ErrorIs(t, err, services.ErrAlreadyMerged)

	_, err = f.sessions.StartSession(ctx, t2.ID, services.StartOptions{})
	assert.ErrorIs(t, err, services.ErrTableUnavailable)

	start, err := f.sessions.StartSession(ctx, t1.ID, services.StartOptions{Customers: 7})
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusOccupied, start.Table.Status)
}

func TestMergeValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	t1 := f.table(t, "T1", 4)
	t2 := f.table(t, "T2", 2)
	t3 := f.table(t, "T3", 2)

	_, err := f.tables.MergeTables(ctx, t1.ID, nil, manager)
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = f.tables.MergeTables(ctx, t1.ID, []uint{t1.ID}, manager)
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = f.tables.MergeTables(ctx, t1.ID, []uint{t2.ID, t2.ID}, manager)
	assert.ErrorIs(t, err, services.ErrValidation)
	_, err = f.tables.MergeTables(ctx, t1.ID, []uint{404}, manager)
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = f.sessions.StartSession(ctx, t3.ID, services.StartOptions{})
	require.NoError(t, err)
	_, err = f.tables.MergeTables(ctx, t1.ID, []uint{t2.ID, t3.ID}, manager)
	assert.ErrorIs(t, err, services.ErrTableUnavailable)

	assert.Nil(t, f.get(t, t2.ID).MergedInto)
	assert.Empty(t, f.get(t, t1.ID).MergedTables)
	assert.Empty(t, f.ops(t, t1.ID))
}

func TestMergeSplitRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	t1 := f.table(t, "T1", 4)
	t2 := f.table(t, "T2", 2)
	t3 := f.table(t, "T3", 2)

	_, err := f.tables.SplitTables(ctx, t1.ID, manager)
	assert.ErrorIs(t, err, services.ErrNotMerged)

	_, err = f.tables.MergeTables(ctx, t1.ID, []uint{t2.ID, t3.ID}, manager)
	require.NoError(t, err)

	_, err = f.tables.SplitTables(ctx, t2.ID, manager)
	assert.ErrorIs(t, err, services.ErrAlreadyMerged)

	res, err := f.tables.SplitTables(ctx, t1.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, models.OpTableSplit, res.Operation.Type)
	assert.Equal(t, 4, res.Table.EffectiveCapacity)

	for _, id := range []uint{t1.ID, t2.ID, t3.ID} {
		got := f.get(t, id)
		assert.Equal(t, models.TableStatusAvailable, got.Status)
		assert.Nil(t, got.MergedInto)
		assert.Empty(t, got.MergedTables)
		assert.NoError(t, models.ValidateMergeLinks(got))
	}
	assert.Len(t, f.ops(t, t1.ID), 2)
}

func TestSplitKeepsPrimaryWithSessionOccupied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	t1 := f.table(t, "T1", 4)
	t2 := f.table(t, "T2", 2)

	_, err := f.tables.MergeTables(ctx, t1.ID, []uint{t2.ID}, manager)
	require.NoError(t, err)
	_, err = f.sessions.StartSession(ctx, t1.ID, services.StartOptions{})
	require.NoError(t, err)

	res, err := f.tables.SplitTables(ctx, t1.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusOccupied, res.Table.Status)
	assert.Equal(t, models.TableStatusAvailable, f.get(t, t2.ID).Status)
}

// gatedClock blocks the first call made after arm until open is called.
// Merges read the clock while holding their table locks.
type gatedClock struct {
	now     time.Time
	armed   chan struct{}
	entered chan struct{}
	proceed chan struct{}
}

func newGatedClock(now time.Time) *gatedClock {
	return &gatedClock{
		now:     now,
		armed:   make(chan struct{}, 1),
		entered: make(chan struct{}),
		proceed: make(chan struct{}),
	}
}

func (g *gatedClock) arm() { g.armed <- struct{}{} }

func (g *gatedClock) open() { close(g.proceed) }

func (g *gatedClock) Now() time.Time {
	select {
	case <-g.armed:
		close(g.entered)
		<-g.proceed
	default:
	}
	return g.now
}

func TestConcurrentOverlappingMerges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	t1 := f.table(t, "T1", 4)
	t2 := f.table(t, "T2", 2)
	t3 := f.table(t, "T3", 2)

	clock := newGatedClock(f.clock.Now())
	engine := services.NewEngine(f.store, services.NewLockManager(5*time.Second), services.WithClock(clock.Now))
	tables := services.NewTableStateMachine(engine)

	clock.arm()
	first := make(chan error, 1)
	go func() {
		_, err := tables.MergeTables(ctx, t1.ID, []uint{t2.ID}, manager)
		first <- err
	}()
	<-clock.entered

	_, err := tables.MergeTables(ctx, t3.ID, []uint{t2.ID}, manager)
	assert.ErrorIs(t, err, services.ErrConflictingOperation)

	clock.open()
	require.NoError(t, <-first)

	got := f.get(t, t2.ID)
	require.NotNil(t, got.MergedInto)
	assert.Equal(t, t1.ID, *got.MergedInto)
	assert.NoError(t, models.ValidateMergeLinks(got))
	assert.Empty(t, f.get(t, t3.ID).MergedTables)

	_, err = tables.MergeTables(ctx, t3.ID, []uint{t2.ID}, manager)
	assert.ErrorIs(t, err, services.ErrAlreadyMerged)
}

func TestMergeAndSplitFailFastOnBusyTable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, services.SessionConfig{})
	t1 := f.table(t, "T1", 4)
	t2 := f.table(t, "T2", 2)

	release, err := f.locks.Acquire(ctx, t2.ID)
	require.NoError(t, err)
	_, err = f.tables.MergeTables(ctx, t1.ID, []uint{t2.ID}, manager)
	assert.ErrorIs(t, err, services.ErrConflictingOperation)
	assert.Empty(t, f.ops(t, t1.ID))
	release()

	_, err = f.tables.MergeTables(ctx, t1.ID, []uint{t2.ID}, manager)
	require.NoError(t, err)

	release, err = f.locks.Acquire(ctx, t1.ID)
	require.NoError(t, err)
	_, err = f.tables.SplitTables(ctx, t1.ID, manager)
	assert.ErrorIs(t, err, services.ErrConflictingOperation)
	release()

	_, err = f.tables.SplitTables(ctx, t1.ID, manager)
	require.NoError(t, err)
	assert.Equal(t, 0, f.locks.Held())
}

func TestCommittedOperationLogsStaffID(t *testing.T) {
	var buf bytes.Buffer
	out, formatter, level := utils.InfoLogger.Out, utils.InfoLogger.Formatter, utils.InfoLogger.Level
	utils.InfoLogger.SetOutput(&buf)
	utils.InfoLogger.SetFormatter(&logrus.JSONFormatter{})
	utils.InfoLogger.SetLevel(logrus.InfoLevel)
	t.Cleanup(func() {
		utils.InfoLogger.SetOutput(out)
		utils.InfoLogger.SetFormatter(formatter)
		utils.InfoLogger.SetLevel(level)
	})

	f := newFixture(t, services.SessionConfig{})
	table := f.table(t, "T1", 4)
	_, err := f.tables.RequestStatusChange(context.Background(), table.ID, services.StatusChange{Status: models.TableStatusOccupied}, manager)
	require.NoError(t, err)

	var entry map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		if e["msg"] == "table operation committed" {
			entry = e
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, float64(manager.StaffID), entry["staff_id"])
}
