package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/database/dbtest"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/services"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []models.FloorEvent
}

func (r *recorder) Notify(_ context.Context, e models.FloorEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	store    *database.Store
	engine   *services.Engine
	locks    *services.LockManager
	tables   *services.TableStateMachine
	sessions *services.SessionManager
	clock    *fakeClock
	events   *recorder
	index    *services.MemorySessionIndex
}

func newFixture(t *testing.T, cfg services.SessionConfig) *fixture {
	t.Helper()
	store := database.NewStore(dbtest.Open(t))
	clock := &fakeClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	events := &recorder{}
	index := services.NewMemorySessionIndex()

	locks := services.NewLockManager(5 * time.Second)
	engine := services.NewEngine(store, locks,
		services.WithClock(clock.Now),
		services.WithNotifier(events),
		services.WithSessionIndex(index),
	)
	if cfg.TTL == 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &fixture{
		store:    store,
		engine:   engine,
		locks:    locks,
		tables:   services.NewTableStateMachine(engine),
		sessions: services.NewSessionManager(engine, cfg),
		clock:    clock,
		events:   events,
		index:    index,
	}
}

func (f *fixture) table(t *testing.T, number string, capacity int) *models.Table {
	t.Helper()
	table := &models.Table{Number: number, Capacity: capacity, BranchID: "b1", IsActive: true}
	require.NoError(t, f.store.CreateTable(context.Background(), table))
	return table
}

func (f *fixture) staff(t *testing.T, first string) *models.Staff {
	t.Helper()
	s := &models.Staff{FirstName: first, Role: models.RoleStaff, BranchID: "b1", IsActive: true}
	require.NoError(t, f.store.CreateStaff(context.Background(), s))
	return s
}

func (f *fixture) get(t *testing.T, id uint) *models.Table {
	t.Helper()
	table, err := f.store.GetTable(context.Background(), id)
	require.NoError(t, err)
	return table
}

func (f *fixture) ops(t *testing.T, tableID uint) []models.TableOperation {
	t.Helper()
	ops, err := f.engine.Ledger().ListOperations(context.Background(), tableID, nil)
	require.NoError(t, err)
	return ops
}
