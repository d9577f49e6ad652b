package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// Actor is the already authorized caller of a lifecycle operation. A zero
// StaffID means the system itself (sweeper, QR scan).
type Actor struct {
	StaffID uint
	Role    string
}

// SystemActor is used for mutations nobody on staff triggered.
var SystemActor = Actor{Role: "system"}

func (a Actor) staffRef() *uint {
	if a.StaffID == 0 {
		return nil
	}
	id := a.StaffID
	return &id
}

// Engine holds what the state machine and the session manager share.
type Engine struct {
	repo     database.Repository
	locks    *LockManager
	ledger   *Ledger
	index    SessionIndex
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithBackendTimeout bounds every mutation transaction.
func WithBackendTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
		e.ledger.now = now
	}
}

func WithSessionIndex(index SessionIndex) EngineOption {
	return func(e *Engine) { e.index = index }
}

func NewEngine(repo database.Repository, locks *LockManager, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:    repo,
		locks:   locks,
		ledger:  NewLedger(repo),
		index:   NewMemorySessionIndex(),
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
	e.ledger.now = e.now
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

func (e *Engine) Repo() database.Repository {
	return e.repo
}

// change is what one mutation committed. A nil op means nothing was written.
type change struct {
	op      *models.TableOperation
	table   *models.Table
	tables  []models.Table
	session *models.TableSession
	// afterCommit runs once the transaction committed.
	afterCommit func(ctx context.Context)
	// onRollback runs when the transaction failed.
	onRollback func(ctx context.Context)
}

// mutate locks ids, runs fn in one transaction together with the ledger
// append, then releases the locks and notifies.
func (e *Engine) mutate(ctx context.Context, ids []uint, fn func(ctx context.Context, tx database.Repository, c *change) error) (*change, error) {
	release, err := e.locks.Acquire(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, release, fn)
}

// mutateNow is mutate for multi-table operations that must not queue
// behind another change to any of ids: a busy table fails the call with
// ErrConflictingOperation.
func (e *Engine) mutateNow(ctx context.Context, ids []uint, fn func(ctx context.Context, tx database.Repository, c *change) error) (*change, error) {
	release, err := e.locks.TryAcquire(ids...)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, release, fn)
}

func (e *Engine) run(ctx context.Context, release func(), fn func(ctx context.Context, tx database.Repository, c *change) error) (*change, error) {
	c := &change{}
	err := func() error {
		defer release()
		tctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		return e.repo.InTx(tctx, func(tx database.Repository) error {
			if err := fn(tctx, tx, c); err != nil {
				return err
			}
			if c.op == nil {
				return nil
			}
			return e.ledger.Append(tctx, tx, c.op)
		})
	}()
	if err != nil {
		if c.onRollback != nil {
			c.onRollback(ctx)
		}
		return nil, translate(err, "table")
	}

	if c.afterCommit != nil {
		c.afterCommit(ctx)
	}
	if c.op != nil {
		e.publish(ctx, c)
	}
	return c, nil
}

func (e *Engine) publish(ctx context.Context, c *change) {
	utils.InfoLogger.WithFields(logrus.Fields{
		"table_id": c.op.TableID,
		"op":       c.op.Type,
		"staff_id": derefStaff(c.op.StaffID),
		"status":   c.op.NewStatus,
	}).Info("table operation committed")

	if e.notifier == nil {
		return
	}
	tables := c.tables
	if len(tables) == 0 && c.table != nil {
		tables = []models.Table{*c.table}
	}
	if err := e.notifier.Notify(ctx, models.FloorEvent{Operation: *c.op, Tables: tables}); err != nil {
		utils.ErrorLogger.WithField("op", c.op.Type).Errorf("notify: %v", err)
	}
}

// updateTable applies patch under the table's current version and checks
// the merge link rules on the result before the transaction commits.
func updateTable(ctx context.Context, tx database.Repository, t *models.Table, patch database.Patch) (*models.Table, error) {
	updated, err := tx.UpdateTable(ctx, t.ID, patch, t.Version)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateMergeLinks(updated); err != nil {
		return nil, &LifecycleError{Code: CodeValidation, Message: "invalid table state", Err: err}
	}
	return updated, nil
}

// loadTable reads a table inside tx and rejects ones that are switched off.
func loadTable(ctx context.Context, tx database.Repository, id uint) (*models.Table, error) {
	t, err := tx.GetTable(ctx, id)
	if err != nil {
		return nil, translate(err, "table")
	}
	if !t.IsActive {
		return nil, tableUnavailable(ReasonInactive, "table %s is inactive", t.Number)
	}
	return t, nil
}

func findActiveSession(ctx context.Context, tx database.Repository, tableID uint) (*models.TableSession, error) {
	s, err := tx.FindActiveSession(ctx, tableID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func isNotFound(err error) bool {
	return err != nil && (errors.Is(err, database.ErrNotFound) || errors.Is(err, ErrNotFound))
}

func newOperation(typ string, t *models.Table, prev string, actor Actor, note string) *models.TableOperation {
	return &models.TableOperation{
		Type:           typ,
		TableID:        t.ID,
		BranchID:       t.BranchID,
		PreviousStatus: prev,
		NewStatus:      t.Status,
		StaffID:        actor.staffRef(),
		Note:           note,
	}
}
