package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/models"
)

const defaultPageSize = 100

// Ledger is the append-only history of table operations.
type Ledger struct {
	repo database.Repository
	now  func() time.Time
}

func NewLedger(repo database.Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Append writes op through tx, the caller's open transaction. Timestamps are
// kept strictly increasing per table at millisecond precision, across every
// table the operation affected.
func (l *Ledger) Append(ctx context.Context, tx database.Repository, op *models.TableOperation) error {
	op.Ref = uuid.NewString()
	ts := op.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	ts = ts.UTC().Truncate(time.Millisecond)

	for _, id := range uniqueSorted(append([]uint{op.TableID}, op.AffectedIDs...)) {
		last, ok, err := tx.LastOperationTime(ctx, id)
		if err != nil {
			return err
		}
		if ok && !ts.After(last) {
			ts = last.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
		}
	}
	op.Timestamp = ts
	return tx.AppendOperation(ctx, op)
}

// ListOperations returns a table's operations oldest first.
func (l *Ledger) ListOperations(ctx context.Context, tableID uint, since *time.Time) ([]models.TableOperation, error) {
	ops, err := l.repo.ListOperations(ctx, database.OperationFilter{TableID: &tableID, Since: since})
	return ops, translate(err, "operations")
}

// Page returns at most limit operations after the given id.
func (l *Ledger) Page(ctx context.Context, tableID uint, since *time.Time, afterID uint, limit int) ([]models.TableOperation, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultPageSize
	}
	ops, err := l.repo.ListOperations(ctx, database.OperationFilter{
		TableID: &tableID,
		Since:   since,
		AfterID: afterID,
		Limit:   limit,
	})
	return ops, translate(err, "operations")
}

// Window returns the branch's operations within [from, to], optionally
// restricted to some types.
func (l *Ledger) Window(ctx context.Context, branchID string, from, to time.Time, types ...string) ([]models.TableOperation, error) {
	ops, err := l.repo.ListOperations(ctx, database.OperationFilter{
		BranchID: branchID,
		Since:    &from,
		Until:    &to,
		Types:    types,
	})
	return ops, translate(err, "operations")
}

// History projects operations into timeline entries with the acting staff
// resolved.
func (l *Ledger) History(ctx context.Context, tableID uint, since *time.Time) ([]models.TableHistoryEntry, error) {
	ops, err := l.ListOperations(ctx, tableID, since)
	if err != nil {
		return nil, err
	}

	var ids []uint
	seen := make(map[uint]bool)
	for _, op := range ops {
		if op.StaffID != nil && !seen[*op.StaffID] {
			seen[*op.StaffID] = true
			ids = append(ids, *op.StaffID)
		}
	}

	staffByID := make(map[uint]*models.Staff, len(ids))
	if len(ids) > 0 {
		staff, err := l.repo.ListStaff(ctx, database.StaffFilter{IDs: ids})
		if err != nil {
			return nil, translate(err, "staff")
		}
		for i := range staff {
			staffByID[staff[i].ID] = &staff[i]
		}
	}

	entries := make([]models.TableHistoryEntry, len(ops))
	for i, op := range ops {
		entries[i] = models.TableHistoryEntry{TableOperation: op}
		if op.StaffID != nil {
			entries[i].Staff = staffByID[*op.StaffID]
		}
	}
	return entries, nil
}

// Cursor starts a lazy walk over a table's operations.
func (l *Ledger) Cursor(tableID uint, since *time.Time) *Cursor {
	return &Cursor{ledger: l, tableID: tableID, since: since, pageSize: defaultPageSize}
}

// Resume continues a walk from a Position returned by an earlier Cursor.
func (l *Ledger) Resume(tableID uint, position uint) *Cursor {
	return &Cursor{ledger: l, tableID: tableID, afterID: position, pageSize: defaultPageSize}
}

// Cursor pages through the ledger by operation id. It is not safe for
// concurrent use.
type Cursor struct {
	ledger   *Ledger
	tableID  uint
	since    *time.Time
	afterID  uint
	pageSize int
	buf      []models.TableOperation
}

// Next returns the next operation, or false once the ledger is exhausted.
// A cursor that reported false picks up operations appended later.
func (c *Cursor) Next(ctx context.Context) (*models.TableOperation, bool, error) {
	if len(c.buf) == 0 {
		page, err := c.ledger.Page(ctx, c.tableID, c.since, c.afterID, c.pageSize)
		if err != nil {
			return nil, false, err
		}
		if len(page) == 0 {
			return nil, false, nil
		}
		c.buf = page
	}
	op := c.buf[0]
	c.buf = c.buf[1:]
	c.afterID = op.ID
	return &op, true, nil
}

// Position is the id of the last operation returned.
func (c *Cursor) Position() uint {
	return c.afterID
}
