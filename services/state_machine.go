package services

import (
	"context"
	"strings"
	"time"

	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/models"
	"gorm.io/datatypes"
)

// transitions is the adjacency of RequestStatusChange. Every status may also
// go to maintenance.
var transitions = map[string][]string{
	models.TableStatusAvailable:   {models.TableStatusOccupied},
	models.TableStatusOccupied:    {models.TableStatusAvailable, models.TableStatusCleaning, models.TableStatusReserved},
	models.TableStatusCleaning:    {models.TableStatusAvailable},
	models.TableStatusReserved:    {models.TableStatusOccupied, models.TableStatusAvailable},
	models.TableStatusMaintenance: {models.TableStatusAvailable},
}

// CanTransition reports whether RequestStatusChange allows from -> to.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	if to == models.TableStatusMaintenance {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TableResult is what a staff action returns.
type TableResult struct {
	Table     *models.Table          `json:"table"`
	Tables    []models.Table         `json:"tables,omitempty"`
	Operation *models.TableOperation `json:"operation"`
}

func resultOf(c *change) *TableResult {
	return &TableResult{Table: c.table, Tables: c.tables, Operation: c.op}
}

// TableStateMachine owns every staff driven table transition, merges and
// splits included.
type TableStateMachine struct {
	*Engine
}

func NewTableStateMachine(engine *Engine) *TableStateMachine {
	return &TableStateMachine{Engine: engine}
}

type StatusChange struct {
	Status          string
	Note            string
	ExpectedVersion *int64
}

func (m *TableStateMachine) RequestStatusChange(ctx context.Context, tableID uint, req StatusChange, actor Actor) (*TableResult, error) {
	if !models.IsTableStatus(req.Status) {
		return nil, validationError("unknown table status %q", req.Status)
	}

	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.IsMergedAway() {
			return newError(CodeAlreadyMerged, "table %s is merged into table %d", t.Number, *t.MergedInto)
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != t.Version {
			return newError(CodeConflictingOperation, "table %s changed since version %d", t.Number, *req.ExpectedVersion)
		}
		if !CanTransition(t.Status, req.Status) {
			return invalidTransition(t.Status, req.Status)
		}
		if req.Status == models.TableStatusMaintenance && t.IsMergePrimary() {
			return newError(CodeInvalidTransition, "split table %s before maintenance", t.Number)
		}
		if t.Status == models.TableStatusOccupied || req.Status == models.TableStatusMaintenance {
			active, err := findActiveSession(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if active != nil {
				return newError(CodeInvalidTransition, "table %s has an active session, end or reset it first", t.Number)
			}
		}

		now := m.now()
		patch := database.Patch{"status": req.Status}
		switch req.Status {
		case models.TableStatusAvailable:
			patch["reservation_time"] = nil
			patch["reservation_id"] = nil
			patch["cleaning_requested_at"] = nil
			patch["cleaning_staff_id"] = nil
			patch["cleaning_priority"] = models.CleaningPriorityNormal
		case models.TableStatusCleaning:
			patch["cleaning_requested_at"] = now
			patch["cleaning_priority"] = models.CleaningPriorityNormal
		}

		prev := t.Status
		updated, err := updateTable(ctx, tx, t, patch)
		if err != nil {
			return err
		}
		c.table = updated
		c.op = newOperation(models.OpStatusChange, updated, prev, actor, req.Note)
		c.op.Timestamp = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

// RequestCleaning moves an available table, or an occupied one whose guests
// have left, to cleaning.
func (m *TableStateMachine) RequestCleaning(ctx context.Context, tableID uint, priority string, actor Actor) (*TableResult, error) {
	if priority == "" {
		priority = models.CleaningPriorityNormal
	}
	if !models.IsCleaningPriority(priority) {
		return nil, validationError("unknown cleaning priority %q", priority)
	}

	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.IsMergedAway() {
			return newError(CodeAlreadyMerged, "table %s is merged into table %d", t.Number, *t.MergedInto)
		}
		switch t.Status {
		case models.TableStatusAvailable:
		case models.TableStatusOccupied:
			active, err := findActiveSession(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if active != nil {
				return newError(CodeInvalidTransition, "table %s has an active session, end it first", t.Number)
			}
		default:
			return invalidTransition(t.Status, models.TableStatusCleaning)
		}

		now := m.now()
		prev := t.Status
		updated, err := updateTable(ctx, tx, t, database.Patch{
			"status":                models.TableStatusCleaning,
			"cleaning_requested_at": now,
			"cleaning_priority":     priority,
			"cleaning_staff_id":     actor.staffRef(),
		})
		if err != nil {
			return err
		}
		c.table = updated
		c.op = newOperation(models.OpCleaningRequest, updated, prev, actor, "")
		c.op.Timestamp = now
		c.op.Details = models.EncodeDetails(models.CleaningDetails{
			Priority:        priority,
			CleaningStaffID: actor.staffRef(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

// ResetTable forces an occupied or reserved table back to available. Any
// active session is cancelled in the same transaction.
func (m *TableStateMachine) ResetTable(ctx context.Context, tableID uint, reason string, actor Actor) (*TableResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationError("reset reason is required")
	}

	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.IsMergedAway() {
			return newError(CodeAlreadyMerged, "table %s is merged into table %d", t.Number, *t.MergedInto)
		}
		if t.Status != models.TableStatusOccupied && t.Status != models.TableStatusReserved {
			return invalidTransition(t.Status, models.TableStatusAvailable)
		}

		now := m.now()
		details := models.ResetDetails{Reason: reason}
		active, err := findActiveSession(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if active != nil {
			ended, err := tx.UpdateSession(ctx, active.ID, database.Patch{
				"status":   models.SessionStatusCancelled,
				"end_time": now,
				"duration": models.DurationMinutes(active.StartTime, now),
			}, active.Version)
			if err != nil {
				return err
			}
			details.CancelledSessionID = &ended.ID
			c.session = ended
			hash := active.TokenHash
			c.afterCommit = func(ctx context.Context) { m.releaseToken(ctx, hash) }
		}

		prev := t.Status
		updated, err := updateTable(ctx, tx, t, database.Patch{
			"status":           models.TableStatusAvailable,
			"reservation_time": nil,
			"reservation_id":   nil,
			"reset_reason":     reason,
		})
		if err != nil {
			return err
		}
		c.table = updated
		c.op = newOperation(models.OpTableReset, updated, prev, actor, reason)
		c.op.Timestamp = now
		c.op.SessionID = details.CancelledSessionID
		c.op.Details = models.EncodeDetails(details)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

type Transfer struct {
	FromStaffID *uint
	ToStaffID   uint
	Note        string
}

// TransferStaff hands a table over to another staff member. from must match
// the current assignment.
func (m *TableStateMachine) TransferStaff(ctx context.Context, tableID uint, req Transfer, actor Actor) (*TableResult, error) {
	if req.ToStaffID == 0 {
		return nil, validationError("target staff is required")
	}

	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.IsMergedAway() {
			return newError(CodeAlreadyMerged, "table %s is merged into table %d", t.Number, *t.MergedInto)
		}
		if !sameStaff(t.StaffID, req.FromStaffID) {
			return newError(CodeConflictingOperation, "table %s is not assigned to the given staff", t.Number)
		}
		if err := checkStaff(ctx, tx, req.ToStaffID, t.BranchID); err != nil {
			return err
		}

		updated, err := updateTable(ctx, tx, t, database.Patch{
			"staff_id":      req.ToStaffID,
			"transfer_note": req.Note,
		})
		if err != nil {
			return err
		}

		active, err := findActiveSession(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if c.session, err = tx.UpdateSession(ctx, active.ID, database.Patch{"staff_id": req.ToStaffID}, active.Version); err != nil {
				return err
			}
		}

		c.table = updated
		c.op = newOperation(models.OpStaffTransfer, updated, t.Status, actor, req.Note)
		c.op.Timestamp = m.now()
		c.op.Details = models.EncodeDetails(models.TransferDetails{
			FromStaffID: t.StaffID,
			ToStaffID:   req.ToStaffID,
		})
		if active != nil {
			c.op.SessionID = &active.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

type Reservation struct {
	Time          time.Time
	ReservationID *string
	Note          string
}

// ReserveTable holds an available table for a booking.
func (m *TableStateMachine) ReserveTable(ctx context.Context, tableID uint, req Reservation, actor Actor) (*TableResult, error) {
	if req.Time.IsZero() {
		return nil, validationError("reservation time is required")
	}

	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.IsMergedAway() {
			return newError(CodeAlreadyMerged, "table %s is merged into table %d", t.Number, *t.MergedInto)
		}
		if t.Status != models.TableStatusAvailable {
			return invalidTransition(t.Status, models.TableStatusReserved)
		}

		at := req.Time.UTC()
		updated, err := updateTable(ctx, tx, t, database.Patch{
			"status":           models.TableStatusReserved,
			"reservation_time": at,
			"reservation_id":   req.ReservationID,
		})
		if err != nil {
			return err
		}
		c.table = updated
		c.op = newOperation(models.OpReservation, updated, t.Status, actor, req.Note)
		c.op.Timestamp = m.now()
		c.op.Details = models.EncodeDetails(models.ReservationDetails{
			ReservationTime: at,
			ReservationID:   req.ReservationID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

// AssignStaff sets the responsible staff of an unassigned table. Reassigning
// goes through TransferStaff.
func (m *TableStateMachine) AssignStaff(ctx context.Context, tableID, staffID uint, actor Actor) (*TableResult, error) {
	if staffID == 0 {
		return nil, validationError("staff is required")
	}

	c, err := m.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := loadTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if t.IsMergedAway() {
			return newError(CodeAlreadyMerged, "table %s is merged into table %d", t.Number, *t.MergedInto)
		}
		if t.StaffID != nil {
			return newError(CodeConflictingOperation, "table %s is already assigned to staff %d", t.Number, *t.StaffID)
		}
		if err := checkStaff(ctx, tx, staffID, t.BranchID); err != nil {
			return err
		}

		updated, err := updateTable(ctx, tx, t, database.Patch{"staff_id": staffID})
		if err != nil {
			return err
		}
		c.table = updated
		c.op = newOperation(models.OpAssignment, updated, t.Status, actor, "")
		c.op.Timestamp = m.now()
		c.op.Details = models.EncodeDetails(models.TransferDetails{ToStaffID: staffID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

// MergeTables absorbs secondaries into primary. All tables are locked in id
// order and written in one transaction.
func (m *TableStateMachine) MergeTables(ctx context.Context, primaryID uint, secondaryIDs []uint, actor Actor) (*TableResult, error) {
	if len(secondaryIDs) == 0 {
		return nil, validationError("at least one table to merge is required")
	}
	seen := map[uint]bool{primaryID: true}
	for _, id := range secondaryIDs {
		if seen[id] {
			return nil, validationError("table %d is listed twice or is the primary", id)
		}
		seen[id] = true
	}
	all := append([]uint{primaryID}, secondaryIDs...)

	c, err := m.mutateNow(ctx, all, func(ctx context.Context, tx database.Repository, c *change) error {
		rows, err := tx.ListTables(ctx, database.TableFilter{IDs: all, IncludeInactive: true})
		if err != nil {
			return err
		}
		if len(rows) != len(all) {
			return newError(CodeNotFound, "one or more tables not found")
		}
		byID := make(map[uint]*models.Table, len(rows))
		for i := range rows {
			byID[rows[i].ID] = &rows[i]
		}
		primary := byID[primaryID]

		for _, id := range all {
			t := byID[id]
			if !t.IsActive {
				return tableUnavailable(ReasonInactive, "table %s is inactive", t.Number)
			}
			if t.IsMergedAway() {
				return newError(CodeAlreadyMerged, "table %s is already merged into table %d", t.Number, *t.MergedInto)
			}
			if t.Status == models.TableStatusMaintenance {
				return tableUnavailable(ReasonMaintenance, "table %s is under maintenance", t.Number)
			}
			if t.BranchID != primary.BranchID {
				return validationError("table %s belongs to another branch", t.Number)
			}
		}
		if primary.Status == models.TableStatusCleaning {
			return invalidTransition(primary.Status, models.TableStatusOccupied)
		}
		for _, id := range secondaryIDs {
			t := byID[id]
			if t.IsMergePrimary() {
				return newError(CodeAlreadyMerged, "table %s already has merged tables", t.Number)
			}
			if t.Status != models.TableStatusAvailable && t.Status != models.TableStatusOccupied {
				return invalidTransition(t.Status, models.TableStatusOccupied)
			}
			active, err := findActiveSession(ctx, tx, id)
			if err != nil {
				return err
			}
			if active != nil {
				return tableUnavailable(ReasonSessionActive, "table %s has an active session", t.Number)
			}
		}

		merged := unionSorted(primary.MergedTables, secondaryIDs)
		updatedSecondaries := make([]models.Table, 0, len(secondaryIDs))
		for _, id := range uniqueSorted(secondaryIDs) {
			updated, err := updateTable(ctx, tx, byID[id], database.Patch{
				"merged_into": primaryID,
				"status":      models.TableStatusOccupied,
			})
			if err != nil {
				return err
			}
			updatedSecondaries = append(updatedSecondaries, *updated)
		}

		patch := database.Patch{"merged_tables": datatypes.JSONSlice[uint](merged)}
		if primary.Status == models.TableStatusAvailable || primary.Status == models.TableStatusReserved {
			patch["status"] = models.TableStatusOccupied
		}
		prev := primary.Status
		updated, err := updateTable(ctx, tx, primary, patch)
		if err != nil {
			return err
		}

		c.table = updated
		c.tables = append([]models.Table{*updated}, updatedSecondaries...)
		c.op = newOperation(models.OpTableMerge, updated, prev, actor, "")
		c.op.Timestamp = m.now()
		c.op.AffectedIDs = uniqueSorted(all)
		c.op.Details = models.EncodeDetails(models.MergeDetails{
			PrimaryID:         primaryID,
			SecondaryIDs:      uniqueSorted(secondaryIDs),
			AffectedIDs:       uniqueSorted(all),
			EffectiveCapacity: updated.EffectiveCapacity,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

// SplitTables reverses every merge into primary.
func (m *TableStateMachine) SplitTables(ctx context.Context, primaryID uint, actor Actor) (*TableResult, error) {
	current, err := m.repo.GetTable(ctx, primaryID)
	if err != nil {
		return nil, translate(err, "table")
	}
	if current.IsMergedAway() {
		return nil, newError(CodeAlreadyMerged, "table %s is merged into table %d, split that table instead", current.Number, *current.MergedInto)
	}
	if !current.IsMergePrimary() {
		return nil, newError(CodeNotMerged, "table %s has no merged tables", current.Number)
	}
	secondaryIDs := uniqueSorted(current.MergedTables)
	all := append([]uint{primaryID}, secondaryIDs...)

	c, err := m.mutateNow(ctx, all, func(ctx context.Context, tx database.Repository, c *change) error {
		primary, err := tx.GetTable(ctx, primaryID)
		if err != nil {
			return err
		}
		if !primary.IsMergePrimary() {
			return newError(CodeNotMerged, "table %s has no merged tables", primary.Number)
		}
		if !sameIDs(primary.MergedTables, secondaryIDs) {
			return newError(CodeConflictingOperation, "merge of table %s changed, try again", primary.Number)
		}

		rows, err := tx.ListTables(ctx, database.TableFilter{IDs: secondaryIDs, IncludeInactive: true})
		if err != nil {
			return err
		}
		freed := make([]models.Table, 0, len(rows))
		for i := range rows {
			updated, err := updateTable(ctx, tx, &rows[i], database.Patch{
				"merged_into": nil,
				"status":      models.TableStatusAvailable,
			})
			if err != nil {
				return err
			}
			freed = append(freed, *updated)
		}

		patch := database.Patch{"merged_tables": datatypes.JSONSlice[uint]{}}
		if primary.Status == models.TableStatusOccupied {
			active, err := findActiveSession(ctx, tx, primary.ID)
			if err != nil {
				return err
			}
			if active == nil {
				patch["status"] = models.TableStatusAvailable
			}
		}
		prev := primary.Status
		updated, err := updateTable(ctx, tx, primary, patch)
		if err != nil {
			return err
		}

		c.table = updated
		c.tables = append([]models.Table{*updated}, freed...)
		c.op = newOperation(models.OpTableSplit, updated, prev, actor, "")
		c.op.Timestamp = m.now()
		c.op.AffectedIDs = uniqueSorted(all)
		c.op.Details = models.EncodeDetails(models.MergeDetails{
			PrimaryID:         primaryID,
			SecondaryIDs:      secondaryIDs,
			AffectedIDs:       uniqueSorted(all),
			EffectiveCapacity: updated.EffectiveCapacity,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultOf(c), nil
}

func (e *Engine) releaseToken(ctx context.Context, hash string) {
	if err := e.index.Release(ctx, hash); err != nil {
		logIndexError("release", err)
	}
}

func checkStaff(ctx context.Context, tx database.Repository, staffID uint, branchID string) error {
	staff, err := tx.GetStaff(ctx, staffID)
	if err != nil {
		if isNotFound(err) {
			return newError(CodeNotFound, "staff %d not found", staffID)
		}
		return err
	}
	if !staff.IsActive {
		return validationError("staff %d is not active", staffID)
	}
	if staff.BranchID != branchID {
		return validationError("staff %d works at another branch", staffID)
	}
	return nil
}

func sameStaff(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func unionSorted(existing []uint, add []uint) []uint {
	return uniqueSorted(append(append([]uint{}, existing...), add...))
}

func sameIDs(a, b []uint) bool {
	x, y := uniqueSorted(a), uniqueSorted(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
