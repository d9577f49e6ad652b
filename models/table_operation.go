package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Operation types recorded by the history ledger.
const (
	OpStatusChange    = "status_change"
	OpSessionStart    = "session_start"
	OpSessionEnd      = "session_end"
	OpReservation     = "reservation"
	OpAssignment      = "assignment"
	OpCleaningRequest = "cleaning_request"
	OpTableReset      = "table_reset"
	OpStaffTransfer   = "staff_transfer"
	OpTableMerge      = "table_merge"
	OpTableSplit      = "table_split"
)

// TableOperation is an immutable audit record of one state-changing action.
// Rows are only ever inserted.
type TableOperation struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Ref            string         `gorm:"type:varchar(36);uniqueIndex;not null" json:"ref"`
	Type           string         `gorm:"type:varchar(30);not null;index" json:"type"`
	TableID        uint           `gorm:"not null;index:idx_op_table_time" json:"table_id"`
	BranchID       string         `gorm:"type:varchar(64);index;not null;default:''" json:"branch_id"`
	PreviousStatus string         `gorm:"type:varchar(20)" json:"previous_status,omitempty"`
	NewStatus      string         `gorm:"type:varchar(20)" json:"new_status,omitempty"`
	StaffID        *uint          `gorm:"index" json:"staff_id,omitempty"`
	SessionID      *uint          `json:"session_id,omitempty"`
	Timestamp      time.Time      `gorm:"column:occurred_at;not null;index:idx_op_table_time" json:"timestamp"`
	Note           string         `gorm:"type:text" json:"note,omitempty"`
	Details        datatypes.JSON `json:"details,omitempty"`
	// AffectedIDs lists the other tables a multi-table operation changed.
	// They are stored as OperationTable rows so each table's timeline
	// includes the operation.
	AffectedIDs []uint `gorm:"-" json:"affected_ids,omitempty"`
}

// OperationTable links an operation to a table other than its primary
// TableID.
type OperationTable struct {
	OperationID uint `gorm:"primaryKey;autoIncrement:false"`
	TableID     uint `gorm:"primaryKey;autoIncrement:false;index"`
}

// SessionEndDetails is the payload of a session_end operation. Metrics are
// derived from it.
type SessionEndDetails struct {
	SessionID       uint    `json:"session_id"`
	Outcome         string  `json:"outcome"`
	DurationMinutes int     `json:"duration_minutes"`
	Amount          float64 `json:"amount"`
	Orders          int     `json:"orders"`
	Customers       int     `json:"customers"`
	StaffID         *uint   `json:"staff_id,omitempty"`
	Expired         bool    `json:"expired,omitempty"`
}

type SessionStartDetails struct {
	SessionID     uint      `json:"session_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	ReservationID *string   `json:"reservation_id,omitempty"`
}

type MergeDetails struct {
	PrimaryID         uint   `json:"primary_id"`
	SecondaryIDs      []uint `json:"secondary_ids"`
	AffectedIDs       []uint `json:"affected_ids"`
	EffectiveCapacity int    `json:"effective_capacity"`
}

type TransferDetails struct {
	FromStaffID *uint `json:"from_staff_id,omitempty"`
	ToStaffID   uint  `json:"to_staff_id"`
}

type CleaningDetails struct {
	Priority        string `json:"priority"`
	CleaningStaffID *uint  `json:"cleaning_staff_id,omitempty"`
}

type ResetDetails struct {
	Reason             string `json:"reason"`
	CancelledSessionID *uint  `json:"cancelled_session_id,omitempty"`
}

type ReservationDetails struct {
	ReservationTime time.Time `json:"reservation_time"`
	ReservationID   *string   `json:"reservation_id,omitempty"`
}

// EncodeDetails marshals an operation payload for the details column.
func EncodeDetails(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// SessionEnd decodes the session_end payload. ok is false for other types.
func (op *TableOperation) SessionEnd() (SessionEndDetails, bool) {
	var d SessionEndDetails
	if op.Type != OpSessionEnd || len(op.Details) == 0 {
		return d, false
	}
	if err := json.Unmarshal(op.Details, &d); err != nil {
		return d, false
	}
	return d, true
}

// TableHistoryEntry is the timeline projection of an operation.
type TableHistoryEntry struct {
	TableOperation
	Staff *Staff `json:"staff,omitempty"`
}

// FloorEvent is what notifiers push to dashboards after a commit.
type FloorEvent struct {
	Operation TableOperation `json:"operation"`
	Tables    []Table        `json:"tables"`
}
