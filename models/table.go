package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Table status values
const (
	TableStatusAvailable   = "available"
	TableStatusOccupied    = "occupied"
	TableStatusReserved    = "reserved"
	TableStatusCleaning    = "cleaning"
	TableStatusMaintenance = "maintenance"
)

// Cleaning priorities
const (
	CleaningPriorityNormal = "normal"
	CleaningPriorityUrgent = "urgent"
)

// TableStatuses lists every status a table can hold.
var TableStatuses = []string{
	TableStatusAvailable,
	TableStatusOccupied,
	TableStatusReserved,
	TableStatusCleaning,
	TableStatusMaintenance,
}

func IsTableStatus(s string) bool {
	for _, st := range TableStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func IsCleaningPriority(p string) bool {
	return p == CleaningPriorityNormal || p == CleaningPriorityUrgent
}

// Position is the table's place on the floor plan.
type Position struct {
	X      float64  `gorm:"not null;default:0" json:"x"`
	Y      float64  `gorm:"not null;default:0" json:"y"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

type Table struct {
	ID                  uint                      `gorm:"primaryKey" json:"id"`
	Number              string                    `gorm:"type:varchar(50);not null" json:"number"`
	Name                string                    `gorm:"type:varchar(100)" json:"name"`
	Capacity            int                       `gorm:"not null;default:2" json:"capacity"`
	BranchID            string                    `gorm:"type:varchar(64);index;not null;default:''" json:"branch_id"`
	ZoneID              *uint                     `gorm:"index" json:"zone_id,omitempty"`
	Status              string                    `gorm:"type:varchar(20);not null;default:'available';index" json:"status"`
	Position            Position                  `gorm:"embedded;embeddedPrefix:position_" json:"position"`
	ReservationTime     *time.Time                `json:"reservation_time,omitempty"`
	ReservationID       *string                   `gorm:"type:varchar(64)" json:"reservation_id,omitempty"`
	StaffID             *uint                     `gorm:"index" json:"staff_id,omitempty"`
	CleaningStaffID     *uint                     `json:"cleaning_staff_id,omitempty"`
	CleaningPriority    string                    `gorm:"type:varchar(10);not null;default:'normal'" json:"cleaning_priority"`
	CleaningRequestedAt *time.Time                `json:"cleaning_requested_at,omitempty"`
	ResetReason         string                    `gorm:"type:varchar(255)" json:"reset_reason,omitempty"`
	TransferNote        string                    `gorm:"type:varchar(255)" json:"transfer_note,omitempty"`
	MergedTables        datatypes.JSONSlice[uint] `json:"merged_tables"`
	MergedInto          *uint                     `gorm:"index" json:"merged_into,omitempty"`
	IsActive            bool                      `gorm:"not null;default:true" json:"is_active"`
	Version             int64                     `gorm:"not null;default:1" json:"version"`
	CreatedAt           time.Time                 `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time                 `gorm:"not null" json:"updated_at"`

	// EffectiveCapacity is the seat count including merged tables. Filled on read.
	EffectiveCapacity int `gorm:"-" json:"effective_capacity"`
}

// IsMergePrimary reports whether other tables have been absorbed into this one.
func (t *Table) IsMergePrimary() bool {
	return len(t.MergedTables) > 0
}

// IsMergedAway reports whether this table was absorbed into another table.
func (t *Table) IsMergedAway() bool {
	return t.MergedInto != nil
}

// HasMerged reports whether id is among the tables absorbed into t.
func (t *Table) HasMerged(id uint) bool {
	for _, m := range t.MergedTables {
		if m == id {
			return true
		}
	}
	return false
}

var (
	ErrMergeLinkConflict = errors.New("table cannot both absorb tables and be merged into another")
	ErrMergeSelfLink     = errors.New("table cannot be merged into itself")
	ErrCleaningStamp     = errors.New("cleaning table must carry a cleaning request time")
)

// ValidateMergeLinks checks the optional-field invariants shared by every
// mutator. It must hold before any table row is committed.
func ValidateMergeLinks(t *Table) error {
	if t.IsMergePrimary() && t.IsMergedAway() {
		return ErrMergeLinkConflict
	}
	if t.MergedInto != nil && *t.MergedInto == t.ID {
		return ErrMergeSelfLink
	}
	if t.HasMerged(t.ID) {
		return ErrMergeSelfLink
	}
	if t.Status == TableStatusCleaning && t.CleaningRequestedAt == nil {
		return ErrCleaningStamp
	}
	return nil
}
