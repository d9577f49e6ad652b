package database

import (
	"context"
	"time"

	"github.com/yeremiapane/restaurant-floor/models"
)

type TableFilter struct {
	BranchID        string
	Status          string
	ZoneID          *uint
	IDs             []uint
	MergedInto      *uint
	IncludeInactive bool
}

type SessionFilter struct {
	BranchID      string
	TableID       *uint
	Status        string
	ExpiredBefore *time.Time
	Limit         int
}

type OperationFilter struct {
	// TableID also matches multi-table operations that affected the table.
	TableID  *uint
	BranchID string
	Types    []string
	Since    *time.Time
	Until    *time.Time
	AfterID  uint
	Limit    int
}

type StaffFilter struct {
	BranchID   string
	IDs        []uint
	ActiveOnly bool
}

// TableRepository is the CRUD boundary for table records. UpdateTable
// rejects a stale expectedVersion with ErrVersionConflict.
type TableRepository interface {
	GetTable(ctx context.Context, id uint) (*models.Table, error)
	ListTables(ctx context.Context, filter TableFilter) ([]models.Table, error)
	CreateTable(ctx context.Context, table *models.Table) error
	UpdateTable(ctx context.Context, id uint, patch Patch, expectedVersion int64) (*models.Table, error)
	DeleteTable(ctx context.Context, id uint) error
}

type SessionRepository interface {
	GetSession(ctx context.Context, id uint) (*models.TableSession, error)
	FindActiveSession(ctx context.Context, tableID uint) (*models.TableSession, error)
	FindSessionByTokenHash(ctx context.Context, hash string) (*models.TableSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.TableSession, error)
	CreateSession(ctx context.Context, session *models.TableSession) error
	UpdateSession(ctx context.Context, id uint, patch Patch, expectedVersion int64) (*models.TableSession, error)
}

// OperationRepository only appends; operations are never updated or deleted.
type OperationRepository interface {
	AppendOperation(ctx context.Context, op *models.TableOperation) error
	LastOperationTime(ctx context.Context, tableID uint) (time.Time, bool, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]models.TableOperation, error)
}

type ZoneRepository interface {
	GetZone(ctx context.Context, id uint) (*models.Zone, error)
	ListZones(ctx context.Context, branchID string) ([]models.Zone, error)
	CreateZone(ctx context.Context, zone *models.Zone) error
	DeleteZone(ctx context.Context, id uint) error
}

type StaffRepository interface {
	GetStaff(ctx context.Context, id uint) (*models.Staff, error)
	ListStaff(ctx context.Context, filter StaffFilter) ([]models.Staff, error)
	CreateStaff(ctx context.Context, staff *models.Staff) error
}

// Repository is everything the lifecycle engine needs from the backend.
type Repository interface {
	TableRepository
	SessionRepository
	OperationRepository
	ZoneRepository
	StaffRepository
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

var _ Repository = (*Store)(nil)
