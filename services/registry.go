package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-floor/database"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

// Registry maintains the floor layout: tables, zones and the staff roster.
// Layout edits take the same table lock as lifecycle operations but record
// no operation.
type Registry struct {
	*Engine
}

func NewRegistry(engine *Engine) *Registry {
	return &Registry{Engine: engine}
}

type TableSpec struct {
	Number   string
	Name     string
	Capacity int
	BranchID string
	ZoneID   *uint
	Position models.Position
}

func (r *Registry) CreateTable(ctx context.Context, spec TableSpec) (*models.Table, error) {
	spec.Number = strings.TrimSpace(spec.Number)
	if spec.Number == "" {
		return nil, validationError("table number is required")
	}
	if spec.Capacity <= 0 {
		return nil, validationError("capacity must be positive")
	}
	if spec.ZoneID != nil {
		if err := r.checkZone(ctx, *spec.ZoneID, spec.BranchID); err != nil {
			return nil, err
		}
	}

	table := &models.Table{
		Number:   spec.Number,
		Name:     spec.Name,
		Capacity: spec.Capacity,
		BranchID: spec.BranchID,
		ZoneID:   spec.ZoneID,
		Position: spec.Position,
		IsActive: true,
	}
	if err := r.repo.CreateTable(ctx, table); err != nil {
		return nil, translate(err, "table")
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"table_id":  table.ID,
		"branch_id": table.BranchID,
	}).Infof("Table %s created", table.Number)
	return table, nil
}

// TableUpdate carries the layout fields a manager may change. Nil fields are
// left alone.
type TableUpdate struct {
	Number   *string
	Name     *string
	Capacity *int
	ZoneID   *uint
	Position *models.Position
	IsActive *bool
}

func (r *Registry) UpdateTable(ctx context.Context, tableID uint, req TableUpdate) (*models.Table, error) {
	patch := database.Patch{}
	if req.Number != nil {
		n := strings.TrimSpace(*req.Number)
		if n == "" {
			return nil, validationError("table number is required")
		}
		patch["number"] = n
	}
	if req.Name != nil {
		patch["name"] = *req.Name
	}
	if req.Capacity != nil {
		if *req.Capacity <= 0 {
			return nil, validationError("capacity must be positive")
		}
		patch["capacity"] = *req.Capacity
	}
	if req.Position != nil {
		patch["position_x"] = req.Position.X
		patch["position_y"] = req.Position.Y
		patch["position_width"] = req.Position.Width
		patch["position_height"] = req.Position.Height
	}
	if len(patch) == 0 && req.ZoneID == nil && req.IsActive == nil {
		return nil, validationError("nothing to update")
	}

	c, err := r.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := tx.GetTable(ctx, tableID)
		if err != nil {
			return err
		}
		if req.ZoneID != nil {
			if err := r.checkZoneTx(ctx, tx, *req.ZoneID, t.BranchID); err != nil {
				return err
			}
			patch["zone_id"] = *req.ZoneID
		}
		if req.IsActive != nil && *req.IsActive != t.IsActive {
			if !*req.IsActive {
				if err := checkRemovable(ctx, tx, t); err != nil {
					return err
				}
			}
			patch["is_active"] = *req.IsActive
		}
		updated, err := updateTable(ctx, tx, t, patch)
		if err != nil {
			return err
		}
		c.table = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.table, nil
}

// DeleteTable removes a free table. Its ledger is kept.
func (r *Registry) DeleteTable(ctx context.Context, tableID uint) error {
	_, err := r.mutate(ctx, []uint{tableID}, func(ctx context.Context, tx database.Repository, c *change) error {
		t, err := tx.GetTable(ctx, tableID)
		if err != nil {
			return err
		}
		if err := checkRemovable(ctx, tx, t); err != nil {
			return err
		}
		return tx.DeleteTable(ctx, tableID)
	})
	if err == nil {
		utils.InfoLogger.WithField("table_id", tableID).Info("Table deleted")
	}
	return err
}

// checkRemovable rejects tables that are in use or part of a merge.
func checkRemovable(ctx context.Context, tx database.Repository, t *models.Table) error {
	if t.IsMergedAway() {
		return newError(CodeAlreadyMerged, "table %s is merged into table %d", t.Number, *t.MergedInto)
	}
	if t.IsMergePrimary() {
		return newError(CodeInvalidTransition, "split table %s first", t.Number)
	}
	active, err := findActiveSession(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	if active != nil {
		return tableUnavailable(ReasonSessionActive, "table %s has an active session", t.Number)
	}
	if t.Status == models.TableStatusOccupied {
		return tableUnavailable(ReasonOccupied, "table %s is occupied", t.Number)
	}
	return nil
}

func (r *Registry) ListTables(ctx context.Context, filter database.TableFilter) ([]models.Table, error) {
	if filter.Status != "" && !models.IsTableStatus(filter.Status) {
		return nil, validationError("unknown table status %q", filter.Status)
	}
	tables, err := r.repo.ListTables(ctx, filter)
	if err != nil {
		return nil, translate(err, "table")
	}
	return tables, nil
}

func (r *Registry) GetTable(ctx context.Context, tableID uint) (*models.Table, error) {
	t, err := r.repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, translate(err, "table")
	}
	return t, nil
}

func (r *Registry) checkZone(ctx context.Context, zoneID uint, branchID string) error {
	return r.checkZoneTx(ctx, r.repo, zoneID, branchID)
}

func (r *Registry) checkZoneTx(ctx context.Context, repo database.Repository, zoneID uint, branchID string) error {
	zone, err := repo.GetZone(ctx, zoneID)
	if err != nil {
		if isNotFound(err) {
			return validationError("zone %d does not exist", zoneID)
		}
		return err
	}
	if zone.BranchID != branchID {
		return validationError("zone %d belongs to another branch", zoneID)
	}
	return nil
}

func (r *Registry) CreateZone(ctx context.Context, zone *models.Zone) error {
	zone.Name = strings.TrimSpace(zone.Name)
	if zone.Name == "" {
		return validationError("zone name is required")
	}
	if err := r.repo.CreateZone(ctx, zone); err != nil {
		return translate(err, "zone")
	}
	return nil
}

func (r *Registry) GetZone(ctx context.Context, id uint) (*models.Zone, error) {
	zone, err := r.repo.GetZone(ctx, id)
	if err != nil {
		return nil, translate(err, "zone")
	}
	return zone, nil
}

func (r *Registry) ListZones(ctx context.Context, branchID string) ([]models.Zone, error) {
	zones, err := r.repo.ListZones(ctx, branchID)
	if err != nil {
		return nil, translate(err, "zone")
	}
	return zones, nil
}

func (r *Registry) CreateStaff(ctx context.Context, staff *models.Staff) error {
	staff.FirstName = strings.TrimSpace(staff.FirstName)
	if staff.FirstName == "" {
		return validationError("first name is required")
	}
	switch staff.Role {
	case models.RoleAdmin, models.RoleManager, models.RoleStaff, models.RoleCleaner:
	default:
		return validationError("unknown role %q", staff.Role)
	}
	staff.IsActive = true
	if err := r.repo.CreateStaff(ctx, staff); err != nil {
		return translate(err, "staff")
	}
	return nil
}

func (r *Registry) ListStaff(ctx context.Context, filter database.StaffFilter) ([]models.Staff, error) {
	staff, err := r.repo.ListStaff(ctx, filter)
	if err != nil {
		return nil, translate(err, "staff")
	}
	return staff, nil
}

// DeleteZone removes a zone. Its tables stay on the floor without a zone.
func (r *Registry) DeleteZone(ctx context.Context, id uint) error {
	if err := r.repo.DeleteZone(ctx, id); err != nil {
		return translate(err, "zone")
	}
	return nil
}
