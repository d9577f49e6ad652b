package database

import (
	"context"
	"time"

	"github.com/yeremiapane/restaurant-floor/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Store) GetTable(ctx context.Context, id uint) (*models.Table, error) {
	var table models.Table
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.First(&table, id).Error
	})
	if err != nil {
		return nil, err
	}
	if err := s.fillEffectiveCapacity(ctx, []*models.Table{&table}); err != nil {
		return nil, err
	}
	return &table, nil
}

func (s *Store) ListTables(ctx context.Context, filter TableFilter) ([]models.Table, error) {
	var tables []models.Table
	err := s.read(ctx, func(db *gorm.DB) error {
		q := db.Model(&models.Table{})
		if filter.BranchID != "" {
			q = q.Where("branch_id = ?", filter.BranchID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.ZoneID != nil {
			q = q.Where("zone_id = ?", *filter.ZoneID)
		}
		if len(filter.IDs) > 0 {
			q = q.Where("id IN ?", filter.IDs)
		}
		if filter.MergedInto != nil {
			q = q.Where("merged_into = ?", *filter.MergedInto)
		}
		if !filter.IncludeInactive {
			q = q.Where("is_active = ?", true)
		}
		return q.Order("id ASC").Find(&tables).Error
	})
	if err != nil {
		return nil, err
	}

	ptrs := make([]*models.Table, len(tables))
	for i := range tables {
		ptrs[i] = &tables[i]
	}
	if err := s.fillEffectiveCapacity(ctx, ptrs); err != nil {
		return nil, err
	}
	return tables, nil
}

func (s *Store) CreateTable(ctx context.Context, table *models.Table) error {
	if table.MergedTables == nil {
		table.MergedTables = datatypes.JSONSlice[uint]{}
	}
	if table.Status == "" {
		table.Status = models.TableStatusAvailable
	}
	if table.CleaningPriority == "" {
		table.CleaningPriority = models.CleaningPriorityNormal
	}
	table.Version = 1
	if err := mapErr(s.conn(ctx).Create(table).Error); err != nil {
		return err
	}
	table.EffectiveCapacity = table.Capacity
	return nil
}

// UpdateTable applies patch only when the stored version still equals
// expectedVersion, bumping the version in the same statement.
func (s *Store) UpdateTable(ctx context.Context, id uint, patch Patch, expectedVersion int64) (*models.Table, error) {
	values := make(map[string]interface{}, len(patch)+2)
	for k, v := range patch {
		values[k] = v
	}
	values["version"] = expectedVersion + 1
	values["updated_at"] = time.Now()

	res := s.conn(ctx).Model(&models.Table{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return nil, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.missOrConflict(ctx, &models.Table{}, id)
	}
	return s.GetTable(ctx, id)
}

func (s *Store) DeleteTable(ctx context.Context, id uint) error {
	res := s.conn(ctx).Delete(&models.Table{}, id)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, model interface{}, id uint) error {
	var count int64
	if err := s.conn(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return mapErr(err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// fillEffectiveCapacity sums the seats of every table absorbed into a primary.
func (s *Store) fillEffectiveCapacity(ctx context.Context, tables []*models.Table) error {
	var primaries []uint
	for _, t := range tables {
		t.EffectiveCapacity = t.Capacity
		if t.IsMergePrimary() {
			primaries = append(primaries, t.ID)
		}
	}
	if len(primaries) == 0 {
		return nil
	}

	var rows []struct {
		MergedInto uint
		Seats      int
	}
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Table{}).
			Select("merged_into, COALESCE(SUM(capacity), 0) AS seats").
			Where("merged_into IN ?", primaries).
			Group("merged_into").
			Scan(&rows).Error
	})
	if err != nil {
		return err
	}

	extra := make(map[uint]int, len(rows))
	for _, r := range rows {
		extra[r.MergedInto] = r.Seats
	}
	for _, t := range tables {
		t.EffectiveCapacity += extra[t.ID]
	}
	return nil
}
