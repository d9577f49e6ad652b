package database

import (
	"context"

	"github.com/yeremiapane/restaurant-floor/models"
	"gorm.io/gorm"
)

func (s *Store) GetZone(ctx context.Context, id uint) (*models.Zone, error) {
	var zone models.Zone
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.First(&zone, id).Error
	})
	if err != nil {
		return nil, err
	}
	zones := []models.Zone{zone}
	if err := s.fillZoneTotals(ctx, zones); err != nil {
		return nil, err
	}
	return &zones[0], nil
}

func (s *Store) ListZones(ctx context.Context, branchID string) ([]models.Zone, error) {
	var zones []models.Zone
	err := s.read(ctx, func(db *gorm.DB) error {
		q := db.Model(&models.Zone{})
		if branchID != "" {
			q = q.Where("branch_id = ?", branchID)
		}
		return q.Order("id ASC").Find(&zones).Error
	})
	if err != nil {
		return nil, err
	}
	if err := s.fillZoneTotals(ctx, zones); err != nil {
		return nil, err
	}
	return zones, nil
}

func (s *Store) CreateZone(ctx context.Context, zone *models.Zone) error {
	return mapErr(s.conn(ctx).Create(zone).Error)
}

// DeleteZone detaches the zone's tables before removing it.
func (s *Store) DeleteZone(ctx context.Context, id uint) error {
	return s.InTx(ctx, func(tx Repository) error {
		txs := tx.(*Store)
		if err := txs.conn(ctx).Model(&models.Table{}).
			Where("zone_id = ?", id).
			Update("zone_id", nil).Error; err != nil {
			return mapErr(err)
		}
		res := txs.conn(ctx).Delete(&models.Zone{}, id)
		if res.Error != nil {
			return mapErr(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) fillZoneTotals(ctx context.Context, zones []models.Zone) error {
	if len(zones) == 0 {
		return nil
	}
	ids := make([]uint, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}

	var rows []struct {
		ZoneID   uint
		Tables   int
		Capacity int
	}
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Model(&models.Table{}).
			Select("zone_id, COUNT(*) AS tables, COALESCE(SUM(capacity), 0) AS capacity").
			Where("zone_id IN ? AND is_active = ?", ids, true).
			Group("zone_id").
			Scan(&rows).Error
	})
	if err != nil {
		return err
	}

	byZone := make(map[uint]int, len(rows))
	capByZone := make(map[uint]int, len(rows))
	for _, r := range rows {
		byZone[r.ZoneID] = r.Tables
		capByZone[r.ZoneID] = r.Capacity
	}
	for i := range zones {
		zones[i].TableCount = byZone[zones[i].ID]
		zones[i].Capacity = capByZone[zones[i].ID]
	}
	return nil
}

func (s *Store) GetStaff(ctx context.Context, id uint) (*models.Staff, error) {
	var staff models.Staff
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.First(&staff, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &staff, nil
}

func (s *Store) ListStaff(ctx context.Context, filter StaffFilter) ([]models.Staff, error) {
	var staff []models.Staff
	err := s.read(ctx, func(db *gorm.DB) error {
		q := db.Model(&models.Staff{})
		if filter.BranchID != "" {
			q = q.Where("branch_id = ?", filter.BranchID)
		}
		if len(filter.IDs) > 0 {
			q = q.Where("id IN ?", filter.IDs)
		}
		if filter.ActiveOnly {
			q = q.Where("is_active = ?", true)
		}
		return q.Order("id ASC").Find(&staff).Error
	})
	if err != nil {
		return nil, err
	}
	return staff, nil
}

func (s *Store) CreateStaff(ctx context.Context, staff *models.Staff) error {
	return mapErr(s.conn(ctx).Create(staff).Error)
}
