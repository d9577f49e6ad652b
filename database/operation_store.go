package database

import (
	"context"
	"errors"
	"time"

	"github.com/yeremiapane/restaurant-floor/models"
	"gorm.io/gorm"
)

// AppendOperation inserts op and links it to every affected table.
func (s *Store) AppendOperation(ctx context.Context, op *models.TableOperation) error {
	write := func(db *gorm.DB) error {
		if err := db.Create(op).Error; err != nil {
			return err
		}
		links := make([]models.OperationTable, 0, len(op.AffectedIDs))
		for _, id := range op.AffectedIDs {
			if id != op.TableID {
				links = append(links, models.OperationTable{OperationID: op.ID, TableID: id})
			}
		}
		if len(links) == 0 {
			return nil
		}
		return db.Create(&links).Error
	}
	if s.inTx || len(op.AffectedIDs) == 0 {
		return mapErr(write(s.conn(ctx)))
	}
	return mapErr(s.conn(ctx).Transaction(write))
}

// touchesTable matches operations recorded on tableID or linked to it.
func touchesTable(db *gorm.DB, tableID uint) *gorm.DB {
	linked := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.OperationTable{}).
		Select("operation_id").
		Where("table_id = ?", tableID)
	return db.Where("(table_id = ? OR id IN (?))", tableID, linked)
}

// LastOperationTime returns the newest timestamp recorded for a table.
func (s *Store) LastOperationTime(ctx context.Context, tableID uint) (time.Time, bool, error) {
	var op models.TableOperation
	err := s.read(ctx, func(db *gorm.DB) error {
		return touchesTable(db.Select("occurred_at"), tableID).
			Order("id DESC").
			First(&op).Error
	})
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return op.Timestamp, true, nil
}

// ListOperations returns operations oldest first. Time bounds are compared
// in UTC since sqlite orders timestamps as text.
func (s *Store) ListOperations(ctx context.Context, filter OperationFilter) ([]models.TableOperation, error) {
	var ops []models.TableOperation
	err := s.read(ctx, func(db *gorm.DB) error {
		q := db.Model(&models.TableOperation{})
		if filter.TableID != nil {
			q = touchesTable(q, *filter.TableID)
		}
		if filter.BranchID != "" {
			q = q.Where("branch_id = ?", filter.BranchID)
		}
		if len(filter.Types) > 0 {
			q = q.Where("type IN ?", filter.Types)
		}
		if filter.Since != nil {
			q = q.Where("occurred_at >= ?", filter.Since.UTC())
		}
		if filter.Until != nil {
			q = q.Where("occurred_at <= ?", filter.Until.UTC())
		}
		if filter.AfterID > 0 {
			q = q.Where("id > ?", filter.AfterID)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q.Order("id ASC").Find(&ops).Error
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}
