package database

import (
	"context"
	"time"

	"github.com/yeremiapane/restaurant-floor/models"
	"gorm.io/gorm"
)

func (s *Store) GetSession(ctx context.Context, id uint) (*models.TableSession, error) {
	var session models.TableSession
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.First(&session, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActiveSession returns ErrNotFound when the table has no active session.
func (s *Store) FindActiveSession(ctx context.Context, tableID uint) (*models.TableSession, error) {
	var session models.TableSession
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where("table_id = ? AND status = ?", tableID, models.SessionStatusActive).
			Order("id DESC").
			First(&session).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) FindSessionByTokenHash(ctx context.Context, hash string) (*models.TableSession, error) {
	var session models.TableSession
	err := s.read(ctx, func(db *gorm.DB) error {
		return db.Where("token_hash = ?", hash).First(&session).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter SessionFilter) ([]models.TableSession, error) {
	var sessions []models.TableSession
	err := s.read(ctx, func(db *gorm.DB) error {
		q := db.Model(&models.TableSession{})
		if filter.BranchID != "" {
			q = q.Where("branch_id = ?", filter.BranchID)
		}
		if filter.TableID != nil {
			q = q.Where("table_id = ?", *filter.TableID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.ExpiredBefore != nil {
			q = q.Where("expires_at < ?", filter.ExpiredBefore.UTC())
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q.Order("id ASC").Find(&sessions).Error
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) CreateSession(ctx context.Context, session *models.TableSession) error {
	session.Version = 1
	return mapErr(s.conn(ctx).Create(session).Error)
}

func (s *Store) UpdateSession(ctx context.Context, id uint, patch Patch, expectedVersion int64) (*models.TableSession, error) {
	values := make(map[string]interface{}, len(patch)+2)
	for k, v := range patch {
		values[k] = v
	}
	values["version"] = expectedVersion + 1
	values["updated_at"] = time.Now()

	res := s.conn(ctx).Model(&models.TableSession{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return nil, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, s.missOrConflict(ctx, &models.TableSession{}, id)
	}
	return s.GetSession(ctx, id)
}
