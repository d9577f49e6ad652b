package models

import (
	"math"
	"time"

	"gorm.io/datatypes"
)

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// TableSession binds a diner's QR scan to a table until it is ended or expires.
type TableSession struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	TableID       uint           `gorm:"not null;index" json:"table_id"`
	BranchID      string         `gorm:"type:varchar(64);index;not null;default:''" json:"branch_id"`
	TokenHash     string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	StartTime     time.Time      `gorm:"not null" json:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	ExpiresAt     time.Time      `gorm:"not null;index" json:"expires_at"`
	LastActivity  time.Time      `gorm:"not null" json:"last_activity"`
	Duration      int            `gorm:"not null;default:0" json:"duration"`
	Status        string         `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	Orders        int            `gorm:"not null;default:0" json:"orders"`
	Amount        float64        `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	Customers     int            `gorm:"not null;default:0" json:"customers"`
	StaffID       *uint          `gorm:"index" json:"staff_id,omitempty"`
	Items         datatypes.JSON `json:"items,omitempty"`
	CustomerName  string         `gorm:"type:varchar(100)" json:"customer_name,omitempty"`
	Notes         string         `gorm:"type:text" json:"notes,omitempty"`
	ReservationID *string        `gorm:"type:varchar(64)" json:"reservation_id,omitempty"`
	PaymentMethod string         `gorm:"type:varchar(30)" json:"payment_method,omitempty"`
	PaymentAmount float64        `gorm:"type:decimal(12,2);not null;default:0" json:"payment_amount"`
	Tip           float64        `gorm:"type:decimal(12,2);not null;default:0" json:"tip"`
	Version       int64          `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

// DurationMinutes returns whole elapsed minutes between start and end.
func DurationMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}

func (s *TableSession) IsActive() bool {
	return s.Status == SessionStatusActive
}

// ExpiredAt reports whether the session lease has lapsed at now.
func (s *TableSession) ExpiredAt(now time.Time) bool {
	return s.IsActive() && now.After(s.ExpiresAt)
}
