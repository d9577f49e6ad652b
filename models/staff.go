package models

import (
	"strings"
	"time"
)

// Staff roles, as issued by the identity service.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
	RoleCleaner = "cleaner"
)

type Staff struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	BranchID  string    `gorm:"type:varchar(64);index;not null;default:''" json:"branch_id"`
	FirstName string    `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName  string    `gorm:"type:varchar(100)" json:"last_name"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Avatar    *string   `gorm:"type:varchar(255)" json:"avatar,omitempty"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s Staff) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}
