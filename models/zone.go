package models

import "time"

type Zone struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	BranchID    string    `gorm:"type:varchar(64);index;not null;default:''" json:"branch_id"`
	Name        string    `gorm:"type:varchar(100);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Color       string    `gorm:"type:varchar(20)" json:"color,omitempty"`
	PositionX   *float64  `json:"position_x,omitempty"`
	PositionY   *float64  `json:"position_y,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`

	TableCount int `gorm:"-" json:"table_count"`
	Capacity   int `gorm:"-" json:"capacity"`
}
