package models

import (
	"time"

	"gorm.io/gorm"
)

type Notification struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	SenderID   *uint          `gorm:"index" json:"sender_id"`
	Type       string         `gorm:"size:50;not null;index" json:"type"`
	Title      string         `gorm:"size:255" json:"title"`
	Body       string         `gorm:"type:text" json:"body"`
	Data       string         `gorm:"type:text" json:"data"` // JSON payload
	IsRead     bool           `gorm:"default:false;index" json:"is_read"`
	IsPushSent bool           `gorm:"default:false" json:"is_push_sent"`
	ReadAt     *time.Time     `json:"read_at"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Notification) TableName() string {
	return "notifications"
}
