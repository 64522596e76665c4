package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a Telegram Mini App visitor registered in the loyalty program.
// TgID is the Telegram user id delivered by the verified initData payload.
type User struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	TgID      int64  `gorm:"uniqueIndex;not null" json:"tg_id"`
	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `gorm:"index" json:"phone"`
	Username  string `json:"username,omitempty"`
	IsAdmin   bool   `gorm:"default:false" json:"is_admin"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
