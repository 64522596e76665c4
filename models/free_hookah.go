package models

import "time"

// FreeHookah is a redeemable free-hookah credit, minted exactly once per
// completed cycle. The used flag transitions false→true at most once via a
// conditional update.
type FreeHookah struct {
	ID     string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string     `gorm:"index;not null" json:"user_id"`
	Used   bool       `gorm:"default:false;index" json:"used"`
	UsedAt *time.Time `json:"used_at,omitempty"`

	Timestamps
}
