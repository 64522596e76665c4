package models

import "time"

// HookahReview is a guest's 1-5 rating of one smoked hookah, tied to the
// history entry it rates. One review per entry, enforced by the composite
// unique index; guests can only review their own entries.
type HookahReview struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string    `gorm:"not null;uniqueIndex:idx_review_user_hookah;index" json:"user_id"`
	HookahID   int64     `gorm:"not null;uniqueIndex:idx_review_user_hookah;index" json:"hookah_id"`
	Rating     int       `gorm:"not null" json:"rating"`
	ReviewText string    `json:"review_text,omitempty"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}
