package models

import "time"

// RequestStatus indicates where a redemption request sits in the admin
// approval workflow.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// FreeHookahRequest is a user's ask to redeem a credit in the venue.
// Only an admin moves it out of pending.
type FreeHookahRequest struct {
	ID      string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID  string        `gorm:"index;not null" json:"user_id"`
	StockID string        `gorm:"type:uuid" json:"stock_id"`
	Status  RequestStatus `gorm:"not null;default:'pending';index" json:"status"`

	ReviewedBy *string    `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	Timestamps
}
