package models

import "time"

// HookahType discriminates ledger entries.
type HookahType string

const (
	HookahTypeRegular HookahType = "regular"
	HookahTypeFree    HookahType = "free"
)

// ScanMethod records how an entry came to exist.
type ScanMethod string

const (
	ScanMethodQR            ScanMethod = "qr_scan"
	ScanMethodPhoneDigits   ScanMethod = "phone_digits"
	ScanMethodAdminAdd      ScanMethod = "admin_add"
	ScanMethodAdminApproved ScanMethod = "admin_approved"
	ScanMethodUserClaimed   ScanMethod = "user_claimed"
)

// HookahHistory is the append-only event ledger. Rows are never mutated;
// the only deletion path is the admin "remove last purchase" correction.
// The autoincrement ID doubles as a per-user monotonic sequence so that
// "most recent regular" and "earliest credit" selections are well-defined
// even when created_at timestamps collide.
type HookahHistory struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string     `gorm:"index;not null" json:"user_id"`
	HookahType HookahType `gorm:"not null;index" json:"hookah_type"`
	SlotNumber *int       `json:"slot_number,omitempty"`
	StockID    *string    `gorm:"type:uuid" json:"stock_id,omitempty"`
	AdminID    *string    `gorm:"type:uuid" json:"admin_id,omitempty"`
	ScanMethod ScanMethod `json:"scan_method,omitempty"`
	CreatedAt  time.Time  `json:"created_at" gorm:"autoCreateTime"`
}
