package models

// DefaultStockName is the single promotion this service runs.
const DefaultStockName = "5+1 hookah"

// Cycle arithmetic: five regular hookahs fill one cycle, each scan is worth
// ProgressUnit percent. Progress is always derived from the history table,
// never trusted on its own.
const (
	CycleLength  = 5
	ProgressUnit = 100 / CycleLength
)

// Stock is a user's reward track for the 5+1 promotion (denormalized for
// display; hookah_history is the source of truth).
type Stock struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string `gorm:"index;not null" json:"user_id"`
	StockName   string `gorm:"not null" json:"stock_name"`
	CycleLength int    `gorm:"default:5" json:"cycle_length"`

	// Progress holds (regular scans in the current cycle) * ProgressUnit,
	// so one of 0/20/40/60/80.
	Progress int `gorm:"default:0" json:"progress"`

	// Completed marks that the last cycle finished and its credit has not
	// been consumed yet. Cleared on redemption and by reconciliation.
	Completed bool `gorm:"default:false" json:"completed"`

	Timestamps
}
