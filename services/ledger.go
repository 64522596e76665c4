package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"hookah-loyalty-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerService owns the reward-cycle arithmetic: it is the only writer of
// Stock.Progress and the only minter of FreeHookah credits. Every progress
// value is derived from the hookah_history table with one canonical formula:
//
//	progress = (all-time regular count % CycleLength) * ProgressUnit
//
// Cached progress that disagrees with the ledger is a bug and Reconcile
// overwrites it.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// ScanResult reports the outcome of one regular scan.
type ScanResult struct {
	Stock          *models.Stock      `json:"stock"`
	NewProgress    int                `json:"progress"`
	SlotNumber     int                `json:"slot_number"`
	CycleCompleted bool               `json:"cycle_completed"`
	Credit         *models.FreeHookah `json:"free_hookah,omitempty"`
}

// ReconcileResult is the audit record for one repaired (or verified) track.
type ReconcileResult struct {
	UserID         string `json:"user_id"`
	RegularCount   int64  `json:"regular_count"`
	BeforeProgress int    `json:"before_progress"`
	AfterProgress  int    `json:"after_progress"`
	Corrected      bool   `json:"corrected"`
	CompletedReset bool   `json:"completed_reset"`
}

// ReconcileSummary aggregates a full-database repair run.
type ReconcileSummary struct {
	Checked int               `json:"checked"`
	Fixed   int               `json:"fixed"`
	Results []ReconcileResult `json:"results"`
}

// EnsureStock returns the user's 5+1 track, creating it lazily on first use.
func (s *LedgerService) EnsureStock(userID string) (*models.Stock, error) {
	return s.ensureStock(s.DB, userID)
}

// ensureStock loads the track FOR UPDATE. Every writer (scan, reconcile,
// redemption) passes through here before counting history, so concurrent
// calls for the same user serialize on the stock row and the count each one
// sees already includes the other's committed insert. The sqlite driver
// drops the locking clause; its single writer serializes regardless.
func (s *LedgerService) ensureStock(tx *gorm.DB, userID string) (*models.Stock, error) {
	var stock models.Stock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND stock_name = ?", userID, models.DefaultStockName).
		Order("created_at DESC").
		First(&stock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stock = models.Stock{
			ID:          uuid.NewString(),
			UserID:      userID,
			StockName:   models.DefaultStockName,
			CycleLength: models.CycleLength,
			Progress:    0,
		}
		if err := tx.Create(&stock).Error; err != nil {
			return nil, err
		}
		return &stock, nil
	}
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

func (s *LedgerService) regularCount(tx *gorm.DB, userID string) (int64, error) {
	var count int64
	err := tx.Model(&models.HookahHistory{}).
		Where("user_id = ? AND hookah_type = ?", userID, models.HookahTypeRegular).
		Count(&count).Error
	return count, err
}

// RecordRegularEvent appends one paid hookah to the ledger and projects the
// new progress. Completion is detected synchronously: the scan that fills the
// fifth slot mints the credit and wraps progress back to zero in the same
// transaction, so no transient 100% state is ever stored.
//
// The caller has already authorized the scan; adminID/method are recorded for
// audit only.
func (s *LedgerService) RecordRegularEvent(userID string, adminID *string, method models.ScanMethod) (*ScanResult, error) {
	var result *ScanResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		stock, err := s.ensureStock(tx, userID)
		if err != nil {
			return err
		}

		count, err := s.regularCount(tx, userID)
		if err != nil {
			return err
		}
		count++ // the event we are about to append

		slot := int((count-1)%models.CycleLength) + 1
		entry := models.HookahHistory{
			UserID:     userID,
			HookahType: models.HookahTypeRegular,
			SlotNumber: &slot,
			StockID:    &stock.ID,
			AdminID:    adminID,
			ScanMethod: method,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		completed := count%models.CycleLength == 0
		newProgress := int(count%models.CycleLength) * models.ProgressUnit

		stock.Progress = newProgress
		var credit *models.FreeHookah
		if completed {
			stock.Completed = true
			credit = &models.FreeHookah{
				ID:     uuid.NewString(),
				UserID: userID,
			}
			if err := tx.Create(credit).Error; err != nil {
				return err
			}
		}
		if err := tx.Save(stock).Error; err != nil {
			return err
		}

		if completed {
			log.Printf("🎉 Cycle complete: user=%s scans=%d → free hookah %s minted", userID, count, credit.ID)
		} else {
			log.Printf("🪩 Slot %d/%d filled: user=%s progress=%d%%", slot, models.CycleLength, userID, newProgress)
		}

		result = &ScanResult{
			Stock:          stock,
			NewProgress:    newProgress,
			SlotNumber:     slot,
			CycleCompleted: completed,
			Credit:         credit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reconcile recomputes the canonical progress from the ledger and overwrites
// any drifted value. Running it twice in a row is a no-op the second time.
func (s *LedgerService) Reconcile(userID string) (*ReconcileResult, error) {
	var result *ReconcileResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		stock, err := s.ensureStock(tx, userID)
		if err != nil {
			return err
		}

		count, err := s.regularCount(tx, userID)
		if err != nil {
			return err
		}
		correct := int(count%models.CycleLength) * models.ProgressUnit

		res := ReconcileResult{
			UserID:         userID,
			RegularCount:   count,
			BeforeProgress: stock.Progress,
			AfterProgress:  correct,
		}

		// correct is always below 100 under the modulo formula, so a set
		// Completed flag is stale by definition here.
		if stock.Progress != correct || stock.Completed {
			if stock.Progress != correct {
				res.Corrected = true
			}
			if stock.Completed {
				stock.Completed = false
				res.CompletedReset = true
			}
			stock.Progress = correct
			if err := tx.Save(stock).Error; err != nil {
				return err
			}
			log.Printf("🔧 Reconciled user=%s: %d%% → %d%% (%d regular)", userID, res.BeforeProgress, correct, count)
		}

		result = &res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReconcileAll repairs every 5+1 track in the database and returns the audit
// trail. Safe to run repeatedly.
func (s *LedgerService) ReconcileAll() (*ReconcileSummary, error) {
	var stocks []models.Stock
	if err := s.DB.Where("stock_name = ?", models.DefaultStockName).Find(&stocks).Error; err != nil {
		return nil, err
	}

	summary := &ReconcileSummary{}
	for _, stock := range stocks {
		res, err := s.Reconcile(stock.UserID)
		if err != nil {
			return nil, fmt.Errorf("reconcile user %s: %w", stock.UserID, err)
		}
		summary.Checked++
		if res.Corrected || res.CompletedReset {
			summary.Fixed++
		}
		summary.Results = append(summary.Results, *res)
	}
	log.Printf("✅ Reconcile sweep: %d checked, %d fixed", summary.Checked, summary.Fixed)
	return summary, nil
}

// RedeemFreeCredit consumes the earliest unused credit with a conditional
// update so two concurrent redemptions can never burn the same row. When the
// compare-and-swap loses it moves on to the next unused credit; the error
// distinguishes "nothing to redeem" from "lost every race".
func (s *LedgerService) RedeemFreeCredit(userID string, adminID *string, method models.ScanMethod) (*models.FreeHookah, error) {
	var credit *models.FreeHookah
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		credit, err = s.redeemFreeCredit(tx, userID, adminID, method)
		return err
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// redeemFreeCredit is the tx-scoped body of RedeemFreeCredit, shared with the
// request approval flow so a failed approval rolls the credit back too.
func (s *LedgerService) redeemFreeCredit(tx *gorm.DB, userID string, adminID *string, method models.ScanMethod) (*models.FreeHookah, error) {
	var credits []models.FreeHookah
	err := tx.Where("user_id = ? AND used = ?", userID, false).
		Order("created_at ASC, id ASC").
		Find(&credits).Error
	if err != nil {
		return nil, err
	}
	if len(credits) == 0 {
		return nil, ErrNoFreeCredit
	}

	lostRace := false
	for i := range credits {
		consumed, err := s.consumeCredit(tx, credits[i].ID, userID, adminID, method)
		if err != nil {
			return nil, err
		}
		if consumed != nil {
			return consumed, nil
		}
		lostRace = true
	}
	if lostRace {
		return nil, ErrCreditAlreadyUsed
	}
	return nil, ErrNoFreeCredit
}

// consumeCredit flips used=false→true on exactly one row. Returns nil (no
// error) when another redemption got there first.
func (s *LedgerService) consumeCredit(tx *gorm.DB, creditID, userID string, adminID *string, method models.ScanMethod) (*models.FreeHookah, error) {
	now := time.Now()
	res := tx.Model(&models.FreeHookah{}).
		Where("id = ? AND used = ?", creditID, false).
		Updates(map[string]interface{}{"used": true, "used_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil // lost the race, not an error at this level
	}

	stock, err := s.ensureStock(tx, userID)
	if err != nil {
		return nil, err
	}
	if stock.Completed {
		stock.Completed = false
		if err := tx.Save(stock).Error; err != nil {
			return nil, err
		}
	}

	entry := models.HookahHistory{
		UserID:     userID,
		HookahType: models.HookahTypeFree,
		StockID:    &stock.ID,
		AdminID:    adminID,
		ScanMethod: method,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	var updated models.FreeHookah
	if err := tx.Where("id = ?", creditID).First(&updated).Error; err != nil {
		return nil, err
	}
	log.Printf("🎁 Free hookah redeemed: user=%s credit=%s", userID, creditID)
	return &updated, nil
}

// RemoveLastRegularEvent deletes the newest regular entries (admin correction
// for erroneous scans) and reconciles the track afterwards.
func (s *LedgerService) RemoveLastRegularEvent(userID string, count int) (*ReconcileResult, error) {
	if count < 1 {
		count = 1
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var entries []models.HookahHistory
		if err := tx.Where("user_id = ? AND hookah_type = ?", userID, models.HookahTypeRegular).
			Order("id DESC").
			Limit(count).
			Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return ErrNothingToRemove
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.HookahHistory{}).Error; err != nil {
			return err
		}
		log.Printf("🗑️ Removed %d regular hookah(s) for user=%s", len(entries), userID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Reconcile(userID)
}
