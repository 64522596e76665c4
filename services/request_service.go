package services

import (
	"errors"
	"log"
	"time"

	"hookah-loyalty-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestService runs the redemption approval workflow: a guest asks for
// their free hookah from the table, staff confirm it at the counter. Only an
// admin moves a request out of pending.
type RequestService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewRequestService(db *gorm.DB, ledger *LedgerService) *RequestService {
	return &RequestService{DB: db, Ledger: ledger}
}

// Create opens a pending request. Requires an unused credit (the request is
// a promise to consume one) and refuses duplicates while one is in flight.
func (s *RequestService) Create(userID string) (*models.FreeHookahRequest, error) {
	var unused int64
	if err := s.DB.Model(&models.FreeHookah{}).
		Where("user_id = ? AND used = ?", userID, false).
		Count(&unused).Error; err != nil {
		return nil, err
	}
	if unused == 0 {
		return nil, ErrNoFreeCredit
	}

	var existing models.FreeHookahRequest
	err := s.DB.Where("user_id = ? AND status = ?", userID, models.RequestStatusPending).
		First(&existing).Error
	if err == nil {
		return nil, ErrRequestPending
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	stock, err := s.Ledger.EnsureStock(userID)
	if err != nil {
		return nil, err
	}

	req := models.FreeHookahRequest{
		ID:      uuid.NewString(),
		UserID:  userID,
		StockID: stock.ID,
		Status:  models.RequestStatusPending,
	}
	if err := s.DB.Create(&req).Error; err != nil {
		return nil, err
	}
	log.Printf("⏳ Free hookah request %s created for user=%s", req.ID, userID)
	return &req, nil
}

// Pending lists open requests oldest-first for the admin screen.
func (s *RequestService) Pending() ([]models.FreeHookahRequest, error) {
	var reqs []models.FreeHookahRequest
	err := s.DB.Where("status = ?", models.RequestStatusPending).
		Order("created_at ASC").
		Find(&reqs).Error
	return reqs, err
}

func (s *RequestService) GetByID(id string) (*models.FreeHookahRequest, error) {
	var req models.FreeHookahRequest
	err := s.DB.Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Approve closes the request and consumes a credit for the requesting user
// in one transaction. The pending→approved flip is a conditional update, so
// two admin tabs approving the same request race on the status row: exactly
// one wins and exactly one credit burns. If the redemption fails after the
// flip, the rollback restores the pending status along with the credit.
func (s *RequestService) Approve(requestID, adminID string) (*models.FreeHookahRequest, *models.FreeHookah, error) {
	req, err := s.GetByID(requestID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	var credit *models.FreeHookah
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.FreeHookahRequest{}).
			Where("id = ? AND status = ?", requestID, models.RequestStatusPending).
			Updates(map[string]interface{}{
				"status":      models.RequestStatusApproved,
				"reviewed_by": adminID,
				"reviewed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestNotPending
		}

		var err error
		credit, err = s.Ledger.redeemFreeCredit(tx, req.UserID, &adminID, models.ScanMethodAdminApproved)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	req.Status = models.RequestStatusApproved
	req.ReviewedBy = &adminID
	req.ReviewedAt = &now
	log.Printf("✅ Request %s approved by admin=%s (credit %s)", req.ID, adminID, credit.ID)
	return req, credit, nil
}

// Reject closes the request without touching any credit.
func (s *RequestService) Reject(requestID, adminID string) (*models.FreeHookahRequest, error) {
	req, err := s.GetByID(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestStatusPending {
		return nil, ErrRequestNotPending
	}

	now := time.Now()
	req.Status = models.RequestStatusRejected
	req.ReviewedBy = &adminID
	req.ReviewedAt = &now
	if err := s.DB.Save(req).Error; err != nil {
		return nil, err
	}
	log.Printf("🚫 Request %s rejected by admin=%s", req.ID, adminID)
	return req, nil
}
