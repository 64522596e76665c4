package services

import (
	"errors"
	"log"

	"hookah-loyalty-system/models"

	"gorm.io/gorm"
)

// ReviewService stores guest ratings of smoked hookahs. A review belongs to
// one history entry, and only the guest who smoked it can leave one.
type ReviewService struct {
	DB *gorm.DB
}

func NewReviewService(db *gorm.DB) *ReviewService {
	return &ReviewService{DB: db}
}

// Add records a rating for one history entry.
func (s *ReviewService) Add(userID string, hookahID int64, rating int, text string) (*models.HookahReview, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	var entry models.HookahHistory
	err := s.DB.Where("id = ?", hookahID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHistoryNotFound
	}
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, ErrNotReviewOwner
	}

	var existing models.HookahReview
	err = s.DB.Where("user_id = ? AND hookah_id = ?", userID, hookahID).First(&existing).Error
	if err == nil {
		return nil, ErrAlreadyReviewed
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	review := models.HookahReview{
		UserID:     userID,
		HookahID:   hookahID,
		Rating:     rating,
		ReviewText: text,
	}
	if err := s.DB.Create(&review).Error; err != nil {
		return nil, err
	}
	log.Printf("⭐ Review %d/5 for hookah %d by user=%s", rating, hookahID, userID)
	return &review, nil
}

// ListByUser returns a guest's reviews newest-first.
func (s *ReviewService) ListByUser(userID string) ([]models.HookahReview, error) {
	var reviews []models.HookahReview
	err := s.DB.Where("user_id = ?", userID).
		Order("id DESC").
		Find(&reviews).Error
	return reviews, err
}

// ReviewSummary aggregates review stats for the admin screen.
type ReviewSummary struct {
	Total         int64   `json:"total"`
	AverageRating float64 `json:"average_rating"`
}

// ListRecent returns the newest reviews across all guests plus the overall
// rating summary.
func (s *ReviewService) ListRecent(limit int) ([]models.HookahReview, *ReviewSummary, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var reviews []models.HookahReview
	if err := s.DB.Order("id DESC").Limit(limit).Find(&reviews).Error; err != nil {
		return nil, nil, err
	}

	summary := &ReviewSummary{}
	if err := s.DB.Model(&models.HookahReview{}).Count(&summary.Total).Error; err != nil {
		return nil, nil, err
	}
	if summary.Total > 0 {
		if err := s.DB.Model(&models.HookahReview{}).
			Select("AVG(rating)").
			Scan(&summary.AverageRating).Error; err != nil {
			return nil, nil, err
		}
	}
	return reviews, summary, nil
}
