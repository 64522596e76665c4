package services

import (
	"errors"
	"regexp"
	"strings"

	"hookah-loyalty-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	DB     *gorm.DB
	Ledger *LedgerService
}

func NewUserService(db *gorm.DB, ledger *LedgerService) *UserService {
	return &UserService{DB: db, Ledger: ledger}
}

// RegisterInput carries the profile fields supplied by the Mini App after
// initData verification.
type RegisterInput struct {
	TgID      int64  `json:"tg_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Username  string `json:"username"`
}

// CheckOrRegister upserts a user by Telegram id. Existing users get their
// profile fields refreshed; new users also get their 5+1 track created so the
// first profile view shows an empty card instead of a missing one.
func (s *UserService) CheckOrRegister(in RegisterInput) (*models.User, bool, error) {
	var user models.User
	err := s.DB.Where("tg_id = ?", in.TgID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			ID:        uuid.NewString(),
			TgID:      in.TgID,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Phone:     in.Phone,
			Username:  in.Username,
		}
		if err := s.DB.Create(&user).Error; err != nil {
			return nil, false, err
		}
		if _, err := s.Ledger.EnsureStock(user.ID); err != nil {
			return nil, false, err
		}
		return &user, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	changed := false
	if in.FirstName != "" && in.FirstName != user.FirstName {
		user.FirstName = in.FirstName
		changed = true
	}
	if in.LastName != "" && in.LastName != user.LastName {
		user.LastName = in.LastName
		changed = true
	}
	if in.Phone != "" && in.Phone != user.Phone {
		user.Phone = in.Phone
		changed = true
	}
	if in.Username != "" && in.Username != user.Username {
		user.Username = in.Username
		changed = true
	}
	if changed {
		if err := s.DB.Save(&user).Error; err != nil {
			return nil, false, err
		}
	}
	return &user, false, nil
}

func (s *UserService) GetByTgID(tgID int64) (*models.User, error) {
	var user models.User
	err := s.DB.Where("tg_id = ?", tgID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserService) GetByID(id string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

var nonDigits = regexp.MustCompile(`\D`)

// FindByPhoneDigits resolves a user from the last four digits of their phone
// number — the fallback the venue staff use when a guest has no QR code handy.
func (s *UserService) FindByPhoneDigits(digits string) (*models.User, error) {
	digits = strings.TrimSpace(digits)
	if len(digits) != 4 || nonDigits.MatchString(digits) {
		return nil, errors.New("phone digits must be exactly 4 digits")
	}

	// Phone formats in the table vary (imported from several sources), so
	// strip formatting before matching instead of trusting stored values.
	var users []models.User
	if err := s.DB.Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		phone := nonDigits.ReplaceAllString(users[i].Phone, "")
		if strings.HasSuffix(phone, digits) {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

// Profile bundles everything the Mini App's main screen needs.
type Profile struct {
	User          *models.User  `json:"user"`
	Stock         *models.Stock `json:"stock"`
	UnusedCredits int64         `json:"unused_free_hookahs"`
	TotalRegular  int64         `json:"total_regular_hookahs"`
	TotalFree     int64         `json:"total_free_hookahs"`
}

func (s *UserService) GetProfile(tgID int64) (*Profile, error) {
	user, err := s.GetByTgID(tgID)
	if err != nil {
		return nil, err
	}
	stock, err := s.Ledger.EnsureStock(user.ID)
	if err != nil {
		return nil, err
	}

	p := &Profile{User: user, Stock: stock}
	if err := s.DB.Model(&models.FreeHookah{}).
		Where("user_id = ? AND used = ?", user.ID, false).
		Count(&p.UnusedCredits).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.HookahHistory{}).
		Where("user_id = ? AND hookah_type = ?", user.ID, models.HookahTypeRegular).
		Count(&p.TotalRegular).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.HookahHistory{}).
		Where("user_id = ? AND hookah_type = ?", user.ID, models.HookahTypeFree).
		Count(&p.TotalFree).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetHistory returns the user's ledger newest-first with limit/offset paging.
func (s *UserService) GetHistory(tgID int64, limit, offset int) ([]models.HookahHistory, int64, error) {
	user, err := s.GetByTgID(tgID)
	if err != nil {
		return nil, 0, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.DB.Model(&models.HookahHistory{}).
		Where("user_id = ?", user.ID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var history []models.HookahHistory
	err = s.DB.Where("user_id = ?", user.ID).
		Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&history).Error
	return history, total, err
}

// GetFreeHookahs lists a user's credits, unused first, oldest first within
// each group (redemption order).
func (s *UserService) GetFreeHookahs(tgID int64) ([]models.FreeHookah, error) {
	user, err := s.GetByTgID(tgID)
	if err != nil {
		return nil, err
	}
	var credits []models.FreeHookah
	err = s.DB.Where("user_id = ?", user.ID).
		Order("used ASC, created_at ASC").
		Find(&credits).Error
	return credits, err
}

// ListWithTelegram returns every user reachable through the bot (broadcast
// audience). Rows without a Telegram id are skipped.
func (s *UserService) ListWithTelegram() ([]models.User, error) {
	var users []models.User
	err := s.DB.Where("tg_id <> 0").Order("created_at ASC").Find(&users).Error
	return users, err
}

// GrantAdmin flips is_admin for the target user. Idempotent.
func (s *UserService) GrantAdmin(tgID int64) (*models.User, error) {
	user, err := s.GetByTgID(tgID)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		return user, nil
	}
	user.IsAdmin = true
	if err := s.DB.Save(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// IsAdmin reports whether the user may perform staff actions. The env list
// ADMIN_TG_IDS backs up the database flag so the first admin can bootstrap
// themselves.
func (s *UserService) IsAdmin(user *models.User, envAdminIDs []int64) bool {
	if user.IsAdmin {
		return true
	}
	for _, id := range envAdminIDs {
		if user.TgID == id {
			return true
		}
	}
	return false
}
