package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"
	"time"

	"hookah-loyalty-system/models"
	"hookah-loyalty-system/utils"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ExportService produces CSV snapshots of the loyalty state (one row per
// user: profile, progress, credit and ledger counts) and uploads them to
// object storage for the owner's bookkeeping.
type ExportService struct {
	DB *gorm.DB
}

func NewExportService(db *gorm.DB) *ExportService {
	return &ExportService{DB: db}
}

type exportRow struct {
	user         models.User
	progress     int
	completed    bool
	regularCount int64
	freeCount    int64
	unusedCount  int64
}

// BuildSnapshot renders the current loyalty state as CSV.
func (s *ExportService) BuildSnapshot() ([]byte, error) {
	var users []models.User
	if err := s.DB.Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, err
	}

	rows := make([]exportRow, 0, len(users))
	for _, u := range users {
		row := exportRow{user: u}

		var stock models.Stock
		if err := s.DB.Where("user_id = ? AND stock_name = ?", u.ID, models.DefaultStockName).
			First(&stock).Error; err == nil {
			row.progress = stock.Progress
			row.completed = stock.Completed
		}

		if err := s.DB.Model(&models.HookahHistory{}).
			Where("user_id = ? AND hookah_type = ?", u.ID, models.HookahTypeRegular).
			Count(&row.regularCount).Error; err != nil {
			return nil, err
		}
		if err := s.DB.Model(&models.HookahHistory{}).
			Where("user_id = ? AND hookah_type = ?", u.ID, models.HookahTypeFree).
			Count(&row.freeCount).Error; err != nil {
			return nil, err
		}
		if err := s.DB.Model(&models.FreeHookah{}).
			Where("user_id = ? AND used = ?", u.ID, false).
			Count(&row.unusedCount).Error; err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"tg_id", "first_name", "last_name", "phone", "username",
		"progress", "completed", "regular_total", "free_total", "unused_credits",
		"registered_at",
	})
	for _, r := range rows {
		_ = w.Write([]string{
			strconv.FormatInt(r.user.TgID, 10),
			r.user.FirstName,
			r.user.LastName,
			r.user.Phone,
			r.user.Username,
			strconv.Itoa(r.progress),
			strconv.FormatBool(r.completed),
			strconv.FormatInt(r.regularCount, 10),
			strconv.FormatInt(r.freeCount, 10),
			strconv.FormatInt(r.unusedCount, 10),
			r.user.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportToR2 builds a snapshot and uploads it under
// exports/<stock-slug>/<date>.csv. Returns the object key.
func (s *ExportService) ExportToR2(ctx context.Context) (string, error) {
	data, err := s.BuildSnapshot()
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("exports/%s/%s.csv",
		slug.Make(models.DefaultStockName),
		time.Now().UTC().Format("2006-01-02T15-04-05"),
	)
	if _, err := utils.UploadBytesToR2(ctx, key, "text/csv", data); err != nil {
		return "", err
	}
	log.Printf("📤 Loyalty snapshot exported: %s (%d bytes)", key, len(data))
	return key, nil
}
