// services/scheduler.go
package services

import (
	"context"
	"log"
	"os"
	"time"

	"hookah-loyalty-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartLoyaltyScheduler runs the recurring background jobs:
//   - a daily reminder sweep that nudges users sitting on unused credits
//   - a nightly CSV export of the loyalty state
//
// Both jobs only read loyalty state (the reminder publishes queue events, the
// export writes to object storage); neither mutates progress.
func StartLoyaltyScheduler(db *gorm.DB, export *ExportService) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("[Scheduler] init failed: %v", err)
		return
	}
	sched.Start()

	reminderAt := os.Getenv("REMINDER_TIME")
	if reminderAt == "" {
		reminderAt = "18:00"
	}
	rt, err := time.Parse("15:04", reminderAt)
	if err != nil {
		log.Printf("[Scheduler] bad REMINDER_TIME %q, using 18:00", reminderAt)
		rt, _ = time.Parse("15:04", "18:00")
	}

	_, _ = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(rt.Hour()), uint(rt.Minute()), 0))),
		gocron.NewTask(func() {
			if err := publishCreditReminders(db); err != nil {
				log.Printf("[Scheduler] reminder sweep failed: %v", err)
			}
		}),
	)

	_, _ = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := export.ExportToR2(ctx); err != nil {
				log.Printf("[Scheduler] nightly export failed: %v", err)
			}
		}),
	)
}

// publishCreditReminders finds every user holding at least one unused credit
// and queues a reminder event for the bot.
func publishCreditReminders(db *gorm.DB) error {
	type holder struct {
		UserID string
		N      int64
	}
	var holders []holder
	err := db.Model(&models.FreeHookah{}).
		Select("user_id, COUNT(*) as n").
		Where("used = ?", false).
		Group("user_id").
		Scan(&holders).Error
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sent := 0
	for _, h := range holders {
		var user models.User
		if err := db.Where("id = ?", h.UserID).First(&user).Error; err != nil {
			continue
		}
		evt := LoyaltyEvent{
			Type:          EventCreditReminder,
			TgID:          user.TgID,
			FirstName:     user.FirstName,
			UnusedCredits: h.N,
		}
		if err := PublishLoyaltyEvent(ctx, evt); err == nil {
			sent++
		}
	}
	log.Printf("📅 Reminder sweep: %d users with unused credits, %d events queued", len(holders), sent)
	return nil
}
