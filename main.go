package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hookah-loyalty-system/handlers"
	"hookah-loyalty-system/models"
	"hookah-loyalty-system/services"
	"hookah-loyalty-system/utils"
	"hookah-loyalty-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Telegram-Init-Data, X-Admin-Key",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Stock{},
		&models.HookahHistory{},
		&models.FreeHookah{},
		&models.FreeHookahRequest{},
		&models.HookahReview{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ledgerService := services.NewLedgerService(db)
	userService := services.NewUserService(db, ledgerService)
	requestService := services.NewRequestService(db, ledgerService)
	reviewService := services.NewReviewService(db)
	exportService := services.NewExportService(db)

	rdb := utils.NewRedisClient()
	if rdb == nil {
		log.Println("⚠️  Redis unavailable — scan deduplication disabled")
	}
	scanLock := services.NewScanLock(rdb, 5*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifyWorker := workers.NewNotifyWorker()
	go notifyWorker.Start(ctx)

	services.StartLoyaltyScheduler(db, exportService)

	handlers.SetupHealthRoutes(app, db)
	handlers.SetupUserRoutes(app, userService, ledgerService, requestService, reviewService)
	handlers.SetupAdminRoutes(app, userService, ledgerService, requestService, reviewService, exportService, scanLock)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Notify worker running")
	log.Println("✅ Loyalty scheduler running (daily reminders + nightly export)")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.ShutdownWithTimeout(10 * time.Second)
}
