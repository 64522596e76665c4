// handlers/user_routes.go
package handlers

import (
	"context"
	"errors"
	"strconv"

	"hookah-loyalty-system/middleware"
	"hookah-loyalty-system/models"
	"hookah-loyalty-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupUserRoutes wires the Mini App endpoints. Everything under /api/users
// and /api/free-hookahs requires a verified Telegram initData header; the
// Telegram id inside it is the only identity the service trusts.
func SetupUserRoutes(app *fiber.App, users *services.UserService, ledger *services.LedgerService, requests *services.RequestService, reviews *services.ReviewService) {
	api := app.Group("/api", middleware.TelegramAuthMiddleware())

	api.Post("/users/register", func(c *fiber.Ctx) error {
		var in services.RegisterInput
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		// The verified initData id wins over whatever the body claims.
		in.TgID = c.Locals("tg_id").(int64)
		if in.FirstName == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "first_name is required"})
		}

		user, created, err := users.CheckOrRegister(in)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "registration failed", "cause": err.Error()})
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{"user": user, "created": created})
	})

	api.Get("/users/:tgId/profile", func(c *fiber.Ctx) error {
		tgID, err := parseTgID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid Telegram ID"})
		}
		profile, err := users.GetProfile(tgID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(profile)
	})

	api.Get("/users/:tgId/history", func(c *fiber.Ctx) error {
		tgID, err := parseTgID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid Telegram ID"})
		}
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		offset, _ := strconv.Atoi(c.Query("offset", "0"))

		history, total, err := users.GetHistory(tgID, limit, offset)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{
			"history": history,
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	})

	api.Get("/users/:tgId/free-hookahs", func(c *fiber.Ctx) error {
		tgID, err := parseTgID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid Telegram ID"})
		}
		credits, err := users.GetFreeHookahs(tgID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(credits)
	})

	api.Post("/free-hookahs/claim", func(c *fiber.Ctx) error {
		tgID := c.Locals("tg_id").(int64)
		user, err := users.GetByTgID(tgID)
		if err != nil {
			return serviceError(c, err)
		}

		credit, err := ledger.RedeemFreeCredit(user.ID, nil, models.ScanMethodUserClaimed)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{
			"message":     "Free hookah redeemed, come pick it up!",
			"free_hookah": credit,
		})
	})

	api.Post("/free-hookahs/request", func(c *fiber.Ctx) error {
		tgID := c.Locals("tg_id").(int64)
		user, err := users.GetByTgID(tgID)
		if err != nil {
			return serviceError(c, err)
		}

		req, err := requests.Create(user.ID)
		if err != nil {
			return serviceError(c, err)
		}

		_ = services.PublishLoyaltyEvent(context.Background(), services.LoyaltyEvent{
			Type:      services.EventRequestCreated,
			TgID:      user.TgID,
			FirstName: user.FirstName,
			RequestID: req.ID,
		})

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": "Request sent, waiting for staff confirmation",
			"request": req,
		})
	})

	api.Post("/reviews", func(c *fiber.Ctx) error {
		var in struct {
			HookahID   int64  `json:"hookah_id"`
			Rating     int    `json:"rating"`
			ReviewText string `json:"review_text"`
		}
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}

		tgID := c.Locals("tg_id").(int64)
		user, err := users.GetByTgID(tgID)
		if err != nil {
			return serviceError(c, err)
		}

		review, err := reviews.Add(user.ID, in.HookahID, in.Rating, in.ReviewText)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": "Thanks for the review!",
			"review":  review,
		})
	})

	api.Get("/users/:tgId/reviews", func(c *fiber.Ctx) error {
		tgID, err := parseTgID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid Telegram ID"})
		}
		user, err := users.GetByTgID(tgID)
		if err != nil {
			return serviceError(c, err)
		}
		list, err := reviews.ListByUser(user.ID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(list)
	})
}

func parseTgID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("tgId"), 10, 64)
}

// serviceError maps service sentinels onto HTTP statuses; anything else is a
// storage failure worth retrying.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrHistoryNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNoFreeCredit),
		errors.Is(err, services.ErrNoActiveStock),
		errors.Is(err, services.ErrNothingToRemove),
		errors.Is(err, services.ErrRequestPending),
		errors.Is(err, services.ErrRequestNotPending),
		errors.Is(err, services.ErrInvalidRating):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotReviewOwner):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrCreditAlreadyUsed),
		errors.Is(err, services.ErrAlreadyReviewed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage error", "cause": err.Error()})
	}
}
