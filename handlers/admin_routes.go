// handlers/admin_routes.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"hookah-loyalty-system/middleware"
	"hookah-loyalty-system/models"
	"hookah-loyalty-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes wires the staff endpoints: scanning guests in, correcting
// mistakes, approving redemption requests and repairing drifted progress.
// All of them sit behind the shared admin key; user-attributed actions also
// verify the acting admin's is_admin flag.
func SetupAdminRoutes(app *fiber.App, users *services.UserService, ledger *services.LedgerService, requests *services.RequestService, reviews *services.ReviewService, export *services.ExportService, scanLock *services.ScanLock) {
	admin := app.Group("/api/admin", middleware.AdminKeyMiddleware())
	envAdmins := middleware.EnvAdminTgIDs()

	// requireAdmin resolves the acting staff member from admin_tg_id.
	requireAdmin := func(c *fiber.Ctx, adminTgID int64) (*models.User, error) {
		actor, err := users.GetByTgID(adminTgID)
		if err != nil {
			return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "admin not found"})
		}
		if !users.IsAdmin(actor, envAdmins) {
			return nil, c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient rights"})
		}
		return actor, nil
	}

	admin.Post("/scan", func(c *fiber.Ctx) error {
		var req struct {
			QRData      string `json:"qr_data"`
			PhoneDigits string `json:"phone_digits"`
			AdminTgID   int64  `json:"admin_tg_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}

		actor, ferr := requireAdmin(c, req.AdminTgID)
		if actor == nil {
			return ferr
		}

		var user *models.User
		var method models.ScanMethod
		switch {
		case req.QRData != "":
			tgID, err := tgIDFromQRPayload(req.QRData)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
			user, err = users.GetByTgID(tgID)
			if err != nil {
				return serviceError(c, err)
			}
			method = models.ScanMethodQR
		case req.PhoneDigits != "":
			var err error
			user, err = users.FindByPhoneDigits(req.PhoneDigits)
			if err != nil {
				return serviceError(c, err)
			}
			method = models.ScanMethodPhoneDigits
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "qr_data or phone_digits is required"})
		}

		// Dedupe double submits for the same guest.
		ok, err := scanLock.Acquire(c.Context(), user.ID)
		if err == nil && !ok {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "scan already in progress for this user"})
		}
		defer scanLock.Release(context.Background(), user.ID)

		result, err := ledger.RecordRegularEvent(user.ID, &actor.ID, method)
		if err != nil {
			return serviceError(c, err)
		}

		if result.CycleCompleted {
			_ = services.PublishLoyaltyEvent(context.Background(), services.LoyaltyEvent{
				Type:      services.EventCycleCompleted,
				TgID:      user.TgID,
				FirstName: user.FirstName,
				Progress:  result.NewProgress,
			})
		}

		msg := "Hookah added! Slot " + strconv.Itoa(result.SlotNumber) + "/" + strconv.Itoa(models.CycleLength) + " filled"
		if result.CycleCompleted {
			msg = "Cycle complete! Free hookah credited 🎉"
		}
		return c.JSON(fiber.Map{
			"message": msg,
			"user":    user,
			"result":  result,
		})
	})

	admin.Post("/hookahs/remove", func(c *fiber.Ctx) error {
		var req struct {
			UserTgID  int64 `json:"user_tg_id"`
			AdminTgID int64 `json:"admin_tg_id"`
			Count     int   `json:"count"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		actor, ferr := requireAdmin(c, req.AdminTgID)
		if actor == nil {
			return ferr
		}
		user, err := users.GetByTgID(req.UserTgID)
		if err != nil {
			return serviceError(c, err)
		}

		audit, err := ledger.RemoveLastRegularEvent(user.ID, req.Count)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"message": "removed and reconciled", "audit": audit})
	})

	admin.Get("/requests", func(c *fiber.Ctx) error {
		pending, err := requests.Pending()
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(pending)
	})

	admin.Post("/requests/:id/approve", func(c *fiber.Ctx) error {
		var body struct {
			AdminTgID int64 `json:"admin_tg_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		actor, ferr := requireAdmin(c, body.AdminTgID)
		if actor == nil {
			return ferr
		}

		req, credit, err := requests.Approve(c.Params("id"), actor.ID)
		if err != nil {
			return serviceError(c, err)
		}

		if target, err := users.GetByID(req.UserID); err == nil {
			_ = services.PublishLoyaltyEvent(context.Background(), services.LoyaltyEvent{
				Type:      services.EventRequestApproved,
				TgID:      target.TgID,
				FirstName: target.FirstName,
				RequestID: req.ID,
			})
		}

		return c.JSON(fiber.Map{"message": "request approved", "request": req, "free_hookah": credit})
	})

	admin.Post("/requests/:id/reject", func(c *fiber.Ctx) error {
		var body struct {
			AdminTgID int64 `json:"admin_tg_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		actor, ferr := requireAdmin(c, body.AdminTgID)
		if actor == nil {
			return ferr
		}

		req, err := requests.Reject(c.Params("id"), actor.ID)
		if err != nil {
			return serviceError(c, err)
		}

		if target, err := users.GetByID(req.UserID); err == nil {
			_ = services.PublishLoyaltyEvent(context.Background(), services.LoyaltyEvent{
				Type:      services.EventRequestRejected,
				TgID:      target.TgID,
				FirstName: target.FirstName,
				RequestID: req.ID,
			})
		}

		return c.JSON(fiber.Map{"message": "request rejected", "request": req})
	})

	admin.Post("/reconcile", func(c *fiber.Ctx) error {
		var body struct {
			AdminTgID int64 `json:"admin_tg_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if actor, ferr := requireAdmin(c, body.AdminTgID); actor == nil {
			return ferr
		}

		summary, err := ledger.ReconcileAll()
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(summary)
	})

	admin.Post("/reconcile/:tgId", func(c *fiber.Ctx) error {
		var body struct {
			AdminTgID int64 `json:"admin_tg_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if actor, ferr := requireAdmin(c, body.AdminTgID); actor == nil {
			return ferr
		}

		tgID, err := parseTgID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid Telegram ID"})
		}
		user, err := users.GetByTgID(tgID)
		if err != nil {
			return serviceError(c, err)
		}

		audit, err := ledger.Reconcile(user.ID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(audit)
	})

	admin.Post("/users/:tgId/grant-admin", func(c *fiber.Ctx) error {
		var body struct {
			AdminTgID int64 `json:"admin_tg_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if actor, ferr := requireAdmin(c, body.AdminTgID); actor == nil {
			return ferr
		}

		tgID, err := parseTgID(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid Telegram ID"})
		}
		user, err := users.GrantAdmin(tgID)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"message": "admin rights granted", "user": user})
	})

	admin.Get("/reviews", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		list, summary, err := reviews.ListRecent(limit)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"reviews": list, "summary": summary})
	})

	admin.Post("/broadcast", func(c *fiber.Ctx) error {
		var body struct {
			AdminTgID int64  `json:"admin_tg_id"`
			Text      string `json:"text"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if actor, ferr := requireAdmin(c, body.AdminTgID); actor == nil {
			return ferr
		}
		if strings.TrimSpace(body.Text) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
		}

		recipients, err := users.ListWithTelegram()
		if err != nil {
			return serviceError(c, err)
		}

		queued := 0
		for _, u := range recipients {
			err := services.PublishLoyaltyEvent(context.Background(), services.LoyaltyEvent{
				Type:      services.EventBroadcast,
				TgID:      u.TgID,
				FirstName: u.FirstName,
				Text:      body.Text,
			})
			if err == nil {
				queued++
			}
		}
		return c.JSON(fiber.Map{
			"message":    "broadcast queued",
			"recipients": len(recipients),
			"queued":     queued,
		})
	})

	admin.Get("/users/search", func(c *fiber.Ctx) error {
		digits := c.Query("digits")
		user, err := users.FindByPhoneDigits(digits)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(user)
	})

	admin.Post("/export", func(c *fiber.Ctx) error {
		var body struct {
			AdminTgID int64 `json:"admin_tg_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if actor, ferr := requireAdmin(c, body.AdminTgID); actor == nil {
			return ferr
		}

		key, err := export.ExportToR2(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "export failed", "cause": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "export uploaded", "key": key})
	})
}

// tgIDFromQRPayload accepts either the Mini App's JSON QR payload
// ({"tg_id": N}) or a bare numeric id printed as text.
func tgIDFromQRPayload(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	var payload struct {
		TgID int64 `json:"tg_id"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && payload.TgID != 0 {
		return payload.TgID, nil
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	return 0, errInvalidQR
}

var errInvalidQR = errors.New("invalid QR code format: expected JSON or numeric ID")
