package middleware

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminKeyMiddleware validates the shared staff key on scan/admin routes.
// Individual handlers still resolve the acting admin from admin_tg_id and
// check the is_admin flag; this gate only keeps the endpoints off the open
// internet.
func AdminKeyMiddleware() fiber.Handler {
	expectedKey := os.Getenv("ADMIN_KEY")
	if expectedKey == "" {
		log.Fatal("❌ ADMIN_KEY is not set — admin routes cannot be protected")
	}

	return func(c *fiber.Ctx) error {
		key := c.Get("X-Admin-Key")
		if key == "" {
			// Fall back to Authorization: Bearer <key>
			auth := c.Get("Authorization")
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		if key != expectedKey {
			log.Printf("🚫 [ADMIN_AUTH] invalid admin key for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid admin key",
			})
		}
		return c.Next()
	}
}

// EnvAdminTgIDs parses the ADMIN_TG_IDS bootstrap list (comma-separated
// Telegram ids that are admins even before the database flag is set).
func EnvAdminTgIDs() []int64 {
	raw := os.Getenv("ADMIN_TG_IDS")
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
