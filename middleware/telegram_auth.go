package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// VerifyInitData checks the Telegram Mini App signature: HMAC-SHA256 of the
// sorted key=value pairs (hash excluded) joined with '\n', keyed with
// HMAC-SHA256("WebAppData", botToken).
func VerifyInitData(initData, botToken string) bool {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return false
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return false
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for key, vals := range values {
		for _, v := range vals {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)
	dataCheckString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString))
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(want), []byte(gotHash))
}

// InitDataUserID extracts the Telegram user id from a verified initData
// payload (the "user" field is a JSON object).
func InitDataUserID(initData string) int64 {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0
	}
	userStr := values.Get("user")
	if userStr == "" {
		return 0
	}
	var u struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &u); err != nil {
		return 0
	}
	return u.ID
}

// TelegramAuthMiddleware validates X-Telegram-Init-Data on every request it
// guards and attaches the verified Telegram user id to ctx locals. The core
// trusts this id unconditionally afterwards.
func TelegramAuthMiddleware() fiber.Handler {
	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		log.Fatal("❌ BOT_TOKEN is not set — cannot verify Telegram initData")
	}

	return func(c *fiber.Ctx) error {
		initData := c.Get("X-Telegram-Init-Data")
		if initData == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing Telegram initData",
			})
		}
		if !VerifyInitData(initData, botToken) {
			log.Printf("🚫 [TG_AUTH] invalid initData signature for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid Telegram initData",
			})
		}

		tgID := InitDataUserID(initData)
		if tgID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "initData carries no user",
			})
		}

		c.Locals("tg_id", tgID)
		return c.Next()
	}
}
