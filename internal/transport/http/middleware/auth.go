package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/reclive/backend/internal/config"
	"github.com/reclive/backend/internal/transport/http/dto"
)

const (
	UsernameHeader = "X-Username"
	UsernameLocal  = "username"
)

func AdminAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := cfg.Auth.AdminAPIKey
		if apiKey == "" {
			return c.Next()
		}

		headerToken := c.Get("X-Admin-Token")
		if headerToken == "" {
			auth := c.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
				headerToken = auth[len(prefix):]
			}
		}
		// browsers cannot set headers on a websocket upgrade
		if headerToken == "" {
			headerToken = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unauthorized"})
		}

		return c.Next()
	}
}

// RequireUser resolves the calling user from X-Username (or ?username= on
// websocket upgrades) and stores it in c.Locals("username").
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		username := strings.TrimSpace(c.Get(UsernameHeader))
		if username == "" {
			username = strings.TrimSpace(c.Query("username"))
		}
		if username == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "username is required"})
		}
		c.Locals(UsernameLocal, username)
		return c.Next()
	}
}

func Username(c *fiber.Ctx) string {
	name, _ := c.Locals(UsernameLocal).(string)
	return name
}
