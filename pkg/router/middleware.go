package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// HttpRealIP stores the client address from X-Forwarded-For or X-Real-IP
// in the remote_ip local.
func HttpRealIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if forwarded := c.Get(fiber.HeaderXForwardedFor); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			c.Locals("remote_ip", strings.TrimSpace(first))
		} else if realIP := c.Get("X-Real-IP"); realIP != "" {
			c.Locals("remote_ip", strings.TrimSpace(realIP))
		}
		return c.Next()
	}
}

// HttpRequestID propagates X-Request-ID, generating one when absent.
func HttpRequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}
