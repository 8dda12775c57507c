package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/router"
)

// AccountAuth validates "Authorization: Bearer <jwt>" and stores the
// account id in the account_id local.
func (a *Authenticator) AccountAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}
		if strings.TrimSpace(tokenString) == "" {
			return router.ResponseUnauthorized(c, "Missing token")
		}

		claims, err := a.ValidateAccountToken(strings.TrimSpace(tokenString))
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		c.Locals("account_id", claims.AccountID)
		return c.Next()
	}
}

// AdminAuth validates the X-Admin-Secret header.
func (a *Authenticator) AdminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := c.Get("X-Admin-Secret")
		if secret == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}
		if a.adminSecret == "" {
			return router.ResponseInternalError(c, "Admin secret key not configured")
		}
		if subtle.ConstantTimeCompare([]byte(secret), []byte(a.adminSecret)) != 1 {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}
		return c.Next()
	}
}

// AccountID returns the account bound by AccountAuth.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals("account_id").(string)
	return id
}
