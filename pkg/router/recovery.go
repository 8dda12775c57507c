package router

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

// RecoveryMiddleware converts panics into JSON error responses. It must be
// registered before application routes.
func RecoveryMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				message := fmt.Sprintf("%v", rec)
				log.Print(c).WithField("panic", true).Error("panic recovered: " + message)
				err = respond(c, fiber.StatusInternalServerError, message, nil)
			}
		}()
		return c.Next()
	}
}
