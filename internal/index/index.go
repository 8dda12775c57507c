package index

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/router"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

func Index(c *fiber.Ctx) error {
	return router.ResponseSuccess(c, "Go WhatsApp Business Bridge is running")
}

// Health reports 200 while the database answers within two seconds.
func Health(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(router.Response{
				Status:  false,
				Code:    fiber.StatusServiceUnavailable,
				Message: "Database unavailable",
				Error:   err.Error(),
			})
		}
		return router.ResponseSuccess(c, "OK")
	}
}
