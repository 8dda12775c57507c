package internal

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/router"

	ctlAdmin "github.com/gdbrns/go-whatsapp-business-bridge/internal/admin"
	ctlDevice "github.com/gdbrns/go-whatsapp-business-bridge/internal/device"
	ctlIndex "github.com/gdbrns/go-whatsapp-business-bridge/internal/index"
)

func Routes(app *fiber.App, s *Services) {
	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}
	app.Get(router.BaseURL+"/health", ctlIndex.Health(s.DB))

	// ============================================================
	// ADMIN ROUTES (X-Admin-Secret authentication)
	// ============================================================
	admin := ctlAdmin.New(s.Sessions, s.Auth, s.Versions, s.Webhook.Enabled)
	adminMiddleware := s.Auth.AdminAuth()

	app.Post(router.BaseURL+"/admin/tokens", adminMiddleware, admin.CreateToken)
	app.Get(router.BaseURL+"/admin/stats", adminMiddleware, admin.GetStats)
	app.Get(router.BaseURL+"/admin/whatsapp/version", adminMiddleware, admin.GetWhatsAppVersion)
	app.Post(router.BaseURL+"/admin/whatsapp/version/refresh", adminMiddleware, admin.RefreshWhatsAppVersion)

	// ============================================================
	// SESSION ROUTES (Bearer account token)
	// ============================================================
	device := ctlDevice.New(s.Sessions)
	accountMiddleware := s.Auth.AccountAuth()

	app.Post(router.BaseURL+"/sessions", accountMiddleware, device.CreateSession)
	app.Delete(router.BaseURL+"/sessions", accountMiddleware, device.Disconnect)
	app.Get(router.BaseURL+"/sessions/status", accountMiddleware, device.GetStatus)
	app.Get(router.BaseURL+"/sessions/pairing", accountMiddleware, device.GetPairing)
	app.Post(router.BaseURL+"/sessions/messages", accountMiddleware, device.SendMessage)
	app.Post(router.BaseURL+"/sessions/reconnect", accountMiddleware, device.Reconnect)
	app.Get(router.BaseURL+"/sessions/events", accountMiddleware, events.RequireUpgrade(), s.Hub.Handler())
}
