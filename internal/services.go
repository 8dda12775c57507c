package internal

import (
	"database/sql"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/config"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/session"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/store"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/webhook"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/auth"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-business-bridge/pkg/whatsapp"
)

// Services is everything the routes, startup and routine tasks share.
type Services struct {
	Config   *config.Config
	DB       *sql.DB
	Auth     *auth.Authenticator
	Sessions *session.Registry
	Gateway  *store.Gateway
	Hub      *events.Hub
	Webhook  *webhook.Engine
	Versions *pkgWhatsApp.VersionRefresher
}
