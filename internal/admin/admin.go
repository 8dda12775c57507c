package admin

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/router"
	pkgValidation "github.com/gdbrns/go-whatsapp-business-bridge/pkg/validation"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-business-bridge/pkg/whatsapp"
)

type StatsSource interface {
	Stats() domain.Stats
}

type TokenIssuer interface {
	GenerateAccountToken(accountID string, ttl time.Duration) (string, error)
}

type VersionSource interface {
	Status() pkgWhatsApp.VersionStatus
	Refresh(ctx context.Context, force bool) (pkgWhatsApp.VersionStatus, bool, error)
}

// Controller serves the operator endpoints guarded by the admin secret.
type Controller struct {
	stats    StatsSource
	tokens   TokenIssuer
	versions VersionSource
	webhook  func() bool
}

func New(stats StatsSource, tokens TokenIssuer, versions VersionSource, webhookEnabled func() bool) *Controller {
	if webhookEnabled == nil {
		webhookEnabled = func() bool { return false }
	}
	return &Controller{stats: stats, tokens: tokens, versions: versions, webhook: webhookEnabled}
}

type RequestCreateToken struct {
	AccountID  string `json:"account_id" form:"account_id"`
	TTLSeconds int    `json:"ttl_seconds" form:"ttl_seconds"`
}

func (r RequestCreateToken) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccountID, validation.Required, pkgValidation.AccountID),
		validation.Field(&r.TTLSeconds, validation.Min(0)),
	)
}

type ResponseToken struct {
	AccountID string     `json:"account_id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type ResponseStats struct {
	domain.Stats
	WebhookEnabled bool                      `json:"webhook_enabled"`
	WhatsApp       pkgWhatsApp.VersionStatus `json:"whatsapp"`
}

// CreateToken issues a bearer token for an account. A zero ttl_seconds
// issues a token that does not expire.
func (ctl *Controller) CreateToken(c *fiber.Ctx) error {
	var req RequestCreateToken
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	token, err := ctl.tokens.GenerateAccountToken(req.AccountID, ttl)
	if err != nil {
		return router.ResponseInternalError(c, "Failed to create token: "+err.Error())
	}

	res := ResponseToken{AccountID: req.AccountID, Token: token}
	if ttl > 0 {
		expires := time.Now().Add(ttl).UTC()
		res.ExpiresAt = &expires
	}
	return router.ResponseCreatedWithData(c, "Token created successfully", res)
}

func (ctl *Controller) GetStats(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Session statistics", ResponseStats{
		Stats:          ctl.stats.Stats(),
		WebhookEnabled: ctl.webhook(),
		WhatsApp:       ctl.versions.Status(),
	})
}

func (ctl *Controller) GetWhatsAppVersion(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "WhatsApp version", ctl.versions.Status())
}

// RefreshWhatsAppVersion fetches the latest web client version. Pass
// ?force=true to bypass the minimum refresh interval.
func (ctl *Controller) RefreshWhatsAppVersion(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	status, refreshed, err := ctl.versions.Refresh(ctx, c.QueryBool("force"))
	if err != nil {
		return router.ResponseBadGateway(c, "Failed to refresh WhatsApp version: "+err.Error())
	}
	if !refreshed {
		return router.ResponseSuccessWithData(c, "WhatsApp version is recent, refresh skipped", status)
	}
	return router.ResponseSuccessWithData(c, "WhatsApp version refreshed", status)
}
