// Package device exposes the session commands of the authenticated
// account over HTTP.
package device

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/normalize"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/session"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/auth"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/router"
	pkgValidation "github.com/gdbrns/go-whatsapp-business-bridge/pkg/validation"
)

// Sessions is the part of the session registry the controller drives.
type Sessions interface {
	CreateSession(ctx context.Context, accountID string) (session.CreateResult, error)
	GetStatus(accountID string) domain.SessionStatus
	GetPairingArtifact(accountID string) (domain.PairingArtifact, error)
	SendMessage(ctx context.Context, accountID, chatKey, body string) (domain.Message, error)
	Disconnect(ctx context.Context, accountID string) error
	ForceReconnect(ctx context.Context, accountID string) error
}

type Controller struct {
	sessions Sessions
	now      func() time.Time
}

func New(sessions Sessions) *Controller {
	return &Controller{sessions: sessions, now: time.Now}
}

type RequestSendMessage struct {
	ChatKey string `json:"chat_key" form:"chat_key"`
	Body    string `json:"body" form:"body"`
}

// chatKeyRule accepts a phone number or a one-to-one chat JID.
var chatKeyRule = validation.By(func(value interface{}) error {
	key, _ := value.(string)
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if _, err := normalize.ParseChatKey(key); err != nil {
		return errors.New("must be a phone number or a one-to-one chat id")
	}
	return nil
})

func (r RequestSendMessage) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChatKey, validation.Required, chatKeyRule),
		validation.Field(&r.Body, pkgValidation.MessageBody),
	)
}

type ResponsePairing struct {
	QRCode    string    `json:"qr_code"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Timeout   int       `json:"timeout"`
}

func requestContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// CreateSession starts or returns the account's session. A new session
// answers 201, an existing one 200.
func (ctl *Controller) CreateSession(c *fiber.Ctx) error {
	accountID := auth.AccountID(c)

	res, err := ctl.sessions.CreateSession(requestContext(c), accountID)
	if err != nil {
		return respondError(c, err)
	}

	if res.Existing {
		return router.ResponseSuccessWithData(c, "Session already exists", res)
	}
	return router.ResponseCreatedWithData(c, "Success create session", res)
}

func (ctl *Controller) GetStatus(c *fiber.Ctx) error {
	status := ctl.sessions.GetStatus(auth.AccountID(c))
	return router.ResponseSuccessWithData(c, "Session status", status)
}

// GetPairing returns the current QR code. Use ?output=html for a page
// that renders the image.
func (ctl *Controller) GetPairing(c *fiber.Ctx) error {
	artifact, err := ctl.sessions.GetPairingArtifact(auth.AccountID(c))
	if err != nil {
		return respondError(c, err)
	}

	timeout := int(artifact.ExpiresAt.Sub(ctl.now()).Seconds())
	if timeout < 0 {
		timeout = 0
	}
	res := ResponsePairing{
		QRCode:    artifact.Image,
		Token:     artifact.Token,
		ExpiresAt: artifact.ExpiresAt,
		Timeout:   timeout,
	}

	if strings.EqualFold(strings.TrimSpace(c.Query("output")), "html") {
		return router.ResponseSuccessWithHTML(c, pairingPage(res))
	}
	return router.ResponseSuccessWithData(c, "Success get pairing QR code", res)
}

func pairingPage(res ResponsePairing) string {
	return `
	<html>
		<head>
			<title>WhatsApp Business Bridge Login</title>
			<meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
		</head>
		<body>
			<img src="` + html.EscapeString(res.QRCode) + `" />
			<p>
				<b>QR Code Scan</b>
				<br/>
				Timeout in ` + strconv.Itoa(res.Timeout) + ` Second(s)
			</p>
		</body>
	</html>
	`
}

func (ctl *Controller) SendMessage(c *fiber.Ctx) error {
	var req RequestSendMessage
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := req.Validate(); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	accountID := auth.AccountID(c)
	msg, err := ctl.sessions.SendMessage(requestContext(c), accountID, req.ChatKey, req.Body)
	if err != nil {
		return respondError(c, err)
	}

	log.Session(accountID).WithField("chat", log.MaskJID(msg.ChatKey)).Debug("message sent")
	return router.ResponseSuccessWithData(c, "Success send message", msg)
}

func (ctl *Controller) Reconnect(c *fiber.Ctx) error {
	if err := ctl.sessions.ForceReconnect(requestContext(c), auth.AccountID(c)); err != nil {
		return respondError(c, err)
	}
	return router.ResponseAccepted(c, "Session reconnecting")
}

func (ctl *Controller) Disconnect(c *fiber.Ctx) error {
	if err := ctl.sessions.Disconnect(requestContext(c), auth.AccountID(c)); err != nil {
		return respondError(c, err)
	}
	return router.ResponseSuccess(c, "Success disconnect session")
}

func respondError(c *fiber.Ctx, err error) error {
	var protoErr *domain.ProtocolError
	var persistErr *domain.PersistenceError

	switch {
	case errors.Is(err, domain.ErrInvalidChatKey):
		return router.ResponseBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotConnected):
		return router.ResponseConflict(c, err.Error())
	case errors.Is(err, domain.ErrNotAvailable), errors.Is(err, domain.ErrSessionNotFound):
		return router.ResponseNotFound(c, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return router.ResponseTooManyRequests(c, err.Error())
	case errors.As(err, &protoErr):
		return router.ResponseBadGateway(c, err.Error())
	case errors.As(err, &persistErr):
		return router.ResponseInternalError(c, "Failed to persist session state")
	}
	return router.ResponseInternalError(c, err.Error())
}
