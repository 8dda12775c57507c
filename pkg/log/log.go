package log

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rivo/uniseg"
	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/env"
)

var logger = logrus.New()

func init() {
	Configure(env.GetEnvStringOrDefault("LOG_LEVEL", "info"), env.GetEnvStringOrDefault("LOG_FORMAT", "text"))
}

// Configure sets the level (logrus names) and format ("text" or "json").
// Unknown levels fall back to info.
func Configure(level string, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
		ForceColors:     true,
	})
}

func Logger() *logrus.Logger {
	return logger
}

// Print returns an entry carrying the request's address, method and URI,
// or a bare entry when c is nil.
func Print(c *fiber.Ctx) *logrus.Entry {
	if c == nil {
		return logrus.NewEntry(logger)
	}

	remoteIP := c.IP()
	if v, ok := c.Locals("remote_ip").(string); ok && v != "" {
		remoteIP = v
	}
	return logger.WithFields(logrus.Fields{
		"remote_ip": remoteIP,
		"method":    c.Method(),
		"uri":       c.OriginalURL(),
	})
}

func Session(accountID string) *logrus.Entry {
	return logger.WithField("account_id", accountID)
}

func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// MaskJID hides the last four digits of the user part of a JID or phone
// number.
func MaskJID(jid string) string {
	user, server, found := strings.Cut(jid, "@")
	if len(user) <= 4 {
		return jid
	}
	masked := user[:len(user)-4] + "xxxx"
	if found {
		return masked + "@" + server
	}
	return masked
}

// Preview shortens s to at most max user-perceived characters.
func Preview(s string, max int) string {
	if max <= 0 || uniseg.GraphemeClusterCount(s) <= max {
		return s
	}

	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for n := 0; n < max && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	b.WriteString("…")
	return b.String()
}
