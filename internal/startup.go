package internal

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/config"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/session"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

// RestoreConfig maps the startup reconnect settings onto the registry's
// restore options.
func RestoreConfig(cfg *config.Config) session.RestoreConfig {
	return session.RestoreConfig{
		Window:      cfg.RestoreWindow,
		JitterMax:   cfg.RestoreJitterMax,
		Concurrency: cfg.RestoreConcurrency,
		Rate:        rate.Limit(cfg.RestoreRate),
	}
}

func Startup(ctx context.Context, s *Services) {
	log.Print(nil).Info("Running Startup Tasks")

	if s.Config.VersionRefreshEnabled {
		if _, _, err := s.Versions.Refresh(ctx, false); err != nil {
			log.Print(nil).WithError(err).Warn("Failed to refresh WhatsApp Web version, using built-in version")
		}
	}

	report, err := s.Sessions.Restore(ctx, RestoreConfig(s.Config))
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to restore sessions")
		return
	}

	log.Print(nil).
		WithField("loaded", report.Loaded).
		WithField("seeded", report.Seeded).
		WithField("reconnected", report.Reconnected).
		WithField("failed", report.Failed).
		WithField("concurrency", s.Config.RestoreConcurrency).
		Info("Startup reconnect pass complete")
}
