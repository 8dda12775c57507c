package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-business-bridge/pkg/whatsapp"
)

type idleSweeper interface {
	SweepIdle(ctx context.Context, threshold time.Duration) int
}

type pairingPurger interface {
	PurgeExpiredPairingArtifacts(ctx context.Context) (int, int64, error)
}

type versionRefresher interface {
	Refresh(ctx context.Context, force bool) (pkgWhatsApp.VersionStatus, bool, error)
}

// Routines registers the periodic maintenance jobs and starts the
// scheduler.
func Routines(c *cron.Cron, s *Services) {
	log.Print(nil).Info("Running Routine Tasks")

	addJob(c, "idle session sweep", s.Config.IdleSweepCronSpec, sweepIdleJob(s.Sessions, s.Config.IdleThreshold))
	addJob(c, "pairing artifact purge", s.Config.PairingPurgeCronSpec, purgePairingJob(s.Gateway))

	if s.Config.VersionRefreshEnabled {
		addJob(c, "WA Web version refresh", s.Config.VersionRefreshCronSpec, refreshVersionJob(s.Versions))
	} else {
		log.Print(nil).Info("WA Web version refresh cron disabled")
	}

	c.Start()
}

func addJob(c *cron.Cron, name string, spec string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		log.Print(nil).WithField("job", name).WithField("error", err.Error()).Error("Failed to add cron job")
		return
	}
	log.Print(nil).WithField("job", name).WithField("spec", spec).Info("Cron job enabled")
}

func sweepIdleJob(sweeper idleSweeper, threshold time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		sweeper.SweepIdle(ctx, threshold)
	}
}

func purgePairingJob(purger pairingPurger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cached, rows, err := purger.PurgeExpiredPairingArtifacts(ctx)
		if err != nil {
			log.Print(nil).WithError(err).Error("Pairing artifact purge failed")
			return
		}
		if cached > 0 || rows > 0 {
			log.Print(nil).WithField("cached", cached).WithField("rows", rows).Debug("Expired pairing artifacts purged")
		}
	}
}

func refreshVersionJob(refresher versionRefresher) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		status, refreshed, err := refresher.Refresh(ctx, false)
		if err != nil {
			log.Print(nil).WithField("version", status.CurrentVersion).Error("WA Web version refresh failed: " + err.Error())
			return
		}
		log.Print(nil).WithField("version", status.CurrentVersion).WithField("refreshed", refreshed).Info("WA Web version refresh completed")
	}
}
