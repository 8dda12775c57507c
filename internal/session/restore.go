package session

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

type RestoreConfig struct {
	Window      time.Duration
	JitterMax   time.Duration
	Concurrency int
	Rate        rate.Limit
}

type RestoreReport struct {
	Loaded      int `json:"loaded"`
	Seeded      int `json:"seeded"`
	Reconnected int `json:"reconnected"`
	Failed      int `json:"failed"`
}

// Restore seeds the registry from sessions persisted within the recency
// window and reconnects the ones that were connected, spread out by a
// random jitter.
func (r *Registry) Restore(ctx context.Context, cfg RestoreConfig) (RestoreReport, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Rate <= 0 {
		cfg.Rate = rate.Inf
	}

	rows, err := r.gateway.LoadRecentSessions(ctx, cfg.Window)
	if err != nil {
		return RestoreReport{}, err
	}

	report := RestoreReport{Loaded: len(rows)}
	var reconnectIDs []string
	for _, row := range rows {
		if !r.seed(row) {
			continue
		}
		report.Seeded++
		if row.Phase == domain.PhaseConnected {
			reconnectIDs = append(reconnectIDs, row.AccountID)
		}
	}

	var reconnected, failed atomic.Int64
	limiter := rate.NewLimiter(cfg.Rate, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, accountID := range reconnectIDs {
		g.Go(func() error {
			if err := sleep(gctx, jitter(cfg.JitterMax)); err != nil {
				return err
			}
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			if r.restoreOne(gctx, accountID) {
				reconnected.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	report.Reconnected = int(reconnected.Load())
	report.Failed = int(failed.Load())
	log.Component("restorer").WithFields(map[string]interface{}{
		"loaded":      report.Loaded,
		"seeded":      report.Seeded,
		"reconnected": report.Reconnected,
		"failed":      report.Failed,
	}).Info("session restore finished")
	return report, err
}

// seed installs a dormant Initializing session for row unless the
// account already has one.
func (r *Registry) seed(row domain.SessionStatus) bool {
	s := r.lockSlot(row.AccountID)
	defer s.mu.Unlock()

	if s.sess != nil {
		return false
	}
	sess := newSession(row.AccountID, row.SessionID, row.CreatedAt)
	sess.status.DeviceJID = row.DeviceJID
	sess.status.PhoneNumber = row.PhoneNumber
	sess.status.DisplayName = row.DisplayName
	sess.status.UpdatedAt = r.clock.Now()
	s.sess = sess

	snap := sess.status
	s.status.Store(&snap)
	return true
}

// restoreOne connects a seeded session. Failures enter the normal
// reconnection path.
func (r *Registry) restoreOne(ctx context.Context, accountID string) bool {
	s := r.lookup(accountID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sess
	if sess == nil || !sess.dormant() {
		return false
	}

	if err := r.connect(ctx, s); err != nil {
		log.Session(accountID).WithError(err).Warn("restore connect failed")
		r.scheduleRetry(s, string(protocol.ReasonConnectFailure), err.Error())
		return false
	}
	r.commit(s)
	return true
}

// SweepIdle tears down sessions that are not connected and have not
// changed for longer than threshold. Connected sessions are never swept.
func (r *Registry) SweepIdle(ctx context.Context, threshold time.Duration) int {
	cutoff := r.clock.Now().Add(-threshold)
	evicted := 0
	for _, s := range r.allSlots() {
		snap := s.status.Load()
		if snap == nil || snap.Phase == domain.PhaseConnected || snap.UpdatedAt.After(cutoff) {
			continue
		}

		s.mu.Lock()
		sess := s.sess
		if sess != nil && sess.status.Phase != domain.PhaseConnected && !sess.status.UpdatedAt.After(cutoff) {
			r.teardown(ctx, s, "idle")
			evicted++
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		log.Component("sweeper").WithField("evicted", evicted).Info("idle sessions evicted")
	}
	return evicted
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
