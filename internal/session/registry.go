// Package session owns the per-account connection lifecycle: at most one
// live protocol handle per account, the phase state machine around it,
// reconnection, and the normalization of everything the handle emits.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/clock"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/reconnect"
	"github.com/gdbrns/go-whatsapp-business-bridge/pkg/log"
)

// Gateway is the persistence the registry writes through.
type Gateway interface {
	UpsertSessionStatus(ctx context.Context, s domain.SessionStatus) error
	PairingArtifact(accountID string) (domain.PairingArtifact, bool)
	UpsertContact(ctx context.Context, c domain.Contact) error
	InsertMessage(ctx context.Context, m domain.Message) (bool, error)
	LoadRecentSessions(ctx context.Context, window time.Duration) ([]domain.SessionStatus, error)
}

type Config struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	LogoutTimeout  time.Duration
	PersistTimeout time.Duration
	ProbeInterval  time.Duration
	PairingTTL     time.Duration
	SendRate       rate.Limit
	SendBurst      int
	Reconnect      reconnect.Config

	// RenderPairing turns a pairing token into a displayable image. The
	// artifact carries only the token when nil.
	RenderPairing func(token string) (string, error)
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 20 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 30 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	if c.PairingTTL <= 0 {
		c.PairingTTL = 2 * time.Minute
	}
	if c.SendRate <= 0 {
		c.SendRate = rate.Inf
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
}

// CreateResult describes the session CreateSession returned.
type CreateResult struct {
	SessionID string                  `json:"session_id"`
	Phase     domain.Phase            `json:"phase"`
	Existing  bool                    `json:"existing"`
	Pairing   *domain.PairingArtifact `json:"pairing,omitempty"`
}

type Registry struct {
	cfg       Config
	connector protocol.Connector
	gateway   Gateway
	publisher events.Publisher
	clock     clock.Clock
	scheduler *reconnect.Scheduler

	gen atomic.Uint64
	wg  sync.WaitGroup

	mu    sync.RWMutex
	slots map[string]*slot
}

// slot is the per-account registry entry. A slot is removed from the
// registry once its session is gone; evicted marks a slot that callers
// still holding it must not reuse.
type slot struct {
	accountID string
	limiter   *rate.Limiter
	status    atomic.Pointer[domain.SessionStatus]

	mu      sync.Mutex
	sess    *session
	evicted bool
}

type session struct {
	status domain.SessionStatus
	handle protocol.Handle
	gen    uint64
	probe  clock.Timer
	names  map[string]string
}

func New(cfg Config, connector protocol.Connector, gateway Gateway, publisher events.Publisher, clk clock.Clock) *Registry {
	cfg.setDefaults()
	if clk == nil {
		clk = clock.Real()
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Registry{
		cfg:       cfg,
		connector: connector,
		gateway:   gateway,
		publisher: publisher,
		clock:     clk,
		scheduler: reconnect.New(cfg.Reconnect, clk),
		slots:     make(map[string]*slot),
	}
}

func (r *Registry) lookup(accountID string) *slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[accountID]
}

func (r *Registry) slotFor(accountID string) *slot {
	if s := r.lookup(accountID); s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[accountID]
	if !ok {
		s = &slot{
			accountID: accountID,
			limiter:   rate.NewLimiter(r.cfg.SendRate, r.cfg.SendBurst),
		}
		r.slots[accountID] = s
	}
	return s
}

// lockSlot returns the live slot for accountID with its mutex held.
func (r *Registry) lockSlot(accountID string) *slot {
	for {
		s := r.slotFor(accountID)
		s.mu.Lock()
		if !s.evicted {
			return s
		}
		s.mu.Unlock()
	}
}

// evict removes s from the registry when it no longer carries a session.
// Caller holds s.mu.
func (r *Registry) evict(s *slot) {
	if s.sess != nil || s.evicted {
		return
	}
	r.mu.Lock()
	if r.slots[s.accountID] == s {
		delete(r.slots, s.accountID)
	}
	r.mu.Unlock()
	s.evicted = true
}

func (r *Registry) allSlots() []*slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	return out
}

func newSession(accountID, sessionID string, now time.Time) *session {
	return &session{
		status: domain.SessionStatus{
			AccountID: accountID,
			SessionID: sessionID,
			Phase:     domain.PhaseInitializing,
			CreatedAt: now,
			UpdatedAt: now,
		},
		names: make(map[string]string),
	}
}

// dormant reports whether sess was restored from storage but never given
// a connection.
func (sess *session) dormant() bool {
	return sess.handle == nil && sess.status.Phase == domain.PhaseInitializing
}

// CreateSession starts a session for accountID, or returns the active
// one without touching the protocol client.
func (r *Registry) CreateSession(ctx context.Context, accountID string) (CreateResult, error) {
	s := r.lockSlot(accountID)
	defer s.mu.Unlock()

	if sess := s.sess; sess != nil && sess.status.Phase.Active() && !sess.dormant() {
		res := CreateResult{
			SessionID: sess.status.SessionID,
			Phase:     sess.status.Phase,
			Existing:  true,
		}
		if sess.status.Phase == domain.PhaseAwaitingPairing {
			if artifact, ok := r.gateway.PairingArtifact(accountID); ok {
				res.Pairing = &artifact
			}
		}
		return res, nil
	}

	restored := s.sess != nil && s.sess.dormant()
	if !restored {
		if s.sess != nil {
			r.release(s.sess)
		}
		r.scheduler.Reset(accountID)
		s.sess = newSession(accountID, uuid.NewString(), r.clock.Now())
		r.commit(s)
	}

	if err := r.connect(ctx, s); err != nil {
		log.Session(accountID).WithError(err).Warn("session create failed")
		sess := s.sess
		sess.status.Phase = domain.PhaseTerminated
		sess.status.LastError = err.Error()
		r.commit(s)
		s.sess = nil
		s.status.Store(nil)
		r.evict(s)
		return CreateResult{}, err
	}

	if restored {
		r.commit(s)
	}
	log.Session(accountID).WithField("session_id", s.sess.status.SessionID).Info("session created")
	return CreateResult{SessionID: s.sess.status.SessionID, Phase: s.sess.status.Phase}, nil
}

// GetStatus never blocks on the account. Unknown accounts are Idle.
func (r *Registry) GetStatus(accountID string) domain.SessionStatus {
	if s := r.lookup(accountID); s != nil {
		if snap := s.status.Load(); snap != nil {
			return *snap
		}
	}
	return domain.SessionStatus{AccountID: accountID, Phase: domain.PhaseIdle}
}

// GetPairingArtifact returns the current pairing artifact while the
// session awaits pairing.
func (r *Registry) GetPairingArtifact(accountID string) (domain.PairingArtifact, error) {
	if r.GetStatus(accountID).Phase != domain.PhaseAwaitingPairing {
		return domain.PairingArtifact{}, domain.ErrNotAvailable
	}
	artifact, ok := r.gateway.PairingArtifact(accountID)
	if !ok || artifact.Expired(r.clock.Now()) {
		return domain.PairingArtifact{}, domain.ErrNotAvailable
	}
	return artifact, nil
}

func (r *Registry) Stats() domain.Stats {
	stats := domain.Stats{ByPhase: make(map[domain.Phase]int)}
	for _, s := range r.allSlots() {
		snap := s.status.Load()
		if snap == nil {
			continue
		}
		stats.Total++
		stats.ByPhase[snap.Phase]++
		if snap.Phase == domain.PhaseConnected {
			stats.Connected++
		}
	}
	return stats
}

// Shutdown closes every live handle without logging out, so the durable
// phase still reflects what the restorer should bring back.
func (r *Registry) Shutdown() {
	r.scheduler.Stop()
	for _, s := range r.allSlots() {
		s.mu.Lock()
		if s.sess != nil {
			r.release(s.sess)
		}
		s.mu.Unlock()
	}
	r.wg.Wait()
}

// connect opens a new handle for the slot's session. Caller holds s.mu.
func (r *Registry) connect(ctx context.Context, s *slot) error {
	sess := s.sess
	r.dropHandle(sess)

	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	h, err := r.connector.Connect(cctx, s.accountID)
	if err != nil {
		return &domain.ProtocolError{Op: "connect", Err: err}
	}

	sess.gen = r.gen.Add(1)
	sess.handle = h
	r.wg.Add(1)
	go r.run(s, sess.gen, h)
	r.startProbe(s)
	return nil
}

// dropHandle closes the session's handle and invalidates its generation
// so queued events from it are discarded.
func (r *Registry) dropHandle(sess *session) {
	if sess.handle != nil {
		sess.handle.Close()
		sess.handle = nil
	}
	sess.gen = r.gen.Add(1)
}

func (r *Registry) stopProbe(sess *session) {
	if sess.probe != nil {
		sess.probe.Stop()
		sess.probe = nil
	}
}

// release stops everything the session runs.
func (r *Registry) release(sess *session) {
	r.stopProbe(sess)
	r.dropHandle(sess)
}

// commit publishes the session's status snapshot and mirrors it to the
// gateway. Caller holds s.mu.
func (r *Registry) commit(s *slot) {
	sess := s.sess
	sess.status.UpdatedAt = r.clock.Now()
	snap := sess.status
	s.status.Store(&snap)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PersistTimeout)
	defer cancel()
	if err := r.gateway.UpsertSessionStatus(ctx, snap); err != nil {
		log.Session(s.accountID).WithError(err).WithField("phase", snap.Phase).Error("persist session status failed")
	}
}

func (r *Registry) publish(accountID string, t events.Type, data any) {
	r.publisher.Publish(events.Envelope{
		Type:      t,
		AccountID: accountID,
		Timestamp: r.clock.Now(),
		Data:      data,
	})
}
