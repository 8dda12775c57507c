// Package reconnect schedules per-account reconnection attempts with
// capped exponential backoff and a maximum attempt count.
package reconnect

import (
	"sync"
	"time"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/clock"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
)

type Config struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Attempt describes an armed retry.
type Attempt struct {
	Number int
	Delay  time.Duration
	At     time.Time
	Token  uint64
}

type entry struct {
	attempt int
	token   uint64
	timer   clock.Timer
}

// Scheduler keeps at most one pending timer per account.
type Scheduler struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry
}

func New(cfg Config, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		cfg:     cfg,
		clock:   clk,
		entries: make(map[string]*entry),
	}
}

// Delay returns the wait before attempt n (1-based): base*2^(n-1),
// never more than the configured maximum.
func (s *Scheduler) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := s.cfg.Base
	for i := 1; i < n; i++ {
		if delay >= s.cfg.Max || delay > (1<<62)/2 {
			return s.cfg.Max
		}
		delay *= 2
	}
	if delay > s.cfg.Max {
		return s.cfg.Max
	}
	return delay
}

// Schedule arms the next attempt for accountID, replacing any pending
// one. fire is called with the attempt token when the timer elapses.
// Once MaxAttempts have been scheduled since the last Reset, Schedule
// forgets the account and returns domain.ErrReconnectBudgetExhausted.
func (s *Scheduler) Schedule(accountID string, fire func(token uint64)) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[accountID]
	if !ok {
		e = &entry{}
		s.entries[accountID] = e
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if e.attempt >= s.cfg.MaxAttempts {
		delete(s.entries, accountID)
		return Attempt{Number: e.attempt}, domain.ErrReconnectBudgetExhausted
	}

	e.attempt++
	s.seq++
	e.token = s.seq

	token := e.token
	delay := s.Delay(e.attempt)
	e.timer = s.clock.AfterFunc(delay, func() { fire(token) })

	return Attempt{
		Number: e.attempt,
		Delay:  delay,
		At:     s.clock.Now().Add(delay),
		Token:  token,
	}, nil
}

// Reset stops any pending timer and zeroes the attempt counter.
func (s *Scheduler) Reset(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[accountID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, accountID)
	}
}

// Attempts returns how many attempts were scheduled since the last Reset.
func (s *Scheduler) Attempts(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[accountID]; ok {
		return e.attempt
	}
	return 0
}

// Current reports whether token belongs to the latest armed attempt.
func (s *Scheduler) Current(accountID string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[accountID]
	return ok && e.token == token
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
}
