package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/clock"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/events"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/protocol"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/reconnect"
)

var (
	epoch    = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	selfJID  = types.NewJID("628999000111", types.DefaultUserServer)
	customer = types.NewJID("628111222333", types.DefaultUserServer)
	group    = types.NewJID("120363025246125888", types.GroupServer)
)

type fakeHandle struct {
	events chan protocol.Event

	mu        sync.Mutex
	identity  *protocol.Identity
	sent      []string
	sendErr   error
	logouts   int
	closed    bool
	closeOnce sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan protocol.Event, 32)}
}

func (h *fakeHandle) Events() <-chan protocol.Event { return h.events }

func (h *fakeHandle) Send(_ context.Context, to types.JID, body string) (protocol.SendAck, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return protocol.SendAck{}, h.sendErr
	}
	h.sent = append(h.sent, to.String()+"|"+body)
	return protocol.SendAck{
		MessageID: fmt.Sprintf("OUT-%d", len(h.sent)),
		Timestamp: epoch,
		Sender:    selfJID,
	}, nil
}

func (h *fakeHandle) Logout(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logouts++
	return nil
}

func (h *fakeHandle) Identity() (protocol.Identity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.identity == nil {
		return protocol.Identity{}, false
	}
	return *h.identity, true
}

func (h *fakeHandle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.events)
	})
}

func (h *fakeHandle) emit(e protocol.Event) {
	h.events <- e
}

func (h *fakeHandle) setIdentity(id protocol.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.identity = &id
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) sentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

func (h *fakeHandle) logoutCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logouts
}

type fakeConnector struct {
	mu      sync.Mutex
	handles []*fakeHandle
	calls   int
	err     error
}

func (c *fakeConnector) Connect(context.Context, string) (protocol.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	h := newFakeHandle()
	c.handles = append(c.handles, h)
	return h, nil
}

func (c *fakeConnector) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeConnector) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeConnector) last() *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handles) == 0 {
		return nil
	}
	return c.handles[len(c.handles)-1]
}

type fakeGateway struct {
	mu        sync.Mutex
	statuses  []domain.SessionStatus
	cache     map[string]domain.PairingArtifact
	contacts  []domain.Contact
	messages  map[string]domain.Message
	insertErr error
	recent    []domain.SessionStatus
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		cache:    make(map[string]domain.PairingArtifact),
		messages: make(map[string]domain.Message),
	}
}

func (g *fakeGateway) UpsertSessionStatus(_ context.Context, s domain.SessionStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = append(g.statuses, s)
	if s.Phase == domain.PhaseAwaitingPairing && s.Pairing != nil {
		g.cache[s.AccountID] = *s.Pairing
	} else {
		delete(g.cache, s.AccountID)
	}
	return nil
}

func (g *fakeGateway) PairingArtifact(accountID string) (domain.PairingArtifact, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.cache[accountID]
	return a, ok
}

func (g *fakeGateway) UpsertContact(_ context.Context, c domain.Contact) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.contacts = append(g.contacts, c)
	return nil
}

func (g *fakeGateway) InsertMessage(_ context.Context, m domain.Message) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.insertErr != nil {
		return false, g.insertErr
	}
	key := m.AccountID + "/" + m.ProtocolMessageID
	if _, ok := g.messages[key]; ok {
		return false, nil
	}
	g.messages[key] = m
	return true, nil
}

func (g *fakeGateway) LoadRecentSessions(context.Context, time.Duration) ([]domain.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.SessionStatus(nil), g.recent...), nil
}

func (g *fakeGateway) lastStatus(accountID string) (domain.SessionStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.statuses) - 1; i >= 0; i-- {
		if g.statuses[i].AccountID == accountID {
			return g.statuses[i], true
		}
	}
	return domain.SessionStatus{}, false
}

func (g *fakeGateway) messageCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

func (g *fakeGateway) contactCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.contacts)
}

type fakePublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *fakePublisher) Publish(e events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, e)
}

func (p *fakePublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.envs {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (p *fakePublisher) last(t events.Type) (events.Envelope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.envs) - 1; i >= 0; i-- {
		if p.envs[i].Type == t {
			return p.envs[i], true
		}
	}
	return events.Envelope{}, false
}

type harness struct {
	reg  *Registry
	conn *fakeConnector
	gw   *fakeGateway
	pub  *fakePublisher
	clk  *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conn: &fakeConnector{},
		gw:   newFakeGateway(),
		pub:  &fakePublisher{},
		clk:  clock.NewFake(epoch),
	}
	h.reg = New(Config{
		ProbeInterval: 2 * time.Second,
		PairingTTL:    time.Minute,
		Reconnect: reconnect.Config{
			Base:        2 * time.Second,
			Max:         60 * time.Second,
			MaxAttempts: 5,
		},
		RenderPairing: func(token string) (string, error) { return "img:" + token, nil },
	}, h.conn, h.gw, h.pub, h.clk)
	t.Cleanup(h.reg.Shutdown)
	return h
}
