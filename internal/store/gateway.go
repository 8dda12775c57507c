package store

import (
	"context"
	"time"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/clock"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
)

// Gateway combines the durable mirror with the pairing cache.
type Gateway struct {
	pg    *Postgres
	cache *PairingCache
	clock clock.Clock
}

func NewGateway(pg *Postgres, cache *PairingCache, clk clock.Clock) *Gateway {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gateway{pg: pg, cache: cache, clock: clk}
}

// UpsertSessionStatus refreshes the cache projection first, then the
// durable row.
func (g *Gateway) UpsertSessionStatus(ctx context.Context, s domain.SessionStatus) error {
	if s.Phase == domain.PhaseAwaitingPairing && s.Pairing != nil {
		g.cache.Put(s.AccountID, *s.Pairing)
	} else {
		g.cache.Delete(s.AccountID)
	}
	return g.pg.UpsertSessionStatus(ctx, s)
}

func (g *Gateway) PairingArtifact(accountID string) (domain.PairingArtifact, bool) {
	return g.cache.Get(accountID)
}

func (g *Gateway) UpsertContact(ctx context.Context, c domain.Contact) error {
	return g.pg.UpsertContact(ctx, c)
}

func (g *Gateway) InsertMessage(ctx context.Context, m domain.Message) (bool, error) {
	return g.pg.InsertMessage(ctx, m)
}

func (g *Gateway) LoadRecentSessions(ctx context.Context, window time.Duration) ([]domain.SessionStatus, error) {
	return g.pg.LoadRecentSessions(ctx, g.clock.Now().Add(-window))
}

func (g *Gateway) DeviceJID(ctx context.Context, accountID string) (string, error) {
	return g.pg.DeviceJID(ctx, accountID)
}

// PurgeExpiredPairingArtifacts expires both projections and returns the
// number of cache entries and rows cleared.
func (g *Gateway) PurgeExpiredPairingArtifacts(ctx context.Context) (int, int64, error) {
	cached := g.cache.Purge()
	rows, err := g.pg.PurgeExpiredPairingArtifacts(ctx, g.clock.Now())
	return cached, rows, err
}
