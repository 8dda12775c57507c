package store

import (
	"sync"

	"github.com/gdbrns/go-whatsapp-business-bridge/internal/clock"
	"github.com/gdbrns/go-whatsapp-business-bridge/internal/domain"
)

// PairingCache is the fast-path projection of pairing artifacts. Entries
// disappear on their own expiry; it never decides connection state.
type PairingCache struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]domain.PairingArtifact
}

func NewPairingCache(clk clock.Clock) *PairingCache {
	if clk == nil {
		clk = clock.Real()
	}
	return &PairingCache{
		clock:   clk,
		entries: make(map[string]domain.PairingArtifact),
	}
}

func (c *PairingCache) Put(accountID string, artifact domain.PairingArtifact) {
	c.mu.Lock()
	c.entries[accountID] = artifact
	c.mu.Unlock()
}

// Get returns the artifact unless it is missing or expired.
func (c *PairingCache) Get(accountID string) (domain.PairingArtifact, bool) {
	c.mu.RLock()
	artifact, ok := c.entries[accountID]
	c.mu.RUnlock()

	if !ok {
		return domain.PairingArtifact{}, false
	}
	if artifact.Expired(c.clock.Now()) {
		c.mu.Lock()
		if current, ok := c.entries[accountID]; ok && current.Token == artifact.Token {
			delete(c.entries, accountID)
		}
		c.mu.Unlock()
		return domain.PairingArtifact{}, false
	}
	return artifact, true
}

func (c *PairingCache) Delete(accountID string) {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
}

// Purge drops expired entries and returns how many were removed.
func (c *PairingCache) Purge() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, artifact := range c.entries {
		if artifact.Expired(now) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *PairingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
