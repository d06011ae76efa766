package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-network/edge-core/internal/threatbus"
)

// Cache is a TTL'd local read-through cache over Client, polling the
// registry on a fixed interval rather than on every request — spec.md §6
// accepts staleness up to one epoch, so the core trades a bounded lag for
// never blocking the request path on an on-chain read. Loop shape grounded
// on internal/challenge/sweeper.go's Run/Stop pair.
type Cache struct {
	client   *Client
	interval time.Duration
	bus      *threatbus.Bus // optional: refreshed trusted-issuer set is pushed here

	mu      sync.RWMutex
	entries map[string]*Entry

	stopCh  chan struct{}
	stopped atomic.Bool
}

// NewCache builds a Cache polling client every interval. bus may be nil if
// this node doesn't run the threat-intel gossip bus.
func NewCache(client *Client, interval time.Duration, bus *threatbus.Bus) *Cache {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cache{
		client:   client,
		interval: interval,
		bus:      bus,
		entries:  make(map[string]*Entry),
		stopCh:   make(chan struct{}),
	}
}

// Lookup returns the cached entry for operatorKey without touching the
// network, and whether one was present.
func (c *Cache) Lookup(operatorKey string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[operatorKey]
	return e, ok
}

// Warm seeds the cache with the known operator keys at startup and blocks
// until the first refresh completes, so the node doesn't come up with an
// empty trusted-issuer set.
func (c *Cache) Warm(ctx context.Context, operatorKeys []string) {
	c.refresh(ctx, operatorKeys)
}

// Run blocks, refreshing the given operator keys on each tick until ctx is
// cancelled or Stop is called.
func (c *Cache) Run(ctx context.Context, operatorKeys []string) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refresh(ctx, operatorKeys)
		}
	}
}

// Stop halts the background poll loop.
func (c *Cache) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
}

func (c *Cache) refresh(ctx context.Context, operatorKeys []string) {
	fresh := make(map[string]*Entry, len(operatorKeys))
	for _, key := range operatorKeys {
		entry, err := c.client.LookupByOperatorKey(ctx, key)
		if err != nil {
			slog.Warn("registry: refresh failed, keeping last known entry", "operator_key", key, "error", err)
			if stale, ok := c.Lookup(key); ok {
				fresh[key] = stale
			}
			continue
		}
		fresh[key] = entry
	}

	c.mu.Lock()
	c.entries = fresh
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.SetTrustedIssuers(c.trustedKeysUnlocked(fresh))
	}
}

// trustedKeysUnlocked flattens every active entry's trusted_public_keys
// into the allow-list the threat bus checks gossip issuers against.
func (c *Cache) trustedKeysUnlocked(entries map[string]*Entry) []string {
	var keys []string
	for _, e := range entries {
		if e == nil || !e.Active {
			continue
		}
		keys = append(keys, e.TrustedKeys...)
	}
	return keys
}

// ActiveNodeTier reports the cached stake tier and active flag for
// operatorKey, or (0, false) if no entry is cached.
func (c *Cache) ActiveNodeTier(operatorKey string) (tier int32, active bool) {
	e, ok := c.Lookup(operatorKey)
	if !ok {
		return 0, false
	}
	return e.StakeTier, e.Active
}
