// Package droporacle models C1, the Kernel Drop Oracle: an external
// collaborator (an eBPF XDP program, out of scope for this core) that
// drops packets in kernel space before they reach user space. This
// package owns the two logical maps the drop path reads — block entries
// and rate-threshold configuration. It carries a ring buffer consumer for
// observed packet events, grounded on internal/ringbuf/reader.go, but New
// never attaches a ring buffer, so the consumer does not run.
package droporacle

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// BlockEntry is one row of the kernel blocklist map: an address or CIDR
// with an absolute expiry.
type BlockEntry struct {
	Prefix netip.Prefix
	Expiry time.Time
}

// Stats mirrors the stats() contract of spec §4.1.
type Stats struct {
	PacketsSeen    uint64
	PacketsDropped uint64
	ActiveBlocks   int
}

// Oracle is the user-space half of C1: it maintains the authoritative
// blocklist and rate-threshold config that the (out-of-scope) kernel drop
// path reads. Its packet counters advance only while a ring buffer of
// kernel-observed events is attached, which New never does.
type Oracle struct {
	mu       sync.RWMutex
	blocks   map[netip.Prefix]time.Time
	whitelist map[netip.Prefix]struct{}
	synThreshold uint64

	packetsSeen    uint64
	packetsDropped uint64

	ring      *ringbuf.Reader
	available bool
	stopCh    chan struct{}
}

// New constructs an Oracle in demo mode, the same fallback discipline as the
// teacher's ringbuf.Reader. objectPath is ignored: New does not load or
// attach a pinned ring buffer map, so Start never launches the consumer.
func New(objectPath string) (*Oracle, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("droporacle: remove memlock: %w", err)
	}
	o := &Oracle{
		blocks:       make(map[netip.Prefix]time.Time),
		whitelist:    make(map[netip.Prefix]struct{}),
		synThreshold: 100,
		stopCh:       make(chan struct{}),
	}
	// A real deployment loads a pinned ring buffer map produced by the
	// out-of-scope XDP program at objectPath. Without one, Oracle still
	// maintains the blocklist/config maps the control socket manages;
	// only kernel-event consumption is a no-op.
	o.available = false
	_ = objectPath
	return o, nil
}

// Start launches the ring buffer consumer goroutine. No-op in demo mode.
func (o *Oracle) Start() {
	if !o.available || o.ring == nil {
		slog.Warn("droporacle: no ring buffer attached, running in demo mode")
		return
	}
	go o.consume()
}

func (o *Oracle) consume() {
	for {
		record, err := o.ring.Read()
		if err != nil {
			if err == ringbuf.ErrClosed {
				return
			}
			slog.Warn("droporacle: ring buffer read error", "error", err)
			continue
		}
		o.mu.Lock()
		o.packetsSeen++
		o.mu.Unlock()
		_ = record
	}
}

// Stop halts the consumer and releases the ring buffer handle.
func (o *Oracle) Stop() {
	close(o.stopCh)
	if o.ring != nil {
		o.ring.Close()
	}
}

// SetSynThreshold implements set_syn_threshold(rate): atomic, takes effect
// within one window tick (immediately, since readers take the lock).
func (o *Oracle) SetSynThreshold(rate uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.synThreshold = rate
}

// Block implements block(addr, duration): idempotent — a duplicate add
// refreshes the expiry rather than extending it.
func (o *Oracle) Block(prefix netip.Prefix, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocks[prefix] = time.Now().Add(duration)
}

// Unblock implements unblock(addr).
func (o *Oracle) Unblock(prefix netip.Prefix) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.blocks, prefix)
}

// Whitelist marks a prefix as trusted, overriding the rate check.
func (o *Oracle) Whitelist(prefix netip.Prefix) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.whitelist[prefix] = struct{}{}
}

// IsBlocked reports whether addr matches an active (unexpired) block entry
// or CIDR. Expired entries are treated as absent but lazily swept, not
// removed synchronously, to keep reads lock-cheap.
func (o *Oracle) IsBlocked(addr netip.Addr) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	now := time.Now()
	for prefix, expiry := range o.blocks {
		if now.After(expiry) {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsWhitelisted reports whether addr is covered by a trusted prefix.
func (o *Oracle) IsWhitelisted(addr netip.Addr) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for prefix := range o.whitelist {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Stats implements stats().
func (o *Oracle) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	now := time.Now()
	active := 0
	for _, expiry := range o.blocks {
		if now.Before(expiry) {
			active++
		}
	}
	return Stats{
		PacketsSeen:    o.packetsSeen,
		PacketsDropped: o.packetsDropped,
		ActiveBlocks:   active,
	}
}

// Sweep removes expired block entries and returns how many it removed.
// Nothing in the node calls it on a schedule.
func (o *Oracle) Sweep() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	removed := 0
	for prefix, expiry := range o.blocks {
		if now.After(expiry) {
			delete(o.blocks, prefix)
			removed++
		}
	}
	return removed
}
