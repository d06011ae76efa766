package crdtcounter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-network/edge-core/internal/canonical"
	"github.com/aegis-network/edge-core/internal/metrics"
	"github.com/aegis-network/edge-core/internal/threatbus"
)

// Kind selects which CRDT family backs a logical key.
type Kind int

const (
	KindGrowOnly Kind = iota
	KindPositiveNegative
)

type entry struct {
	kind  Kind
	g     *GCounter
	pn    *PNCounter
	epoch *Epoch
}

// Manager holds one CRDT counter per logical key (e.g. a per-IP or
// per-route rate key), applies local operations, validates and merges
// remote partials received over the threat-intel bus's counter-ops/v1
// topic, and republishes local deltas for peers to merge (spec.md
// §4.10).
type Manager struct {
	mu      sync.Mutex
	actor   string
	entries map[string]*entry
	window  time.Duration
	val     *Validator
	clocks  map[string]*VectorClock
	seq     uint64

	bus    *threatbus.Bus
	signer *canonical.Signer
}

// NewManager returns a Manager identified by actor (this node's stable
// actor id), using windowSize as each key's epoch length. If bus and
// signer are non-nil, local deltas are signed and published to
// threatbus.TopicCounterOps, and remote partials received on that topic
// are merged in automatically via Apply.
func NewManager(actor string, windowSize time.Duration, bus *threatbus.Bus, signer *canonical.Signer) *Manager {
	if windowSize <= 0 {
		windowSize = 10 * time.Second
	}
	m := &Manager{
		actor:   actor,
		entries: make(map[string]*entry),
		window:  windowSize,
		val:     NewValidator(DefaultByzantineConfig()),
		clocks:  make(map[string]*VectorClock),
		bus:     bus,
		signer:  signer,
	}
	if bus != nil {
		bus.SubscribeCounterOps(threatbus.TopicCounterOps, m.onRemoteOp)
	}
	return m
}

func (m *Manager) entryFor(key string, kind Kind) *entry {
	e, ok := m.entries[key]
	if ok {
		return e
	}
	e = &entry{kind: kind, epoch: NewEpoch(m.window)}
	switch kind {
	case KindPositiveNegative:
		e.pn = NewPNCounter()
	default:
		e.g = NewGCounter()
	}
	m.entries[key] = e
	return e
}

// Increment applies a local increment to key (creating a grow-only
// counter for it if unseen) and publishes the delta to peers.
func (m *Manager) Increment(key string, delta uint64) {
	m.mu.Lock()
	e := m.entryFor(key, KindGrowOnly)
	if e.kind == KindGrowOnly {
		e.g.Increment(m.actor, delta)
	} else {
		e.pn.Increment(m.actor, delta)
	}
	epoch := e.epoch.Current()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	m.publish(key, delta, 0, epoch, seq)
}

// Decrement applies a local decrement to a positive-negative counter
// keyed by key and publishes the delta to peers.
func (m *Manager) Decrement(key string, delta uint64) {
	m.mu.Lock()
	e := m.entryFor(key, KindPositiveNegative)
	e.pn.Decrement(m.actor, delta)
	epoch := e.epoch.Current()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	m.publish(key, 0, delta, epoch, seq)
}

// Value returns the current logical value for key: the G-Counter total,
// or the PN-Counter positive-minus-negative value.
func (m *Manager) Value(key string) int64 {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	if e.kind == KindPositiveNegative {
		return e.pn.Value()
	}
	return int64(e.g.Value())
}

func (m *Manager) publish(key string, inc, dec uint64, epoch int64, seq uint64) {
	if m.bus == nil || m.signer == nil {
		return
	}
	op := threatbus.CounterOp{
		Actor:     m.actor,
		IssuerKey: m.signer.PublicKeyHex(),
		Key:       key,
		Increment: inc,
		Decrement: dec,
		Epoch:     epoch,
		Seq:       seq,
	}
	sop, err := threatbus.SignCounterOp(m.signer, op)
	if err != nil {
		slog.Warn("crdtcounter: failed to sign counter op", "key", key, "error", err)
		return
	}
	if err := m.bus.PublishCounterOp(threatbus.TopicCounterOps, sop); err != nil {
		slog.Warn("crdtcounter: failed to publish counter op", "key", key, "error", err)
	}
}

// Apply validates and merges a remote, already-verified CounterOp into
// local state. It rejects operations outside the current window, from a
// quarantined actor, or that arrive out of causal order (triggering
// re-sync is left to the caller, signalled by the second return value).
func (m *Manager) Apply(op threatbus.CounterOp) (applied bool, needsResync bool) {
	if op.Actor == m.actor {
		return false, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clock := m.clocks[op.Actor]
	if clock == nil {
		clock = NewVectorClock()
		m.clocks[op.Actor] = clock
	}
	if !clock.Observe(op.Actor, op.Seq) {
		metrics.Get().CRDTSuspectEvents.WithLabelValues("causality_gap").Inc()
		return false, true
	}

	kind := KindGrowOnly
	if op.Decrement > 0 {
		kind = KindPositiveNegative
	}
	e := m.entryFor(op.Key, kind)
	if !e.epoch.Accepts(op.Epoch) {
		slog.Debug("crdtcounter: stale epoch discarded", "key", op.Key, "actor", op.Actor)
		return false, false
	}

	delta := op.Increment
	if op.Decrement > delta {
		delta = op.Decrement
	}
	wasQuarantined := m.val.IsQuarantined(op.Actor)
	if !m.val.Admit(op.Actor, delta) {
		slog.Warn("crdtcounter: rejected increment from suspect actor", "actor", op.Actor, "key", op.Key)
		if !wasQuarantined && m.val.IsQuarantined(op.Actor) {
			metrics.Get().CRDTSuspectEvents.WithLabelValues("quarantined").Inc()
		} else {
			metrics.Get().CRDTSuspectEvents.WithLabelValues("flagged").Inc()
		}
		return false, false
	}

	switch e.kind {
	case KindPositiveNegative:
		if op.Increment > 0 {
			e.pn.MergePositive(map[string]uint64{op.Actor: op.Increment})
		}
		if op.Decrement > 0 {
			e.pn.MergeNegative(map[string]uint64{op.Actor: op.Decrement})
		}
	default:
		e.g.Merge(map[string]uint64{op.Actor: op.Increment})
	}
	metrics.Get().CRDTMerges.Inc()
	return true, false
}

// onRemoteOp is the threatbus.CounterHandler installed on the bus; the
// bus has already verified the signature and issuer trust before
// invoking it.
func (m *Manager) onRemoteOp(sop *threatbus.SignedCounterOp) {
	applied, needsResync := m.Apply(sop.Op)
	if needsResync {
		slog.Warn("crdtcounter: causality gap detected, re-sync needed", "actor", sop.Op.Actor, "key", sop.Op.Key)
		return
	}
	if !applied {
		return
	}
}
