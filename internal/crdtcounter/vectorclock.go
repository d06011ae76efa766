package crdtcounter

import "sync"

// VectorClock tracks, per actor, the highest operation sequence number
// observed. It is used to detect causality violations — receipt of an
// operation whose predecessor has not yet been observed — which signal
// the caller to trigger a re-sync with that peer (spec.md §4.10).
type VectorClock struct {
	mu   sync.Mutex
	seen map[string]uint64
}

// NewVectorClock returns an empty VectorClock.
func NewVectorClock() *VectorClock {
	return &VectorClock{seen: make(map[string]uint64)}
}

// Observe records seq for actor and reports whether it arrived in
// causal order. A seq at or below the last observed value is treated as
// a duplicate or stale retransmission, not a violation. A seq more than
// one past the last observed value indicates a missing predecessor;
// Observe returns false and does not advance the clock, so the caller
// can request a re-sync before applying the operation.
func (vc *VectorClock) Observe(actor string, seq uint64) bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	last := vc.seen[actor]
	if seq <= last {
		return true
	}
	if seq != last+1 {
		return false
	}
	vc.seen[actor] = seq
	return true
}

// Snapshot returns a copy of the last-observed sequence per actor.
func (vc *VectorClock) Snapshot() map[string]uint64 {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	out := make(map[string]uint64, len(vc.seen))
	for k, v := range vc.seen {
		out[k] = v
	}
	return out
}
