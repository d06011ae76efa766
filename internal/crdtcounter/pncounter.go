package crdtcounter

// PNCounter is a positive-negative counter CRDT for reversible
// quantities: a pair of G-Counters, one tracking increments and one
// tracking decrements, whose difference is the logical value (spec.md
// §4.10).
type PNCounter struct {
	pos *GCounter
	neg *GCounter
}

// NewPNCounter returns a zero-valued PN-Counter.
func NewPNCounter() *PNCounter {
	return &PNCounter{pos: NewGCounter(), neg: NewGCounter()}
}

// Increment adds delta to actor's positive count.
func (p *PNCounter) Increment(actor string, delta uint64) {
	p.pos.Increment(actor, delta)
}

// Decrement adds delta to actor's negative count.
func (p *PNCounter) Decrement(actor string, delta uint64) {
	p.neg.Increment(actor, delta)
}

// Value returns the current logical value: sum(positive) - sum(negative).
func (p *PNCounter) Value() int64 {
	return int64(p.pos.Value()) - int64(p.neg.Value())
}

// SnapshotPositive returns a copy of the per-actor positive counts.
func (p *PNCounter) SnapshotPositive() map[string]uint64 { return p.pos.Snapshot() }

// SnapshotNegative returns a copy of the per-actor negative counts.
func (p *PNCounter) SnapshotNegative() map[string]uint64 { return p.neg.Snapshot() }

// MergePositive folds another replica's positive counts in.
func (p *PNCounter) MergePositive(other map[string]uint64) { p.pos.Merge(other) }

// MergeNegative folds another replica's negative counts in.
func (p *PNCounter) MergeNegative(other map[string]uint64) { p.neg.Merge(other) }
