package crdtcounter

import (
	"sync"
	"time"
)

// ByzantineConfig bounds how much a single actor may contribute to a
// counter within one window before being treated as suspect.
type ByzantineConfig struct {
	MaxIncrementPerWindow uint64
	SuspicionThreshold    int
	UnblockAfter          time.Duration
}

// DefaultByzantineConfig returns sensible defaults.
func DefaultByzantineConfig() ByzantineConfig {
	return ByzantineConfig{
		MaxIncrementPerWindow: 10_000,
		SuspicionThreshold:    3,
		UnblockAfter:          1 * time.Hour,
	}
}

type actorState struct {
	violations    int
	quarantined   bool
	quarantinedAt time.Time
}

// Validator flags and quarantines actors whose per-window increments
// exceed a configured maximum, dropping repeat offenders from the merge
// set until explicitly (or time-) unblocked — the same violation-count
// to drop-from-set shape as internal/reputation/quarantine.go's
// QuarantineManager, applied to CRDT actor ids instead of agent ids.
type Validator struct {
	mu     sync.Mutex
	cfg    ByzantineConfig
	actors map[string]*actorState
}

// NewValidator returns a Validator using cfg.
func NewValidator(cfg ByzantineConfig) *Validator {
	return &Validator{cfg: cfg, actors: make(map[string]*actorState)}
}

// Admit reports whether delta from actor within the current window is
// accepted. A rejected delta flags the actor; once violations reach
// SuspicionThreshold the actor is quarantined and its updates are
// rejected until UnblockAfter elapses or Unblock is called explicitly.
func (v *Validator) Admit(actor string, delta uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.actors[actor]
	if st == nil {
		st = &actorState{}
		v.actors[actor] = st
	}
	if st.quarantined {
		if time.Since(st.quarantinedAt) < v.cfg.UnblockAfter {
			return false
		}
		st.quarantined = false
		st.violations = 0
	}
	if delta > v.cfg.MaxIncrementPerWindow {
		st.violations++
		if st.violations >= v.cfg.SuspicionThreshold {
			st.quarantined = true
			st.quarantinedAt = time.Now()
		}
		return false
	}
	return true
}

// IsQuarantined reports whether actor is currently dropped from the
// merge set.
func (v *Validator) IsQuarantined(actor string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.actors[actor]
	return st != nil && st.quarantined
}

// Unblock clears quarantine state for actor explicitly.
func (v *Validator) Unblock(actor string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st := v.actors[actor]; st != nil {
		st.quarantined = false
		st.violations = 0
	}
}
