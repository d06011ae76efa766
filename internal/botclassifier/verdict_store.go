package botclassifier

import (
	"sync"
	"time"

	"github.com/aegis-network/edge-core/internal/reqctx"
)

// knownBotEntry records that a fingerprint digest was previously classified
// as a known bot, and what user-agent substring was consistent with it.
type knownBotEntry struct {
	uaHint     string
	lastSeen   time.Time
	confidence float64
}

// VerdictStore is a bounded, single-writer/multi-reader map from TLS
// fingerprint digest to known-bot classification, generalized from
// internal/reputation/reputation_manager.go's tenant-scoped reputation map
// (same mutex-guarded map-of-structs shape, narrowed to one key space).
type VerdictStore struct {
	mu       sync.RWMutex
	entries  map[string]*knownBotEntry
	capacity int
}

// NewVerdictStore builds a store capped at capacity entries. When the store
// is full, inserting a new digest evicts one arbitrary existing entry (the
// first key Go's map iteration yields), not the oldest one; unlike
// tlsfp.Cache there is no insertion-order or recency tracking.
func NewVerdictStore(capacity int) *VerdictStore {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &VerdictStore{
		entries:  make(map[string]*knownBotEntry),
		capacity: capacity,
	}
}

// MarkKnownBot records that fingerprint digest is a known bot fingerprint
// consistent with the given user-agent substring.
func (s *VerdictStore) MarkKnownBot(digest, uaHint string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[digest]; !exists && len(s.entries) >= s.capacity {
		for k := range s.entries {
			delete(s.entries, k)
			break
		}
	}
	s.entries[digest] = &knownBotEntry{uaHint: uaHint, lastSeen: time.Now(), confidence: confidence}
}

// Lookup reports whether digest is a known-bot fingerprint and, if so, the
// UA substring it was last seen consistent with.
func (s *VerdictStore) Lookup(digest string) (uaHint string, confidence float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.entries[digest]
	if !exists {
		return "", 0, false
	}
	return e.uaHint, e.confidence, true
}

// Verdict pairs a classification with its confidence, matching the
// Classify contract of spec §4.3.
type Verdict struct {
	Verdict    reqctx.Verdict
	Confidence float64
}
