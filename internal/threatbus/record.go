// Package threatbus implements C9: a gossipsub-style peer bus carrying
// signed Threat Records over the threat-intel/v1 topic and CRDT counter
// operations over counter-ops/v1. The Redis Pub/Sub plus in-process
// local-fanout split is grounded on internal/fabric/redis_event_bus.go
// (cross-pod) and internal/fabric/event_bus.go (local); record signing
// reuses internal/canonical's Ed25519-over-canonical-JSON signer built for
// C4; nonce-freshness windowing is grounded on
// internal/federation/crypto.go's IsNonceFresh.
package threatbus

import (
	"time"

	"github.com/aegis-network/edge-core/internal/canonical"
)

// TopicThreatIntel and TopicCounterOps are the two gossip topics spec.md
// names.
const (
	TopicThreatIntel = "threat-intel/v1"
	TopicCounterOps  = "counter-ops/v1"
)

// maxClockSkew bounds how far a record's timestamp may drift from local
// time before it's rejected (spec.md §4.9: "timestamp ±300s window").
const maxClockSkew = 300 * time.Second

// Severity and block-duration bounds a record must satisfy to be
// accepted (spec.md §3: "severity ∈ [1,10], block-duration seconds ∈
// [1, 86400]").
const (
	minSeverity = 1
	maxSeverity = 10
	minDuration = 1 * time.Second
	maxDuration = 86400 * time.Second
)

// ThreatRecord is the canonical-JSON payload gossiped on
// threat-intel/v1.
type ThreatRecord struct {
	ID          string    `json:"id"`
	IssuerKey   string    `json:"issuer_key"` // hex-encoded Ed25519 public key
	Class       string    `json:"class"`
	Severity    int       `json:"severity"`
	Subject     string    `json:"subject"` // IP, CIDR, or fingerprint digest
	Reason      string    `json:"reason"`
	ObservedAt  time.Time `json:"observed_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SignedRecord pairs a record with its detached signature.
type SignedRecord struct {
	Record    ThreatRecord `json:"record"`
	Signature []byte       `json:"signature"`
}

// Sign produces a SignedRecord using signer.
func Sign(signer *canonical.Signer, record ThreatRecord) (*SignedRecord, error) {
	_, sig, err := signer.SignValue(record)
	if err != nil {
		return nil, err
	}
	return &SignedRecord{Record: record, Signature: sig}, nil
}

// Verify checks sr's signature against pubKey and its timestamp against
// the ±300s freshness window, using now as the reference time.
func Verify(sr *SignedRecord, pubKey []byte, now time.Time) error {
	data, err := canonical.Marshal(sr.Record)
	if err != nil {
		return ErrMalformedRecord
	}
	if !canonical.Verify(pubKey, data, sr.Signature) {
		return ErrBadSignature
	}
	if !isFresh(sr.Record.ObservedAt, now) {
		return ErrStaleRecord
	}
	if err := validateFieldRanges(sr.Record); err != nil {
		return err
	}
	return nil
}

// validateFieldRanges enforces spec.md §4.9 receive step 5 and invariant
// I10: a record that verifies under a trusted key is still rejected if
// its severity or block duration falls outside the bounds a Threat
// Record is defined to carry.
func validateFieldRanges(r ThreatRecord) error {
	if r.Severity < minSeverity || r.Severity > maxSeverity {
		return ErrFieldOutOfRange
	}
	duration := r.ExpiresAt.Sub(r.ObservedAt)
	if duration < minDuration || duration > maxDuration {
		return ErrFieldOutOfRange
	}
	return nil
}

// isFresh reports whether observedAt is within maxClockSkew of now in
// either direction, the same symmetric-window check
// internal/federation/crypto.go's IsNonceFresh applies to handshake
// nonces.
func isFresh(observedAt, now time.Time) bool {
	delta := now.Sub(observedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= maxClockSkew
}
