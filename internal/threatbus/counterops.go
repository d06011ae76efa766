package threatbus

import "github.com/aegis-network/edge-core/internal/canonical"

// CounterOp is the wire payload gossiped on counter-ops/v1: a single
// actor's delta to a G-Counter/PN-Counter key, encoded the same way as a
// ThreatRecord (canonical JSON, detached Ed25519 signature) per the
// decision recorded in DESIGN.md's Open Questions section.
type CounterOp struct {
	Actor     string `json:"actor"`
	IssuerKey string `json:"issuer_key"`
	Key       string `json:"key"`
	Increment uint64 `json:"increment"`
	Decrement uint64 `json:"decrement"`
	Epoch     int64  `json:"epoch"`
	// Seq is the actor-local monotonic sequence number of this operation,
	// used by the receiving replica's vector clock to detect causality
	// violations (a gap means a predecessor op has not yet been observed).
	Seq uint64 `json:"seq"`
}

// SignedCounterOp pairs a CounterOp with its detached signature.
type SignedCounterOp struct {
	Op        CounterOp `json:"op"`
	Signature []byte    `json:"signature"`
}

// SignCounterOp signs op with signer.
func SignCounterOp(signer *canonical.Signer, op CounterOp) (*SignedCounterOp, error) {
	_, sig, err := signer.SignValue(op)
	if err != nil {
		return nil, err
	}
	return &SignedCounterOp{Op: op, Signature: sig}, nil
}

// VerifyCounterOp checks a SignedCounterOp's signature against pubKey.
func VerifyCounterOp(sop *SignedCounterOp, pubKey []byte) bool {
	data, err := canonical.Marshal(sop.Op)
	if err != nil {
		return false
	}
	return canonical.Verify(pubKey, data, sop.Signature)
}
