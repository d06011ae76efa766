package threatbus

import (
	"testing"
	"time"

	"github.com/aegis-network/edge-core/internal/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := canonical.NewSigner()
	require.NoError(t, err)

	rec := ThreatRecord{
		ID:         "rec-1",
		IssuerKey:  "abc",
		Class:      "malicious",
		Severity:   5,
		Subject:    "203.0.113.0/24",
		Reason:     "repeated WAF critical blocks",
		ObservedAt: time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	sr, err := Sign(signer, rec)
	require.NoError(t, err)

	assert.NoError(t, Verify(sr, signer.PublicKey(), time.Now()))
}

func TestVerifyRejectsStaleRecord(t *testing.T) {
	signer, err := canonical.NewSigner()
	require.NoError(t, err)

	rec := ThreatRecord{ID: "rec-2", ObservedAt: time.Now().Add(-time.Hour)}
	sr, err := Sign(signer, rec)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(sr, signer.PublicKey(), time.Now()), ErrStaleRecord)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	signer, err := canonical.NewSigner()
	require.NoError(t, err)
	other, err := canonical.NewSigner()
	require.NoError(t, err)

	rec := ThreatRecord{ID: "rec-3", ObservedAt: time.Now()}
	sr, err := Sign(signer, rec)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(sr, other.PublicKey(), time.Now()), ErrBadSignature)
}

func TestSignedCounterOpRoundTrip(t *testing.T) {
	signer, err := canonical.NewSigner()
	require.NoError(t, err)

	op := CounterOp{Actor: "node-1", Key: "rate:203.0.113.5", Increment: 4, Epoch: 100}
	sop, err := SignCounterOp(signer, op)
	require.NoError(t, err)
	assert.True(t, VerifyCounterOp(sop, signer.PublicKey()))

	sop.Op.Increment = 999
	assert.False(t, VerifyCounterOp(sop, signer.PublicKey()))
}
