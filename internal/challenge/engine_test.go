package challenge

import (
	"net/netip"
	"testing"
	"time"

	"github.com/aegis-network/edge-core/internal/canonical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *canonical.Signer) {
	t.Helper()
	signer, err := canonical.NewSigner()
	require.NoError(t, err)
	return NewEngine(signer, 1, 8, 5*time.Minute, []byte("test-salt")), signer
}

func solvePoW(nonce string, difficulty int) string {
	for i := 0; ; i++ {
		solution := string(rune(i))
		if CheckPoW(nonce, solution, difficulty) {
			return solution
		}
		if i > 5_000_000 {
			return solution
		}
	}
}

func TestIssueVerifyMintsExactlyOneToken(t *testing.T) {
	e, signer := newTestEngine(t)
	ip := netip.MustParseAddr("203.0.113.5")

	issued, err := e.Issue(ip, "fp-1", 1)
	require.NoError(t, err)

	solution := solvePoW(issued.Nonce, issued.Difficulty)
	tok, err := e.Verify(issued.ID, solution, ip, "fp-1")
	require.NoError(t, err)
	require.NotNil(t, tok)

	// Re-verifying the same (now consumed) challenge id must fail.
	_, err = e.Verify(issued.ID, solution, ip, "fp-1")
	assert.Error(t, err)

	err = e.VerifyToken(tok, signer.PublicKey(), ip, "fp-1")
	assert.NoError(t, err)
}

func TestVerifyIPMismatchRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ip := netip.MustParseAddr("203.0.113.5")
	other := netip.MustParseAddr("203.0.113.6")

	issued, err := e.Issue(ip, "fp-1", 1)
	require.NoError(t, err)

	solution := solvePoW(issued.Nonce, issued.Difficulty)
	_, err = e.Verify(issued.ID, solution, other, "fp-1")
	assert.ErrorIs(t, err, ErrIPMismatch)
}

func TestVerifyFingerprintMismatchRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ip := netip.MustParseAddr("203.0.113.5")

	issued, err := e.Issue(ip, "fp-1", 1)
	require.NoError(t, err)

	solution := solvePoW(issued.Nonce, issued.Difficulty)
	_, err = e.Verify(issued.ID, solution, ip, "fp-other")
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestTokenReplayRejected(t *testing.T) {
	e, signer := newTestEngine(t)
	ip := netip.MustParseAddr("203.0.113.5")

	issued, err := e.Issue(ip, "fp-1", 1)
	require.NoError(t, err)
	solution := solvePoW(issued.Nonce, issued.Difficulty)
	tok, err := e.Verify(issued.ID, solution, ip, "fp-1")
	require.NoError(t, err)

	require.NoError(t, e.VerifyToken(tok, signer.PublicKey(), ip, "fp-1"))
	err = e.VerifyToken(tok, signer.PublicKey(), ip, "fp-1")
	assert.ErrorIs(t, err, ErrReplayedJti)
}

func TestTokenBitFlipFailsVerification(t *testing.T) {
	e, signer := newTestEngine(t)
	ip := netip.MustParseAddr("203.0.113.5")

	issued, err := e.Issue(ip, "fp-1", 1)
	require.NoError(t, err)
	solution := solvePoW(issued.Nonce, issued.Difficulty)
	tok, err := e.Verify(issued.ID, solution, ip, "fp-1")
	require.NoError(t, err)

	tok.Claims.Exp++ // flip a bit in the signed payload
	err = e.VerifyToken(tok, signer.PublicKey(), ip, "fp-1")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestDifficultyScalesWithSuspiciousFraction(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, 1, e.CurrentDifficulty(0))
	assert.Equal(t, 8, e.CurrentDifficulty(1))
	mid := e.CurrentDifficulty(0.5)
	assert.True(t, mid >= 1 && mid <= 8)
}
