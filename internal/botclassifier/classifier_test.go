package botclassifier

import (
	"net/netip"
	"testing"
	"time"

	"github.com/aegis-network/edge-core/internal/reqctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	patterns, err := LoadPatterns(DefaultMaliciousPatterns)
	require.NoError(t, err)
	limiter := NewRateLimiter(10, time.Second)
	return New(patterns, limiter, 10, 0.4)
}

func TestClassifyWhitelistWins(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("203.0.113.5")
	c.Whitelist(netip.PrefixFrom(addr, 32))

	v := c.Classify("", "sqlmap/1.0", addr, 0)
	assert.Equal(t, reqctx.VerdictHuman, v.Verdict)
	assert.Equal(t, 1.0, v.Confidence)
}

func TestClassifyBlacklistBeatsEverythingElse(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("198.51.100.7")
	c.Blacklist(netip.PrefixFrom(addr, 32))

	v := c.Classify("fp", "Mozilla/5.0", addr, 0)
	assert.Equal(t, reqctx.VerdictMalicious, v.Verdict)
}

func TestClassifyMaliciousPattern(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("192.0.2.10")
	v := c.Classify("fp", "sqlmap/1.6.12", addr, 0)
	assert.Equal(t, reqctx.VerdictMalicious, v.Verdict)
	assert.Equal(t, 0.9, v.Confidence)
}

func TestClassifyKnownBotFingerprint(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("192.0.2.20")
	c.MarkKnownBotFingerprint("bot-fp-1", "googlebot")

	v := c.Classify("bot-fp-1", "Mozilla/5.0 (compatible; Googlebot/2.1)", addr, 0)
	assert.Equal(t, reqctx.VerdictKnownBot, v.Verdict)
}

func TestClassifyFingerprintUAMismatchSuspicious(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("192.0.2.30")
	v := c.Classify("unseen-browser-fp", "python-requests/2.31", addr, 0)
	assert.Equal(t, reqctx.VerdictSuspicious, v.Verdict)
	assert.Equal(t, 0.7, v.Confidence)
}

func TestClassifyHighRateSuspicious(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("192.0.2.40")
	v := c.Classify("fp-none", "Mozilla/5.0", addr, 0.5)
	assert.Equal(t, reqctx.VerdictSuspicious, v.Verdict)
	assert.Equal(t, 0.6, v.Confidence)
}

func TestClassifyDefaultHuman(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("192.0.2.50")
	v := c.Classify("", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", addr, 0)
	assert.Equal(t, reqctx.VerdictHuman, v.Verdict)
	assert.Equal(t, 0.5, v.Confidence)
}

func TestUserAgentTruncated(t *testing.T) {
	c := newTestClassifier(t)
	addr := netip.MustParseAddr("192.0.2.60")
	longUA := make([]byte, maxUserAgentBytes*2)
	for i := range longUA {
		longUA[i] = 'a'
	}
	v := c.Classify("", string(longUA), addr, 0)
	assert.Equal(t, reqctx.VerdictHuman, v.Verdict)
}
