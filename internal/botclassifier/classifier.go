package botclassifier

import (
	"net/netip"
	"regexp"
	"strings"
	"sync"

	"github.com/aegis-network/edge-core/internal/reqctx"
)

const maxUserAgentBytes = 1024

// Classifier implements C3's first-match-wins verdict algorithm.
type Classifier struct {
	mu sync.RWMutex

	whitelist map[netip.Prefix]struct{}
	blacklist map[netip.Prefix]struct{}

	malicious      *PatternSet
	scriptedClient []*regexp.Regexp

	verdicts *VerdictStore
	limiter  *RateLimiter

	suspiciousRateThreshold float64 // requests/sec
	crdtSuspiciousMin       float64
}

// New builds a Classifier. malicious may be nil to use DefaultMaliciousPatterns.
func New(malicious *PatternSet, limiter *RateLimiter, suspiciousRatePerSec, crdtSuspiciousMin float64) *Classifier {
	if malicious == nil {
		malicious, _ = LoadPatterns(DefaultMaliciousPatterns)
	}
	scripted, _ := LoadPatterns(ScriptedClientPatterns)
	var scriptedRe []*regexp.Regexp
	if scripted != nil {
		scriptedRe = scripted.malicious
	}
	if suspiciousRatePerSec <= 0 {
		suspiciousRatePerSec = 10
	}
	return &Classifier{
		whitelist:               make(map[netip.Prefix]struct{}),
		blacklist:                make(map[netip.Prefix]struct{}),
		malicious:                malicious,
		scriptedClient:           scriptedRe,
		verdicts:                 NewVerdictStore(0),
		limiter:                  limiter,
		suspiciousRateThreshold:  suspiciousRatePerSec,
		crdtSuspiciousMin:        crdtSuspiciousMin,
	}
}

// Whitelist marks addr as trusted (step 1).
func (c *Classifier) Whitelist(p netip.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.whitelist[p] = struct{}{}
}

// Blacklist marks addr as known-malicious (step 2).
func (c *Classifier) Blacklist(p netip.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blacklist[p] = struct{}{}
}

// MarkKnownBotFingerprint records fingerprint as belonging to a known bot
// consistent with uaHint (feeds step 4).
func (c *Classifier) MarkKnownBotFingerprint(digest, uaHint string) {
	c.verdicts.MarkKnownBot(digest, uaHint, 0.8)
}

func (c *Classifier) inSet(addr netip.Addr, set map[netip.Prefix]struct{}) bool {
	for p := range set {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// isBrowserClassFingerprint is a coarse heuristic: fingerprints the classifier
// has not flagged as a known bot, and which exhibit a rich cipher/extension
// profile, are treated as browser-class. Since tlsfp doesn't expose parsed
// cipher counts to this package, the proxy signal is simply "not a known-bot
// fingerprint and not empty" — real discrimination lives in the TLS JA4
// database an operator loads via MarkKnownBotFingerprint.
func (c *Classifier) isBrowserClassFingerprint(digest string) bool {
	if digest == "" {
		return false
	}
	_, _, known := c.verdicts.Lookup(digest)
	return !known
}

// Classify runs the first-match-wins algorithm of spec §4.3.
func (c *Classifier) Classify(fingerprint, userAgent string, clientIP netip.Addr, crdtRate float64) Verdict {
	if len(userAgent) > maxUserAgentBytes {
		userAgent = userAgent[:maxUserAgentBytes]
	}

	c.mu.RLock()
	whitelisted := c.inSet(clientIP, c.whitelist)
	blacklisted := c.inSet(clientIP, c.blacklist)
	c.mu.RUnlock()

	// 1. whitelist -> Human
	if whitelisted {
		return Verdict{Verdict: reqctx.VerdictHuman, Confidence: 1.0}
	}
	// 2. blacklist -> Malicious
	if blacklisted {
		return Verdict{Verdict: reqctx.VerdictMalicious, Confidence: 1.0}
	}
	// 3. malicious UA pattern -> Malicious
	if c.malicious.MatchesMalicious(userAgent) {
		return Verdict{Verdict: reqctx.VerdictMalicious, Confidence: 0.9}
	}
	// 4. known-bot fingerprint consistent with UA -> KnownBot
	if uaHint, confidence, ok := c.verdicts.Lookup(fingerprint); ok {
		if uaHint == "" || strings.Contains(strings.ToLower(userAgent), strings.ToLower(uaHint)) {
			return Verdict{Verdict: reqctx.VerdictKnownBot, Confidence: confidence}
		}
	}
	// 5. fingerprint/UA mismatch -> Suspicious
	if c.isBrowserClassFingerprint(fingerprint) && c.matchesScriptedClient(userAgent) {
		return Verdict{Verdict: reqctx.VerdictSuspicious, Confidence: 0.7}
	}
	// 6. CRDT cross-node rate signal or local rate over threshold -> Suspicious
	localRate := crdtRate
	if c.limiter != nil {
		localRate = c.limiter.Rate(clientIP.String())
	}
	if localRate > c.suspiciousRateThreshold || crdtRate > c.crdtSuspiciousMin {
		return Verdict{Verdict: reqctx.VerdictSuspicious, Confidence: 0.6}
	}
	// 7. else Human
	return Verdict{Verdict: reqctx.VerdictHuman, Confidence: 0.5}
}

func (c *Classifier) matchesScriptedClient(ua string) bool {
	for _, re := range c.scriptedClient {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}
