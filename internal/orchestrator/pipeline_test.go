package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-network/edge-core/internal/botclassifier"
	"github.com/aegis-network/edge-core/internal/canonical"
	"github.com/aegis-network/edge-core/internal/challenge"
	"github.com/aegis-network/edge-core/internal/crdtcounter"
	"github.com/aegis-network/edge-core/internal/droporacle"
	"github.com/aegis-network/edge-core/internal/reqctx"
	"github.com/aegis-network/edge-core/internal/waf"
)

func newTestClassifier(t *testing.T) *botclassifier.Classifier {
	t.Helper()
	patterns, err := botclassifier.LoadPatterns(botclassifier.DefaultMaliciousPatterns)
	require.NoError(t, err)
	limiter := botclassifier.NewRateLimiter(1000, time.Second)
	return botclassifier.New(patterns, limiter, 1000, 10)
}

func newTestOracle(t *testing.T) *droporacle.Oracle {
	t.Helper()
	o, err := droporacle.New("")
	require.NoError(t, err)
	return o
}

func newTestPipeline(t *testing.T, mutate func(*Deps)) *Pipeline {
	t.Helper()
	deps := Deps{
		NodeID:     "node-test",
		Oracle:     newTestOracle(t),
		Classifier: newTestClassifier(t),
		CRDTManager: crdtcounter.NewManager("node-test", 10*time.Second, nil, nil),
		Routes:     NewRouteTable(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(deps)
}

func newRequest(method, uri, ua, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, uri, nil)
	req.Header.Set("User-Agent", ua)
	req.RemoteAddr = remoteAddr
	return req
}

func TestPipelineEarlyBlockShortCircuitsBeforeClassification(t *testing.T) {
	oracle := newTestOracle(t)
	blockedIP := netip.MustParseAddr("203.0.113.9")
	oracle.Block(netip.PrefixFrom(blockedIP, 32), time.Hour)

	p := newTestPipeline(t, func(d *Deps) { d.Oracle = oracle })

	w := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/", "curl/8.0", "203.0.113.9:1234")
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPipelineClassifyWritesVerdictOntoContext(t *testing.T) {
	p := newTestPipeline(t, nil)

	rc := reqctx.New(http.MethodGet, "/", http.Header{"User-Agent": {"sqlmap/1.7"}}, nil,
		netip.MustParseAddr("198.51.100.4"), "req-1")
	p.Run(context.Background(), rc, nil, nil)

	assert.Equal(t, reqctx.VerdictMalicious, rc.Verdict)
}

func TestPipelineSuspiciousVerdictWithoutTokenReceivesChallenge(t *testing.T) {
	signer, err := canonical.NewSigner()
	require.NoError(t, err)
	engine := challenge.NewEngine(signer, 0, 0, time.Minute, []byte("salt"))

	p := newTestPipeline(t, func(d *Deps) { d.ChallengeEngine = engine })

	rc := reqctx.New(http.MethodGet, "/", http.Header{"User-Agent": {"python-requests/2.31"}}, nil,
		netip.MustParseAddr("198.51.100.5"), "req-2")
	rc.TLSFingerprint = "not-a-known-bot-digest"
	p.Run(context.Background(), rc, nil, nil)

	assert.Equal(t, reqctx.VerdictSuspicious, rc.Verdict)
	assert.Equal(t, http.StatusForbidden, rc.RespStatus)

	var issued challenge.Issued
	require.NoError(t, json.Unmarshal(rc.RespBody, &issued))
	assert.NotEmpty(t, issued.ID)
	assert.NotEmpty(t, issued.Nonce)
}

func TestPipelineValidTokenPassesChallengeGate(t *testing.T) {
	signer, err := canonical.NewSigner()
	require.NoError(t, err)
	engine := challenge.NewEngine(signer, 0, 0, time.Minute, []byte("salt"))

	p := newTestPipeline(t, func(d *Deps) { d.ChallengeEngine = engine })

	clientIP := netip.MustParseAddr("198.51.100.6")
	fingerprint := "not-a-known-bot-digest"

	issued, err := engine.Issue(clientIP, fingerprint, 0)
	require.NoError(t, err)
	tok, err := engine.Verify(issued.ID, "any-solution", clientIP, fingerprint)
	require.NoError(t, err)
	encoded, err := challenge.EncodeToken(tok)
	require.NoError(t, err)

	header := http.Header{"User-Agent": {"python-requests/2.31"}}
	header.Set(challengeTokenHeader, encoded)
	rc := reqctx.New(http.MethodGet, "/", header, nil, clientIP, "req-3")
	rc.TLSFingerprint = fingerprint
	p.Run(context.Background(), rc, nil, nil)

	assert.Equal(t, reqctx.VerdictSuspicious, rc.Verdict)
	assert.NotEqual(t, http.StatusForbidden, rc.RespStatus)
	assert.Equal(t, encoded, rc.ChallengeToken)
}

func TestPipelineWAFBlocksSQLInjectionAndRecordsThreatSignal(t *testing.T) {
	wafEngine, err := waf.NewEngine(waf.DefaultRules)
	require.NoError(t, err)

	p := newTestPipeline(t, func(d *Deps) {
		d.WAFEngine = wafEngine
		d.WAFPolicy = waf.DefaultActionPolicy()
	})

	rc := reqctx.New(http.MethodGet, "/search?q=1 UNION SELECT password FROM users",
		http.Header{"User-Agent": {"Mozilla/5.0"}}, nil, netip.MustParseAddr("198.51.100.7"), "req-4")
	p.Run(context.Background(), rc, nil, nil)

	assert.Equal(t, http.StatusForbidden, rc.RespStatus)
	require.NotNil(t, rc.ThreatSignal)
	assert.Equal(t, "waf_block", rc.ThreatSignal.Class)
}

func TestPipelineWAFAllowsCleanRequestThrough(t *testing.T) {
	wafEngine, err := waf.NewEngine(waf.DefaultRules)
	require.NoError(t, err)

	p := newTestPipeline(t, func(d *Deps) {
		d.WAFEngine = wafEngine
		d.WAFPolicy = waf.DefaultActionPolicy()
	})

	rc := reqctx.New(http.MethodGet, "/products", http.Header{"User-Agent": {"Mozilla/5.0"}}, nil,
		netip.MustParseAddr("198.51.100.8"), "req-5")
	p.Run(context.Background(), rc, nil, nil)

	assert.Nil(t, rc.ThreatSignal)
	assert.NotEqual(t, http.StatusForbidden, rc.RespStatus)
}

func TestPipelineServeHTTPDefaultsTo200WithNoUpstreamConfigured(t *testing.T) {
	p := newTestPipeline(t, nil)

	w := httptest.NewRecorder()
	req := newRequest(http.MethodGet, "/", "Mozilla/5.0", "198.51.100.9:4321")
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipelineCacheMissWithoutUpstreamMarksCompletion(t *testing.T) {
	p := newTestPipeline(t, nil)

	rc := reqctx.New(http.MethodGet, "/a", http.Header{"User-Agent": {"Mozilla/5.0"}}, nil,
		netip.MustParseAddr("198.51.100.10"), "req-6")
	p.Run(context.Background(), rc, nil, nil)

	assert.False(t, rc.CacheHit)
	assert.False(t, rc.CompletionTime.IsZero())
}
