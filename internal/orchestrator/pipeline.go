// Package orchestrator implements C12: the request orchestrator that
// sequences every other component into the ten-phase request pipeline
// (accept/fingerprint, early block, classify, challenge gate, WAF, edge
// function, cache, upstream, emit, post). The capture/consult/enforce/
// execute shape is grounded on internal/api/proxy.go's handler, generalized
// from its fixed kill-switch/shadow-mode/jury sequence to AEGIS's longer,
// component-backed phase list.
package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-network/edge-core/internal/botclassifier"
	"github.com/aegis-network/edge-core/internal/cache"
	"github.com/aegis-network/edge-core/internal/canonical"
	"github.com/aegis-network/edge-core/internal/challenge"
	"github.com/aegis-network/edge-core/internal/crdtcounter"
	"github.com/aegis-network/edge-core/internal/droporacle"
	"github.com/aegis-network/edge-core/internal/evidence"
	"github.com/aegis-network/edge-core/internal/metrics"
	"github.com/aegis-network/edge-core/internal/originproxy"
	"github.com/aegis-network/edge-core/internal/reqctx"
	"github.com/aegis-network/edge-core/internal/threatbus"
	"github.com/aegis-network/edge-core/internal/tlsfp"
	"github.com/aegis-network/edge-core/internal/waf"
	"github.com/aegis-network/edge-core/internal/wasmhost"
)

const challengeTokenHeader = "X-AEGIS-Challenge-Token"

// rawClientHelloKey is the context key carrying the raw ClientHello bytes
// an edge listener captured ahead of the ordinary net/http accept path
// (capture itself lives at the cmd/aegisd listener layer; this package
// only consumes whatever bytes it's handed).
type ctxKey int

const rawClientHelloKey ctxKey = iota

// WithRawClientHello attaches raw to ctx for a downstream ServeHTTP call
// to pick up in phase 1.
func WithRawClientHello(ctx context.Context, raw []byte) context.Context {
	return context.WithValue(ctx, rawClientHelloKey, raw)
}

// RawClientHelloFromContext retrieves bytes previously attached by
// WithRawClientHello.
func RawClientHelloFromContext(ctx context.Context) ([]byte, bool) {
	raw, ok := ctx.Value(rawClientHelloKey).([]byte)
	return raw, ok
}

// Pipeline wires every component into the ten-phase request flow. A
// Pipeline is safe for concurrent use by many goroutines; Run/ServeHTTP
// hold no pipeline-wide lock, only whatever locking each component does
// internally.
type Pipeline struct {
	nodeID string

	oracle          *droporacle.Oracle
	classifier      *botclassifier.Classifier
	challengeEngine *challenge.Engine
	wafEngine       *waf.Engine
	wafPolicy       *waf.ActionPolicy
	wasmManager     *wasmhost.Manager
	routes          *RouteTable
	cache           *cache.Cache
	proxy           *originproxy.Proxy
	crdtMgr         *crdtcounter.Manager
	bus             *threatbus.Bus
	busSigner       *canonical.Signer
	console         *Console
	vault           *evidence.Vault

	rateWindow       time.Duration
	challengeTTL     time.Duration
	threatRecordTTL  time.Duration
}

// Deps bundles every component Pipeline wires, named after spec.md's
// component numbering so callers can see which C-number feeds which field.
type Deps struct {
	NodeID          string
	Oracle          *droporacle.Oracle
	Classifier      *botclassifier.Classifier
	ChallengeEngine *challenge.Engine
	WAFEngine       *waf.Engine
	WAFPolicy       *waf.ActionPolicy
	WasmManager     *wasmhost.Manager
	Routes          *RouteTable
	Cache           *cache.Cache
	Proxy           *originproxy.Proxy
	CRDTManager     *crdtcounter.Manager
	Bus             *threatbus.Bus
	BusSigner       *canonical.Signer
	Console         *Console
	Vault           *evidence.Vault
	RateWindow      time.Duration
	ChallengeTTL    time.Duration
	ThreatRecordTTL time.Duration
}

// New builds a Pipeline from deps, applying defaults for any zero-value
// duration.
func New(deps Deps) *Pipeline {
	if deps.WAFPolicy == nil {
		deps.WAFPolicy = waf.DefaultActionPolicy()
	}
	if deps.Routes == nil {
		deps.Routes = NewRouteTable()
	}
	if deps.RateWindow <= 0 {
		deps.RateWindow = 10 * time.Second
	}
	if deps.ChallengeTTL <= 0 {
		deps.ChallengeTTL = 10 * time.Minute
	}
	if deps.ThreatRecordTTL <= 0 {
		deps.ThreatRecordTTL = time.Hour
	}
	return &Pipeline{
		nodeID:          deps.NodeID,
		oracle:          deps.Oracle,
		classifier:      deps.Classifier,
		challengeEngine: deps.ChallengeEngine,
		wafEngine:       deps.WAFEngine,
		wafPolicy:       deps.WAFPolicy,
		wasmManager:     deps.WasmManager,
		routes:          deps.Routes,
		cache:           deps.Cache,
		proxy:           deps.Proxy,
		crdtMgr:         deps.CRDTManager,
		bus:             deps.Bus,
		busSigner:       deps.BusSigner,
		console:         deps.Console,
		vault:           deps.Vault,
		rateWindow:      deps.RateWindow,
		challengeTTL:    deps.ChallengeTTL,
		threatRecordTTL: deps.ThreatRecordTTL,
	}
}

// edgeFunctionOutput is the JSON shape an EdgeFunction-class Wasm module
// returns in its Result.Output.
type edgeFunctionOutput struct {
	Status         int         `json:"status"`
	Header         http.Header `json:"header"`
	Body           []byte      `json:"body"`
	TerminateEarly bool        `json:"terminate_early"`
}

// wafModuleOutput is the JSON shape a WAF-class Wasm module returns in its
// Result.Output: an additional match beyond the static rule set.
type wafModuleOutput struct {
	Matched bool   `json:"matched"`
	Action  string `json:"action"` // "block", "log", or "allow"
}

// ServeHTTP is the real HTTP entry point: it builds a Request Context from
// r, runs it through Run, and writes the resulting decision back onto w.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := clientAddrFromRequest(r)
	body := readBodyBounded(r)
	requestID := uuid.NewString()

	rc := reqctx.New(r.Method, r.URL.RequestURI(), r.Header, body, clientIP, requestID)

	var rawHello []byte
	if raw, ok := RawClientHelloFromContext(r.Context()); ok {
		rawHello = raw
	}

	p.Run(r.Context(), rc, rawHello, r)

	for k, vs := range rc.RespHeader {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if rc.RespStatus == 0 {
		rc.RespStatus = http.StatusOK
	}
	w.WriteHeader(rc.RespStatus)
	if len(rc.RespBody) > 0 {
		_, _ = w.Write(rc.RespBody)
	}
}

// Run executes all ten pipeline phases against rc. upstreamReq is only
// consulted in phase 8 (upstream) and may be nil for tests that never
// reach it (e.g. a request blocked earlier).
func (p *Pipeline) Run(ctx context.Context, rc *reqctx.Context, rawHello []byte, upstreamReq *http.Request) {
	defer p.emitMetrics(rc)

	// Phase 1: accept & fingerprint.
	if len(rawHello) > 0 {
		if res, err := tlsfp.Fingerprint(rawHello); err == nil {
			rc.TLSFingerprint = res.JA4
		}
	}
	p.trace(rc, "accept")

	// Phase 2: early block.
	if p.oracle != nil && p.oracle.IsBlocked(rc.ClientIP) {
		metrics.Get().DropOracleBlocked.Inc()
		if p.vault != nil {
			p.vault.RecordEarlyBlock(ctx, rc.RequestID, rc.ClientIP.String())
		}
		p.writeStatus(rc, http.StatusForbidden, "blocked")
		p.trace(rc, "early_block")
		p.postPhase(rc)
		return
	}

	// Phase 3: classify.
	crdtRate := p.currentRate(rc.ClientIP)
	verdict := p.classifier.Classify(rc.TLSFingerprint, rc.Header.Get("User-Agent"), rc.ClientIP, crdtRate)
	rc.Verdict = verdict.Verdict
	rc.VerdictConfidence = verdict.Confidence
	if p.crdtMgr != nil {
		p.crdtMgr.Increment(rateKey(rc.ClientIP), 1)
	}
	metrics.Get().VerdictTotal.WithLabelValues(string(rc.Verdict)).Inc()
	p.trace(rc, "classify")

	// Malicious verdicts are blocked outright; only Suspicious goes
	// through the challenge gate.
	if rc.Verdict == reqctx.VerdictMalicious {
		p.writeStatus(rc, http.StatusForbidden, "blocked")
		p.trace(rc, "classify_block")
		p.postPhase(rc)
		return
	}

	// Phase 4: challenge gate.
	if rc.Verdict == reqctx.VerdictSuspicious {
		if !p.passesChallengeGate(ctx, rc) {
			p.trace(rc, "challenge_gate")
			p.postPhase(rc)
			return
		}
	}
	p.trace(rc, "challenge_gate")

	// Phase 5: WAF.
	if !p.runWAF(ctx, rc) {
		p.trace(rc, "waf")
		p.postPhase(rc)
		return
	}
	p.trace(rc, "waf")

	// Phase 6: edge function.
	if p.runEdgeFunction(ctx, rc) {
		p.trace(rc, "edge_function")
		p.postPhase(rc)
		return
	}
	p.trace(rc, "edge_function")

	// Phase 7: cache lookup.
	rc.CacheKey = cache.BuildKey(rc.Method, rc.URI)
	if p.cache != nil {
		if entry, hit := p.cache.Get(ctx, rc.CacheKey); hit {
			rc.CacheHit = true
			rc.RespStatus = entry.Status
			rc.RespHeader = cloneHeader(entry.Header)
			rc.RespBody = entry.Body
			p.mergeNodeHeaders(rc, "HIT")
			metrics.Get().CacheHitTotal.Inc()
			p.trace(rc, "cache")
			p.emit(rc)
			p.postPhase(rc)
			return
		}
	}
	metrics.Get().CacheMissTotal.Inc()
	p.trace(rc, "cache")

	// Phase 8: upstream.
	rc.UpstreamStart = time.Now()
	if p.proxy != nil && upstreamReq != nil {
		rec := newResponseRecorder()
		p.proxy.ServeHTTP(rec, upstreamReq)
		rc.RespStatus = rec.status
		rc.RespHeader = cloneHeader(rec.header)
		rc.RespBody = rec.body.Bytes()
		p.mergeNodeHeaders(rc, "MISS")
		if p.cache != nil {
			_ = p.cache.Set(ctx, rc.CacheKey, &cache.Entry{
				Status: rc.RespStatus,
				Header: rc.RespHeader,
				Body:   rc.RespBody,
			})
		}
	}
	p.trace(rc, "upstream")

	// Phase 9: emit.
	p.emit(rc)

	// Phase 10: post.
	p.postPhase(rc)
}

// passesChallengeGate checks for a valid challenge token on rc and, if
// absent or invalid, writes a challenge page onto rc and returns false.
func (p *Pipeline) passesChallengeGate(ctx context.Context, rc *reqctx.Context) bool {
	if p.challengeEngine == nil {
		return true
	}
	tokenStr := rc.Header.Get(challengeTokenHeader)
	if tokenStr != "" {
		tok, err := challenge.DecodeToken(tokenStr)
		if err == nil {
			if err := p.challengeEngine.VerifyToken(tok, p.challengeEngine.PublicKey(), rc.ClientIP, rc.TLSFingerprint); err == nil {
				rc.ChallengeToken = tokenStr
				return true
			} else {
				metrics.Get().ChallengeFailed.WithLabelValues(challengeFailureReason(err)).Inc()
			}
		} else {
			metrics.Get().ChallengeFailed.WithLabelValues("malformed").Inc()
		}
	}

	difficulty := p.challengeEngine.CurrentDifficulty(0)
	issued, err := p.challengeEngine.Issue(rc.ClientIP, rc.TLSFingerprint, difficulty)
	if err != nil {
		p.writeStatus(rc, http.StatusForbidden, "challenge unavailable")
		return false
	}
	metrics.Get().ChallengeIssued.Inc()
	if p.vault != nil {
		p.vault.RecordChallengeIssued(ctx, rc.RequestID, rc.ClientIP.String(), issued.ID)
	}
	payload, _ := json.Marshal(issued)
	rc.RespStatus = http.StatusForbidden
	rc.RespHeader = make(http.Header)
	rc.RespHeader.Set("Content-Type", "application/json")
	rc.RespBody = payload
	return false
}

func challengeFailureReason(err error) string {
	switch err {
	case challenge.ErrExpired:
		return "expired"
	case challenge.ErrIPMismatch:
		return "ip_mismatch"
	case challenge.ErrFingerprintMismatch:
		return "fingerprint_mismatch"
	case challenge.ErrReplayedJti:
		return "replayed_jti"
	case challenge.ErrBadSignature:
		return "bad_signature"
	default:
		return "malformed"
	}
}

// runWAF evaluates static rules plus any bound WAF-class Wasm module,
// applying the most severe resulting action. It returns false if the
// request was blocked (rc's response is already written in that case).
func (p *Pipeline) runWAF(ctx context.Context, rc *reqctx.Context) bool {
	if p.wafEngine == nil {
		return true
	}
	matches := p.wafEngine.Analyze(rc.Method, rc.URI, rc.Header, rc.Body)
	action := waf.MostSevereAction(p.wafPolicy, matches)

	if binding, ok := p.routes.Resolve(rc.Method, rc.URI, ModuleClassWAF); ok && p.wasmManager != nil {
		result, err := p.wasmManager.Invoke(ctx, binding.ModuleID, wasmhost.ViewRequest(rc))
		if err != nil {
			metrics.Get().WasmFailures.WithLabelValues(string(wasmhost.ClassWAF), "invoke_error").Inc()
		} else if result.Success {
			var out wafModuleOutput
			if jsonErr := json.Unmarshal(result.Output, &out); jsonErr == nil && out.Matched {
				if moduleAction := reqctx.WAFAction(out.Action); rankAction(moduleAction) > rankAction(action) {
					action = moduleAction
				}
			}
		} else {
			metrics.Get().WAFModuleErrors.WithLabelValues(binding.ModuleID).Inc()
		}
	}

	switch action {
	case reqctx.WAFActionBlock:
		for _, m := range matches {
			metrics.Get().WAFActionTotal.WithLabelValues(string(action), m.RuleID).Inc()
			if p.vault != nil {
				p.vault.RecordWAFMatch(ctx, rc.RequestID, rc.ClientIP.String(), m.RuleID, string(action))
			}
		}
		rc.ThreatSignal = &reqctx.ThreatSignal{Class: "waf_block", Severity: 8, Reason: "waf rule blocked request"}
		p.writeStatus(rc, http.StatusForbidden, "request blocked")
		return false
	case reqctx.WAFActionLog:
		for _, m := range matches {
			metrics.Get().WAFActionTotal.WithLabelValues(string(action), m.RuleID).Inc()
			if p.vault != nil {
				p.vault.RecordWAFMatch(ctx, rc.RequestID, rc.ClientIP.String(), m.RuleID, string(action))
			}
		}
		return true
	default:
		return true
	}
}

func rankAction(a reqctx.WAFAction) int {
	switch a {
	case reqctx.WAFActionBlock:
		return 2
	case reqctx.WAFActionLog:
		return 1
	default:
		return 0
	}
}

// runEdgeFunction invokes the EdgeFunction-class module bound to rc's
// route, if any, applying its response and returning true if it set
// TerminateEarly (cache+upstream must then be skipped).
func (p *Pipeline) runEdgeFunction(ctx context.Context, rc *reqctx.Context) bool {
	binding, ok := p.routes.Resolve(rc.Method, rc.URI, ModuleClassEdgeFunction)
	if !ok || p.wasmManager == nil {
		return false
	}
	result, err := p.wasmManager.Invoke(ctx, binding.ModuleID, wasmhost.ViewRequest(rc))
	if err != nil {
		metrics.Get().WasmFailures.WithLabelValues(string(wasmhost.ClassEdgeFunction), "invoke_error").Inc()
		p.writeStatus(rc, http.StatusBadGateway, "edge function unavailable")
		rc.TerminateEarly = true
		return true
	}
	if !result.Success {
		return false
	}
	var out edgeFunctionOutput
	if err := json.Unmarshal(result.Output, &out); err != nil {
		return false
	}
	wasmhost.ApplyResponse(rc, wasmhost.ResponseWrite{Status: out.Status, Header: out.Header, Body: out.Body})
	rc.TerminateEarly = out.TerminateEarly
	return rc.TerminateEarly
}

// emit marks rc's completion time. It writes nothing to the client: the
// response is written by ServeHTTP after Run returns. Run calls it on the
// cache-hit short-circuit and again in phase 9 on the upstream path.
func (p *Pipeline) emit(rc *reqctx.Context) {
	rc.CompletionTime = time.Now()
}

// postPhase runs phase 10: if rc carries a threat signal, sign and publish
// a Threat Record asynchronously so correlation IDs are stable by the time
// peers observe them.
func (p *Pipeline) postPhase(rc *reqctx.Context) {
	if rc.CompletionTime.IsZero() {
		rc.CompletionTime = time.Now()
	}
	if rc.ThreatSignal == nil || p.bus == nil || p.busSigner == nil {
		return
	}
	signal := rc.ThreatSignal
	clientIP := rc.ClientIP
	now := time.Now()
	record := threatbus.ThreatRecord{
		ID:         uuid.NewString(),
		IssuerKey:  p.busSigner.PublicKeyHex(),
		Class:      signal.Class,
		Severity:   signal.Severity,
		Subject:    clientIP.String(),
		Reason:     signal.Reason,
		ObservedAt: now,
		ExpiresAt:  now.Add(p.threatRecordTTL),
	}
	go func() {
		signed, err := threatbus.Sign(p.busSigner, record)
		if err != nil {
			return
		}
		_ = p.bus.Publish(threatbus.TopicThreatIntel, signed)
		if p.vault != nil {
			p.vault.RecordThreatPublished(context.Background(), rc.RequestID, clientIP.String(), signal.Class)
		}
	}()
}

func (p *Pipeline) writeStatus(rc *reqctx.Context, status int, body string) {
	rc.RespStatus = status
	rc.RespHeader = make(http.Header)
	rc.RespHeader.Set("Content-Type", "text/plain; charset=utf-8")
	rc.RespBody = []byte(body)
}

func (p *Pipeline) mergeNodeHeaders(rc *reqctx.Context, cacheStatus string) {
	if rc.RespHeader == nil {
		rc.RespHeader = make(http.Header)
	}
	rc.RespHeader.Set("X-AEGIS-Node", p.nodeID)
	rc.RespHeader.Set("X-Served-By", p.nodeID)
	rc.RespHeader.Set("X-AEGIS-Cache", cacheStatus)
}

func (p *Pipeline) currentRate(addr netip.Addr) float64 {
	if p.crdtMgr == nil {
		return 0
	}
	count := p.crdtMgr.Value(rateKey(addr))
	if count <= 0 {
		return 0
	}
	return float64(count) / p.rateWindow.Seconds()
}

func rateKey(addr netip.Addr) string {
	return "rate:" + addr.String()
}

func (p *Pipeline) trace(rc *reqctx.Context, phase string) {
	if p.console == nil {
		return
	}
	p.console.Emit(PipelineEvent{
		RequestID: rc.RequestID,
		Phase:     phase,
		Verdict:   string(rc.Verdict),
		CacheHit:  rc.CacheHit,
		Status:    rc.RespStatus,
	})
}

func (p *Pipeline) emitMetrics(rc *reqctx.Context) {
	status := rc.RespStatus
	if status == 0 {
		status = http.StatusOK
	}
	statusClass := statusClassLabel(status)
	metrics.Get().RequestsTotal.WithLabelValues(string(rc.Verdict), statusClass).Inc()
	metrics.Get().RequestDuration.WithLabelValues(statusClass).Observe(rc.Elapsed().Seconds())
}

func statusClassLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// readBodyBounded reads r's body up to the WAF inspection bound (1 MiB),
// so a misbehaving client can't force unbounded buffering before a rule
// ever runs.
func readBodyBounded(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	const maxBody = 1 << 20
	limited := io.LimitReader(r.Body, maxBody)
	buf, _ := io.ReadAll(limited)
	return buf
}

// clientAddrFromRequest extracts the client's netip.Addr from r.RemoteAddr,
// falling back to the zero Addr if it can't be parsed (e.g. in tests that
// construct a request directly).
func clientAddrFromRequest(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}
