// Package reqctx defines the Request Context: the per-request value that
// flows through the orchestrator's pipeline phases. A Context is owned
// exclusively by the goroutine processing the request for its entire
// lifetime; nothing else ever holds a reference to it, so its mutable
// fields need no locking (spec §5).
package reqctx

import (
	"net/http"
	"net/netip"
	"time"
)

// Verdict is C3's classification of the request's origin.
type Verdict string

const (
	VerdictUnknown    Verdict = "unknown"
	VerdictHuman      Verdict = "human"
	VerdictMalicious  Verdict = "malicious"
	VerdictKnownBot   Verdict = "known_bot"
	VerdictSuspicious Verdict = "suspicious"
)

// WAFAction is the decision C5 attaches after evaluating rules.
type WAFAction string

const (
	WAFActionAllow WAFAction = "allow"
	WAFActionLog   WAFAction = "log"
	WAFActionBlock WAFAction = "block"
)

// Context is the mutable per-request state threaded through every pipeline
// phase in internal/orchestrator. Immutable inputs are set once at
// construction; mutable decisions are written by later phases only.
type Context struct {
	// Immutable inputs
	Method        string
	URI           string
	Header        http.Header
	Body          []byte
	ClientIP      netip.Addr
	TLSFingerprint string // JA4-style fingerprint hash, empty if unavailable

	// Mutable decisions, written by successive phases
	Verdict          Verdict
	VerdictConfidence float64
	TrustScore       int // 0-100
	CacheKey         string
	CacheHit         bool
	ChallengeToken   string

	RespStatus  int
	RespHeader  http.Header
	RespBody    []byte
	TerminateEarly bool

	// Correlation
	RequestID string

	// Timing
	ArrivalTime      time.Time
	UpstreamStart    time.Time
	CompletionTime   time.Time

	// Accumulated threat signal for phase 10 (post)
	ThreatSignal *ThreatSignal
}

// ThreatSignal is recorded by any phase that determines the request's
// origin warrants a Threat Record publication (e.g. a repeated WAF block).
type ThreatSignal struct {
	Class    string
	Severity int
	Reason   string
}

// New constructs a fresh Context for an inbound request. Header is copied
// defensively so later mutation by the caller's http.Request doesn't leak
// into the pipeline's view.
func New(method, uri string, header http.Header, body []byte, clientIP netip.Addr, requestID string) *Context {
	h := make(http.Header, len(header))
	for k, v := range header {
		h[k] = append([]string(nil), v...)
	}
	return &Context{
		Method:      method,
		URI:         uri,
		Header:      h,
		Body:        body,
		ClientIP:    clientIP,
		RequestID:   requestID,
		Verdict:     VerdictUnknown,
		RespHeader:  make(http.Header),
		ArrivalTime: time.Now(),
	}
}

// Elapsed returns the time since the request arrived, valid for the
// lifetime of the request (and thus safe even before CompletionTime is set).
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.ArrivalTime)
}
