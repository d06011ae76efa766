package waf

import (
	"net/http"
	"strings"
	"testing"

	"github.com/aegis-network/edge-core/internal/reqctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultRules)
	require.NoError(t, err)
	return e
}

func TestAnalyzeDetectsSQLInjectionInURI(t *testing.T) {
	e := newTestEngine(t)
	matches := e.Analyze("GET", "/search?q=1 UNION SELECT password FROM users", http.Header{}, nil)
	require.NotEmpty(t, matches)
	assert.Equal(t, "sqli-union-select", matches[0].RuleID)
	assert.Equal(t, "uri", matches[0].Field)
}

func TestAnalyzeDetectsXSSInHeader(t *testing.T) {
	e := newTestEngine(t)
	h := http.Header{"Referer": []string{`<script>alert(1)</script>`}}
	matches := e.Analyze("GET", "/", h, nil)
	require.NotEmpty(t, matches)
	assert.Equal(t, "xss-script-tag", matches[0].RuleID)
	assert.Equal(t, "header:Referer", matches[0].Field)
}

func TestAnalyzeSkipsBodyWhenContentTypeNotTextLike(t *testing.T) {
	e := newTestEngine(t)
	h := http.Header{"Content-Type": []string{"image/png"}}
	matches := e.Analyze("POST", "/", h, []byte("UNION SELECT * FROM x"))
	assert.Empty(t, matches)
}

func TestAnalyzeScansBodyWhenTextLikeAndWithinBound(t *testing.T) {
	e := newTestEngine(t)
	h := http.Header{"Content-Type": []string{"application/json"}}
	matches := e.Analyze("POST", "/", h, []byte(`{"q":"1 OR 1=1"}`))
	require.NotEmpty(t, matches)
}

func TestAnalyzeSkipsOversizedBody(t *testing.T) {
	e := newTestEngine(t)
	h := http.Header{"Content-Type": []string{"text/plain"}}
	oversized := strings.Repeat("a", maxBodyBytes+1) + " UNION SELECT"
	matches := e.Analyze("POST", "/", h, []byte(oversized))
	assert.Empty(t, matches)
}

func TestAnalyzeIsPureAndDeterministic(t *testing.T) {
	e := newTestEngine(t)
	uri := "/../../etc/passwd"
	first := e.Analyze("GET", uri, http.Header{}, nil)
	second := e.Analyze("GET", uri, http.Header{}, nil)
	assert.Equal(t, first, second)
}

func TestActionPolicyDefaults(t *testing.T) {
	p := DefaultActionPolicy()
	assert.Equal(t, reqctx.WAFActionBlock, p.Decide(CategorySQLInjection, SeverityCritical))
	assert.Equal(t, reqctx.WAFActionBlock, p.Decide(CategorySQLInjection, SeverityError))
	assert.Equal(t, reqctx.WAFActionLog, p.Decide(CategoryXSS, SeverityWarning))
	assert.Equal(t, reqctx.WAFActionAllow, p.Decide(CategoryScannerUA, SeverityNotice))
}

func TestActionPolicyCategoryOverrideWins(t *testing.T) {
	p := DefaultActionPolicy()
	p.Override(CategoryScannerUA, reqctx.WAFActionBlock)
	assert.Equal(t, reqctx.WAFActionBlock, p.Decide(CategoryScannerUA, SeverityNotice))
}

func TestMostSevereActionPicksStrongest(t *testing.T) {
	p := DefaultActionPolicy()
	matches := []Match{
		{Category: CategoryScannerUA, Severity: SeverityNotice},
		{Category: CategoryXSS, Severity: SeverityWarning},
		{Category: CategorySQLInjection, Severity: SeverityCritical},
	}
	assert.Equal(t, reqctx.WAFActionBlock, MostSevereAction(p, matches))
}

func TestNewEngineRejectsBadPattern(t *testing.T) {
	_, err := NewEngine([]RuleSpec{{ID: "bad", Pattern: "(a+)+"}})
	assert.Error(t, err)
}

func TestNewEngineRejectsMissingID(t *testing.T) {
	_, err := NewEngine([]RuleSpec{{Pattern: "foo"}})
	assert.Error(t, err)
}
