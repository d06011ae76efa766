package waf

import (
	"net/http"
	"strings"
)

// maxBodyBytes bounds body inspection to 1 MiB (spec §4.5).
const maxBodyBytes = 1 << 20

// textLikeContentTypes are the prefixes eligible for body analysis.
var textLikeContentTypes = []string{
	"text/",
	"application/json",
	"application/xml",
	"application/x-www-form-urlencoded",
	"application/javascript",
}

// Engine holds an ordered, load-time-compiled rule sequence and evaluates
// requests against it. Engine is safe for concurrent use: Analyze never
// mutates engine state.
type Engine struct {
	rules []Rule
}

// NewEngine compiles specs into an ordered rule sequence. Any compile
// failure aborts the whole load (no rule is ever compiled lazily on the
// request path).
func NewEngine(specs []RuleSpec) (*Engine, error) {
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		r, err := compileRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return &Engine{rules: rules}, nil
}

// Rules returns the engine's compiled rule sequence, in evaluation order.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Analyze is a pure, non-mutating scan of the request against every
// compiled rule. It never returns early on the first match: every rule
// evaluates against every eligible field, and every hit is reported.
func (e *Engine) Analyze(method, uri string, header http.Header, body []byte) []Match {
	var matches []Match

	for _, r := range e.rules {
		if r.pattern.match(uri) {
			matches = append(matches, newMatch(r, "uri", uri))
		}
	}

	for name, values := range header {
		for _, v := range values {
			for _, r := range e.rules {
				if r.pattern.match(v) {
					matches = append(matches, newMatch(r, "header:"+name, v))
				}
			}
		}
	}

	if bodyEligible(header, body) {
		text := string(body)
		for _, r := range e.rules {
			if r.pattern.match(text) {
				matches = append(matches, newMatch(r, "body", text))
			}
		}
	}

	return matches
}

func newMatch(r Rule, field, content string) Match {
	return Match{
		RuleID:      r.ID,
		Description: r.Description,
		Severity:    r.Severity,
		Category:    r.Category,
		Field:       field,
		Excerpt:     excerpt(content),
	}
}

func excerpt(s string) string {
	const maxExcerpt = 128
	if len(s) <= maxExcerpt {
		return s
	}
	return s[:maxExcerpt]
}

// bodyEligible reports whether the body should be scanned at all: the
// content type must look textual and the body must not exceed the 1 MiB
// bound (spec §4.5).
func bodyEligible(header http.Header, body []byte) bool {
	if len(body) == 0 || len(body) > maxBodyBytes {
		return false
	}
	ct := strings.ToLower(header.Get("Content-Type"))
	if ct == "" {
		return false
	}
	for _, prefix := range textLikeContentTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}
