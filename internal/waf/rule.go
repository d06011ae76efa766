// Package waf implements C5: an ordered Web Application Firewall rule
// engine. Rules are compiled once at load time via internal/safepattern
// (the same bounded-compilation discipline C3 uses for bot patterns) and
// never recompiled on the request path. Rule categories and the keyword/
// pattern grouping style are grounded on
// internal/protocol/generic_ai_detector.go's category-keyed matching.
package waf

import (
	"fmt"

	"github.com/aegis-network/edge-core/internal/reqctx"
	"github.com/aegis-network/edge-core/internal/safepattern"
)

// Severity is a rule's intrinsic risk rating.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityNotice   Severity = "notice"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Category groups rules by the attack class they detect.
type Category string

const (
	CategorySQLInjection  Category = "sqli"
	CategoryXSS           Category = "xss"
	CategoryPathTraversal Category = "path_traversal"
	CategoryCommandInject Category = "command_injection"
	CategoryProtocolAbuse Category = "protocol_abuse"
	CategoryScannerUA     Category = "scanner_ua"
	CategoryGeneric       Category = "generic"
)

// RuleSpec is the load-time description of a single rule, as read from a
// rules file or a default set. Pattern is a regexp source string; it is
// compiled once via safepattern.Compile and never touched again.
type RuleSpec struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Pattern     string   `yaml:"pattern"`
	Severity    Severity `yaml:"severity"`
	Category    Category `yaml:"category"`
}

// Rule is a RuleSpec with its pattern compiled.
type Rule struct {
	ID          string
	Description string
	Severity    Severity
	Category    Category
	pattern     *regexpMatcher
}

// regexpMatcher wraps the compiled pattern so callers never reach past the
// safepattern boundary.
type regexpMatcher struct {
	match func(string) bool
}

// compileRule compiles spec.Pattern via safepattern and returns a Rule.
// Compile errors abort the whole rule set load; rules are never compiled
// lazily on the request path.
func compileRule(spec RuleSpec) (Rule, error) {
	if spec.ID == "" {
		return Rule{}, fmt.Errorf("waf: rule missing id")
	}
	re, err := safepattern.Compile(spec.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("waf: rule %s: %w", spec.ID, err)
	}
	sev := spec.Severity
	if sev == "" {
		sev = SeverityWarning
	}
	cat := spec.Category
	if cat == "" {
		cat = CategoryGeneric
	}
	return Rule{
		ID:          spec.ID,
		Description: spec.Description,
		Severity:    sev,
		Category:    cat,
		pattern:     &regexpMatcher{match: re.MatchString},
	}, nil
}

// Match records one rule firing against one field of a request.
type Match struct {
	RuleID      string
	Description string
	Severity    Severity
	Category    Category
	Field       string // "uri", "header:<name>", or "body"
	Excerpt     string
}

// actionFor maps a Match to the reqctx.WAFAction the engine's policy
// assigns it.
func actionFor(policy *ActionPolicy, m Match) reqctx.WAFAction {
	return policy.Decide(m.Category, m.Severity)
}
