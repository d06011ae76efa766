// Package safepattern compiles user-supplied regular expressions with the
// bounds spec.md §4.3/§4.5 requires: bounded source size, bounded compiled
// program size, and a pre-scan rejecting catastrophic-backtracking shapes.
// Shared by internal/botclassifier and internal/waf, both of which compile
// patterns only at load time, never per-request.
package safepattern

import (
	"fmt"
	"regexp"
	"regexp/syntax"
)

const (
	maxSourceBytes   = 2048
	maxCompiledBytes = 1 << 20 // 1 MiB
)

// Compile compiles src into a regexp.Regexp, enforcing size bounds and
// rejecting nested-quantifier shapes (`(a+)+`, `(.*)+`, etc.) that cause
// catastrophic backtracking in a backtracking engine. Go's regexp/RE2
// engine does not backtrack, but the pre-scan is kept anyway: spec.md
// treats the shape itself as invalid configuration, not merely a
// performance concern specific to one engine.
func Compile(src string) (*regexp.Regexp, error) {
	if len(src) > maxSourceBytes {
		return nil, fmt.Errorf("safepattern: source %d bytes exceeds max %d", len(src), maxSourceBytes)
	}
	if hasNestedQuantifier(src) {
		return nil, fmt.Errorf("safepattern: rejected catastrophic-backtracking shape: %q", src)
	}

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("safepattern: compile: %w", err)
	}

	prog, err := syntax.Parse(src, syntax.Perl)
	if err == nil {
		if p, err2 := syntax.Compile(prog); err2 == nil {
			if size := len(p.Inst) * 32; size > maxCompiledBytes {
				return nil, fmt.Errorf("safepattern: compiled size %d exceeds max %d", size, maxCompiledBytes)
			}
		}
	}

	return re, nil
}

// hasNestedQuantifier scans the raw source text for the textual shape of a
// quantified group that is itself quantified — e.g. `(...+)+`, `(...*)+`,
// `(...+)*` — independent of what's inside the group.
func hasNestedQuantifier(src string) bool {
	depth := 0
	groupHasQuant := make([]bool, 0, 8)
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '\\':
			i++ // skip escaped char
		case '(':
			depth++
			groupHasQuant = append(groupHasQuant, false)
		case ')':
			if depth == 0 {
				continue
			}
			closedInner := groupHasQuant[len(groupHasQuant)-1]
			groupHasQuant = groupHasQuant[:len(groupHasQuant)-1]
			depth--
			// look at what follows the closing paren
			if i+1 < len(src) {
				next := src[i+1]
				if (next == '+' || next == '*') && closedInner {
					return true
				}
			}
		case '+', '*':
			if depth > 0 {
				groupHasQuant[len(groupHasQuant)-1] = true
			}
		}
	}
	return false
}
