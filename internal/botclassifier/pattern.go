package botclassifier

import (
	"regexp"
	"strings"

	"github.com/aegis-network/edge-core/internal/safepattern"
)

// PatternSet holds the compiled malicious-user-agent patterns, loaded once
// at startup (or config reload) — never compiled per-request.
type PatternSet struct {
	malicious []*regexp.Regexp
}

// LoadPatterns compiles each source pattern with safepattern.Compile,
// case-insensitively (spec §4.3: "User-agent matching is case-insensitive").
func LoadPatterns(sources []string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, src := range sources {
		wrapped := src
		if !strings.HasPrefix(wrapped, "(?i)") {
			wrapped = "(?i)" + wrapped
		}
		re, err := safepattern.Compile(wrapped)
		if err != nil {
			return nil, err
		}
		ps.malicious = append(ps.malicious, re)
	}
	return ps, nil
}

// MatchesMalicious reports whether ua matches any configured malicious
// user-agent pattern.
func (ps *PatternSet) MatchesMalicious(ua string) bool {
	for _, re := range ps.malicious {
		if re.MatchString(ua) {
			return true
		}
	}
	return false
}

// DefaultMaliciousPatterns is a conservative built-in set of known attack
// tooling user-agents, used when no patterns file is configured. Grounded
// in the keyword-matching style of internal/protocol/generic_ai_detector.go.
// Scripted HTTP clients (python-requests, curl, scrapy) are deliberately
// excluded here — those are not malicious by themselves, only suspicious
// when paired with a browser-class TLS fingerprint (step 5 of Classify).
var DefaultMaliciousPatterns = []string{
	`\bsqlmap\b`,
	`\bnikto\b`,
	`\bnmap\b`,
	`\bmasscan\b`,
	`\bzgrab\b`,
	`\bdirbuster\b`,
}

// ScriptedClientPatterns identifies generic scripted HTTP clients whose
// presence alongside a browser-class fingerprint indicates a mismatch
// (step 5): the UA claims a script, but the TLS stack looks like a browser.
var ScriptedClientPatterns = []string{
	`python-requests`,
	`\bscrapy\b`,
	`\bcurl/`,
	`\bgo-http-client\b`,
	`\bwget/`,
}
