package waf

// DefaultRules is the built-in rule sequence used when no rules file is
// configured. Patterns are grouped by category the same way
// internal/protocol/generic_ai_detector.go groups its keyword sets, kept
// deliberately small and auditable rather than exhaustive.
var DefaultRules = []RuleSpec{
	{
		ID:          "sqli-union-select",
		Description: "UNION-based SQL injection probe",
		Pattern:     `(?i)\bunion\b\s+\bselect\b`,
		Severity:    SeverityCritical,
		Category:    CategorySQLInjection,
	},
	{
		ID:          "sqli-boolean-probe",
		Description: "boolean-based SQL injection probe",
		Pattern:     `(?i)(\bor\b|\band\b)\s+1\s*=\s*1`,
		Severity:    SeverityError,
		Category:    CategorySQLInjection,
	},
	{
		ID:          "sqli-comment-terminator",
		Description: "SQL comment/statement terminator sequence",
		Pattern:     `(--|;)\s*(drop|delete|update)\b`,
		Severity:    SeverityCritical,
		Category:    CategorySQLInjection,
	},
	{
		ID:          "xss-script-tag",
		Description: "inline script tag injection",
		Pattern:     `(?i)<script[^>]*>`,
		Severity:    SeverityError,
		Category:    CategoryXSS,
	},
	{
		ID:          "xss-event-handler",
		Description: "inline event-handler attribute injection",
		Pattern:     `(?i)on(error|load|click|mouseover)\s*=`,
		Severity:    SeverityWarning,
		Category:    CategoryXSS,
	},
	{
		ID:          "path-traversal-dotdot",
		Description: "directory traversal sequence",
		Pattern:     `\.\./\.\./`,
		Severity:    SeverityError,
		Category:    CategoryPathTraversal,
	},
	{
		ID:          "path-traversal-encoded",
		Description: "URL-encoded directory traversal sequence",
		Pattern:     `(?i)%2e%2e(%2f|/)`,
		Severity:    SeverityError,
		Category:    CategoryPathTraversal,
	},
	{
		ID:          "cmdi-shell-metachar",
		Description: "shell metacharacter command chaining",
		Pattern:     "[;&|`]\\s*(cat|ls|wget|curl|nc|bash|sh)\\b",
		Severity:    SeverityCritical,
		Category:    CategoryCommandInject,
	},
	{
		ID:          "protocol-abuse-null-byte",
		Description: "embedded null byte",
		Pattern:     `%00`,
		Severity:    SeverityWarning,
		Category:    CategoryProtocolAbuse,
	},
	{
		ID:          "scanner-ua-signature",
		Description: "known vulnerability scanner user agent",
		Pattern:     `(?i)(sqlmap|nikto|acunetix|nessus|openvas)`,
		Severity:    SeverityNotice,
		Category:    CategoryScannerUA,
	},
}
