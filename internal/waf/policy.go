package waf

import "github.com/aegis-network/edge-core/internal/reqctx"

// ActionPolicy maps a match's severity to a reqctx.WAFAction, with optional
// per-category overrides taking precedence over the severity default.
type ActionPolicy struct {
	severityDefault map[Severity]reqctx.WAFAction
	categoryOverride map[Category]reqctx.WAFAction
}

// DefaultActionPolicy implements the default severity->action mapping:
// Critical and Error block, Warning logs, everything below (Notice, Info)
// is allowed.
func DefaultActionPolicy() *ActionPolicy {
	return &ActionPolicy{
		severityDefault: map[Severity]reqctx.WAFAction{
			SeverityCritical: reqctx.WAFActionBlock,
			SeverityError:    reqctx.WAFActionBlock,
			SeverityWarning:  reqctx.WAFActionLog,
			SeverityNotice:   reqctx.WAFActionAllow,
			SeverityInfo:     reqctx.WAFActionAllow,
		},
		categoryOverride: make(map[Category]reqctx.WAFAction),
	}
}

// Override forces every match in category to resolve to action regardless
// of its severity.
func (p *ActionPolicy) Override(category Category, action reqctx.WAFAction) {
	p.categoryOverride[category] = action
}

// Decide resolves the action for a given category/severity pair.
func (p *ActionPolicy) Decide(category Category, severity Severity) reqctx.WAFAction {
	if action, ok := p.categoryOverride[category]; ok {
		return action
	}
	if action, ok := p.severityDefault[severity]; ok {
		return action
	}
	return reqctx.WAFActionAllow
}

// MostSevereAction reduces a set of matches to the single strongest action
// the caller should take (Block > Log > Allow).
func MostSevereAction(policy *ActionPolicy, matches []Match) reqctx.WAFAction {
	best := reqctx.WAFActionAllow
	for _, m := range matches {
		action := actionFor(policy, m)
		if rank(action) > rank(best) {
			best = action
		}
	}
	return best
}

func rank(a reqctx.WAFAction) int {
	switch a {
	case reqctx.WAFActionBlock:
		return 2
	case reqctx.WAFActionLog:
		return 1
	default:
		return 0
	}
}
