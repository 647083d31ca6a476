package authz

import (
	"fmt"
	"slices"
)

// GateMode controls how the scope gate and the role gate combine on a gated rule
type GateMode string

const (
	// GateAny lets either gate admit the request.
	GateAny GateMode = "any"
	// GateAll requires every configured gate to admit the request.
	GateAll GateMode = "all"
)

// ParseGateMode parses a configured gate mode. Empty means GateAny.
func ParseGateMode(s string) (GateMode, error) {
	switch GateMode(s) {
	case "", GateAny:
		return GateAny, nil
	case GateAll:
		return GateAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGateMode, s)
	}
}

// Engine evaluates requests against an immutable policy.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	policy *Policy
	mode   GateMode
}

// NewEngine validates the policy and creates an engine
func NewEngine(policy *Policy, mode GateMode) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid route policy: %w", err)
	}
	if mode == "" {
		mode = GateAny
	}
	return &Engine{policy: policy, mode: mode}, nil
}

// Mode returns the configured gate combination mode.
func (e *Engine) Mode() GateMode {
	return e.mode
}

// Decide evaluates a request path for a principal. A nil principal means the
// request carried no valid token. Unmatched paths are denied.
func (e *Engine) Decide(requestPath string, principal *Principal) Decision {
	rule, ok := e.policy.Match(requestPath)
	if !ok {
		return deny(principal, "", nil)
	}

	req := rule.Requirement
	switch req.Access {
	case AccessPublic:
		return Decision{Outcome: Allow, Rule: rule.Name}
	case AccessAuthenticated:
		if principal == nil {
			return Decision{Outcome: Unauthenticated, Rule: rule.Name}
		}
		return Decision{Outcome: Allow, Rule: rule.Name}
	case AccessGated:
		required := append(slices.Clone(req.Scopes), req.Roles...)
		if principal == nil {
			return Decision{Outcome: Unauthenticated, Rule: rule.Name, Required: required}
		}
		if e.admits(req, principal) {
			return Decision{Outcome: Allow, Rule: rule.Name}
		}
		return Decision{Outcome: Forbidden, Rule: rule.Name, Required: required}
	default:
		return deny(principal, rule.Name, nil)
	}
}

func (e *Engine) admits(req Requirement, principal *Principal) bool {
	scopeOK := holdsAny(principal, req.Scopes)
	roleOK := holdsAny(principal, req.Roles)

	if e.mode == GateAll {
		return (len(req.Scopes) == 0 || scopeOK) && (len(req.Roles) == 0 || roleOK)
	}
	return scopeOK || roleOK
}

func holdsAny(principal *Principal, authorities []string) bool {
	for _, a := range authorities {
		if principal.Has(a) {
			return true
		}
	}
	return false
}

func deny(principal *Principal, rule string, required []string) Decision {
	if principal == nil {
		return Decision{Outcome: Unauthenticated, Rule: rule, Required: required}
	}
	return Decision{Outcome: Forbidden, Rule: rule, Required: required}
}
