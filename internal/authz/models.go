package authz

import (
	"errors"
)

// Domain errors
var (
	ErrInsufficientAuthority = errors.New("insufficient authority")
	ErrUnauthenticated       = errors.New("authentication required")
	ErrShadowedRule          = errors.New("rule shadowed by earlier rule")
	ErrInvalidPattern        = errors.New("invalid path pattern")
	ErrInvalidGateMode       = errors.New("invalid gate mode")
)

// Principal is the authenticated caller as seen by the gate.
// Authorities are expected to be normalized already.
type Principal struct {
	Subject     string
	ClientID    string
	Authorities []string
}

// Has reports whether the principal holds the given authority.
func (p *Principal) Has(authority string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// Outcome is the result class of an authorization decision
type Outcome int

const (
	// Allow lets the request through.
	Allow Outcome = iota
	// Unauthenticated maps to 401: no token or the token was not valid.
	Unauthenticated
	// Forbidden maps to 403: valid token, insufficient authority.
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decision is returned by Engine.Decide.
type Decision struct {
	Outcome Outcome
	// Rule is the name of the matching rule, empty when nothing matched.
	Rule string
	// Required lists the authorities that would have satisfied the rule.
	Required []string
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Err returns the domain error for a denial, nil when allowed.
func (d Decision) Err() error {
	switch d.Outcome {
	case Allow:
		return nil
	case Unauthenticated:
		return ErrUnauthenticated
	default:
		return ErrInsufficientAuthority
	}
}
