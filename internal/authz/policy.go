// Copyright 2026 The Gatekeeper Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package authz

import (
	"fmt"
	"path"
	"strings"
)

// Pattern is a compiled path pattern.
// "*" matches exactly one segment, "**" matches zero or more segments.
type Pattern struct {
	raw      string
	segments []string
}

// ParsePattern compiles a pattern. Patterns must be absolute.
func ParsePattern(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("%w: %q must start with /", ErrInvalidPattern, raw)
	}
	segs := splitPath(raw)
	for _, s := range segs {
		if s != "*" && s != "**" && strings.Contains(s, "*") {
			return Pattern{}, fmt.Errorf("%w: %q mixes wildcards with text", ErrInvalidPattern, raw)
		}
	}
	return Pattern{raw: raw, segments: segs}, nil
}

// MustPattern is ParsePattern for static tables.
func MustPattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string {
	return p.raw
}

// Match reports whether the cleaned request path matches the pattern.
func (p Pattern) Match(requestPath string) bool {
	return matchSegments(p.segments, splitPath(CleanPath(requestPath)))
}

// Covers reports whether every path matched by other is also matched by p.
func (p Pattern) Covers(other Pattern) bool {
	return coverSegments(p.segments, other.segments)
}

// CleanPath resolves dot segments so that "/fly/../users" is judged as "/users".
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "**":
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat[1:], segs[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(segs) == 0 {
				return false
			}
		default:
			if len(segs) == 0 || segs[0] != pat[0] {
				return false
			}
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}

func coverSegments(a, b []string) bool {
	if len(a) == 0 {
		return len(b) == 0
	}
	if a[0] == "**" {
		return coverSegments(a[1:], b) || (len(b) > 0 && coverSegments(a, b[1:]))
	}
	if len(b) == 0 || b[0] == "**" {
		return false
	}
	if a[0] == "*" || a[0] == b[0] {
		return coverSegments(a[1:], b[1:])
	}
	return false
}

// Access is the kind of requirement a rule imposes
type Access int

const (
	// AccessDeny rejects every request reaching the rule.
	AccessDeny Access = iota
	// AccessPublic needs no token at all.
	AccessPublic
	// AccessAuthenticated needs a valid token and nothing more.
	AccessAuthenticated
	// AccessGated needs a valid token passing the scope gate and/or role gate.
	AccessGated
)

// Requirement describes what a request must present to pass a rule.
type Requirement struct {
	Access Access
	// Scopes is the scope gate: any one of them satisfies it.
	Scopes []string
	// Roles is the role gate: any one of them satisfies it.
	Roles []string
}

// Public returns a requirement that bypasses every gate.
func Public() Requirement { return Requirement{Access: AccessPublic} }

// Authenticated returns a requirement satisfied by any valid token.
func Authenticated() Requirement { return Requirement{Access: AccessAuthenticated} }

// Deny returns a requirement nothing satisfies.
func Deny() Requirement { return Requirement{Access: AccessDeny} }

// Gated returns a requirement checked against the scope and role gates.
func Gated(scopes, roles []string) Requirement {
	return Requirement{Access: AccessGated, Scopes: scopes, Roles: roles}
}

// Rule binds a pattern to a requirement.
type Rule struct {
	Name        string
	Pattern     Pattern
	Requirement Requirement
}

// Policy is an ordered rule list evaluated top-down, first match wins.
type Policy struct {
	Rules []Rule
}

// Validate rejects a policy in which a rule can never be reached because an
// earlier rule already matches every path it would match.
func (p *Policy) Validate() error {
	for j, later := range p.Rules {
		for _, earlier := range p.Rules[:j] {
			if earlier.Pattern.Covers(later.Pattern) {
				return fmt.Errorf("%w: %q (%s) is unreachable after %q (%s)",
					ErrShadowedRule, later.Name, later.Pattern, earlier.Name, earlier.Pattern)
			}
		}
	}
	return nil
}

// Match returns the first rule matching the request path.
func (p *Policy) Match(requestPath string) (Rule, bool) {
	segs := splitPath(CleanPath(requestPath))
	for _, r := range p.Rules {
		if matchSegments(r.Pattern.segments, segs) {
			return r, true
		}
	}
	return Rule{}, false
}

// DefaultPolicy is the route table of the travel gateway.
func DefaultPolicy() *Policy {
	var rules []Rule
	add := func(name string, patterns []string, req Requirement) {
		for _, p := range patterns {
			rules = append(rules, Rule{Name: name, Pattern: MustPattern(p), Requirement: req})
		}
	}

	add("authorization-server", ServerEndpoints, Public())
	add("public", PublicRoutes, Public())
	add("userinfo", []string{UserInfoRoute}, Authenticated())
	add("user", UserRoutes, Gated([]string{ScopeRead}, []string{RoleUser}))
	add("admin", AdminRoutes, Gated([]string{ScopeWrite}, []string{RoleAdmin}))
	add("default-deny", []string{"/**"}, Deny())

	return &Policy{Rules: rules}
}
