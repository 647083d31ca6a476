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

package oidc

import (
	"fmt"
	"strings"
)

// Error represents a bearer token error returned by protected resources (RFC 6750 Section 3).
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("bearer error: %s (%s)", e.Code, e.Description)
}

// RFC 6750 Section 3.1 error codes
const (
	ErrInvalidRequest    = "invalid_request"
	ErrInvalidToken      = "invalid_token"
	ErrInsufficientScope = "insufficient_scope"
)

// NewError creates a new bearer token error
func NewError(code, description string) *Error {
	return &Error{
		Code:        code,
		Description: description,
	}
}

// WithScope names the authorities that would have satisfied the request.
func (e *Error) WithScope(authorities []string) *Error {
	e.Scope = strings.Join(authorities, " ")
	return e
}

// WWWAuthenticate renders the challenge header value.
func (e *Error) WWWAuthenticate(realm string) string {
	var b strings.Builder
	b.WriteString("Bearer")
	params := make([]string, 0, 4)
	if realm != "" {
		params = append(params, fmt.Sprintf("realm=%q", realm))
	}
	params = append(params, fmt.Sprintf("error=%q", e.Code))
	if e.Description != "" {
		params = append(params, fmt.Sprintf("error_description=%q", e.Description))
	}
	if e.Scope != "" {
		params = append(params, fmt.Sprintf("scope=%q", e.Scope))
	}
	b.WriteString(" ")
	b.WriteString(strings.Join(params, ", "))
	return b.String()
}
