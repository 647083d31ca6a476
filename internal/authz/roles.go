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

// -----------------------------------------------------------------------------
// Authority Name Constants
// Roles and scopes share one namespace once normalized.
// -----------------------------------------------------------------------------

const (
	// ScopeRead grants read access to the user route group.
	ScopeRead = "read"

	// ScopeWrite grants access to the admin route group.
	ScopeWrite = "write"

	// RoleUser is the role of a regular traveller account.
	RoleUser = "USER"

	// RoleAdmin is the role of a back-office operator.
	RoleAdmin = "ADMIN"
)

// -----------------------------------------------------------------------------
// Route Group Patterns
// Path patterns use "*" for one segment and "**" for any number of segments.
// -----------------------------------------------------------------------------

// ServerEndpoints are the authorization server's own routes.
var ServerEndpoints = []string{
	"/oauth2/**",
	"/login",
	"/.well-known/**",
	"/jwks.json",
	"/health",
}

// PublicRoutes bypass every gate.
var PublicRoutes = []string{
	"/fly/**",
	"/hotel/**",
	"/swagger-ui/**",
	"/v3/api-docs/**",
	"/report/**",
}

// UserRoutes require ScopeRead or RoleUser.
var UserRoutes = []string{
	"/tour/**",
	"/ticket/**",
	"/reservation/**",
}

// AdminRoutes require ScopeWrite or RoleAdmin.
var AdminRoutes = []string{
	"/users/**",
}

// UserInfoRoute accepts any authenticated principal.
const UserInfoRoute = "/userinfo"
