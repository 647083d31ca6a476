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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("OAUTH_CLIENT_ID", "travel-app")
	t.Setenv("OAUTH_CLIENT_SECRET", "travel-secret")
	t.Setenv("OAUTH_CLIENT_REDIRECT_URIS", "https://app.besttravel.test/callback, https://docs.besttravel.test/oauth2-redirect.html")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, []string{"read", "write"}, cfg.OAuth.Scopes)
	assert.Len(t, cfg.OAuth.RedirectURIs, 2)
	assert.Equal(t, 5*time.Minute, cfg.OAuth.AccessTokenTTL)
	assert.Equal(t, "Debuggeando ideas", cfg.OAuth.TokenOwner)
	assert.Equal(t, "any", cfg.Authz.GateMode)
	assert.Equal(t, "", cfg.Authz.AuthorityPrefix)
	assert.Equal(t, 4, cfg.Security.PasswordVerifyConcurrency)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

// TestPurpose: Validates that an incomplete client registration stops startup.
// Scope: Unit Test
// Expected: Missing client credentials and a postgres store without password are all reported.
func TestLoad_Validation(t *testing.T) {
	t.Setenv("STORE_DRIVER", StorePostgres)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAUTH_CLIENT_ID")
	assert.Contains(t, err.Error(), "OAUTH_CLIENT_SECRET")
	assert.Contains(t, err.Error(), "DB_PASSWORD")

	setRequired(t)
	t.Setenv("STORE_DRIVER", "redis")
	_, err = Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")

	t.Setenv("STORE_DRIVER", StoreMemory)
	t.Setenv("BACKEND_URL", "not a url")
	_, err = Load()
	assert.ErrorContains(t, err, "BACKEND_URL")
}

func TestParseUsers(t *testing.T) {
	t.Setenv("BOOTSTRAP_USERS", "alice:alice-password:read,USER; root:root-password:write,ADMIN ;")

	users, err := parseUsers("BOOTSTRAP_USERS")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, BootstrapUser{Username: "alice", Password: "alice-password", Authorities: []string{"read", "USER"}}, users[0])
	assert.Equal(t, "root", users[1].Username)
	assert.Equal(t, []string{"write", "ADMIN"}, users[1].Authorities)

	t.Setenv("BOOTSTRAP_USERS", "nopassword")
	_, err = parseUsers("BOOTSTRAP_USERS")
	assert.Error(t, err)
}

func TestParseDuration_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "soon")
	assert.Equal(t, 5*time.Minute, parseDuration("ACCESS_TOKEN_TTL", "5m"))
}
