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
	"strings"

	"github.com/besttravel/gatekeeper/internal/keys"
	"github.com/besttravel/gatekeeper/internal/token"
	"github.com/go-jose/go-jose/v4"
)

// Service publishes the authorization server metadata and answers userinfo requests.
type Service struct {
	issuer string
	keys   *keys.Provider
	scopes []string
}

// DiscoveryMetadata represents authorization server metadata (RFC 8414 Section 2)
type DiscoveryMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// UserInfo is the userinfo response for a verified access token.
type UserInfo struct {
	Subject     string   `json:"sub"`
	Authorities []string `json:"authorities"`
	ClientID    string   `json:"client_id,omitempty"`
	Scope       string   `json:"scope,omitempty"`
}

// NewService creates a metadata service. scopes are the scopes advertised in discovery.
func NewService(issuer string, provider *keys.Provider, scopes []string) *Service {
	return &Service{
		issuer: strings.TrimSuffix(issuer, "/"),
		keys:   provider,
		scopes: scopes,
	}
}

// Issuer returns the issuer identifier without a trailing slash.
func (s *Service) Issuer() string {
	return s.issuer
}

// GetDiscoveryMetadata returns the server configuration (OIDC Discovery Section 4)
func (s *Service) GetDiscoveryMetadata() DiscoveryMetadata {
	return DiscoveryMetadata{
		Issuer:                            s.issuer,
		AuthorizationEndpoint:             s.issuer + "/oauth2/authorize",
		TokenEndpoint:                     s.issuer + "/oauth2/token",
		UserinfoEndpoint:                  s.issuer + "/userinfo",
		JWKSURI:                           s.issuer + "/jwks.json",
		ResponseTypesSupported:            []string{"code"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{string(keys.AlgorithmRS256)},
		ScopesSupported:                   s.scopes,
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	}
}

// GetJWKS returns the public keys in JWKS format (RFC 7517)
func (s *Service) GetJWKS() jose.JSONWebKeySet {
	return s.keys.PublicJWKS()
}

// GetUserInfo describes the bearer of verified access token claims.
func (s *Service) GetUserInfo(claims *token.Claims) UserInfo {
	authorities := claims.Authorities
	if authorities == nil {
		authorities = []string{}
	}
	return UserInfo{
		Subject:     claims.Subject,
		Authorities: authorities,
		ClientID:    claims.ClientID,
		Scope:       claims.Scope,
	}
}
