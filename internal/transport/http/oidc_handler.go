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

package http

import (
	"net/http"

	"github.com/besttravel/gatekeeper/internal/oidc"
)

// Discovery returns the authorization server metadata (RFC 8414)
// @Summary Server Metadata
// @Description Returns the authorization server configuration metadata
// @Tags OIDC
// @Produce json
// @Success 200 {object} oidc.DiscoveryMetadata
// @Router /.well-known/openid-configuration [get]
func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.oidcService.GetDiscoveryMetadata())
}

// JWKS returns the public JSON Web Key Set (RFC 7517)
// @Summary JWKS
// @Description Returns the public keys that verify issued tokens
// @Tags OIDC
// @Produce json
// @Success 200 {object} map[string]any
// @Router /jwks.json [get]
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(w, http.StatusOK, h.oidcService.GetJWKS())
}

// UserInfo returns the identity carried by the presented access token
// @Summary UserInfo
// @Description Returns the subject and authorities of the bearer token
// @Tags OIDC
// @Produce json
// @Security BearerAuth
// @Success 200 {object} oidc.UserInfo
// @Failure 401 {object} oidc.Error
// @Router /userinfo [get]
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		e := oidc.NewError(oidc.ErrInvalidToken, "authentication required")
		w.Header().Set("WWW-Authenticate", e.WWWAuthenticate(bearerRealm))
		respondJSON(w, http.StatusUnauthorized, e)
		return
	}
	respondJSON(w, http.StatusOK, h.oidcService.GetUserInfo(claims))
}
