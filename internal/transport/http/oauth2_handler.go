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
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/besttravel/gatekeeper/internal/oauth2"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
)

// Authorize endpoint
// @Summary OAuth2 Authorize Endpoint
// @Description Starts the authorization code flow (RFC 6749)
// @Tags OAuth2
// @Produce html
// @Param client_id query string true "Client ID"
// @Param redirect_uri query string true "Redirect URI"
// @Param response_type query string true "Response Type (must be 'code')"
// @Param scope query string false "Scopes"
// @Param state query string false "Opaque state"
// @Success 302 {string} string "Redirects to callback or login"
// @Router /oauth2/authorize [get]
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &oauth2.AuthorizeRequest{
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		ResponseType: query.Get("response_type"),
		Scope:        query.Get("scope"),
		State:        query.Get("state"),
	}

	// Validate request parameters before asking anyone to log in
	if _, err := h.oauth2Service.ValidateAuthorizeRequest(r.Context(), req); err != nil {
		h.respondAuthorizeError(w, r, req, err)
		return
	}

	// AWAITING_LOGIN: no live session sends the browser to the login form
	sess, err := h.sessions.Get(r.Context(), h.getSessionFromCookie(r))
	if err != nil {
		h.clearSessionCookie(w)
		http.Redirect(w, r, "/login?"+url.Values{"return_to": {r.URL.RequestURI()}}.Encode(), http.StatusFound)
		return
	}

	code, err := h.oauth2Service.Authorize(r.Context(), req, sess.Subject)
	if err != nil {
		h.respondAuthorizeError(w, r, req, err)
		return
	}

	// CODE_ISSUED
	params := url.Values{"code": {code.Code}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	http.Redirect(w, r, addQueryParams(req.RedirectURI, params), http.StatusFound)
}

// Token endpoint
// @Summary OAuth2 Token Endpoint
// @Description Exchange a code or refresh token for tokens (RFC 6749)
// @Tags OAuth2
// @Accept x-www-form-urlencoded
// @Produce json
// @Param grant_type formData string true "Grant Type (authorization_code or refresh_token)"
// @Param code formData string false "Authorization Code (for authorization_code grant)"
// @Param redirect_uri formData string false "Redirect URI"
// @Param refresh_token formData string false "Refresh Token (for refresh_token grant)"
// @Param scope formData string false "Scope"
// @Success 200 {object} oauth2.TokenResponse
// @Failure 400 {object} oauth2.Error
// @Failure 401 {object} oauth2.Error
// @Router /oauth2/token [post]
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondOAuthError(w, oauth2.NewError(oauth2.ErrInvalidRequest, "malformed request body"))
		return
	}

	// client_secret_basic (RFC 6749 Section 2.3.1), falling back to body credentials
	clientID, clientSecret, ok := r.BasicAuth()
	if ok {
		// RFC 6749 Appendix B: credentials are form-urlencoded before Basic encoding
		if id, err := url.QueryUnescape(clientID); err == nil {
			clientID = id
		}
		if secret, err := url.QueryUnescape(clientSecret); err == nil {
			clientSecret = secret
		}
	} else {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}

	req := &oauth2.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
	}

	var resp *oauth2.TokenResponse
	var err error

	switch req.GrantType {
	case oauth2.GrantTypeAuthorizationCode:
		resp, err = h.oauth2Service.ExchangeCodeForToken(r.Context(), req)
	case oauth2.GrantTypeRefreshToken:
		resp, err = h.oauth2Service.RefreshAccessToken(r.Context(), req)
	case "":
		err = oauth2.NewError(oauth2.ErrInvalidRequest, "grant_type is required")
	default:
		err = oauth2.NewError(oauth2.ErrUnsupportedGrantType, "unsupported grant_type")
	}

	if err != nil {
		slog.WarnContext(r.Context(), "token request failed",
			logger.Error(err),
			logger.GrantType(req.GrantType),
			logger.ClientID(req.ClientID),
		)
		var oe *oauth2.Error
		if ok && errors.As(err, &oe) && oe.Code == oauth2.ErrInvalidClient {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+bearerRealm+`"`)
		}
		h.respondOAuthError(w, err)
		return
	}

	// Prevent caching (RFC 6749 Section 5.1)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	respondJSON(w, http.StatusOK, resp)
}

// respondAuthorizeError redirects protocol errors to the validated redirect URI
// when allowed and renders them directly otherwise.
func (h *Handler) respondAuthorizeError(w http.ResponseWriter, r *http.Request, req *oauth2.AuthorizeRequest, err error) {
	slog.WarnContext(r.Context(), "authorize request rejected",
		logger.Error(err),
		logger.ClientID(req.ClientID),
		logger.RedirectURI(req.RedirectURI),
	)

	var oe *oauth2.Error
	if errors.As(err, &oe) && oe.CanRedirect() {
		params := url.Values{"error": {oe.Code}}
		if oe.Description != "" {
			params.Set("error_description", oe.Description)
		}
		if oe.State != "" {
			params.Set("state", oe.State)
		}
		http.Redirect(w, r, addQueryParams(req.RedirectURI, params), http.StatusFound)
		return
	}

	h.respondOAuthError(w, err)
}

// addQueryParams appends params to a URL that may already carry a query.
func addQueryParams(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// respondOAuthError serializes a protocol error into HTTP response.
func (h *Handler) respondOAuthError(w http.ResponseWriter, err error) {
	var oauthErr *oauth2.Error
	if errors.As(err, &oauthErr) {
		status := http.StatusBadRequest
		switch oauthErr.Code {
		case oauth2.ErrInvalidClient:
			status = http.StatusUnauthorized
		case oauth2.ErrServerError:
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, oauthErr)
		return
	}

	// Fallback for internal errors (opaque)
	respondJSON(w, http.StatusInternalServerError, oauth2.NewError(oauth2.ErrServerError, "internal server error"))
}
