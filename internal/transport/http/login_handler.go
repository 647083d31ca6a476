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
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/besttravel/gatekeeper/internal/identity"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
)

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if .Failed}}<p role="alert">Invalid username or password.</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<label>Username <input type="text" name="username" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`))

type loginView struct {
	ReturnTo string
	Failed   bool
}

// LoginPage renders the login form
// @Summary Login Form
// @Description Renders the form that starts a login session
// @Tags Auth
// @Produce html
// @Param return_to query string false "Relative URL to resume after login"
// @Success 200 {string} string "HTML form"
// @Router /login [get]
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	view := loginView{
		ReturnTo: safeReturnTo(r.URL.Query().Get("return_to")),
		Failed:   r.URL.Query().Get("error") != "",
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := loginTemplate.Execute(w, view); err != nil {
		slog.ErrorContext(r.Context(), "failed to render login page", logger.Error(err))
	}
}

// Login authenticates user credentials and opens a login session
// @Summary Login
// @Description Verifies the username and password and sets the session cookie
// @Tags Auth
// @Accept x-www-form-urlencoded
// @Param username formData string true "Username"
// @Param password formData string true "Password"
// @Param return_to formData string false "Relative URL to resume after login"
// @Success 303 {string} string "Redirects to return_to"
// @Router /login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	returnTo := safeReturnTo(r.PostForm.Get("return_to"))

	principal, err := h.authenticator.Authenticate(r.Context(), username, password)
	if err != nil {
		if !errors.Is(err, identity.ErrAuthenticationFailed) {
			slog.ErrorContext(r.Context(), "login failed", logger.Error(err), logger.Username(username))
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		slog.InfoContext(r.Context(), "login rejected", logger.Username(username))
		q := url.Values{"error": {"1"}, "return_to": {returnTo}}
		http.Redirect(w, r, "/login?"+q.Encode(), http.StatusSeeOther)
		return
	}

	sess, err := h.sessions.Create(r.Context(), principal.Subject, getIPAddress(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err), logger.Username(username))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.setSessionCookie(w, sess)
	http.Redirect(w, r, returnTo, http.StatusSeeOther)
}

// safeReturnTo accepts local paths only. Anything else resumes at "/".
func safeReturnTo(v string) string {
	if !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") || strings.HasPrefix(v, "/\\") {
		return "/"
	}
	return v
}
