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
	"slices"

	"github.com/besttravel/gatekeeper/internal/identity"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
)

// ToggleUserEnabled enables or disables a user
// @Summary Enable or disable a user
// @Description Flips the enabled flag of the user. Disabling ends the user's sessions.
// @Tags User
// @Produce json
// @Security BearerAuth
// @Param username query string true "Username"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} map[string]string
// @Router /users/enabled-or-disabled [patch]
func (h *Handler) ToggleUserEnabled(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	user, err := h.identityService.ToggleEnabled(r.Context(), h.actor(r), username)
	if err != nil {
		h.respondUserError(w, r, err, username)
		return
	}

	if !user.Enabled {
		if err := h.sessions.DestroyAll(r.Context(), user.Username); err != nil {
			slog.ErrorContext(r.Context(), "failed to end sessions of disabled user",
				logger.Error(err), logger.Username(user.Username))
		}
	}

	respondJSON(w, http.StatusOK, map[string]bool{user.Username: user.Enabled})
}

// AddUserRole grants an authority to a user
// @Summary Add a role to a user
// @Tags User
// @Produce json
// @Security BearerAuth
// @Param username query string true "Username"
// @Param role query string true "Role or scope"
// @Success 200 {object} map[string][]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/add-role [patch]
func (h *Handler) AddUserRole(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	user, err := h.identityService.AddRole(r.Context(), h.actor(r), username, r.URL.Query().Get("role"))
	if err != nil {
		h.respondUserError(w, r, err, username)
		return
	}
	respondJSON(w, http.StatusOK, rolesOf(user))
}

// RemoveUserRole revokes an authority from a user
// @Summary Remove a role from a user
// @Tags User
// @Produce json
// @Security BearerAuth
// @Param username query string true "Username"
// @Param role query string true "Role or scope"
// @Success 200 {object} map[string][]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/remove-role [patch]
func (h *Handler) RemoveUserRole(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	user, err := h.identityService.RemoveRole(r.Context(), h.actor(r), username, r.URL.Query().Get("role"))
	if err != nil {
		h.respondUserError(w, r, err, username)
		return
	}
	respondJSON(w, http.StatusOK, rolesOf(user))
}

func (h *Handler) actor(r *http.Request) string {
	if p := GetPrincipal(r.Context()); p != nil {
		return p.Subject
	}
	return ""
}

func rolesOf(u *identity.User) map[string][]string {
	roles := slices.Clone(u.Authorities)
	slices.Sort(roles)
	return map[string][]string{u.Username: roles}
}

func (h *Handler) respondUserError(w http.ResponseWriter, r *http.Request, err error, username string) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, identity.ErrInvalidRole):
		respondError(w, http.StatusBadRequest, "role is required")
	default:
		slog.ErrorContext(r.Context(), "user administration failed", logger.Error(err), logger.Username(username))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
