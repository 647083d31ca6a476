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
	"strings"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/authz"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
	"github.com/besttravel/gatekeeper/internal/oidc"
	"github.com/besttravel/gatekeeper/internal/token"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const bearerRealm = "gatekeeper"

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// GateMiddleware authenticates bearer tokens and applies the route policy.
// The request path is cleaned once here so that routing and the backend see
// exactly the path the decision was made for.
func (h *Handler) GateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "authz.Decide")
		defer span.End()

		cleaned := authz.CleanPath(r.URL.Path)
		r.URL.Path = cleaned
		r.URL.RawPath = ""

		principal, claims, tokenErr := h.authenticateBearer(r)
		decision := h.engine.Decide(cleaned, principal)

		span.SetAttributes(
			attribute.String("authz.rule", decision.Rule),
			attribute.String("authz.outcome", decision.Outcome.String()),
		)
		h.metrics.AuthzDecision(ctx, decision.Rule, decision.Outcome.String())

		if decision.Allowed() {
			if principal != nil {
				ctx = withPrincipal(ctx, principal, claims)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		h.rejectRequest(w, r.WithContext(ctx), decision, principal, tokenErr, span)
	})
}

// authenticateBearer returns a nil principal when no bearer token was sent.
// A token that fails verification also yields a nil principal plus the reason.
func (h *Handler) authenticateBearer(r *http.Request) (*authz.Principal, *token.Claims, error) {
	header := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return nil, nil, nil
	}

	claims, err := h.verifier.Verify(strings.TrimSpace(raw), token.KindAccess)
	if err != nil {
		return nil, nil, err
	}

	return &authz.Principal{
		Subject:     claims.Subject,
		ClientID:    claims.ClientID,
		Authorities: h.mapper.NormalizeAll(claims.Authorities),
	}, claims, nil
}

func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request, d authz.Decision, p *authz.Principal, tokenErr error, span trace.Span) {
	ctx := r.Context()

	var bearerErr *oidc.Error
	status := http.StatusUnauthorized
	switch {
	case d.Outcome == authz.Forbidden:
		status = http.StatusForbidden
		bearerErr = oidc.NewError(oidc.ErrInsufficientScope, "insufficient authority for this resource").WithScope(d.Required)
	case errors.Is(tokenErr, token.ErrTokenExpired):
		bearerErr = oidc.NewError(oidc.ErrInvalidToken, "token expired")
	case tokenErr != nil:
		bearerErr = oidc.NewError(oidc.ErrInvalidToken, "token is invalid")
	default:
		bearerErr = oidc.NewError(oidc.ErrInvalidToken, "authentication required")
	}
	span.RecordError(d.Err())

	event := audit.Event{
		Type:      audit.TypeAccessDenied,
		Resource:  r.URL.Path,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{audit.AttrRule: d.Rule, audit.AttrReason: d.Outcome.String()},
	}
	if p != nil {
		event.ActorID = p.Subject
		event.ClientID = p.ClientID
	}
	h.auditLogger.Log(ctx, event)

	slog.InfoContext(ctx, "request denied",
		logger.Path(r.URL.Path),
		logger.Rule(d.Rule),
		logger.Outcome(d.Outcome.String()),
	)

	w.Header().Set("WWW-Authenticate", bearerErr.WWWAuthenticate(bearerRealm))
	respondJSON(w, status, bearerErr)
}
