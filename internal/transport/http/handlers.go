// @title Best Travel Gatekeeper API
// @version 1.0.0
// @description Authorization server and resource gate of the Best Travel backend

// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/authz"
	"github.com/besttravel/gatekeeper/internal/identity"
	"github.com/besttravel/gatekeeper/internal/oauth2"
	"github.com/besttravel/gatekeeper/internal/observability/metrics"
	"github.com/besttravel/gatekeeper/internal/oidc"
	"github.com/besttravel/gatekeeper/internal/session"
	"github.com/besttravel/gatekeeper/internal/token"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	oauth2Service   *oauth2.Service
	authenticator   *identity.Authenticator
	identityService *identity.Service
	sessions        *session.Manager
	oidcService     *oidc.Service
	verifier        *token.Verifier
	engine          *authz.Engine
	mapper          *authz.Mapper
	auditLogger     audit.Logger
	metrics         *metrics.Instruments
	tracer          trace.Tracer
	backend         http.Handler
	healthCheck     func(context.Context) error
	sessionConfig   SessionConfig
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// Dependencies are the collaborators of the HTTP layer.
// Metrics, Tracer, Backend and HealthCheck are optional.
type Dependencies struct {
	OAuth2        *oauth2.Service
	Authenticator *identity.Authenticator
	Identity      *identity.Service
	Sessions      *session.Manager
	OIDC          *oidc.Service
	Verifier      *token.Verifier
	Engine        *authz.Engine
	Mapper        *authz.Mapper
	AuditLogger   audit.Logger
	Metrics       *metrics.Instruments
	Tracer        trace.Tracer
	Backend       http.Handler
	HealthCheck   func(context.Context) error
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies, sessionConfig SessionConfig) *Handler {
	h := &Handler{
		oauth2Service:   deps.OAuth2,
		authenticator:   deps.Authenticator,
		identityService: deps.Identity,
		sessions:        deps.Sessions,
		oidcService:     deps.OIDC,
		verifier:        deps.Verifier,
		engine:          deps.Engine,
		mapper:          deps.Mapper,
		auditLogger:     deps.AuditLogger,
		metrics:         deps.Metrics,
		tracer:          deps.Tracer,
		backend:         deps.Backend,
		healthCheck:     deps.HealthCheck,
		sessionConfig:   sessionConfig,
	}
	if h.auditLogger == nil {
		h.auditLogger = audit.Discard{}
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer("gatekeeper/http")
	}
	if h.backend == nil {
		h.backend = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusNotFound, "not found")
		})
	}
	if h.sessionConfig.CookieName == "" {
		h.sessionConfig.CookieName = "gatekeeper_session"
	}
	if h.sessionConfig.CookiePath == "" {
		h.sessionConfig.CookiePath = "/"
	}
	return h
}

// NewRouter creates a new HTTP router. Every request passes the gate before routing.
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if rateLimiter != nil {
		r.Use(RateLimitMiddleware(rateLimiter))
	}
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.GateMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)

	// Discovery & JWKS
	r.Get("/.well-known/openid-configuration", h.Discovery)
	r.Get("/.well-known/oauth-authorization-server", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)
	r.Get("/jwks.json", h.JWKS)

	// Authorization server
	r.Route("/oauth2", func(r chi.Router) {
		// RFC 6749 Section 4.1.1
		r.Get("/authorize", h.Authorize)
		// RFC 6749 Section 4.1.3
		r.Post("/token", h.Token)
	})
	r.Get("/login", h.LoginPage)
	r.Post("/login", h.Login)

	r.Get("/userinfo", h.UserInfo)

	// User administration
	r.Route("/users", func(r chi.Router) {
		r.Patch("/enabled-or-disabled", h.ToggleUserEnabled)
		r.Patch("/add-role", h.AddUserRole)
		r.Patch("/remove-role", h.RemoveUserRole)
	})

	// Everything else belongs to the business backend
	r.Handle("/*", h.backend)

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.healthCheck != nil {
		if err := h.healthCheck(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "gatekeeper",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gatekeeper",
	})
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sess.ID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		Expires:  sess.ExpiresAt,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ParseSameSite maps a configuration value to http.SameSite.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// First hop of X-Forwarded-For is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
