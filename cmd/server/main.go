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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/besttravel/gatekeeper/internal/audit"
	"github.com/besttravel/gatekeeper/internal/authz"
	"github.com/besttravel/gatekeeper/internal/config"
	"github.com/besttravel/gatekeeper/internal/identity"
	"github.com/besttravel/gatekeeper/internal/keys"
	"github.com/besttravel/gatekeeper/internal/oauth2"
	"github.com/besttravel/gatekeeper/internal/observability/logger"
	"github.com/besttravel/gatekeeper/internal/observability/metrics"
	"github.com/besttravel/gatekeeper/internal/observability/tracing"
	"github.com/besttravel/gatekeeper/internal/oidc"
	"github.com/besttravel/gatekeeper/internal/session"
	"github.com/besttravel/gatekeeper/internal/store/postgres"
	"github.com/besttravel/gatekeeper/internal/token"
	transportHTTP "github.com/besttravel/gatekeeper/internal/transport/http"
)

// stores bundles the repositories selected by STORE_DRIVER.
type stores struct {
	users   identity.UserDirectory
	clients oauth2.ClientRepository
	codes   oauth2.AuthorizationCodeRepository
	health  func(context.Context) error
	close   func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting gatekeeper authorization server")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			slog.Error("migration failed", logger.Error(err))
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := run(cfg); err != nil {
		slog.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer = tracing.Noop()
	}
	defer tracer.Shutdown(context.Background())

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, cfg.Observability.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	defer meter.Shutdown(context.Background())
	instruments, err := metrics.NewInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to register instruments: %w", err)
	}

	// Signing keys exist for the lifetime of the process. No key, no listener.
	keyProvider, err := keys.NewProvider(cfg.Security.KeyBits)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}
	slog.Info("signing key ready", logger.KeyID(keyProvider.KeyID()))

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	hasher := identity.NewPasswordHasher(cfg.Security.BcryptCost)
	mapper := authz.NewMapper(cfg.Authz.AuthorityPrefix)

	// Initialize services
	identityService := identity.NewService(st.users, hasher, auditLogger)
	authenticator := identity.NewAuthenticator(st.users, hasher, cfg.Security.PasswordVerifyConcurrency, auditLogger, instruments)

	registry := oauth2.NewRegistry(st.clients, hasher, auditLogger)
	if _, err := registry.Seed(ctx, oauth2.ClientSpec{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		ClientName:   cfg.OAuth.ClientName,
		Scopes:       cfg.OAuth.Scopes,
		RedirectURIs: cfg.OAuth.RedirectURIs,
	}); err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}

	seeds := make([]identity.SeedUser, 0, len(cfg.Bootstrap.Users))
	for _, u := range cfg.Bootstrap.Users {
		seeds = append(seeds, identity.SeedUser{Username: u.Username, Password: u.Password, Authorities: u.Authorities})
	}
	if err := identity.NewBootstrapService(identityService, auditLogger).Bootstrap(ctx, seeds); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	var customizers []token.ClaimCustomizer
	if cfg.OAuth.TokenOwner != "" {
		customizers = append(customizers, token.OwnerCustomizer(cfg.OAuth.TokenOwner))
	}
	issuer := token.NewIssuer(keyProvider, token.Config{
		Issuer:         cfg.OAuth.Issuer,
		AccessTokenTTL: cfg.OAuth.AccessTokenTTL,
		Authorities:    mapper,
		Customizers:    customizers,
	})
	verifier := token.NewVerifier(keyProvider, cfg.OAuth.Issuer, nil)

	oauth2Service := oauth2.NewService(registry, st.codes, st.users, issuer, verifier, mapper, auditLogger).
		WithMetrics(instruments).
		WithTracer(tracer.GetTracer())

	sessions := session.NewManager(session.NewMemoryRepository(), session.Config{
		Lifetime:    cfg.Session.Lifetime,
		IdleTimeout: cfg.Session.IdleTimeout,
	}, instruments)

	gateMode, err := authz.ParseGateMode(cfg.Authz.GateMode)
	if err != nil {
		return err
	}
	engine, err := authz.NewEngine(authz.DefaultPolicy(), gateMode)
	if err != nil {
		return err
	}

	var backend http.Handler
	if cfg.Backend.URL != "" {
		if backend, err = transportHTTP.NewBackendProxy(cfg.Backend.URL); err != nil {
			return err
		}
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go rateLimiter.Run(ctx)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(transportHTTP.Dependencies{
		OAuth2:        oauth2Service,
		Authenticator: authenticator,
		Identity:      identityService,
		Sessions:      sessions,
		OIDC:          oidc.NewService(cfg.OAuth.Issuer, keyProvider, cfg.OAuth.Scopes),
		Verifier:      verifier,
		Engine:        engine,
		Mapper:        mapper,
		AuditLogger:   auditLogger,
		Metrics:       instruments,
		Tracer:        tracer.GetTracer(),
		Backend:       backend,
		HealthCheck:   st.health,
	}, transportHTTP.SessionConfig{
		CookieName:     cfg.Session.CookieName,
		CookieDomain:   cfg.Session.CookieDomain,
		CookiePath:     cfg.Session.CookiePath,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
		CookieSameSite: transportHTTP.ParseSameSite(cfg.Session.CookieSameSite),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      transportHTTP.NewRouter(handler, rateLimiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Expired codes and sessions are swept in the background
	go janitor(ctx, cfg.Store.PurgeInterval, oauth2Service, sessions)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store.Driver != config.StorePostgres {
		slog.Warn("using in-memory store; users, clients and codes are lost on restart")
		return &stores{
			users:   identity.NewMemoryDirectory(),
			clients: oauth2.NewMemoryClientRepository(),
			codes:   oauth2.NewMemoryCodeRepository(),
			close:   func() {},
		}, nil
	}

	db, err := postgres.New(ctx, postgres.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("connected to database")

	return &stores{
		users:   postgres.NewUserRepository(db),
		clients: postgres.NewClientRepository(db),
		codes:   postgres.NewAuthorizationCodeRepository(db),
		health:  db.Ping,
		close:   db.Close,
	}, nil
}

func janitor(ctx context.Context, interval time.Duration, codes *oauth2.Service, sessions *session.Manager) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := codes.PurgeExpiredCodes(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to purge expired codes", logger.Error(err))
			} else if n > 0 {
				slog.DebugContext(ctx, "purged expired codes", logger.RowsAffected(n))
			}
			if n, err := sessions.PurgeExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to purge expired sessions", logger.Error(err))
			} else if n > 0 {
				slog.DebugContext(ctx, "purged expired sessions", logger.RowsAffected(int64(n)))
			}
		}
	}
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.ConfigFrom(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("applying initial schema")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	slog.Info("migration successful")
	return nil
}
