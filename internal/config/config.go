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
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	OAuth         OAuthConfig
	Authz         AuthzConfig
	Backend       BackendConfig
	Bootstrap     BootstrapConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects where users, clients and codes live.
type StoreConfig struct {
	Driver        string
	PurgeInterval time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SessionConfig holds login session configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string
	Lifetime       time.Duration
	IdleTimeout    time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	BcryptCost                int
	PasswordVerifyConcurrency int
	KeyBits                   int
}

// OAuthConfig describes the authorization server and its single registered client.
type OAuthConfig struct {
	Issuer         string
	ClientID       string
	ClientSecret   string
	ClientName     string
	Scopes         []string
	RedirectURIs   []string
	AccessTokenTTL time.Duration
	TokenOwner     string
}

// AuthzConfig controls authority mapping and route gating.
type AuthzConfig struct {
	AuthorityPrefix string
	GateMode        string
}

// BackendConfig points at the business API behind the gate.
type BackendConfig struct {
	URL string
}

// BootstrapConfig lists users seeded at startup.
type BootstrapConfig struct {
	Users []BootstrapUser
}

// BootstrapUser is one seeded account.
type BootstrapUser struct {
	Username    string
	Password    string
	Authorities []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	users, err := parseUsers("BOOTSTRAP_USERS")
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:    parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:     parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: parseDuration("SERVER_SHUTDOWN_TIMEOUT", "10s"),
		},
		Store: StoreConfig{
			Driver:        getEnv("STORE_DRIVER", StoreMemory),
			PurgeInterval: parseDuration("STORE_PURGE_INTERVAL", "1m"),
		},
		Database: LoadDatabase(),
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "gatekeeper_session"),
			CookieDomain:   getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   parseBool("SESSION_COOKIE_SECURE", false),
			CookieHTTPOnly: parseBool("SESSION_COOKIE_HTTP_ONLY", true),
			CookieSameSite: getEnv("SESSION_COOKIE_SAME_SITE", "Lax"),
			Lifetime:       parseDuration("SESSION_LIFETIME", "30m"),
			IdleTimeout:    parseDuration("SESSION_IDLE_TIMEOUT", "10m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "gatekeeper"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		Security: SecurityConfig{
			BcryptCost:                parseInt("BCRYPT_COST", 10),
			PasswordVerifyConcurrency: parseInt("PASSWORD_VERIFY_CONCURRENCY", 4),
			KeyBits:                   parseInt("SIGNING_KEY_BITS", 2048),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		OAuth: OAuthConfig{
			Issuer:         strings.TrimSuffix(getEnv("OAUTH_ISSUER", "http://localhost:8080"), "/"),
			ClientID:       getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret:   getEnv("OAUTH_CLIENT_SECRET", ""),
			ClientName:     getEnv("OAUTH_CLIENT_NAME", "Best Travel"),
			Scopes:         parseList("OAUTH_CLIENT_SCOPES", "read,write"),
			RedirectURIs:   parseList("OAUTH_CLIENT_REDIRECT_URIS", ""),
			AccessTokenTTL: parseDuration("ACCESS_TOKEN_TTL", "5m"),
			TokenOwner:     getEnv("TOKEN_OWNER", "Debuggeando ideas"),
		},
		Authz: AuthzConfig{
			AuthorityPrefix: getEnv("AUTHZ_AUTHORITY_PREFIX", ""),
			GateMode:        getEnv("AUTHZ_GATE_MODE", "any"),
		},
		Backend: BackendConfig{
			URL: getEnv("BACKEND_URL", ""),
		},
		Bootstrap: BootstrapConfig{
			Users: users,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. Maintenance commands use it
// without requiring the authorization server configuration.
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnv("DB_PORT", "5432"),
		User:            getEnv("DB_USER", "gatekeeper"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "gatekeeper"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Database.Password == "" {
			errs = append(errs, errors.New("DB_PASSWORD is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not supported", c.Store.Driver))
	}

	if c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("OAUTH_CLIENT_ID is required"))
	}
	if c.OAuth.ClientSecret == "" {
		errs = append(errs, errors.New("OAUTH_CLIENT_SECRET is required"))
	}
	if len(c.OAuth.Scopes) == 0 {
		errs = append(errs, errors.New("OAUTH_CLIENT_SCOPES must name at least one scope"))
	}
	if len(c.OAuth.RedirectURIs) == 0 {
		errs = append(errs, errors.New("OAUTH_CLIENT_REDIRECT_URIS must name at least one URI"))
	}
	if c.OAuth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if u, err := url.Parse(c.OAuth.Issuer); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("OAUTH_ISSUER %q must be an absolute URL", c.OAuth.Issuer))
	}

	if c.Backend.URL != "" {
		if u, err := url.Parse(c.Backend.URL); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("BACKEND_URL %q must be an absolute URL", c.Backend.URL))
		}
	}

	if c.Security.PasswordVerifyConcurrency < 1 {
		errs = append(errs, errors.New("PASSWORD_VERIFY_CONCURRENCY must be at least 1"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func parseList(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseUsers reads "name:password:AUTH1,AUTH2;name2:..." entries.
func parseUsers(key string) ([]BootstrapUser, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}

	var users []BootstrapUser
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || parts[1] == "" {
			return nil, fmt.Errorf("%s: entry %q must be username:password[:authorities]", key, strings.SplitN(entry, ":", 2)[0])
		}
		u := BootstrapUser{Username: strings.TrimSpace(parts[0]), Password: parts[1]}
		if len(parts) == 3 {
			for _, a := range strings.Split(parts[2], ",") {
				if a = strings.TrimSpace(a); a != "" {
					u.Authorities = append(u.Authorities, a)
				}
			}
		}
		users = append(users, u)
	}
	return users, nil
}
