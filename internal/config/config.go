package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/validation"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Maintenance MaintenanceConfig
	RateLimit   RateLimitConfig
	Admin       AdminConfig
	OIDC        OIDCConfig
	Log         LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
	// UpstreamURL is the application that receives requests the gate forwards.
	// Without it forwarded requests get a 404.
	UpstreamURL     string        `env:"UPSTREAM_URL"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/maintenance.db"`
}

// MaintenanceConfig holds the gate and status lookup settings.
type MaintenanceConfig struct {
	Bypass           string        `env:"MAINTENANCE_BYPASS"`
	AppBaseURL       string        `env:"APP_BASE_URL"`
	CacheTTL         time.Duration `env:"STATUS_CACHE_TTL" envDefault:"5s"`
	BackendTimeout   time.Duration `env:"STATUS_BACKEND_TIMEOUT" envDefault:"3s"`
	CheckTimeout     time.Duration `env:"STATUS_CHECK_TIMEOUT" envDefault:"3s"`
	TrustedProxies   []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	ExcludedPrefixes []string      `env:"MAINTENANCE_EXCLUDED_PREFIXES" envSeparator:","`
}

// BypassEnabled reports whether MAINTENANCE_BYPASS is truthy (1, true, yes, on).
func (c *MaintenanceConfig) BypassEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(c.Bypass)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// GetTrustedProxies returns the trimmed, non-empty proxy entries.
func (c *MaintenanceConfig) GetTrustedProxies() []string {
	return trimAll(c.TrustedProxies)
}

// GetExcludedPrefixes returns the trimmed, non-empty extra prefixes.
func (c *MaintenanceConfig) GetExcludedPrefixes() []string {
	return trimAll(c.ExcludedPrefixes)
}

// RateLimitConfig holds visit request throttling configuration.
type RateLimitConfig struct {
	VisitRequestLimit  int           `env:"VISIT_REQUEST_LIMIT" envDefault:"5"`
	VisitRequestWindow time.Duration `env:"VISIT_REQUEST_WINDOW" envDefault:"1h"`
	RedisURL           string        `env:"REDIS_URL"`
}

// AdminConfig holds administrator access configuration.
type AdminConfig struct {
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
}

// OIDCConfig holds OIDC authentication configuration for the admin console.
type OIDCConfig struct {
	Enabled         bool          `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL       string        `env:"OIDC_ISSUER_URL"`
	ClientID        string        `env:"OIDC_CLIENT_ID"`
	ClientSecret    string        `env:"OIDC_CLIENT_SECRET"`
	RedirectURL     string        `env:"OIDC_REDIRECT_URL"`
	Scopes          string        `env:"OIDC_SCOPES" envDefault:"openid,email,profile"`
	SessionSecret   string        `env:"OIDC_SESSION_SECRET"`
	SessionDuration time.Duration `env:"OIDC_SESSION_DURATION" envDefault:"12h"`
	AllowedDomains  string        `env:"OIDC_ALLOWED_DOMAINS"`
	LogoutURL       string        `env:"OIDC_LOGOUT_URL"`
}

// GetScopes returns the OIDC scopes as a slice.
func (c *OIDCConfig) GetScopes() []string {
	if c.Scopes == "" {
		return []string{"openid", "email", "profile"}
	}
	return trimAll(strings.Split(c.Scopes, ","))
}

// GetAllowedDomains returns the allowed email domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	return trimAll(strings.Split(c.AllowedDomains, ","))
}

// GetSessionSecretBytes returns the session secret as bytes.
func (c *OIDCConfig) GetSessionSecretBytes() ([]byte, error) {
	if c.SessionSecret == "" {
		return nil, fmt.Errorf("OIDC_SESSION_SECRET is required")
	}
	// 64 hex chars = 32 bytes
	if len(c.SessionSecret) == 64 {
		decoded, err := hex.DecodeString(c.SessionSecret)
		if err == nil {
			return decoded, nil
		}
	}
	if len(c.SessionSecret) != 32 {
		return nil, fmt.Errorf("OIDC_SESSION_SECRET must be 32 bytes (or 64 hex characters)")
	}
	return []byte(c.SessionSecret), nil
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Apply configures the default charmbracelet logger.
func (c *LogConfig) Apply() error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.Level, err)
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)
	log.SetOutput(os.Stderr)
	if c.Format == "json" {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
	return nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Maintenance); err != nil {
		return nil, fmt.Errorf("parsing maintenance config: %w", err)
	}
	if err := env.Parse(&cfg.RateLimit); err != nil {
		return nil, fmt.Errorf("parsing rate limit config: %w", err)
	}
	if err := env.Parse(&cfg.Admin); err != nil {
		return nil, fmt.Errorf("parsing admin config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UsesRemoteStatus reports whether the gate asks a remote status endpoint
// instead of the in-process status service.
func (c *Config) UsesRemoteStatus() bool {
	return c.Maintenance.AppBaseURL != ""
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if c.Server.UpstreamURL != "" {
		if err := validateHTTPURL(c.Server.UpstreamURL); err != nil {
			return fmt.Errorf("UPSTREAM_URL: %w", err)
		}
	}
	if c.Maintenance.AppBaseURL != "" {
		if err := validateHTTPURL(c.Maintenance.AppBaseURL); err != nil {
			return fmt.Errorf("APP_BASE_URL: %w", err)
		}
	}
	for _, entry := range c.Maintenance.GetTrustedProxies() {
		if err := validation.ValidateProxyEntry(entry); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
	}
	for _, prefix := range c.Maintenance.GetExcludedPrefixes() {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("MAINTENANCE_EXCLUDED_PREFIXES: %q must start with /", prefix)
		}
	}
	if c.Maintenance.CacheTTL <= 0 {
		return fmt.Errorf("STATUS_CACHE_TTL must be positive")
	}
	if c.Maintenance.BackendTimeout <= 0 || c.Maintenance.CheckTimeout <= 0 {
		return fmt.Errorf("STATUS_BACKEND_TIMEOUT and STATUS_CHECK_TIMEOUT must be positive")
	}

	if c.RateLimit.VisitRequestLimit <= 0 {
		return fmt.Errorf("VISIT_REQUEST_LIMIT must be positive")
	}
	if c.RateLimit.VisitRequestWindow <= 0 {
		return fmt.Errorf("VISIT_REQUEST_WINDOW must be positive")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	// Validate OIDC config when enabled
	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
		if c.OIDC.ClientSecret == "" {
			return fmt.Errorf("OIDC_CLIENT_SECRET is required when OIDC is enabled")
		}
		if c.OIDC.RedirectURL == "" {
			return fmt.Errorf("OIDC_REDIRECT_URL is required when OIDC is enabled")
		}
		if _, err := c.OIDC.GetSessionSecretBytes(); err != nil {
			return err
		}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
