package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/petcare-market/maintenance-gate/internal/api"
	"github.com/petcare-market/maintenance-gate/internal/auth"
	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/config"
	"github.com/petcare-market/maintenance-gate/internal/gate"
	"github.com/petcare-market/maintenance-gate/internal/maintenance"
	"github.com/petcare-market/maintenance-gate/internal/ratelimit"
	"github.com/petcare-market/maintenance-gate/internal/storage/sql"
	"github.com/petcare-market/maintenance-gate/internal/web"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", "error", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}
	if err := cfg.Log.Apply(); err != nil {
		log.Fatal("Invalid log configuration", "error", err)
	}

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." && !strings.Contains(cfg.Database.DSN, ":memory:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Fatal("Failed to create data directory", "dir", dir, "error", err)
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()

	trusted := cfg.Maintenance.GetTrustedProxies()
	if len(trusted) == 0 {
		log.Warn("TRUSTED_PROXIES is empty; client address headers are trusted from any peer")
	}
	resolver := clientip.NewResolver(trusted)

	status := maintenance.NewStatusService(
		store,
		maintenance.NewStatusCache(cfg.Maintenance.CacheTTL, nil),
		maintenance.WithResolver(resolver),
		maintenance.WithFetchTimeout(cfg.Maintenance.BackendTimeout),
	)
	visits := maintenance.NewVisitService(store, status, nil)

	limiter, closeLimiter := newLimiter(cfg.RateLimit)
	defer closeLimiter()
	visits.SetLimiter(limiter, cfg.RateLimit.VisitRequestLimit)

	// The gate asks the status endpoint of a separate deployment when one is
	// configured, else the in-process status service.
	var checker gate.StatusChecker
	if cfg.UsesRemoteStatus() {
		log.Info("Gate uses remote status endpoint", "base_url", cfg.Maintenance.AppBaseURL)
		checker = gate.NewHTTPChecker(cfg.Maintenance.AppBaseURL, cfg.Maintenance.CheckTimeout, resolver)
	} else {
		checker = gate.NewLocalChecker(status)
	}

	gateCfg := gate.DefaultConfig()
	gateCfg.Bypass = cfg.Maintenance.BypassEnabled()
	gateCfg.ExcludedPrefixes = append(gateCfg.ExcludedPrefixes, cfg.Maintenance.GetExcludedPrefixes()...)
	if gateCfg.Bypass {
		log.Warn("MAINTENANCE_BYPASS is set; the gate forwards every request")
	}

	key, err := sessionKey(cfg)
	if err != nil {
		log.Fatal("Failed to prepare session key", "error", err)
	}
	secureCookies := strings.HasPrefix(cfg.OIDC.RedirectURL, "https://")
	sessions, err := auth.NewSessionManager(key, cfg.OIDC.SessionDuration, secureCookies)
	if err != nil {
		log.Fatal("Failed to create session manager", "error", err)
	}

	webOpts := web.Options{
		Store:        store,
		Status:       status,
		Visits:       visits,
		Resolver:     resolver,
		BootstrapKey: cfg.Admin.BootstrapAPIKey,
		Sessions:     sessions,
	}
	if cfg.OIDC.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		provider, err := auth.NewProvider(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret,
			cfg.OIDC.RedirectURL, cfg.OIDC.GetScopes(), cfg.OIDC.GetAllowedDomains())
		cancel()
		if err != nil {
			log.Fatal("Failed to initialize OIDC provider", "error", err)
		}
		states, err := auth.NewStateStore(key, secureCookies)
		if err != nil {
			log.Fatal("Failed to create OIDC state store", "error", err)
		}
		webOpts.OIDC = provider
		webOpts.States = states
		log.Info("OIDC login enabled", "issuer", cfg.OIDC.IssuerURL)
	}

	deps := api.Deps{
		Store:        store,
		Status:       status,
		Visits:       visits,
		Resolver:     resolver,
		BootstrapKey: cfg.Admin.BootstrapAPIKey,
		Gate:         gate.New(gateCfg, checker),
		Web:          web.NewServer(webOpts),
	}
	if cfg.Server.UpstreamURL != "" {
		target, err := url.Parse(cfg.Server.UpstreamURL)
		if err != nil {
			log.Fatal("Invalid UPSTREAM_URL", "error", err)
		}
		deps.Upstream = httputil.NewSingleHostReverseProxy(target)
		log.Info("Forwarding allowed requests", "upstream", target.String())
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info("Starting maintenance gate", "addr", "http://"+cfg.Server.Addr())

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		return
	}

	log.Info("Server stopped")
}

// newLimiter uses Redis when REDIS_URL is set so limits hold across
// replicas, with the in-memory limiter as fallback.
func newLimiter(cfg config.RateLimitConfig) (ratelimit.Limiter, func()) {
	if cfg.RedisURL == "" {
		return ratelimit.NewInMemory(cfg.VisitRequestWindow), func() {}
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid REDIS_URL", "error", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unreachable at startup, visit limits fall back to memory when it stays down", "error", err)
	} else {
		log.Info("Visit request limits stored in Redis", "addr", opts.Addr)
	}

	return ratelimit.NewRedis(client, cfg.VisitRequestWindow), func() {
		if err := client.Close(); err != nil {
			log.Warn("Failed to close Redis client", "error", err)
		}
	}
}

// sessionKey returns the key that seals admin session cookies. Without
// OIDC_SESSION_SECRET a random key is used and sessions end on restart.
func sessionKey(cfg *config.Config) ([]byte, error) {
	if cfg.OIDC.SessionSecret != "" {
		return cfg.OIDC.GetSessionSecretBytes()
	}
	log.Warn("OIDC_SESSION_SECRET not set; using a random session key, admin sessions reset on restart")
	key := make([]byte, auth.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
