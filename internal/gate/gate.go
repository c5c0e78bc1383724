// Package gate is the edge filter that sends visitors to the maintenance page
// while maintenance mode is on.
package gate

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/metrics"
)

// MaintenancePath is where blocked visitors are redirected.
const MaintenancePath = "/maintenance"

// DefaultExcludedPrefixes are never gated.
var DefaultExcludedPrefixes = []string{
	"/maintenance",
	"/admin",
	"/api",
	"/static",
	"/assets",
	"/health",
	"/metrics",
	"/favicon.ico",
}

// DefaultStaticExtensions mark asset requests that are never gated.
var DefaultStaticExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp", ".avif",
	".woff", ".woff2", ".ttf", ".otf", ".eot",
	".css", ".js", ".map",
}

var localHosts = []string{"localhost", "127.0.0.1"}

// Config controls which requests the filter evaluates.
type Config struct {
	Bypass           bool
	ExcludedPrefixes []string
	StaticExtensions []string
}

// DefaultConfig returns the built-in exclusions with bypass off.
func DefaultConfig() Config {
	return Config{
		ExcludedPrefixes: append([]string(nil), DefaultExcludedPrefixes...),
		StaticExtensions: append([]string(nil), DefaultStaticExtensions...),
	}
}

// Decision is the outcome of evaluating one request.
type Decision struct {
	Allow  bool
	Reason string
}

const (
	ReasonBypass         = "bypass"
	ReasonExcludedPath   = "excluded_path"
	ReasonStaticAsset    = "static_asset"
	ReasonLocalhost      = "localhost"
	ReasonCheckerError   = "checker_error"
	ReasonMaintenanceOff = "maintenance_off"
	ReasonApproved       = "approved"
	ReasonNotApproved    = "not_approved"
)

// Filter decides per request whether to forward or redirect.
type Filter struct {
	cfg     Config
	checker StatusChecker
}

// New creates a Filter.
func New(cfg Config, checker StatusChecker) *Filter {
	return &Filter{cfg: cfg, checker: checker}
}

// Middleware forwards allowed requests to next and redirects the rest to
// the maintenance page.
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := f.Decide(r)
		if d.Allow {
			metrics.RecordGateDecision("forward", d.Reason)
			next.ServeHTTP(w, r)
			return
		}
		metrics.RecordGateDecision("redirect", d.Reason)
		http.Redirect(w, r, RedirectTarget(r.URL), http.StatusTemporaryRedirect)
	})
}

// Decide evaluates the rules in order; the first match wins.
func (f *Filter) Decide(r *http.Request) Decision {
	if f.cfg.Bypass {
		return Decision{Allow: true, Reason: ReasonBypass}
	}
	if f.isExcluded(r.URL.Path) {
		return Decision{Allow: true, Reason: ReasonExcludedPath}
	}
	if f.isStatic(r.URL.Path) {
		return Decision{Allow: true, Reason: ReasonStaticAsset}
	}
	if isLocalHost(r.Host) {
		return Decision{Allow: true, Reason: ReasonLocalhost}
	}

	status, err := f.checker.Check(r.Context(), r)
	if err != nil {
		log.Warn("Maintenance status check failed, forwarding request", "path", r.URL.Path, "error", err)
		return Decision{Allow: true, Reason: ReasonCheckerError}
	}
	if !status.MaintenanceEnabled {
		return Decision{Allow: true, Reason: ReasonMaintenanceOff}
	}
	if status.IsApproved {
		return Decision{Allow: true, Reason: ReasonApproved}
	}
	log.Debug("Redirecting to maintenance page", "ip", status.IP, "path", r.URL.Path)
	return Decision{Allow: false, Reason: ReasonNotApproved}
}

// RedirectTarget builds the maintenance page URL carrying the original
// path and query.
func RedirectTarget(u *url.URL) string {
	q := url.Values{}
	q.Set("redirect", u.RequestURI())
	return MaintenancePath + "?" + q.Encode()
}

func (f *Filter) isExcluded(p string) bool {
	for _, prefix := range f.cfg.ExcludedPrefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (f *Filter) isStatic(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range f.cfg.StaticExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func isLocalHost(host string) bool {
	for _, h := range localHosts {
		if strings.HasPrefix(host, h) {
			return true
		}
	}
	return false
}
