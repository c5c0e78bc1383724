package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/domain"
)

// DefaultCheckTimeout bounds one call to the status endpoint.
const DefaultCheckTimeout = 3 * time.Second

const maxStatusBody = 64 << 10

// StatusChecker reports the maintenance status for the client behind r.
// An error means the status is unknown and the gate forwards the request.
type StatusChecker interface {
	Check(ctx context.Context, r *http.Request) (domain.StatusResponse, error)
}

// HTTPChecker asks a remote /maintenance/status endpoint.
type HTTPChecker struct {
	baseURL  string
	client   *http.Client
	resolver *clientip.Resolver
}

// NewHTTPChecker creates a checker for the service at baseURL. resolver
// decides which client address is reported; nil trusts headers.
func NewHTTPChecker(baseURL string, timeout time.Duration, resolver *clientip.Resolver) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	if resolver == nil {
		resolver = clientip.NewResolver(nil)
	}
	return &HTTPChecker{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		resolver: resolver,
	}
}

// Check sends the resolved client address of r to the status endpoint as
// the only X-Forwarded-For entry. The raw headers of r are never copied, so
// a client outside the trusted proxies cannot choose the address checked.
// An unresolvable client is reported as its TCP peer.
func (c *HTTPChecker) Check(ctx context.Context, r *http.Request) (domain.StatusResponse, error) {
	var status domain.StatusResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/maintenance/status", nil)
	if err != nil {
		return status, fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(clientip.HeaderForwardedFor, c.clientAddr(r))

	resp, err := c.client.Do(req)
	if err != nil {
		return status, fmt.Errorf("calling status endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return status, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStatusBody)).Decode(&status); err != nil {
		return status, fmt.Errorf("decoding status response: %w", err)
	}
	return status, nil
}

func (c *HTTPChecker) clientAddr(r *http.Request) string {
	ip := c.resolver.FromRequest(r)
	if ip != clientip.Unknown {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return clientip.Normalize(host)
	}
	return clientip.Unknown
}

// AccessChecker is the in-process status lookup.
type AccessChecker interface {
	CheckRequest(ctx context.Context, r *http.Request) domain.AccessStatus
}

// LocalChecker answers from the status service in this process.
type LocalChecker struct {
	status AccessChecker
}

// NewLocalChecker creates a checker backed by status.
func NewLocalChecker(status AccessChecker) *LocalChecker {
	return &LocalChecker{status: status}
}

// Check never fails: a fail-open status already allows the request.
func (c *LocalChecker) Check(ctx context.Context, r *http.Request) (domain.StatusResponse, error) {
	return domain.NewStatusResponse(c.status.CheckRequest(ctx, r)), nil
}
