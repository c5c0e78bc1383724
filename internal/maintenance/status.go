// Package maintenance decides whether a client may pass while maintenance
// mode is on, and runs the visit request workflow that grows the approved set.
package maintenance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/metrics"
)

// DefaultFetchTimeout bounds one refresh of the cache from the backend.
const DefaultFetchTimeout = 3 * time.Second


// StatusBackend is the part of storage the status check reads.
type StatusBackend interface {
	GetMaintenanceSettings(ctx context.Context) (*domain.MaintenanceSettings, error)
	ListApprovedAddresses(ctx context.Context) ([]string, error)
}

// StatusService answers "is this client allowed" from a short-lived cache,
// refreshing it from the backend on a miss.
type StatusService struct {
	backend      StatusBackend
	cache        *StatusCache
	resolver     *clientip.Resolver
	fetchTimeout time.Duration

	refresh singleflight.Group
}

// StatusOption configures a StatusService.
type StatusOption func(*StatusService)

// WithResolver sets the client IP resolver used by CheckRequest.
func WithResolver(r *clientip.Resolver) StatusOption {
	return func(s *StatusService) { s.resolver = r }
}

// WithFetchTimeout bounds each backend refresh.
func WithFetchTimeout(d time.Duration) StatusOption {
	return func(s *StatusService) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// NewStatusService creates a StatusService that owns cache.
func NewStatusService(backend StatusBackend, cache *StatusCache, opts ...StatusOption) *StatusService {
	if cache == nil {
		cache = NewStatusCache(DefaultCacheTTL, nil)
	}
	s := &StatusService{
		backend:      backend,
		cache:        cache,
		resolver:     clientip.NewResolver(nil),
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckRequest resolves the client address of r and checks it.
func (s *StatusService) CheckRequest(ctx context.Context, r *http.Request) domain.AccessStatus {
	return s.CheckAccess(ctx, s.resolver.FromRequest(r))
}

// CheckAccess reports the maintenance flag and whether ip is approved.
//
// It never fails. When the backend cannot be read the result allows access,
// has Source set to domain.SourceFailOpen and carries the cause in Err.
func (s *StatusService) CheckAccess(ctx context.Context, ip string) domain.AccessStatus {
	if entry, ok := s.cache.Read(); ok {
		metrics.RecordStatusLookup(string(domain.SourceCache))
		return domain.AccessStatus{
			MaintenanceEnabled: entry.MaintenanceEnabled,
			IsApproved:         entry.Contains(ip),
			IP:                 ip,
			Source:             domain.SourceCache,
		}
	}

	entry, err := s.load(ctx)
	if err != nil {
		log.Warn("Maintenance status unavailable, allowing request", "ip", ip, "error", err)
		metrics.RecordStatusLookup(string(domain.SourceFailOpen))
		return domain.AccessStatus{
			MaintenanceEnabled: false,
			IsApproved:         true,
			IP:                 ip,
			Source:             domain.SourceFailOpen,
			Err:                err,
		}
	}

	metrics.RecordStatusLookup(string(domain.SourceBackend))
	return domain.AccessStatus{
		MaintenanceEnabled: entry.MaintenanceEnabled,
		IsApproved:         entry.Contains(ip),
		IP:                 ip,
		Source:             domain.SourceBackend,
	}
}

// Invalidate forces the next check to go to the backend.
func (s *StatusService) Invalidate() {
	s.cache.Invalidate()
}

// load refreshes the cache. Concurrent misses in this process share one
// fetch per cache generation, so a miss after Invalidate never joins a fetch
// that started before it.
func (s *StatusService) load(ctx context.Context) (CacheEntry, error) {
	gen := s.cache.Generation()
	ch := s.refresh.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		// Detached so one caller going away does not fail the others waiting on it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return CacheEntry{}, res.Err
		}
		return res.Val.(CacheEntry), nil
	case <-ctx.Done():
		return CacheEntry{}, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, ctx.Err())
	}
}

func (s *StatusService) fetch(ctx context.Context, gen uint64) (CacheEntry, error) {
	var (
		settings *domain.MaintenanceSettings
		approved []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.backend.GetMaintenanceSettings(gctx)
		if err != nil {
			return fmt.Errorf("fetching maintenance settings: %w", err)
		}
		settings = v
		return nil
	})
	g.Go(func() error {
		v, err := s.backend.ListApprovedAddresses(gctx)
		if err != nil {
			return fmt.Errorf("fetching approved IPs: %w", err)
		}
		approved = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return CacheEntry{}, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}

	entry, stored := s.cache.WriteAt(gen, settings.Enabled, approved)
	if !stored {
		log.Debug("Discarding status snapshot fetched before invalidation")
	}
	return entry, nil
}
