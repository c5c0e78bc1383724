package maintenance

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/domain"
)

type stubBackend struct {
	enabled     bool
	approved    []string
	settingsErr error
	approvedErr error
	delay       time.Duration

	settingsCalls atomic.Int32
	approvedCalls atomic.Int32
}

func (b *stubBackend) GetMaintenanceSettings(ctx context.Context) (*domain.MaintenanceSettings, error) {
	b.settingsCalls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.settingsErr != nil {
		return nil, b.settingsErr
	}
	return &domain.MaintenanceSettings{Enabled: b.enabled}, nil
}

func (b *stubBackend) ListApprovedAddresses(ctx context.Context) ([]string, error) {
	b.approvedCalls.Add(1)
	if b.approvedErr != nil {
		return nil, b.approvedErr
	}
	return b.approved, nil
}

func TestCheckAccessFetchesOnMissAndCaches(t *testing.T) {
	clock := newFakeClock()
	backend := &stubBackend{enabled: true, approved: []string{"10.0.0.1"}}
	svc := NewStatusService(backend, NewStatusCache(5*time.Second, clock.Now))
	ctx := context.Background()

	got := svc.CheckAccess(ctx, "10.0.0.1")
	if got.Source != domain.SourceBackend || !got.MaintenanceEnabled || !got.IsApproved || got.IP != "10.0.0.1" {
		t.Fatalf("unexpected first status %+v", got)
	}

	got = svc.CheckAccess(ctx, "203.0.113.5")
	if got.Source != domain.SourceCache {
		t.Fatalf("expected cache hit, got %s", got.Source)
	}
	if got.IsApproved {
		t.Error("203.0.113.5 should not be approved")
	}
	if n := backend.settingsCalls.Load(); n != 1 {
		t.Errorf("expected 1 backend call, got %d", n)
	}

	clock.Advance(5 * time.Second)
	if got := svc.CheckAccess(ctx, "10.0.0.1"); got.Source != domain.SourceBackend {
		t.Errorf("expected refresh after TTL, got %s", got.Source)
	}
	if n := backend.settingsCalls.Load(); n != 2 {
		t.Errorf("expected 2 backend calls, got %d", n)
	}
}

func TestCheckAccessFailsOpen(t *testing.T) {
	boom := errors.New("connection refused")
	tests := []struct {
		name    string
		backend *stubBackend
	}{
		{"settings fetch fails", &stubBackend{enabled: true, settingsErr: boom}},
		{"approved fetch fails", &stubBackend{enabled: true, approvedErr: boom}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewStatusService(tt.backend, NewStatusCache(time.Minute, nil))
			got := svc.CheckAccess(context.Background(), "203.0.113.5")

			if got.MaintenanceEnabled || !got.IsApproved || !got.Allowed() {
				t.Errorf("expected fail-open status, got %+v", got)
			}
			if got.Source != domain.SourceFailOpen {
				t.Errorf("Source = %s, want fail_open", got.Source)
			}
			if !errors.Is(got.Err, domain.ErrBackendUnavailable) {
				t.Errorf("expected ErrBackendUnavailable, got %v", got.Err)
			}
			if !errors.Is(got.Err, boom) {
				t.Errorf("expected cause to be preserved, got %v", got.Err)
			}
			if _, ok := svc.cache.Read(); ok {
				t.Error("cache must not be written on failure")
			}
		})
	}
}

func TestCheckAccessFetchTimeout(t *testing.T) {
	backend := &stubBackend{enabled: true, delay: time.Second}
	svc := NewStatusService(backend, nil, WithFetchTimeout(20*time.Millisecond))

	got := svc.CheckAccess(context.Background(), "203.0.113.5")
	if got.Source != domain.SourceFailOpen {
		t.Fatalf("expected fail-open on timeout, got %+v", got)
	}
	if !errors.Is(got.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", got.Err)
	}
}

func TestCheckAccessCollapsesConcurrentMisses(t *testing.T) {
	backend := &stubBackend{enabled: true, delay: 50 * time.Millisecond}
	svc := NewStatusService(backend, NewStatusCache(time.Minute, nil))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.CheckAccess(context.Background(), "10.0.0.1")
		}()
	}
	wg.Wait()

	if n := backend.settingsCalls.Load(); n != 1 {
		t.Errorf("expected concurrent misses to share one fetch, got %d", n)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	backend := &stubBackend{enabled: true}
	svc := NewStatusService(backend, NewStatusCache(time.Minute, nil))
	ctx := context.Background()

	if got := svc.CheckAccess(ctx, "10.0.0.1"); got.IsApproved {
		t.Fatal("not approved yet")
	}
	backend.approved = []string{"10.0.0.1"}
	if got := svc.CheckAccess(ctx, "10.0.0.1"); got.IsApproved {
		t.Fatal("cached answer should still be stale")
	}

	svc.Invalidate()
	if got := svc.CheckAccess(ctx, "10.0.0.1"); !got.IsApproved {
		t.Fatal("expected approval after invalidation")
	}
}

func TestCheckRequestResolvesClientIP(t *testing.T) {
	backend := &stubBackend{enabled: true, approved: []string{"203.0.113.5"}}
	svc := NewStatusService(backend, nil, WithResolver(clientip.NewResolver(nil)))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "::ffff:203.0.113.5, 10.0.0.1")

	got := svc.CheckRequest(context.Background(), req)
	if got.IP != "203.0.113.5" || !got.IsApproved {
		t.Errorf("unexpected status %+v", got)
	}
}

// blockingBackend parks the first ListApprovedAddresses call after it has
// read the approved set, until release is closed.
type blockingBackend struct {
	mu       sync.Mutex
	approved []string
	calls    int
	started  chan struct{}
	release  chan struct{}
}

func (b *blockingBackend) GetMaintenanceSettings(ctx context.Context) (*domain.MaintenanceSettings, error) {
	return &domain.MaintenanceSettings{Enabled: true}, nil
}

func (b *blockingBackend) ListApprovedAddresses(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	snapshot := append([]string(nil), b.approved...)
	first := b.calls == 0
	b.calls++
	b.mu.Unlock()

	if first {
		close(b.started)
		<-b.release
	}
	return snapshot, nil
}

func (b *blockingBackend) approve(ip string) {
	b.mu.Lock()
	b.approved = append(b.approved, ip)
	b.mu.Unlock()
}

func TestInvalidateFencesInFlightRefresh(t *testing.T) {
	backend := &blockingBackend{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewStatusService(backend, NewStatusCache(time.Minute, nil))
	ctx := context.Background()

	done := make(chan domain.AccessStatus)
	go func() { done <- svc.CheckAccess(ctx, "10.0.0.1") }()
	<-backend.started

	backend.approve("10.0.0.1")
	svc.Invalidate()

	if got := svc.CheckAccess(ctx, "10.0.0.1"); !got.IsApproved || got.Source != domain.SourceBackend {
		t.Fatalf("expected a fresh fetch to see the approval, got %+v", got)
	}

	close(backend.release)
	<-done

	if got := svc.CheckAccess(ctx, "10.0.0.1"); !got.IsApproved || got.Source != domain.SourceCache {
		t.Fatalf("stale snapshot replaced the cache entry, got %+v", got)
	}
}
