package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/metrics"
	"github.com/petcare-market/maintenance-gate/internal/ratelimit"
	"github.com/petcare-market/maintenance-gate/internal/storage"
	"github.com/petcare-market/maintenance-gate/internal/validation"
)

// Invalidator drops cached maintenance status after a mutation.
type Invalidator interface {
	Invalidate()
}

// VisitService handles visit requests and the administrator actions that
// change who may pass the gate.
type VisitService struct {
	store storage.Storage
	cache Invalidator
	clock Clock

	limiter ratelimit.Limiter
	limit   int
}

// NewVisitService creates a VisitService. cache may be nil.
func NewVisitService(store storage.Storage, cache Invalidator, clock Clock) *VisitService {
	if clock == nil {
		clock = time.Now
	}
	return &VisitService{store: store, cache: cache, clock: clock}
}

// SetLimiter throttles Submit to limit requests per client per window.
func (s *VisitService) SetLimiter(l ratelimit.Limiter, limit int) {
	s.limiter = l
	s.limit = limit
}

// RateLimitError is returned by Submit when a client sent too many requests.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many visit requests, retry in %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// Submit is Create for a public caller identified by client, subject to
// the configured rate limit.
func (s *VisitService) Submit(ctx context.Context, client, name, ipAddress string) (*domain.VisitRequest, error) {
	if s.limiter != nil {
		d := s.limiter.Allow(ctx, client, s.limit)
		if !d.Allowed {
			metrics.RecordVisitRequest("rate_limited")
			log.Warn("Visit request rate limited", "client", client, "count", d.Count)
			return nil, &RateLimitError{RetryAfter: d.RetryAfter(s.clock())}
		}
	}
	return s.Create(ctx, name, ipAddress)
}

// Create validates and stores a new pending visit request.
// Validation failures are returned as *validation.ValidationError.
func (s *VisitService) Create(ctx context.Context, name, ipAddress string) (*domain.VisitRequest, error) {
	name, ipAddress, verr := validation.ValidateVisitRequest(name, ipAddress)
	if verr != nil {
		metrics.RecordVisitRequest("invalid")
		return nil, verr
	}

	req := &domain.VisitRequest{
		ID:        uuid.New().String(),
		Name:      name,
		IPAddress: ipAddress,
		Status:    domain.VisitPending,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.CreateVisitRequest(ctx, req); err != nil {
		metrics.RecordVisitRequest("error")
		return nil, fmt.Errorf("saving visit request: %w", err)
	}

	metrics.RecordVisitRequest("created")
	log.Info("Visit request created", "id", req.ID, "ip", req.IPAddress)
	return req, nil
}

// IsIPApproved checks the approved set directly, bypassing the status cache.
func (s *VisitService) IsIPApproved(ctx context.Context, ip string) (bool, error) {
	ok, err := s.store.IsIPApproved(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("checking approved IP: %w", err)
	}
	return ok, nil
}

// List returns visit requests newest first. An empty status returns all.
func (s *VisitService) List(ctx context.Context, status domain.VisitRequestStatus) ([]*domain.VisitRequest, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, domain.ErrInvalidInput)
	}
	return s.store.ListVisitRequests(ctx, status)
}

// Get returns one visit request.
func (s *VisitService) Get(ctx context.Context, id string) (*domain.VisitRequest, error) {
	return s.store.GetVisitRequest(ctx, id)
}

// Approve marks a pending request approved and adds its IP to the approved
// set in the same transaction.
func (s *VisitService) Approve(ctx context.Context, id, actor string) (*domain.VisitRequest, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := decide(ctx, tx, id, actor, domain.VisitApproved, s.clock())
	if err != nil {
		return nil, err
	}

	approved, err := tx.IsIPApproved(ctx, req.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("checking approved IP: %w", err)
	}
	if !approved {
		ip := &domain.ApprovedIP{
			ID:             uuid.New().String(),
			Address:        req.IPAddress,
			Label:          req.Name,
			VisitRequestID: &req.ID,
			CreatedAt:      s.clock().UTC(),
		}
		if err := tx.CreateApprovedIP(ctx, ip); err != nil {
			return nil, fmt.Errorf("adding approved IP: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing approval: %w", err)
	}
	s.invalidate()

	metrics.RecordVisitRequest("approved")
	log.Info("Visit request approved", "id", req.ID, "ip", req.IPAddress, "by", actor)
	return req, nil
}

// Reject marks a pending request rejected. The approved set is not touched.
func (s *VisitService) Reject(ctx context.Context, id, actor string) (*domain.VisitRequest, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := decide(ctx, tx, id, actor, domain.VisitRejected, s.clock())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rejection: %w", err)
	}

	metrics.RecordVisitRequest("rejected")
	log.Info("Visit request rejected", "id", req.ID, "by", actor)
	return req, nil
}

func decide(ctx context.Context, tx storage.Transaction, id, actor string, status domain.VisitRequestStatus, now time.Time) (*domain.VisitRequest, error) {
	req, err := tx.GetVisitRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.VisitPending {
		return nil, fmt.Errorf("visit request %s is already %s: %w", id, req.Status, domain.ErrConflict)
	}

	decidedAt := now.UTC()
	req.Status = status
	req.DecidedAt = &decidedAt
	if actor != "" {
		req.DecidedBy = &actor
	}
	if err := tx.UpdateVisitRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("updating visit request: %w", err)
	}
	return req, nil
}

// ListApproved returns every approved IP ordered by address.
func (s *VisitService) ListApproved(ctx context.Context) ([]*domain.ApprovedIP, error) {
	return s.store.ListApprovedIPs(ctx)
}

// AddApproved inserts an address into the approved set directly.
func (s *VisitService) AddApproved(ctx context.Context, address, label string) (*domain.ApprovedIP, error) {
	if verr := validation.ValidateApprovedAddress(address); verr != nil {
		return nil, verr
	}

	ip := &domain.ApprovedIP{
		ID:        uuid.New().String(),
		Address:   strings.TrimSpace(address),
		Label:     strings.TrimSpace(label),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.CreateApprovedIP(ctx, ip); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("IP %s is already approved: %w", ip.Address, err)
		}
		return nil, fmt.Errorf("adding approved IP: %w", err)
	}
	s.invalidate()

	log.Info("Approved IP added", "ip", ip.Address)
	return ip, nil
}

// RemoveApproved deletes an address from the approved set.
func (s *VisitService) RemoveApproved(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if err := s.store.DeleteApprovedIP(ctx, address); err != nil {
		return err
	}
	s.invalidate()

	log.Info("Approved IP removed", "ip", address)
	return nil
}

// Settings returns the current maintenance settings.
func (s *VisitService) Settings(ctx context.Context) (*domain.MaintenanceSettings, error) {
	return s.store.GetMaintenanceSettings(ctx)
}

// SetMaintenance turns maintenance mode on or off.
func (s *VisitService) SetMaintenance(ctx context.Context, enabled bool, message, actor string) (*domain.MaintenanceSettings, error) {
	settings := &domain.MaintenanceSettings{
		Enabled:   enabled,
		Message:   strings.TrimSpace(message),
		UpdatedAt: s.clock().UTC(),
		UpdatedBy: actor,
	}
	if err := s.store.UpdateMaintenanceSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("updating maintenance settings: %w", err)
	}
	s.invalidate()

	log.Info("Maintenance mode updated", "enabled", enabled, "by", actor)
	return settings, nil
}

func (s *VisitService) invalidate() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}
