package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	apiKeys       map[string]*domain.APIKey
	settings      domain.MaintenanceSettings
	approvedIPs   map[string]*domain.ApprovedIP   // key: address
	visitRequests map[string]*domain.VisitRequest // key: id
}

// New creates a new in-memory store with maintenance disabled.
func New() *Store {
	return &Store{
		apiKeys:       make(map[string]*domain.APIKey),
		settings:      domain.MaintenanceSettings{UpdatedAt: time.Now()},
		approvedIPs:   make(map[string]*domain.ApprovedIP),
		visitRequests: make(map[string]*domain.VisitRequest),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{Store: s}, nil
}

// Tx is a no-op transaction for the in-memory store. Writes apply immediately.
type Tx struct {
	*Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Maintenance settings
// ============================================

func (s *Store) GetMaintenanceSettings(ctx context.Context) (*domain.MaintenanceSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := s.settings
	return &settings, nil
}

func (s *Store) UpdateMaintenanceSettings(ctx context.Context, settings *domain.MaintenanceSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = *settings
	return nil
}

// ============================================
// Approved IPs
// ============================================

func (s *Store) CreateApprovedIP(ctx context.Context, ip *domain.ApprovedIP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvedIPs[ip.Address]; exists {
		return domain.ErrAlreadyExists
	}
	stored := *ip
	s.approvedIPs[ip.Address] = &stored
	return nil
}

func (s *Store) ListApprovedIPs(ctx context.Context) ([]*domain.ApprovedIP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ips := make([]*domain.ApprovedIP, 0, len(s.approvedIPs))
	for _, ip := range s.approvedIPs {
		cp := *ip
		ips = append(ips, &cp)
	}
	sort.Slice(ips, func(i, j int) bool {
		return ips[i].Address < ips[j].Address
	})
	return ips, nil
}

func (s *Store) ListApprovedAddresses(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]string, 0, len(s.approvedIPs))
	for addr := range s.approvedIPs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs, nil
}

func (s *Store) IsIPApproved(ctx context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.approvedIPs[address]
	return ok, nil
}

func (s *Store) DeleteApprovedIP(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvedIPs[address]; !exists {
		return domain.ErrNotFound
	}
	delete(s.approvedIPs, address)
	return nil
}

// ============================================
// Visit requests
// ============================================

func (s *Store) CreateVisitRequest(ctx context.Context, req *domain.VisitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.visitRequests[req.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stored := *req
	s.visitRequests[req.ID] = &stored
	return nil
}

func (s *Store) GetVisitRequest(ctx context.Context, id string) (*domain.VisitRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, exists := s.visitRequests[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *Store) ListVisitRequests(ctx context.Context, status domain.VisitRequestStatus) ([]*domain.VisitRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reqs := make([]*domain.VisitRequest, 0, len(s.visitRequests))
	for _, req := range s.visitRequests {
		if status != "" && req.Status != status {
			continue
		}
		cp := *req
		reqs = append(reqs, &cp)
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs, nil
}

func (s *Store) UpdateVisitRequest(ctx context.Context, req *domain.VisitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.visitRequests[req.ID]; !exists {
		return domain.ErrNotFound
	}
	stored := *req
	s.visitRequests[req.ID] = &stored
	return nil
}
