package storage

import (
	"context"

	"github.com/petcare-market/maintenance-gate/internal/domain"
)

// Storage is the maintenance backend.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Maintenance settings (singleton)
	GetMaintenanceSettings(ctx context.Context) (*domain.MaintenanceSettings, error)
	UpdateMaintenanceSettings(ctx context.Context, settings *domain.MaintenanceSettings) error

	// Approved IPs
	CreateApprovedIP(ctx context.Context, ip *domain.ApprovedIP) error
	ListApprovedIPs(ctx context.Context) ([]*domain.ApprovedIP, error)
	ListApprovedAddresses(ctx context.Context) ([]string, error)
	IsIPApproved(ctx context.Context, address string) (bool, error)
	DeleteApprovedIP(ctx context.Context, address string) error

	// Visit requests
	CreateVisitRequest(ctx context.Context, req *domain.VisitRequest) error
	GetVisitRequest(ctx context.Context, id string) (*domain.VisitRequest, error)
	ListVisitRequests(ctx context.Context, status domain.VisitRequestStatus) ([]*domain.VisitRequest, error)
	UpdateVisitRequest(ctx context.Context, req *domain.VisitRequest) error

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}
