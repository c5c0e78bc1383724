package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	return strings.Contains(errStr, "duplicate key value violates unique constraint")
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New connects to the database and applies pending migrations.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ============================================
// API Keys
// ============================================

func createAPIKey(ctx context.Context, db dbInterface, key *domain.APIKey) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, s.db, key)
}

func (t *Tx) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return createAPIKey(ctx, t.tx, key)
}

func getAPIKeyByHash(ctx context.Context, db dbInterface, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, s.db, keyHash)
}

func (t *Tx) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return getAPIKeyByHash(ctx, t.tx, keyHash)
}

func listAPIKeys(ctx context.Context, db dbInterface) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, s.db)
}

func (t *Tx) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	return listAPIKeys(ctx, t.tx)
}

func deleteAPIKey(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, s.db, id)
}

func (t *Tx) DeleteAPIKey(ctx context.Context, id string) error {
	return deleteAPIKey(ctx, t.tx, id)
}

func updateAPIKeyLastUsed(ctx context.Context, db dbInterface, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, s.db, id)
}

func (t *Tx) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	return updateAPIKeyLastUsed(ctx, t.tx, id)
}

func countAPIKeys(ctx context.Context, db dbInterface) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, s.db)
}

func (t *Tx) CountAPIKeys(ctx context.Context) (int, error) {
	return countAPIKeys(ctx, t.tx)
}

// ============================================
// Maintenance settings
// ============================================

func getMaintenanceSettings(ctx context.Context, db dbInterface) (*domain.MaintenanceSettings, error) {
	var settings domain.MaintenanceSettings
	err := db.GetContext(ctx, &settings,
		`SELECT enabled, message, updated_at, updated_by FROM maintenance_settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		// Row is seeded by the first migration; an empty table means maintenance was never configured.
		return &domain.MaintenanceSettings{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) GetMaintenanceSettings(ctx context.Context) (*domain.MaintenanceSettings, error) {
	return getMaintenanceSettings(ctx, s.db)
}

func (t *Tx) GetMaintenanceSettings(ctx context.Context) (*domain.MaintenanceSettings, error) {
	return getMaintenanceSettings(ctx, t.tx)
}

func updateMaintenanceSettings(ctx context.Context, db dbInterface, settings *domain.MaintenanceSettings) error {
	result, err := db.ExecContext(ctx,
		`UPDATE maintenance_settings SET enabled = $1, message = $2, updated_at = $3, updated_by = $4 WHERE id = 1`,
		settings.Enabled, settings.Message, settings.UpdatedAt, settings.UpdatedBy)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO maintenance_settings (id, enabled, message, updated_at, updated_by) VALUES (1, $1, $2, $3, $4)`,
		settings.Enabled, settings.Message, settings.UpdatedAt, settings.UpdatedBy)
	return err
}

func (s *Store) UpdateMaintenanceSettings(ctx context.Context, settings *domain.MaintenanceSettings) error {
	return updateMaintenanceSettings(ctx, s.db, settings)
}

func (t *Tx) UpdateMaintenanceSettings(ctx context.Context, settings *domain.MaintenanceSettings) error {
	return updateMaintenanceSettings(ctx, t.tx, settings)
}

// ============================================
// Approved IPs
// ============================================

func createApprovedIP(ctx context.Context, db dbInterface, ip *domain.ApprovedIP) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO approved_ips (id, address, label, visit_request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ip.ID, ip.Address, ip.Label, ip.VisitRequestID, ip.CreatedAt)
	return wrapUniqueError(err)
}

func (s *Store) CreateApprovedIP(ctx context.Context, ip *domain.ApprovedIP) error {
	return createApprovedIP(ctx, s.db, ip)
}

func (t *Tx) CreateApprovedIP(ctx context.Context, ip *domain.ApprovedIP) error {
	return createApprovedIP(ctx, t.tx, ip)
}

func listApprovedIPs(ctx context.Context, db dbInterface) ([]*domain.ApprovedIP, error) {
	var ips []*domain.ApprovedIP
	err := db.SelectContext(ctx, &ips,
		`SELECT id, address, label, visit_request_id, created_at FROM approved_ips ORDER BY address`)
	if err != nil {
		return nil, err
	}
	return ips, nil
}

func (s *Store) ListApprovedIPs(ctx context.Context) ([]*domain.ApprovedIP, error) {
	return listApprovedIPs(ctx, s.db)
}

func (t *Tx) ListApprovedIPs(ctx context.Context) ([]*domain.ApprovedIP, error) {
	return listApprovedIPs(ctx, t.tx)
}

func listApprovedAddresses(ctx context.Context, db dbInterface) ([]string, error) {
	addrs := []string{}
	err := db.SelectContext(ctx, &addrs, `SELECT address FROM approved_ips ORDER BY address`)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

func (s *Store) ListApprovedAddresses(ctx context.Context) ([]string, error) {
	return listApprovedAddresses(ctx, s.db)
}

func (t *Tx) ListApprovedAddresses(ctx context.Context) ([]string, error) {
	return listApprovedAddresses(ctx, t.tx)
}

func isIPApproved(ctx context.Context, db dbInterface, address string) (bool, error) {
	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM approved_ips WHERE address = $1`, address); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) IsIPApproved(ctx context.Context, address string) (bool, error) {
	return isIPApproved(ctx, s.db, address)
}

func (t *Tx) IsIPApproved(ctx context.Context, address string) (bool, error) {
	return isIPApproved(ctx, t.tx, address)
}

func deleteApprovedIP(ctx context.Context, db dbInterface, address string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM approved_ips WHERE address = $1`, address)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteApprovedIP(ctx context.Context, address string) error {
	return deleteApprovedIP(ctx, s.db, address)
}

func (t *Tx) DeleteApprovedIP(ctx context.Context, address string) error {
	return deleteApprovedIP(ctx, t.tx, address)
}

// ============================================
// Visit requests
// ============================================

const visitRequestColumns = `id, name, ip_address, status, created_at, decided_at, decided_by`

func createVisitRequest(ctx context.Context, db dbInterface, req *domain.VisitRequest) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO visit_requests (`+visitRequestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, req.Name, req.IPAddress, req.Status, req.CreatedAt, req.DecidedAt, req.DecidedBy)
	return wrapUniqueError(err)
}

func (s *Store) CreateVisitRequest(ctx context.Context, req *domain.VisitRequest) error {
	return createVisitRequest(ctx, s.db, req)
}

func (t *Tx) CreateVisitRequest(ctx context.Context, req *domain.VisitRequest) error {
	return createVisitRequest(ctx, t.tx, req)
}

func getVisitRequest(ctx context.Context, db dbInterface, id string) (*domain.VisitRequest, error) {
	var req domain.VisitRequest
	err := db.GetContext(ctx, &req,
		`SELECT `+visitRequestColumns+` FROM visit_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) GetVisitRequest(ctx context.Context, id string) (*domain.VisitRequest, error) {
	return getVisitRequest(ctx, s.db, id)
}

func (t *Tx) GetVisitRequest(ctx context.Context, id string) (*domain.VisitRequest, error) {
	return getVisitRequest(ctx, t.tx, id)
}

func listVisitRequests(ctx context.Context, db dbInterface, status domain.VisitRequestStatus) ([]*domain.VisitRequest, error) {
	var reqs []*domain.VisitRequest
	var err error
	if status == "" {
		err = db.SelectContext(ctx, &reqs,
			`SELECT `+visitRequestColumns+` FROM visit_requests ORDER BY created_at DESC`)
	} else {
		err = db.SelectContext(ctx, &reqs,
			`SELECT `+visitRequestColumns+` FROM visit_requests WHERE status = $1 ORDER BY created_at DESC`, status)
	}
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *Store) ListVisitRequests(ctx context.Context, status domain.VisitRequestStatus) ([]*domain.VisitRequest, error) {
	return listVisitRequests(ctx, s.db, status)
}

func (t *Tx) ListVisitRequests(ctx context.Context, status domain.VisitRequestStatus) ([]*domain.VisitRequest, error) {
	return listVisitRequests(ctx, t.tx, status)
}

func updateVisitRequest(ctx context.Context, db dbInterface, req *domain.VisitRequest) error {
	result, err := db.ExecContext(ctx,
		`UPDATE visit_requests SET status = $1, decided_at = $2, decided_by = $3 WHERE id = $4`,
		req.Status, req.DecidedAt, req.DecidedBy, req.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateVisitRequest(ctx context.Context, req *domain.VisitRequest) error {
	return updateVisitRequest(ctx, s.db, req)
}

func (t *Tx) UpdateVisitRequest(ctx context.Context, req *domain.VisitRequest) error {
	return updateVisitRequest(ctx, t.tx, req)
}
