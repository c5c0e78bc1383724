package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/petcare-market/maintenance-gate/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New("sqlite3", filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMaintenanceSettingsSeeded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings, err := store.GetMaintenanceSettings(ctx)
	if err != nil {
		t.Fatalf("GetMaintenanceSettings: %v", err)
	}
	if settings.Enabled {
		t.Error("maintenance should start disabled")
	}

	update := &domain.MaintenanceSettings{Enabled: true, Message: "Upgrading", UpdatedAt: time.Now().UTC(), UpdatedBy: "ops"}
	if err := store.UpdateMaintenanceSettings(ctx, update); err != nil {
		t.Fatalf("UpdateMaintenanceSettings: %v", err)
	}
	settings, err = store.GetMaintenanceSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !settings.Enabled || settings.Message != "Upgrading" || settings.UpdatedBy != "ops" {
		t.Errorf("unexpected settings %+v", settings)
	}
}

func TestAPIKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := &domain.APIKey{ID: "k1", Name: "ops", KeyHash: "hash", KeyPrefix: "mgk_abcd", CreatedAt: time.Now().UTC()}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	dup := *key
	dup.ID = "k2"
	if err := store.CreateAPIKey(ctx, &dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate hash: got %v, want ErrAlreadyExists", err)
	}

	got, err := store.GetAPIKeyByHash(ctx, "hash")
	if err != nil || got.ID != "k1" {
		t.Fatalf("GetAPIKeyByHash = %+v, %v", got, err)
	}
	if _, err := store.GetAPIKeyByHash(ctx, "other"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown hash: got %v", err)
	}

	if err := store.UpdateAPIKeyLastUsed(ctx, "k1"); err != nil {
		t.Fatalf("UpdateAPIKeyLastUsed: %v", err)
	}
	count, err := store.CountAPIKeys(ctx)
	if err != nil || count != 1 {
		t.Errorf("CountAPIKeys = %d, %v", count, err)
	}

	if err := store.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if err := store.DeleteAPIKey(ctx, "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}

func TestApprovedIPs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, addr := range []string{"203.0.113.5", "10.0.0.1"} {
		ip := &domain.ApprovedIP{ID: string(rune('a' + i)), Address: addr, Label: "test", CreatedAt: now}
		if err := store.CreateApprovedIP(ctx, ip); err != nil {
			t.Fatalf("CreateApprovedIP(%s): %v", addr, err)
		}
	}
	err := store.CreateApprovedIP(ctx, &domain.ApprovedIP{ID: "c", Address: "10.0.0.1", CreatedAt: now})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate address: got %v", err)
	}

	addrs, err := store.ListApprovedAddresses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 || addrs[0] != "10.0.0.1" {
		t.Errorf("ListApprovedAddresses = %v", addrs)
	}

	if ok, err := store.IsIPApproved(ctx, "203.0.113.5"); err != nil || !ok {
		t.Errorf("IsIPApproved = %v, %v", ok, err)
	}

	if err := store.DeleteApprovedIP(ctx, "203.0.113.5"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteApprovedIP(ctx, "203.0.113.5"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
	ips, err := store.ListApprovedIPs(ctx)
	if err != nil || len(ips) != 1 {
		t.Errorf("ListApprovedIPs = %v, %v", ips, err)
	}
}

func TestEmptyApprovedSetIsNotNil(t *testing.T) {
	store := newTestStore(t)
	addrs, err := store.ListApprovedAddresses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if addrs == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestVisitRequestApprovalTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Minute)

	req := &domain.VisitRequest{ID: "r1", Name: "Alice", IPAddress: "10.0.0.1", Status: domain.VisitPending, CreatedAt: created}
	if err := store.CreateVisitRequest(ctx, req); err != nil {
		t.Fatalf("CreateVisitRequest: %v", err)
	}
	later := &domain.VisitRequest{ID: "r2", Name: "Bob", IPAddress: "10.0.0.2", Status: domain.VisitPending, CreatedAt: created.Add(time.Second)}
	if err := store.CreateVisitRequest(ctx, later); err != nil {
		t.Fatal(err)
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	decided := time.Now().UTC()
	actor := "ops"
	req.Status = domain.VisitApproved
	req.DecidedAt = &decided
	req.DecidedBy = &actor
	if err := tx.UpdateVisitRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := tx.CreateApprovedIP(ctx, &domain.ApprovedIP{ID: "ip1", Address: req.IPAddress, Label: req.Name, VisitRequestID: &req.ID, CreatedAt: decided}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := store.GetVisitRequest(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.VisitApproved || got.DecidedBy == nil || *got.DecidedBy != "ops" || got.DecidedAt == nil {
		t.Errorf("unexpected request %+v", got)
	}

	pending, err := store.ListVisitRequests(ctx, domain.VisitPending)
	if err != nil || len(pending) != 1 || pending[0].ID != "r2" {
		t.Errorf("pending = %+v, %v", pending, err)
	}
	all, err := store.ListVisitRequests(ctx, "")
	if err != nil || len(all) != 2 || all[0].ID != "r2" {
		t.Errorf("all requests should be newest first, got %+v, %v", all, err)
	}

	if _, err := store.GetVisitRequest(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing request: got %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.CreateApprovedIP(ctx, &domain.ApprovedIP{ID: "ip1", Address: "10.0.0.9", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	if ok, _ := store.IsIPApproved(ctx, "10.0.0.9"); ok {
		t.Error("rolled back insert should not be visible")
	}
}
