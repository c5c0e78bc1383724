package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/petcare-market/maintenance-gate/internal/api/handler"
	"github.com/petcare-market/maintenance-gate/internal/api/middleware"
	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/gate"
	"github.com/petcare-market/maintenance-gate/internal/maintenance"
	"github.com/petcare-market/maintenance-gate/internal/metrics"
	"github.com/petcare-market/maintenance-gate/internal/storage"
	"github.com/petcare-market/maintenance-gate/internal/web"
)

// Deps are the components the router serves.
type Deps struct {
	Store        storage.Storage
	Status       *maintenance.StatusService
	Visits       *maintenance.VisitService
	Resolver     *clientip.Resolver
	BootstrapKey string

	// Gate, when set, filters every request before routing.
	Gate *gate.Filter
	// Web serves the maintenance page and the admin console.
	Web *web.Server
	// Upstream receives requests that match no route. Without it they get 404.
	Upstream http.Handler
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging)
	r.Use(metrics.InstrumentHandler)
	if deps.Gate != nil {
		r.Use(deps.Gate.Middleware)
	}

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Public maintenance endpoints
	maintenanceHandler := handler.NewMaintenanceHandler(deps.Status, deps.Visits, deps.Resolver)
	r.Route("/maintenance", func(r chi.Router) {
		if deps.Web != nil {
			r.Get("/", deps.Web.MaintenancePage)
			r.Post("/visit", deps.Web.SubmitVisit)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.ContentType)
			r.Get("/status", maintenanceHandler.Status)
			r.Get("/check-ip", maintenanceHandler.CheckIP)
			r.Post("/request-visit", maintenanceHandler.RequestVisit)
		})
	})

	// Admin console and its assets (HTML, no Content-Type middleware)
	if deps.Web != nil {
		r.Mount("/admin", deps.Web.AdminRouter())
		r.Handle("/static/*", deps.Web.Static())
	}

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(deps.Store, deps.BootstrapKey))

		// API Keys
		keyHandler := handler.NewAPIKeyHandler(deps.Store)
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Delete)

		adminHandler := handler.NewAdminHandler(deps.Visits)

		// Maintenance switch
		r.Get("/maintenance", adminHandler.GetMaintenance)
		r.Put("/maintenance", adminHandler.UpdateMaintenance)

		// Visit requests
		r.Get("/visit-requests", adminHandler.ListVisitRequests)
		r.Get("/visit-requests/{id}", adminHandler.GetVisitRequest)
		r.Post("/visit-requests/{id}/approve", adminHandler.ApproveVisitRequest)
		r.Post("/visit-requests/{id}/reject", adminHandler.RejectVisitRequest)

		// Approved IPs
		r.Get("/approved-ips", adminHandler.ListApprovedIPs)
		r.Post("/approved-ips", adminHandler.CreateApprovedIP)
		r.Delete("/approved-ips/{ip}", adminHandler.DeleteApprovedIP)
	})

	if deps.Upstream != nil {
		r.NotFound(deps.Upstream.ServeHTTP)
	}

	return r
}
