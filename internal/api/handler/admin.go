package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/petcare-market/maintenance-gate/internal/api/middleware"
	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/maintenance"
)

// AdminHandler handles the maintenance administration endpoints.
type AdminHandler struct {
	visits *maintenance.VisitService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(visits *maintenance.VisitService) *AdminHandler {
	return &AdminHandler{visits: visits}
}

// GetMaintenance returns the current maintenance settings.
func (h *AdminHandler) GetMaintenance(w http.ResponseWriter, r *http.Request) {
	settings, err := h.visits.Settings(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// UpdateMaintenance turns maintenance mode on or off.
func (h *AdminHandler) UpdateMaintenance(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateMaintenanceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	settings, err := h.visits.SetMaintenance(r.Context(), req.Enabled, req.Message, middleware.Actor(r.Context()))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// ListVisitRequests lists visit requests, optionally filtered by ?status=.
func (h *AdminHandler) ListVisitRequests(w http.ResponseWriter, r *http.Request) {
	status := domain.VisitRequestStatus(r.URL.Query().Get("status"))
	reqs, err := h.visits.List(r.Context(), status)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

// GetVisitRequest returns one visit request.
func (h *AdminHandler) GetVisitRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.visits.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// ApproveVisitRequest approves a pending request and admits its IP.
func (h *AdminHandler) ApproveVisitRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.visits.Approve(r.Context(), chi.URLParam(r, "id"), middleware.Actor(r.Context()))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// RejectVisitRequest rejects a pending request.
func (h *AdminHandler) RejectVisitRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.visits.Reject(r.Context(), chi.URLParam(r, "id"), middleware.Actor(r.Context()))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// ListApprovedIPs lists the approved set.
func (h *AdminHandler) ListApprovedIPs(w http.ResponseWriter, r *http.Request) {
	ips, err := h.visits.ListApproved(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ips)
}

// CreateApprovedIP adds an address to the approved set.
func (h *AdminHandler) CreateApprovedIP(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateApprovedIPRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ip, err := h.visits.AddApproved(r.Context(), req.Address, req.Label)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ip)
}

// DeleteApprovedIP removes an address from the approved set.
func (h *AdminHandler) DeleteApprovedIP(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "ip"))
	if err != nil || address == "" {
		respondError(w, http.StatusBadRequest, "ip is required")
		return
	}

	if err := h.visits.RemoveApproved(r.Context(), address); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
