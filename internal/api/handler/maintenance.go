package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/maintenance"
	"github.com/petcare-market/maintenance-gate/internal/validation"
)

// publicError is the error body of the unauthenticated maintenance endpoints.
type publicError struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// visitRequestBody defers typing so a non-string field fails validation as
// missing rather than rejecting the whole body.
type visitRequestBody struct {
	Name      json.RawMessage `json:"name"`
	IPAddress json.RawMessage `json:"ipAddress"`
}

// jsonString returns raw as a string, or "" when it is absent or not a string.
func jsonString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

type checkIPResponse struct {
	IsApproved bool   `json:"isApproved"`
	IP         string `json:"ip,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MaintenanceHandler serves the public /maintenance endpoints.
type MaintenanceHandler struct {
	status   *maintenance.StatusService
	visits   *maintenance.VisitService
	resolver *clientip.Resolver
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(status *maintenance.StatusService, visits *maintenance.VisitService, resolver *clientip.Resolver) *MaintenanceHandler {
	return &MaintenanceHandler{status: status, visits: visits, resolver: resolver}
}

// Status reports the maintenance flag and whether the caller's IP is approved.
// It always answers 200; a fail-open answer carries an error field.
func (h *MaintenanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, domain.NewStatusResponse(h.status.CheckRequest(r.Context(), r)))
}

// CheckIP reports whether the ip query parameter is approved, uncached.
func (h *MaintenanceHandler) CheckIP(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	if ip == "" {
		respondJSON(w, http.StatusBadRequest, checkIPResponse{Error: validation.MsgIPRequired})
		return
	}

	approved, err := h.visits.IsIPApproved(r.Context(), ip)
	if err != nil {
		log.Error("Approved IP lookup failed", "ip", ip, "error", err)
		respondJSON(w, http.StatusInternalServerError, checkIPResponse{Error: "failed to check IP"})
		return
	}
	respondJSON(w, http.StatusOK, checkIPResponse{IsApproved: approved, IP: ip})
}

// RequestVisit stores a pending visit request for administrator review.
func (h *MaintenanceHandler) RequestVisit(w http.ResponseWriter, r *http.Request) {
	var body visitRequestBody
	if err := decodeJSON(r, &body); err != nil {
		respondJSON(w, http.StatusBadRequest, publicError{Error: "invalid request body"})
		return
	}
	req := domain.CreateVisitRequest{Name: jsonString(body.Name), IPAddress: jsonString(body.IPAddress)}

	created, err := h.visits.Submit(r.Context(), h.resolver.FromRequest(r), req.Name, req.IPAddress)
	if err != nil {
		respondVisitError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func respondVisitError(w http.ResponseWriter, err error) {
	var verr *validation.ValidationError
	var rl *maintenance.RateLimitError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, publicError{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		respondJSON(w, http.StatusTooManyRequests, publicError{Error: "too many visit requests, please try again later"})
	default:
		log.Error("Visit request failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, publicError{Error: err.Error()})
	}
}
