package web

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/petcare-market/maintenance-gate/internal/auth"
	"github.com/petcare-market/maintenance-gate/internal/domain"
	"github.com/petcare-market/maintenance-gate/internal/validation"
)

// LoginData holds data for the login page.
type LoginData struct {
	OIDCEnabled bool
}

// handleLoginPage renders the login page.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title:   "Sign in",
		Flash:   flashFromQuery(r),
		Content: LoginData{OIDCEnabled: s.oidc != nil},
	}
	s.render(w, http.StatusOK, "login", data)
}

// handleLogin processes the login form.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, "/admin/login", "error", "Invalid form data")
		return
	}

	apiKey := r.FormValue("api_key")
	if apiKey == "" {
		redirectWithFlash(w, r, "/admin/login", "error", "API key required")
		return
	}

	key, err := auth.VerifyAPIKey(r.Context(), s.store, s.bootstrapKey, apiKey)
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthorized) {
			log.Error("Login failed", "error", err)
			redirectWithFlash(w, r, "/admin/login", "error", "Server error")
			return
		}
		redirectWithFlash(w, r, "/admin/login", "error", "Invalid API key")
		return
	}

	session := &auth.Session{
		Method:  auth.MethodAPIKey,
		KeyHash: auth.HashAPIKey(apiKey),
		Name:    key.Name,
	}
	if err := s.sessions.Create(w, session); err != nil {
		log.Error("Failed to create session", "error", err)
		redirectWithFlash(w, r, "/admin/login", "error", "Failed to create session")
		return
	}

	log.Info("Administrator signed in", "method", auth.MethodAPIKey, "key", key.Name)
	http.Redirect(w, r, "/admin/", http.StatusSeeOther)
}

// handleLogout clears the session and redirects to login.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

// DashboardData holds data for the dashboard page.
type DashboardData struct {
	Settings    *domain.MaintenanceSettings
	Pending     []*domain.VisitRequest
	Decided     []*domain.VisitRequest
	ApprovedIPs []*domain.ApprovedIP
}

// handleDashboard renders the console: the maintenance switch, pending
// requests and the approved set.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.visits.Settings(ctx)
	if err != nil {
		s.renderError(w, r, "Failed to load maintenance settings", err)
		return
	}
	requests, err := s.visits.List(ctx, "")
	if err != nil {
		s.renderError(w, r, "Failed to load visit requests", err)
		return
	}
	approved, err := s.visits.ListApproved(ctx)
	if err != nil {
		s.renderError(w, r, "Failed to load approved IPs", err)
		return
	}

	data := DashboardData{Settings: settings, ApprovedIPs: approved}
	for _, req := range requests {
		if req.Status == domain.VisitPending {
			data.Pending = append(data.Pending, req)
		} else {
			data.Decided = append(data.Decided, req)
		}
	}

	page := PageData{
		Title:   "Maintenance console",
		Admin:   true,
		Flash:   flashFromQuery(r),
		Content: data,
	}
	if session := getSession(ctx); session != nil {
		page.User = session.Actor()
	}
	s.render(w, http.StatusOK, "dashboard", page)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, message string, err error) {
	log.Error(message, "error", err, "path", r.URL.Path)
	s.render(w, http.StatusInternalServerError, "dashboard", PageData{
		Title:   "Maintenance console",
		Admin:   true,
		Flash:   &FlashMessage{Type: "error", Message: message},
		Content: DashboardData{Settings: &domain.MaintenanceSettings{}},
	})
}

// handleMaintenanceToggle switches maintenance mode and updates its message.
func (s *Server) handleMaintenanceToggle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, "/admin/", "error", "Invalid form data")
		return
	}

	enabled := r.FormValue("enabled") == "true"
	if _, err := s.visits.SetMaintenance(r.Context(), enabled, r.FormValue("message"), actor(r.Context())); err != nil {
		log.Error("Failed to update maintenance settings", "error", err)
		redirectWithFlash(w, r, "/admin/", "error", "Failed to update maintenance mode")
		return
	}

	msg := "Maintenance mode disabled"
	if enabled {
		msg = "Maintenance mode enabled"
	}
	redirectWithFlash(w, r, "/admin/", "success", msg)
}

// handleVisitApprove approves a pending visit request.
func (s *Server) handleVisitApprove(w http.ResponseWriter, r *http.Request) {
	req, err := s.visits.Approve(r.Context(), chi.URLParam(r, "id"), actor(r.Context()))
	if err != nil {
		redirectWithFlash(w, r, "/admin/", "error", decisionErrorMessage(err))
		return
	}
	redirectWithFlash(w, r, "/admin/", "success", "Approved "+req.IPAddress+" for "+req.Name)
}

// handleVisitReject rejects a pending visit request.
func (s *Server) handleVisitReject(w http.ResponseWriter, r *http.Request) {
	req, err := s.visits.Reject(r.Context(), chi.URLParam(r, "id"), actor(r.Context()))
	if err != nil {
		redirectWithFlash(w, r, "/admin/", "error", decisionErrorMessage(err))
		return
	}
	redirectWithFlash(w, r, "/admin/", "success", "Rejected request from "+req.Name)
}

func decisionErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "Visit request not found"
	case errors.Is(err, domain.ErrConflict):
		return "Visit request was already decided"
	default:
		log.Error("Failed to decide visit request", "error", err)
		return "Failed to update visit request"
	}
}

// handleApprovedIPCreate adds an address to the approved set directly.
func (s *Server) handleApprovedIPCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, "/admin/", "error", "Invalid form data")
		return
	}

	ip, err := s.visits.AddApproved(r.Context(), r.FormValue("address"), r.FormValue("label"))
	if err != nil {
		var verr *validation.ValidationError
		switch {
		case errors.As(err, &verr):
			redirectWithFlash(w, r, "/admin/", "error", verr.Message)
		case errors.Is(err, domain.ErrAlreadyExists):
			redirectWithFlash(w, r, "/admin/", "error", "That address is already approved")
		default:
			log.Error("Failed to add approved IP", "error", err)
			redirectWithFlash(w, r, "/admin/", "error", "Failed to add approved IP")
		}
		return
	}
	redirectWithFlash(w, r, "/admin/", "success", "Approved "+ip.Address)
}

// handleApprovedIPDelete removes an address from the approved set.
func (s *Server) handleApprovedIPDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, "/admin/", "error", "Invalid form data")
		return
	}

	address := r.FormValue("address")
	if err := s.visits.RemoveApproved(r.Context(), address); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			redirectWithFlash(w, r, "/admin/", "error", "Address is not approved")
			return
		}
		log.Error("Failed to remove approved IP", "error", err)
		redirectWithFlash(w, r, "/admin/", "error", "Failed to remove approved IP")
		return
	}
	redirectWithFlash(w, r, "/admin/", "success", "Removed "+address)
}
