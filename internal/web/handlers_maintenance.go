package web

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/clientip"
	"github.com/petcare-market/maintenance-gate/internal/maintenance"
	"github.com/petcare-market/maintenance-gate/internal/validation"
)

// MaintenancePageData holds data for the public maintenance page.
type MaintenancePageData struct {
	Available bool
	Message   string
	Redirect  string
	Name      string
	IPAddress string
	// FieldError names the form field a validation message refers to.
	FieldError string
	Submitted  bool
}

// MaintenancePage renders the page blocked visitors are redirected to.
func (s *Server) MaintenancePage(w http.ResponseWriter, r *http.Request) {
	data := s.maintenanceData(r)
	s.render(w, http.StatusOK, "maintenance", PageData{Title: "Down for maintenance", Content: data})
}

// SubmitVisit handles the visit request form on the maintenance page.
func (s *Server) SubmitVisit(w http.ResponseWriter, r *http.Request) {
	data := s.maintenanceData(r)
	if err := r.ParseForm(); err != nil {
		s.renderVisitResult(w, http.StatusBadRequest, data, &FlashMessage{Type: "error", Message: "Invalid form data"})
		return
	}
	data.Name = r.PostFormValue("name")
	data.IPAddress = r.PostFormValue("ip_address")
	if redirect := r.PostFormValue("redirect"); redirect != "" {
		data.Redirect = safeRedirect(redirect)
	}

	_, err := s.visits.Submit(r.Context(), s.resolver.FromRequest(r), data.Name, data.IPAddress)
	if err != nil {
		var verr *validation.ValidationError
		var rl *maintenance.RateLimitError
		switch {
		case errors.As(err, &verr):
			data.FieldError = verr.Field
			s.renderVisitResult(w, http.StatusBadRequest, data, &FlashMessage{Type: "error", Message: verr.Message})
		case errors.As(err, &rl):
			s.renderVisitResult(w, http.StatusTooManyRequests, data, &FlashMessage{Type: "error", Message: "Too many visit requests, please try again later"})
		default:
			log.Error("Visit request form failed", "error", err)
			s.renderVisitResult(w, http.StatusInternalServerError, data, &FlashMessage{Type: "error", Message: "Your request could not be saved, please try again"})
		}
		return
	}

	data.Submitted = true
	s.renderVisitResult(w, http.StatusOK, data, &FlashMessage{
		Type:    "success",
		Message: "Request sent. An administrator will review it shortly.",
	})
}

func (s *Server) renderVisitResult(w http.ResponseWriter, status int, data MaintenancePageData, flash *FlashMessage) {
	s.render(w, status, "maintenance", PageData{Title: "Down for maintenance", Flash: flash, Content: data})
}

// maintenanceData resolves the caller's status and prefills the form with
// their address.
func (s *Server) maintenanceData(r *http.Request) MaintenancePageData {
	data := MaintenancePageData{Redirect: safeRedirect(r.URL.Query().Get("redirect"))}

	if s.status != nil {
		status := s.status.CheckRequest(r.Context(), r)
		data.Available = status.Allowed()
		if status.IP != clientip.Unknown {
			data.IPAddress = status.IP
		}
	} else if ip := s.resolver.FromRequest(r); ip != clientip.Unknown {
		data.IPAddress = ip
	}

	if s.visits != nil {
		if settings, err := s.visits.Settings(r.Context()); err == nil {
			data.Message = settings.Message
		}
	}
	return data
}
