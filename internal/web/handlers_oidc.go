package web

import (
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/auth"
)

// handleOIDCLogin initiates the OIDC login flow.
func (s *Server) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if s.oidc == nil || s.states == nil {
		http.Error(w, "OIDC authentication is not enabled", http.StatusNotFound)
		return
	}

	stateData, err := s.states.Generate(w)
	if err != nil {
		log.Error("Failed to generate OIDC state", "error", err)
		redirectWithFlash(w, r, "/admin/login", "error", "Failed to initiate login")
		return
	}

	http.Redirect(w, r, s.oidc.AuthCodeURL(stateData.State, stateData.Nonce), http.StatusSeeOther)
}

// handleOIDCCallback handles the OIDC callback after authentication.
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if s.oidc == nil || s.states == nil {
		http.Error(w, "OIDC authentication is not enabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		errDesc := query.Get("error_description")
		if errDesc == "" {
			errDesc = errParam
		}
		log.Warn("OIDC provider returned error", "error", errParam, "description", errDesc)
		redirectWithFlash(w, r, "/admin/login", "error", errDesc)
		return
	}

	code := query.Get("code")
	if code == "" {
		redirectWithFlash(w, r, "/admin/login", "error", "No authorization code received")
		return
	}

	stateData, err := s.states.Validate(r, query.Get("state"))
	if err != nil {
		log.Warn("OIDC state validation failed", "error", err)
		redirectWithFlash(w, r, "/admin/login", "error", "Invalid state parameter")
		return
	}
	s.states.Clear(w)

	claims, err := s.oidc.Exchange(r.Context(), code, stateData.Nonce)
	if err != nil {
		log.Warn("OIDC login rejected", "error", err)
		redirectWithFlash(w, r, "/admin/login", "error", "Failed to complete authentication")
		return
	}

	session := &auth.Session{
		Method:  auth.MethodOIDC,
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}
	if err := s.sessions.Create(w, session); err != nil {
		log.Error("Failed to create OIDC session", "error", err)
		redirectWithFlash(w, r, "/admin/login", "error", "Failed to create session")
		return
	}

	log.Info("Administrator signed in", "method", auth.MethodOIDC, "email", claims.Email)
	http.Redirect(w, r, "/admin/", http.StatusSeeOther)
}
